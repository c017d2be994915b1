// Package devserver serves the build output during development and pushes reload events to the browser
package devserver

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"
	"github.com/unrolled/secure"

	"github.com/ngld/flybuild/pkg/buildlog"
)

const (
	eventsPath = "/__flybuild/events"
	scriptPath = "/__flybuild/reload.js"
)

// Server is a static file server with a server-sent events channel for live reloads
type Server struct {
	Address string

	hub   *hub
	bound int32
}

// New returns a server that will listen on addr once started
func New(addr string) *Server {
	return &Server{
		Address: addr,
		hub:     newHub(),
	}
}

// Handler returns the HTTP handler serving dir
func (s *Server) Handler(dir string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(eventsPath, s.hub.ServeHTTP).Methods(http.MethodGet)
	r.HandleFunc(scriptPath, serveReloadScript).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(injectReload(http.FileServer(http.Dir(dir))))

	sm := secure.New(secure.Options{
		IsDevelopment:      true,
		BrowserXssFilter:   true,
		ContentTypeNosniff: true,
		FrameDeny:          true,
	})

	return sm.Handler(makeLogMiddleware(r))
}

// Start binds the listener and serves dir in the background. It returns the bound address; the server shuts
// down when ctx is done.
func (s *Server) Start(ctx context.Context, dir string) (string, error) {
	ln, err := net.Listen("tcp", s.Address)
	if err != nil {
		return "", eris.Wrapf(err, "failed to listen on %s", s.Address)
	}

	srv := &http.Server{
		Handler:     s.Handler(dir),
		ReadTimeout: 15 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		err := srv.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			buildlog.Log(ctx).Error().Err(err).Msg("development server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		atomic.StoreInt32(&s.bound, 0)
		s.hub.close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	atomic.StoreInt32(&s.bound, 1)
	return ln.Addr().String(), nil
}

// Bound reports whether the listener is accepting connections
func (s *Server) Bound() bool {
	return atomic.LoadInt32(&s.bound) == 1
}

// Reload tells every connected browser to reload. Calls before Start are ignored.
func (s *Server) Reload(paths ...string) {
	if !s.Bound() {
		return
	}

	s.hub.broadcast(paths)
}

// Clients returns the number of connected event streams
func (s *Server) Clients() int {
	return s.hub.count()
}
