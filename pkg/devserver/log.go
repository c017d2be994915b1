package devserver

import (
	"net/http"
	"time"

	"github.com/muyo/sno"

	"github.com/ngld/flybuild/pkg/buildlog"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func makeLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		reqID := sno.New(0)
		logger := buildlog.Log(r.Context()).With().Str("req", reqID.String()).Logger()

		ctx := buildlog.WithLogger(r.Context(), &logger)
		r = r.WithContext(ctx)

		w := &statusWriter{ResponseWriter: rw, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(w, r)

		logger.Debug().
			Str("method", r.Method).
			Int("status", w.status).
			Dur("duration", time.Since(start)).
			Msg(r.URL.Path)
	})
}
