package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/ngld/flybuild/pkg/buildlog"
)

type reloadEvent struct {
	Paths []string `json:"paths"`
}

type hub struct {
	lock    sync.Mutex
	clients map[chan []byte]struct{}
	closed  bool
}

func newHub() *hub {
	return &hub{clients: map[chan []byte]struct{}{}}
}

func (h *hub) subscribe() chan []byte {
	h.lock.Lock()
	defer h.lock.Unlock()

	ch := make(chan []byte, 4)
	if h.closed {
		close(ch)
		return ch
	}

	h.clients[ch] = struct{}{}
	return ch
}

func (h *hub) unsubscribe(ch chan []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *hub) count() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.clients)
}

func (h *hub) broadcast(paths []string) {
	if paths == nil {
		paths = []string{}
	}

	data, err := json.Marshal(reloadEvent{Paths: paths})
	if err != nil {
		return
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	for ch := range h.clients {
		// slow clients miss events but a single reload is enough for them anyway
		select {
		case ch <- data:
		default:
		}
	}
}

func (h *hub) close() {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// ServeHTTP streams reload events to a single client
func (h *hub) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, ": connected\n\n")
	flusher.Flush()

	logger := buildlog.Log(r.Context())
	logger.Debug().Msg("reload client connected")

	for {
		select {
		case <-r.Context().Done():
			logger.Debug().Msg("reload client disconnected")
			return
		case data, ok := <-ch:
			if !ok {
				return
			}

			fmt.Fprintf(rw, "event: reload\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
