package devserver

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func writeSite(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		"index.html": "<html><body><h1>Hi</h1></BODY></html>",
		"app.css":    "body { color: red }",
	}

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o660); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlerInjectsReloadScript(t *testing.T) {
	handler := New("127.0.0.1:0").Handler(writeSite(t))

	rec := get(t, handler, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	body := rec.Body.String()
	expected := "<h1>Hi</h1>" + string(reloadTag) + "</BODY>"
	if !strings.Contains(body, expected) {
		t.Errorf("expected the reload tag before </body>, got %s", body)
	}

	if rec.Header().Get("Content-Length") != "" && rec.Header().Get("Content-Length") != strconv.Itoa(len(body)) {
		t.Errorf("Content-Length %s doesn't match the body (%d bytes)", rec.Header().Get("Content-Length"), len(body))
	}

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestHandlerLeavesOtherFilesAlone(t *testing.T) {
	handler := New("127.0.0.1:0").Handler(writeSite(t))

	rec := get(t, handler, "/app.css")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	if rec.Body.String() != "body { color: red }" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	rec = get(t, handler, "/missing.html")
	if rec.Code != http.StatusNotFound || strings.Contains(rec.Body.String(), string(reloadTag)) {
		t.Errorf("unexpected 404 response %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandlerServesReloadScript(t *testing.T) {
	handler := New("127.0.0.1:0").Handler(writeSite(t))

	rec := get(t, handler, scriptPath)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), eventsPath) {
		t.Errorf("unexpected reload script response %d %q", rec.Code, rec.Body.String())
	}
}

func TestInjectTag(t *testing.T) {
	tests := map[string]string{
		"<p>no body</p>":                "<p>no body</p>" + string(reloadTag),
		"<body></body><body></body>":    "<body></body><body>" + string(reloadTag) + "</body>",
		"<html><body>x</body></html>\n": "<html><body>x" + string(reloadTag) + "</body></html>\n",
	}

	for input, expected := range tests {
		if got := string(injectTag([]byte(input))); got != expected {
			t.Errorf("injectTag(%q) = %q, expected %q", input, got, expected)
		}
	}
}

func TestReloadBeforeStart(t *testing.T) {
	s := New("127.0.0.1:0")
	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	s.Reload("dist/app.js")

	select {
	case data := <-ch:
		t.Errorf("unexpected event %s", data)
	default:
	}

	if s.Bound() {
		t.Error("the server isn't bound yet")
	}
}

func TestServerBroadcastsReloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New("127.0.0.1:0")
	addr, err := s.Start(ctx, writeSite(t))
	if err != nil {
		t.Fatal(err)
	}

	if !s.Bound() {
		t.Fatal("Start returned before binding")
	}

	resp, err := http.Get("http://" + addr + eventsPath)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || line != ": connected\n" {
		t.Fatalf("unexpected greeting %q (%v)", line, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("the client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Reload("dist/js", "dist/css/app.css")

	lines := make(chan string, 8)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()

	var received []string
	timeout := time.After(2 * time.Second)
	for len(received) < 3 {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed early, got %q", received)
			}
			if line != "\n" || len(received) > 0 {
				received = append(received, line)
			}
		case <-timeout:
			t.Fatalf("no reload event received, got %q", received)
		}
	}

	if received[0] != "event: reload\n" || received[1] != `data: {"paths":["dist/js","dist/css/app.css"]}`+"\n" {
		t.Errorf("unexpected event %q", received)
	}

	cancel()
	select {
	case _, ok := <-lines:
		for ok {
			_, ok = <-lines
		}
	case <-time.After(5 * time.Second):
		t.Error("the stream wasn't closed on shutdown")
	}

	deadline = time.Now().Add(5 * time.Second)
	for s.Bound() {
		if time.Now().After(deadline) {
			t.Fatal("the server should be unbound after shutdown")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			break
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if time.Now().After(deadline) {
			t.Fatal("the server should stop accepting connections")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
