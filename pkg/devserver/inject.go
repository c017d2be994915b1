package devserver

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
)

var reloadTag = []byte(`<script src="` + scriptPath + `"></script>`)

const reloadScript = `(function () {
	var source = new EventSource("` + eventsPath + `");
	source.addEventListener("reload", function (evt) {
		var paths = JSON.parse(evt.data).paths || [];
		var cssOnly = paths.length > 0 && paths.every(function (p) { return /\.css$/.test(p); });
		if (!cssOnly) {
			window.location.reload();
			return;
		}

		document.querySelectorAll('link[rel="stylesheet"]').forEach(function (link) {
			var url = new URL(link.href);
			url.searchParams.set("_flybuild", Date.now());
			link.href = url.toString();
		});
	});
})();
`

func serveReloadScript(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Write([]byte(reloadScript))
}

// injectTag inserts the reload script before the last </body> or appends it if there is none
func injectTag(body []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(body), []byte("</body>"))
	if idx == -1 {
		return append(body, reloadTag...)
	}

	result := make([]byte, 0, len(body)+len(reloadTag))
	result = append(result, body[:idx]...)
	result = append(result, reloadTag...)
	return append(result, body[idx:]...)
}

type injectWriter struct {
	http.ResponseWriter
	status  int
	decided bool
	html    bool
	buffer  bytes.Buffer
}

func (w *injectWriter) WriteHeader(status int) {
	if w.decided {
		return
	}

	w.decided = true
	w.status = status
	w.html = status == http.StatusOK && strings.HasPrefix(w.Header().Get("Content-Type"), "text/html")
	if !w.html {
		w.ResponseWriter.WriteHeader(status)
	}
}

func (w *injectWriter) Write(p []byte) (int, error) {
	if !w.decided {
		w.WriteHeader(http.StatusOK)
	}

	if w.html {
		return w.buffer.Write(p)
	}
	return w.ResponseWriter.Write(p)
}

func (w *injectWriter) finish() {
	if !w.html {
		return
	}

	body := injectTag(w.buffer.Bytes())
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.ResponseWriter.WriteHeader(w.status)
	w.ResponseWriter.Write(body)
}

func injectReload(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(rw, r)
			return
		}

		// conditional requests would produce 304s without a body to inject into
		r.Header.Del("If-Modified-Since")
		r.Header.Del("If-None-Match")

		w := &injectWriter{ResponseWriter: rw}
		next.ServeHTTP(w, r)
		w.finish()
	})
}
