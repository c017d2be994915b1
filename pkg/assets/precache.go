package assets

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
)

const (
	// PrecacheManifestName is written next to the service worker
	PrecacheManifestName = "precache-manifest.json"
	// ServiceWorkerName is the generated service worker
	ServiceWorkerName = "service-worker.js"
)

// PrecacheEntry is a single url cached by the service worker
type PrecacheEntry struct {
	URL      string `json:"url"`
	Revision string `json:"revision"`
}

var serviceWorker = template.Must(template.New("sw").Parse(`const CACHE = "flybuild-{{.Version}}";
const PRECACHE = {{.Manifest}};

self.addEventListener("install", (evt) => {
	evt.waitUntil(caches.open(CACHE).then((cache) => cache.addAll(PRECACHE.map((entry) => entry.url))));
	self.skipWaiting();
});

self.addEventListener("activate", (evt) => {
	evt.waitUntil(caches.keys().then((keys) => Promise.all(
		keys.filter((key) => key !== CACHE).map((key) => caches.delete(key))
	)));
});

self.addEventListener("fetch", (evt) => {
	if (evt.request.method !== "GET") {
		return;
	}

	evt.respondWith(caches.match(evt.request).then((hit) => hit || fetch(evt.request)));
});
`))

func skipPrecache(name string) bool {
	switch name {
	case PrecacheManifestName, ServiceWorkerName, ManifestName:
		return true
	}

	ext := path.Ext(name)
	return ext == ".br" || ext == ".gz" || ext == ".map"
}

// Precache writes the offline cache manifest and a service worker caching every file in dir
func Precache(dir string) ([]PrecacheEntry, error) {
	files, err := listFiles(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]PrecacheEntry, 0, len(files))
	versionHash := strings.Builder{}
	for _, file := range files {
		if skipPrecache(file) {
			continue
		}

		digest, err := hashFile(filepath.Join(dir, filepath.FromSlash(file)))
		if err != nil {
			return nil, err
		}

		entries = append(entries, PrecacheEntry{
			URL:      "/" + file,
			Revision: digest[:10],
		})
		versionHash.WriteString(digest[:2])
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode the precache manifest")
	}

	err = os.WriteFile(filepath.Join(dir, PrecacheManifestName), data, 0o660)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to write %s", PrecacheManifestName)
	}

	hdl, err := os.Create(filepath.Join(dir, ServiceWorkerName))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", ServiceWorkerName)
	}
	defer hdl.Close()

	version := versionHash.String()
	if len(version) > 10 {
		version = version[:10]
	}

	err = serviceWorker.Execute(hdl, map[string]string{
		"Version":  version,
		"Manifest": string(data),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to write %s", ServiceWorkerName)
	}

	return entries, nil
}
