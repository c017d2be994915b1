package assets

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(path, []byte(content), 0o660); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestFingerprint(t *testing.T) {
	if got := Fingerprint("js/app.js", "0123456789abcdef"); got != "js/app-0123456789.js" {
		t.Errorf("unexpected name %s", got)
	}

	if got := Fingerprint("LICENSE", "abc"); got != "LICENSE-abc" {
		t.Errorf("unexpected name %s", got)
	}
}

func TestRev(t *testing.T) {
	src := writeTree(t, map[string]string{
		"index.html":   `<link href="css/app.css"><script src="js/app.js"></script>`,
		"css/app.css":  `body { background: url(../img/bg.png) }`,
		"js/app.js":    `console.log("app")`,
		"img/bg.png":   "png",
		"robots.txt":   "User-agent: *",
		"js/vendor.js": "vendor",
	})
	dest := t.TempDir()

	manifest, err := Rev(src, dest)
	if err != nil {
		t.Fatal(err)
	}

	keys := make([]string, 0, len(manifest))
	for key := range manifest {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if strings.Join(keys, ",") != "css/app.css,js/app.js,js/vendor.js" {
		t.Errorf("unexpected manifest keys %v", keys)
	}

	for _, name := range []string{"index.html", "img/bg.png", "robots.txt"} {
		if _, err := os.Stat(filepath.Join(dest, filepath.FromSlash(name))); err != nil {
			t.Errorf("%s should keep its name", name)
		}
	}

	appJS := manifest["js/app.js"]
	if !strings.HasPrefix(appJS, "js/app-") || len(appJS) != len("js/app-0123456789.js") {
		t.Errorf("unexpected fingerprinted name %s", appJS)
	}

	if readFile(t, filepath.Join(dest, filepath.FromSlash(appJS))) != `console.log("app")` {
		t.Error("the fingerprinted copy has the wrong content")
	}

	index := readFile(t, filepath.Join(dest, "index.html"))
	if !strings.Contains(index, manifest["css/app.css"]) || !strings.Contains(index, appJS) {
		t.Errorf("references in index.html weren't rewritten: %s", index)
	}

	var stored Manifest
	if err := json.Unmarshal([]byte(readFile(t, filepath.Join(dest, ManifestName))), &stored); err != nil {
		t.Fatal(err)
	}

	if len(stored) != len(manifest) || stored["js/app.js"] != appJS {
		t.Errorf("unexpected stored manifest %v", stored)
	}
}

func TestRevFingerprintsRewrittenContent(t *testing.T) {
	revApp := func(lib string) (Manifest, string) {
		src := writeTree(t, map[string]string{
			"js/app.js": `import "js/lib.js"`,
			"js/lib.js": lib,
		})
		dest := t.TempDir()

		manifest, err := Rev(src, dest)
		if err != nil {
			t.Fatal(err)
		}
		return manifest, dest
	}

	first, dest := revApp("one")
	second, _ := revApp("two")

	if first["js/lib.js"] == second["js/lib.js"] {
		t.Fatal("different content should produce different fingerprints")
	}

	if first["js/app.js"] == second["js/app.js"] {
		t.Error("app.js should be renamed when a file it references changes")
	}

	content := readFile(t, filepath.Join(dest, filepath.FromSlash(first["js/app.js"])))
	if content != `import "`+first["js/lib.js"]+`"` {
		t.Errorf("unexpected rewritten content %q", content)
	}

	if first["js/app.js"] != Fingerprint("js/app.js", hashBytes([]byte(content))) {
		t.Error("the fingerprint should match the written content")
	}
}

func TestPrecache(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"index.html":      "<html></html>",
		"js/app.js":       "app",
		"js/app.js.map":   "{}",
		"js/app.js.gz":    "gz",
		ManifestName:      "{}",
		ServiceWorkerName: "old",
		"img/logo.svg":    "<svg/>",
	})

	entries, err := Precache(dir)
	if err != nil {
		t.Fatal(err)
	}

	urls := make([]string, len(entries))
	for idx, entry := range entries {
		urls[idx] = entry.URL
		if len(entry.Revision) != 10 {
			t.Errorf("unexpected revision %q for %s", entry.Revision, entry.URL)
		}
	}

	if strings.Join(urls, ",") != "/img/logo.svg,/index.html,/js/app.js" {
		t.Errorf("unexpected urls %v", urls)
	}

	var stored []PrecacheEntry
	if err := json.Unmarshal([]byte(readFile(t, filepath.Join(dir, PrecacheManifestName))), &stored); err != nil {
		t.Fatal(err)
	}

	if len(stored) != 3 {
		t.Errorf("unexpected stored manifest %v", stored)
	}

	sw := readFile(t, filepath.Join(dir, ServiceWorkerName))
	if !strings.Contains(sw, `"url": "/js/app.js"`) || !strings.Contains(sw, `caches.open(CACHE)`) {
		t.Errorf("unexpected service worker:\n%s", sw)
	}
}

func TestCompress(t *testing.T) {
	content := strings.Repeat("body { color: red }\n", 100)
	dir := writeTree(t, map[string]string{
		"css/app.css": content,
		"img/bg.png":  "png",
	})

	count, err := Compress(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	if count != 1 {
		t.Errorf("expected one compressed file, got %d", count)
	}

	if _, err := os.Stat(filepath.Join(dir, "img", "bg.png.gz")); err == nil {
		t.Error("binary assets shouldn't be compressed")
	}

	brData, err := os.ReadFile(filepath.Join(dir, "css", "app.css.br"))
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(brData)))
	if err != nil || string(decoded) != content {
		t.Errorf("brotli round trip failed (%v)", err)
	}

	gzHdl, err := os.Open(filepath.Join(dir, "css", "app.css.gz"))
	if err != nil {
		t.Fatal(err)
	}
	defer gzHdl.Close()

	gzReader, err := gzip.NewReader(gzHdl)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err = io.ReadAll(gzReader)
	if err != nil || string(decoded) != content {
		t.Errorf("gzip round trip failed (%v)", err)
	}
}

func TestArchive(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"index.html": "<html></html>",
		"js/app.js":  "app",
	})
	dest := filepath.Join(dir, "release.tar.xz")

	if err := Archive(dir, dest, nil); err != nil {
		t.Fatal(err)
	}

	names, err := ListArchive(dest)
	if err != nil {
		t.Fatal(err)
	}

	if strings.Join(names, ",") != "index.html,js/app.js" {
		t.Errorf("unexpected archive contents %v", names)
	}
}
