// Package assets implements the release helpers exposed as "flybuild tool" subcommands
package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ManifestName is written to the release directory by Rev
const ManifestName = "rev-manifest.json"

// RevIgnore lists the extensions that keep their names. Pages and images are referenced from outside
// (bookmarks, manifests) so they can't move.
var RevIgnore = []string{".html", ".png", ".jpg", ".jpeg", ".svg", ".ico", ".gif", ".json", ".webapp", ".txt"}

var rewriteExts = map[string]bool{".html": true, ".css": true, ".js": true}

// Manifest maps the original path of a file to its fingerprinted path (both relative and slash separated)
type Manifest map[string]string

func ignored(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, item := range RevIgnore {
		if ext == item {
			return true
		}
	}
	return false
}

func hashFile(file string) (string, error) {
	hdl, err := os.Open(file)
	if err != nil {
		return "", eris.Wrapf(err, "failed to open %s", file)
	}
	defer hdl.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, hdl); err != nil {
		return "", eris.Wrapf(err, "failed to hash %s", file)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Fingerprint inserts the first 10 characters of digest before the extension
func Fingerprint(name, digest string) string {
	ext := path.Ext(name)
	if len(digest) > 10 {
		digest = digest[:10]
	}
	return name[:len(name)-len(ext)] + "-" + digest + ext
}

// listFiles returns the slash separated paths of all regular files below dir
func listFiles(dir string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(dir, func(item string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, item)
		if err != nil {
			return err
		}

		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list %s", dir)
	}

	sort.Strings(files)
	return files, nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Rev copies every file from src to dest, fingerprints the names of all files that aren't ignored, writes
// the manifest and rewrites references in html, css and js files. The fingerprint of a rewritten file is
// taken from its rewritten content so a stylesheet changes its name when an image it references does.
func Rev(src, dest string) (Manifest, error) {
	files, err := listFiles(src)
	if err != nil {
		return nil, err
	}

	manifest := Manifest{}
	texts := map[string]string{}
	for _, file := range files {
		srcPath := filepath.Join(src, filepath.FromSlash(file))

		if rewriteExts[strings.ToLower(path.Ext(file))] {
			content, err := os.ReadFile(srcPath)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to read %s", srcPath)
			}
			texts[file] = string(content)
			continue
		}

		if !ignored(file) {
			digest, err := hashFile(srcPath)
			if err != nil {
				return nil, err
			}
			manifest[file] = Fingerprint(file, digest)
		}
	}

	rewritten := resolveTexts(files, texts, manifest)

	for _, file := range files {
		name := file
		if fingerprinted, ok := manifest[file]; ok {
			name = fingerprinted
		}
		target := filepath.Join(dest, filepath.FromSlash(name))

		content, isText := rewritten[file]
		if !isText {
			if err := copyFile(filepath.Join(src, filepath.FromSlash(file)), target); err != nil {
				return nil, err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o770); err != nil {
			return nil, eris.Wrapf(err, "failed to create %s", filepath.Dir(target))
		}
		if err := os.WriteFile(target, []byte(content), 0o660); err != nil {
			return nil, eris.Wrapf(err, "failed to write %s", target)
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode the manifest")
	}

	err = os.WriteFile(filepath.Join(dest, ManifestName), data, 0o660)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to write %s", ManifestName)
	}

	return manifest, nil
}

// resolveTexts rewrites the text files against the manifest and fingerprints the non-ignored ones by
// their rewritten content. Files referencing each other need several passes until the names settle;
// reference cycles stop after one pass per file.
func resolveTexts(files []string, texts map[string]string, manifest Manifest) map[string]string {
	rewritten := map[string]string{}
	for pass := 0; pass <= len(texts); pass++ {
		replacer := newReplacer(manifest)
		changed := false

		for _, file := range files {
			content, ok := texts[file]
			if !ok {
				continue
			}

			updated := content
			if replacer != nil {
				updated = replacer.Replace(content)
			}
			rewritten[file] = updated

			if ignored(file) {
				continue
			}

			name := Fingerprint(file, hashBytes([]byte(updated)))
			if manifest[file] != name {
				manifest[file] = name
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	// the last pass may have renamed a file after its referrers were rewritten
	if replacer := newReplacer(manifest); replacer != nil {
		for file, content := range texts {
			rewritten[file] = replacer.Replace(content)
		}
	}
	return rewritten
}

func newReplacer(manifest Manifest) *strings.Replacer {
	if len(manifest) == 0 {
		return nil
	}

	keys := make([]string, 0, len(manifest))
	for key := range manifest {
		keys = append(keys, key)
	}

	// longest first so js/app.js doesn't shadow js/app.js.map
	sort.Slice(keys, func(a, b int) bool {
		if len(keys[a]) != len(keys[b]) {
			return len(keys[a]) > len(keys[b])
		}
		return keys[a] < keys[b]
	})

	pairs := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		pairs = append(pairs, key, manifest[key])
	}
	return strings.NewReplacer(pairs...)
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o770); err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(dest))
	}

	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return eris.Wrapf(err, "failed to copy %s", src)
}
