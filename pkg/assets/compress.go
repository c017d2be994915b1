package assets

import (
	"compress/gzip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
)

var compressExts = map[string]bool{
	".html": true, ".css": true, ".js": true, ".json": true, ".svg": true,
	".txt": true, ".xml": true, ".map": true, ".webmanifest": true, ".webapp": true,
}

// CompressTargets returns the files below dir that Compress would process
func CompressTargets(dir string) ([]string, error) {
	files, err := listFiles(dir)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(files))
	for _, file := range files {
		if compressExts[strings.ToLower(path.Ext(file))] {
			result = append(result, file)
		}
	}
	return result, nil
}

// Compress writes .br and .gz siblings for every text asset in dir. bar may be nil.
func Compress(dir string, bar *progressbar.ProgressBar) (int, error) {
	files, err := CompressTargets(dir)
	if err != nil {
		return 0, err
	}

	buffer := make([]byte, 32*1024)
	for _, file := range files {
		item := filepath.Join(dir, filepath.FromSlash(file))

		err = compressFile(item, item+".br", buffer, func(w io.Writer) io.WriteCloser {
			return brotli.NewWriterLevel(w, brotli.BestCompression)
		})
		if err != nil {
			return 0, err
		}

		err = compressFile(item, item+".gz", buffer, func(w io.Writer) io.WriteCloser {
			gw, _ := gzip.NewWriterLevel(w, gzip.BestCompression)
			return gw
		})
		if err != nil {
			return 0, err
		}

		if bar != nil {
			bar.Add(1)
		}
	}

	if bar != nil {
		bar.Finish()
	}
	return len(files), nil
}

func compressFile(src, dest string, buffer []byte, wrap func(io.Writer) io.WriteCloser) error {
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

	writer := wrap(out)
	if _, err := io.CopyBuffer(writer, in, buffer); err != nil {
		writer.Close()
		return eris.Wrapf(err, "failed to compress %s", src)
	}

	return eris.Wrapf(writer.Close(), "failed to finish %s", dest)
}
