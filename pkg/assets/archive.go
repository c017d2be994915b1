package assets

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

// Archive packs every file below dir into an xz compressed tarball at dest. bar may be nil.
func Archive(dir, dest string, bar *progressbar.ProgressBar) error {
	files, err := listFiles(dir)
	if err != nil {
		return err
	}

	absDest, err := filepath.Abs(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to resolve %s", dest)
	}

	hdl, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}
	defer hdl.Close()

	xzWriter, err := xz.NewWriter(hdl)
	if err != nil {
		return eris.Wrap(err, "failed to initialize xz")
	}

	tarWriter := tar.NewWriter(xzWriter)
	buffer := make([]byte, 32*1024)

	for _, file := range files {
		item := filepath.Join(dir, filepath.FromSlash(file))
		if absItem, err := filepath.Abs(item); err == nil && absItem == absDest {
			continue
		}

		if err := addToTar(tarWriter, item, file, buffer); err != nil {
			return err
		}

		if bar != nil {
			bar.Add(1)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return eris.Wrap(err, "failed to finish the tar stream")
	}

	if err := xzWriter.Close(); err != nil {
		return eris.Wrap(err, "failed to finish the xz stream")
	}

	if bar != nil {
		bar.Finish()
	}
	return nil
}

func addToTar(tw *tar.Writer, item, name string, buffer []byte) error {
	info, err := os.Stat(item)
	if err != nil {
		return eris.Wrapf(err, "failed to stat %s", item)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return eris.Wrapf(err, "failed to build the header for %s", item)
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return eris.Wrapf(err, "failed to write the header for %s", item)
	}

	hdl, err := os.Open(item)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", item)
	}
	defer hdl.Close()

	_, err = io.CopyBuffer(tw, hdl, buffer)
	return eris.Wrapf(err, "failed to add %s", item)
}

// ListArchive returns the names stored in an archive written by Archive
func ListArchive(file string) ([]string, error) {
	hdl, err := os.Open(file)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", file)
	}
	defer hdl.Close()

	xzReader, err := xz.NewReader(hdl)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", file)
	}

	names := []string{}
	tarReader := tar.NewReader(xzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read %s", file)
		}

		names = append(names, header.Name)
	}
	return names, nil
}
