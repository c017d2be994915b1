package pkg

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// ErrNoProjectRoot is returned by FindProjectRoot if none of the parent directories contain the marker
var ErrNoProjectRoot = eris.New("project root not found")

// FindProjectRoot walks up from start until it finds a directory containing marker
func FindProjectRoot(start, marker string) (string, error) {
	path, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", start)
	}

	for {
		_, err := os.Stat(filepath.Join(path, marker))
		if err == nil {
			return path, nil
		}

		if !os.IsNotExist(err) {
			return "", eris.Wrap(err, "error ocurred while searching for project root")
		}

		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}

	return "", eris.Wrapf(ErrNoProjectRoot, "no %s found above %s", marker, start)
}

// Colors is used by the Print helpers. Disable it when the output isn't a terminal.
var Colors = colorstring.Colorize{
	Colors: colorstring.DefaultColors,
	Reset:  true,
}

func PrintTask(msg string) {
	os.Stdout.WriteString(Colors.Color("[blue][bold]==>[default] " + msg + "\n"))
}

func PrintSubtask(msg string) {
	os.Stdout.WriteString(Colors.Color("[green][bold]  ->[reset] " + msg + "\n"))
}

func PrintError(msg string) {
	os.Stderr.WriteString(Colors.Color("[red][bold]  ->[reset] " + msg + "\n"))
}
