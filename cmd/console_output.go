package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

var levelColors = map[string]string{
	"fatal": "red",
	"error": "red",
	"warn":  "yellow",
	"debug": "blue",
	"trace": "blue",
}

// ConsoleWriter renders zerolog's JSON events as short colored lines prefixed with the task name
type ConsoleWriter struct {
	Out     io.Writer
	NoColor bool
	Verbose bool

	lock sync.Mutex
}

func NewConsoleWriter(out io.Writer, noColor bool) *ConsoleWriter {
	return &ConsoleWriter{Out: out, NoColor: noColor, Verbose: os.Getenv("FLY_DEBUG") != ""}
}

func (w *ConsoleWriter) Write(p []byte) (int, error) {
	var evt map[string]interface{}
	if err := json.Unmarshal(p, &evt); err != nil {
		return 0, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	line := w.format(evt)

	w.lock.Lock()
	defer w.lock.Unlock()

	if _, err := io.WriteString(w.Out, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *ConsoleWriter) format(evt map[string]interface{}) string {
	colors := colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: w.NoColor,
	}

	level, _ := evt["level"].(string)
	color, ok := levelColors[level]
	if !ok {
		color = "green"
	}
	// messages are written raw since shell commands and globs contain brackets
	code := colors.Color("[" + color + "]")

	var out strings.Builder
	out.WriteString(code)

	if task, ok := evt["task"].(string); ok {
		fmt.Fprintf(&out, "%s: ", task)
	}

	if req, ok := evt["req"].(string); ok {
		out.WriteString(colors.Color("[dark_gray]") + req + code + " ")
	}

	switch {
	case level == "error":
		out.WriteString("Error: ")
	case evt["command"] == true:
		out.WriteString("$ ")
	}

	msg, _ := evt["message"].(string)
	if path, ok := evt["path"].(string); ok {
		if rel, err := filepath.Rel(".", path); err == nil {
			msg = strings.ReplaceAll(msg, path, rel)
		}
	}
	out.WriteString(msg)

	if details, ok := evt["error"]; ok {
		fmt.Fprintf(&out, "\n%v", details)
	}

	if w.Verbose {
		keys := make([]string, 0, len(evt))
		for key := range evt {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		out.WriteString("\n")
		for _, key := range keys {
			fmt.Fprintf(&out, "  %s: %+v\n", key, evt[key])
		}
	}

	out.WriteString(colors.Color("[reset]") + "\n")
	return out.String()
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv("FLY_DEBUG") != "")
	}
}
