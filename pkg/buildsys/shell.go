package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/flybuild/pkg/buildlog"
)

// ToolBinary is the executable that implements the "tool" helper commands. Defaults to the running binary.
var ToolBinary = ""

var toolBinaryOnce sync.Once

func toolBinary() string {
	toolBinaryOnce.Do(func() {
		if ToolBinary != "" {
			return
		}

		exe, err := os.Executable()
		if err != nil {
			ToolBinary = "flybuild"
		} else {
			ToolBinary = exe
		}
	})
	return ToolBinary
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "tool":
			args = append([]string{toolBinary()}, args...)
		case "mv", "rm", "mkdir":
			// always use our cross-platform implementation for these operations to make sure
			// they behave consistently
			args = append([]string{toolBinary(), "tool"}, args...)
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// Shell executes external tool commands through an embedded POSIX shell
type Shell struct {
	Dir         string
	Env         map[string]string
	PathPrepend []string
	DryRun      bool
	Stdout      io.Writer
	Stderr      io.Writer
}

func (sh *Shell) environ() expand.Environ {
	osEnv := os.Environ()
	envVars := make([]string, 0, len(osEnv)+len(sh.Env)+1)
	path := os.Getenv("PATH")

	for _, item := range osEnv {
		parts := strings.SplitN(item, "=", 2)
		if _, present := sh.Env[parts[0]]; present || parts[0] == "PATH" {
			continue
		}
		envVars = append(envVars, item)
	}

	for name, value := range sh.Env {
		if name == "PATH" {
			path = value
			continue
		}
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	for idx := len(sh.PathPrepend) - 1; idx >= 0; idx-- {
		path = sh.PathPrepend[idx] + string(os.PathListSeparator) + path
	}
	envVars = append(envVars, "PATH="+path)

	return expand.ListEnviron(envVars...)
}

// Run parses and executes the given script. name is only used for error messages.
func (sh *Shell) Run(ctx context.Context, name, script string) error {
	cmd := TaskCmdScript{TaskName: name, Content: script}
	stmts, err := cmd.ToShellStmts(syntax.NewParser())
	if err != nil {
		return err
	}

	return sh.RunStmts(ctx, stmts)
}

// RunStmts executes already parsed statements one by one and stops at the first failure
func (sh *Shell) RunStmts(ctx context.Context, stmts []*syntax.Stmt) error {
	if len(stmts) == 0 {
		return nil
	}

	stdout := sh.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := sh.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	dir := sh.Dir
	if dir == "" {
		dir = "."
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(sh.environ()),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}

	for _, stm := range stmts {
		strBuffer.Reset()
		printer.Print(&strBuffer, stm)
		buildlog.Log(ctx).Info().
			Bool("command", true).
			Msg(strBuffer.String())

		if sh.DryRun {
			continue
		}

		err = runner.Run(ctx, stm)
		if err != nil {
			if status, ok := interp.IsExitStatus(err); ok {
				return eris.Wrapf(ErrExternalTool, "%s exited with status %d", strBuffer.String(), status)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return eris.Wrapf(eris.Wrap(ErrExternalTool, err.Error()), "failed to run %s", strBuffer.String())
		}

		if runner.Exited() {
			return nil
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ResolvePatterns expands the given glob patterns (with ** support) relative to base and returns the sorted list
// of existing files. Patterns that don't match anything are dropped.
func ResolvePatterns(base string, patterns []string) ([]string, error) {
	seen := map[string]bool{}
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	for _, item := range patterns {
		if !filepath.IsAbs(item) {
			item = filepath.Join(base, item)
		}
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, FilesystemError(err, "failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, FilesystemError(err, "failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// If a pattern didn't match anything, it's returned as a result. Skip those results.
			if strings.ContainsAny(match, "*?[") {
				continue
			}

			info, err := os.Stat(match)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, FilesystemError(err, "failed to check %s", match)
			}

			if info.IsDir() || seen[match] {
				continue
			}

			seen[match] = true
			result = append(result, filepath.FromSlash(match))
		}
	}

	sort.Strings(result)
	return result, nil
}
