package buildsys

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/flybuild/pkg/buildlog"
)

type builtinFunc = func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

// * Messages

func messageBuiltin(emit func(thread *starlark.Thread, msg string, args ...interface{})) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var message string
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
			return nil, err
		}

		emit(thread, "%s", message)
		return starlark.None, nil
	}
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

// * Paths and files

func resolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ctx := getCtx(thread)
	base := ""

	for _, kv := range kwargs {
		if name := string(kv[0].(starlark.String)); name != "base" {
			return nil, eris.Errorf("%s: unexpected keyword argument %s", fn.Name(), name)
		}

		value, ok := pathArg(kv[1])
		if !ok {
			return nil, eris.Errorf("%s: base has to be a string or path, got %s", fn.Name(), kv[1].Type())
		}
		base = normalizePath(ctx, value)
	}

	if len(args) == 0 {
		return nil, eris.Errorf("%s: expects at least one argument", fn.Name())
	}

	parts := make([]string, len(args))
	for idx, arg := range args {
		value, ok := pathArg(arg)
		if !ok {
			return nil, eris.Errorf("%s: argument %d is a %s, expected a string or path", fn.Name(), idx+1, arg.Type())
		}
		parts[idx] = value
	}

	result := normalizePath(ctx, parts...)
	if base == "" {
		return StarlarkPath(result), nil
	}

	rel, err := filepath.Rel(base, result)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: failed to make %s relative to %s", fn.Name(), result, base)
	}
	return StarlarkPath(rel), nil
}

func statBuiltin(check func(info os.FileInfo) bool) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &path); err != nil {
			return nil, err
		}

		info, err := os.Stat(normalizePath(getCtx(thread), path))
		return starlark.Bool(err == nil && check(info)), nil
	}
}

func prependPathDir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var raw starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &raw); err != nil {
		return nil, err
	}

	dir, ok := pathArg(raw)
	if !ok {
		return nil, eris.Errorf("%s: got %s, want path or string", fn.Name(), raw.Type())
	}

	ctx := getCtx(thread)
	ctx.pathPrepend = append(ctx.pathPrepend, normalizePath(ctx, dir))
	return starlark.None, nil
}

// * Environment

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key); err != nil {
		return nil, err
	}

	if value, ok := getCtx(thread).envOverrides[key]; ok {
		return starlark.String(value), nil
	}
	return starlark.String(os.Getenv(key)), nil
}

func setenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, value string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value); err != nil {
		return nil, err
	}

	getCtx(thread).envOverrides[key] = value
	return starlark.True, nil
}

func requireVersion(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var raw string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &raw); err != nil {
		return nil, err
	}

	constraint, err := semver.NewConstraint(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid version constraint %s", raw)
	}

	current := semver.MustParse(Version)
	if ok, problems := constraint.Validate(current); !ok {
		msgs := make([]string, len(problems))
		for idx, problem := range problems {
			msgs[idx] = problem.Error()
		}
		return nil, eris.Errorf("this flyfile requires flybuild %s but this is %s: %s", raw, Version, strings.Join(msgs, ", "))
	}

	return starlark.True, nil
}

// * Data

// lookupKey walks a dotted key ("a.b.0.c") through a decoded document
func lookupKey(doc interface{}, key string) (interface{}, bool) {
	current := doc
	for _, part := range strings.Split(key, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			value, ok := node[part]
			if !ok {
				return nil, false
			}
			current = value
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, current != nil
}

func readYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file, key string
	var fallback starlark.Value = starlark.None

	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &file, &key, &fallback); err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	file = normalizePath(ctx, file)

	doc, cached := ctx.yamlCache[file]
	if !cached {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, FilesystemError(err, "failed to open %s", file)
		}

		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, eris.Wrapf(err, "failed to parse %s", file)
		}
		ctx.yamlCache[file] = doc
	}

	value, ok := lookupKey(doc, key)
	if !ok {
		return fallback, nil
	}
	return toStarlark(value)
}

// starExec runs a command while the flyfile is evaluated and returns its output. Failed commands
// return False.
func starExec(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var command starlark.Value
	format := "text"
	showError := false

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "command", &command, "format?", &format, "show_error?", &showError)
	if err != nil {
		return nil, err
	}

	if format != "text" && format != "json" {
		return nil, eris.Errorf("%s: unsupported format %s", fn.Name(), format)
	}

	ctx := getCtx(thread)
	base := filepath.Dir(ctx.filepath)
	parser := syntax.NewParser()

	var stmts []*syntax.Stmt
	switch command := command.(type) {
	case starlark.String:
		stmts, err = TaskCmdScript{TaskName: fn.Name(), Content: command.GoString()}.ToShellStmts(parser)
		if err != nil {
			return nil, err
		}
	case starlark.Tuple:
		call, err := processCmdParts(command, parser, base)
		if err != nil {
			return nil, err
		}
		stmts = []*syntax.Stmt{{Cmd: call}}
	default:
		return nil, eris.Errorf("%s: command has to be a string or tuple, got %s", fn.Name(), command.Type())
	}

	output := strings.Builder{}
	sh := &Shell{
		Dir:         base,
		Env:         ctx.envOverrides,
		PathPrepend: ctx.pathPrepend,
		Stdout:      &output,
		Stderr:      io.Discard,
	}
	if showError {
		sh.Stderr = os.Stderr
	}

	if err := sh.RunStmts(ctx.ctx, stmts); err != nil {
		if showError {
			buildlog.Log(ctx.ctx).Error().Err(err).Msgf("%s failed", fn.Name())
		}
		return starlark.False, nil
	}

	if format == "text" {
		return starlark.String(output.String()), nil
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(output.String()), &decoded); err != nil {
		return nil, eris.Wrap(err, "failed to parse command output")
	}
	return toStarlark(decoded)
}

// * Pipeline configuration

func declarePaths(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, dest, entry string
	var src starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "src", &src, "dest?", &dest, "entry?", &entry)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if ctx.initPhase {
		return nil, eris.Errorf("%s() can only be called from configure()", fn.Name())
	}

	patterns, err := stringList(src, "src")
	if err != nil {
		return nil, err
	}

	spec := PathSpec{Name: name}
	for _, item := range patterns {
		spec.Src = append(spec.Src, relativePath(ctx, item))
	}

	if dest != "" {
		spec.Dest = relativePath(ctx, dest)
	}
	if entry != "" {
		spec.Entry = relativePath(ctx, entry)
	}

	ctx.paths[name] = spec
	return starlark.None, nil
}

func declareTool(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	spec := ToolSpec{}

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "category", &spec.Category, "cmd?", &spec.Cmd, "minify?", &spec.Minify)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if ctx.initPhase {
		return nil, eris.Errorf("%s() can only be called from configure()", fn.Name())
	}

	ctx.tools[spec.Category] = spec
	return starlark.None, nil
}
