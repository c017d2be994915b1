package buildsys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/flybuild/pkg/buildlog"
)

// Flyfile is the evaluated result of a flyfile.star script
type Flyfile struct {
	Tasks       TaskList
	Paths       map[string]PathSpec
	Tools       map[string]ToolSpec
	Env         map[string]string
	PathPrepend []string
}

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	pathPrepend  []string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	tasks        []*Task
	paths        map[string]PathSpec
	tools        map[string]ToolSpec
	initPhase    bool
}

// anonymousPrefix marks inline tasks which are only reachable through the task that references them
const anonymousPrefix = "auto#"

// * Helpers

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

func isAssign(word string) bool {
	pos := strings.IndexByte(word, '=')
	if pos < 1 {
		return false
	}

	for idx, c := range word[:pos] {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && idx > 0:
		default:
			return false
		}
	}
	return true
}

// processCmdParts turns a tuple like ("FOO=bar", "tool", path) into a shell call. Leading "NAME=value"
// items become assignments, every other item a single (quoted if necessary) word.
func processCmdParts(parts starlark.Tuple, parser *syntax.Parser, base string) (*syntax.CallExpr, error) {
	call := new(syntax.CallExpr)

	idx := 0
	for ; idx < len(parts); idx++ {
		value, ok := parts[idx].(starlark.String)
		if !ok || !isAssign(value.GoString()) {
			break
		}
	}

	if idx > 0 {
		assigns := make([]string, idx)
		for i, part := range parts[:idx] {
			assigns[i] = part.(starlark.String).GoString()
		}

		joined := strings.Join(assigns, " ")
		file, err := parser.Parse(strings.NewReader(joined), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joined)
		}

		if len(file.Stmts) != 1 {
			return nil, eris.Errorf("malformed env vars %s", joined)
		}

		parsed, ok := file.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || parsed.Assigns == nil {
			return nil, eris.Errorf("malformed env vars %s", joined)
		}
		call = parsed
	}

	call.Args = make([]*syntax.Word, 0, len(parts)-idx)
	for _, arg := range parts[idx:] {
		value, ok := pathArg(arg)
		if !ok {
			return nil, eris.Errorf("found argument of type %s but only strings and paths are supported: %s", arg.Type(), arg.String())
		}

		if _, isPath := arg.(StarlarkPath); isPath {
			// absolute paths cause issues on Windows
			if filepath.IsAbs(value) {
				if rel, err := filepath.Rel(base, value); err == nil {
					value = rel
				}
			}
			value = filepath.ToSlash(value)
		}

		var part syntax.WordPart = &syntax.Lit{Value: value}
		if strings.ContainsAny(value, " $'") {
			part = &syntax.SglQuoted{Value: value}
		}
		call.Args = append(call.Args, &syntax.Word{Parts: []syntax.WordPart{part}})
	}

	return call, nil
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	buildlog.Log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	buildlog.Log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// * Builtin functions

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func envDict(env *starlark.Dict) (map[string]string, error) {
	result := map[string]string{}
	if env == nil {
		return result, nil
	}

	for _, item := range env.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, eris.Errorf("found key type %s in env map but only strings are supported", item[0].Type())
		}

		value, ok := item[1].(starlark.String)
		if !ok {
			return nil, eris.Errorf("found value of type %s for key %s but only strings are supported", item[1].Type(), key.GoString())
		}
		result[key.GoString()] = value.GoString()
	}
	return result, nil
}

// taskCmds converts the cmds list. Strings are kept as scripts, tuples and lists are quoted into a single
// call and task values become references.
func taskCmds(name, base string, cmds starlark.Value) ([]TaskCmd, error) {
	result := make([]TaskCmd, 0)
	if cmds == nil || cmds == starlark.None {
		return result, nil
	}

	iterable, ok := cmds.(starlark.Iterable)
	if !ok {
		return nil, eris.Errorf("cmds has to be a list, got %s", cmds.Type())
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))
	buffer := strings.Builder{}

	iter := iterable.Iterate()
	defer iter.Done()

	var item starlark.Value
	for idx := 0; iter.Next(&item); idx++ {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, TaskCmdScript{TaskName: name, Index: idx, Content: value.GoString()})
		case *Task:
			result = append(result, TaskCmdTaskRef{Task: value})
		case starlark.Iterable:
			var parts starlark.Tuple
			sub := value.Iterate()
			var part starlark.Value
			for sub.Next(&part) {
				parts = append(parts, part)
			}
			sub.Done()

			call, err := processCmdParts(parts, parser, base)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			buffer.Reset()
			if err := printer.Print(&buffer, call); err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}
			result = append(result, TaskCmdScript{TaskName: name, Index: idx, Content: buffer.String()})
		default:
			return nil, eris.Errorf("unexpected command type %s. Only strings, tuples, lists and tasks are valid", item.Type())
		}
	}
	return result, nil
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		parallel                                  bool
		base                                      string
		env                                       *starlark.Dict
		deps, skipIfExists, inputs, outputs, cmds starlark.Value
	)
	result := new(Task)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short??", &result.Short, "hidden?", &result.Hidden,
		"desc?", &result.Desc, "deps?", &deps, "parallel?", &parallel, "base?", &base, "skip_if_exists?", &skipIfExists,
		"inputs?", &inputs, "outputs?", &outputs, "env?", &env, "cmds?", &cmds)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if ctx.initPhase {
		return nil, eris.Errorf("%s() can only be called from configure()", fn.Name())
	}

	if result.Short == "" {
		result.Short = anonymousPrefix + nanoid.New()
		result.Hidden = true
	}

	if parallel {
		result.Mode = Parallel
	}

	if base == "" {
		base = "."
	}
	body := ShellBody{Name: result.Short, Base: normalizePath(ctx, base)}

	lists := []struct {
		field  string
		value  starlark.Value
		target *[]string
	}{
		{"deps", deps, &result.Deps},
		{"skip_if_exists", skipIfExists, &body.SkipIfExists},
		{"inputs", inputs, &body.Inputs},
		{"outputs", outputs, &body.Outputs},
	}
	for _, list := range lists {
		*list.target, err = stringList(list.value, list.field)
		if err != nil {
			return nil, eris.Wrapf(err, "%s %s", fn.Name(), result.Short)
		}
	}

	body.Env, err = envDict(env)
	if err != nil {
		return nil, err
	}

	body.Cmds, err = taskCmds(result.Short, body.Base, cmds)
	if err != nil {
		return nil, eris.Wrapf(err, "%s %s", fn.Name(), result.Short)
	}

	if len(body.Inputs) > 0 && len(body.Outputs) == 0 {
		warn(thread, "%s: found inputs but no outputs", result.Short)
	}

	result.Body = body
	ctx.tasks = append(ctx.tasks, result)
	return result, nil
}

var builtins = starlark.StringDict{
	"OS":              starlark.String(runtime.GOOS),
	"ARCH":            starlark.String(runtime.GOARCH),
	"VERSION":         starlark.String(Version),
	"info":            starlark.NewBuiltin("info", messageBuiltin(info)),
	"warn":            starlark.NewBuiltin("warn", messageBuiltin(warn)),
	"error":           starlark.NewBuiltin("error", starError),
	"resolve_path":    starlark.NewBuiltin("resolve_path", resolvePath),
	"option":          starlark.NewBuiltin("option", option),
	"require_version": starlark.NewBuiltin("require_version", requireVersion),
	"getenv":          starlark.NewBuiltin("getenv", getenv),
	"setenv":          starlark.NewBuiltin("setenv", setenv),
	"prepend_path":    starlark.NewBuiltin("prepend_path", prependPathDir),
	"read_yaml":       starlark.NewBuiltin("read_yaml", readYaml),
	"isdir":           starlark.NewBuiltin("isdir", statBuiltin(os.FileInfo.IsDir)),
	"isfile":          starlark.NewBuiltin("isfile", statBuiltin(func(info os.FileInfo) bool { return info.Mode().IsRegular() })),
	"execute":         starlark.NewBuiltin("execute", starExec),
	"task":            starlark.NewBuiltin("task", task),
	"paths":           starlark.NewBuiltin("paths", declarePaths),
	"tool":            starlark.NewBuiltin("tool", declareTool),
}

// scriptError keeps starlark's backtrace since it points at the failing flyfile line
func scriptError(err error, msg string, args ...interface{}) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return eris.Errorf("%s:\n%s", fmt.Sprintf(msg, args...), evalErr.Backtrace())
	}
	return eris.Wrapf(err, msg, args...)
}

// finish applies the global environment to every task and registers the named ones
func (p *parserCtx) finish() (*Flyfile, error) {
	result := &Flyfile{
		Tasks:       TaskList{},
		Paths:       p.paths,
		Tools:       p.tools,
		Env:         p.envOverrides,
		PathPrepend: p.pathPrepend,
	}

	for _, task := range p.tasks {
		body := task.Body.(ShellBody)
		for name, value := range p.envOverrides {
			if _, set := body.Env[name]; !set {
				body.Env[name] = value
			}
		}
		body.PathPrepend = p.pathPrepend
		task.Body = body

		if strings.HasPrefix(task.Short, anonymousPrefix) {
			continue
		}

		if err := result.Tasks.Add(task); err != nil {
			return nil, eris.Wrapf(err, "invalid task in %s", simplifyPath(p, p.filepath))
		}
	}
	return result, nil
}

// RunScript evaluates a flyfile and returns the options it declares. With doConfigure the script's
// configure() function is called as well and the declared paths, tools and tasks are returned.
func RunScript(ctx context.Context, filename, projectRoot string, options map[string]string, doConfigure bool) (*Flyfile, map[string]ScriptOption, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, nil, eris.Wrap(err, "invalid project root")
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, nil, eris.Wrap(err, "invalid flyfile path")
	}

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, FilesystemError(err, "failed to read %s", filename)
	}

	if options == nil {
		options = map[string]string{}
	}
	pctx := &parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      map[string]ScriptOption{},
		optionValues: options,
		envOverrides: map[string]string{},
		paths:        map[string]PathSpec{},
		tools:        map[string]ToolSpec{},
		yamlCache:    map[string]interface{}{},
		initPhase:    true,
	}
	name := simplifyPath(pctx, filename)

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			buildlog.Log(ctx).Info().Str("flyfile", name).Msg(msg)
		},
	}
	thread.SetLocal("parserCtx", pctx)

	globals, err := starlark.ExecFile(thread, name, script, builtins)
	if err != nil {
		return nil, nil, scriptError(err, "failed to evaluate %s", name)
	}

	if !doConfigure {
		return &Flyfile{Tasks: TaskList{}, Paths: pctx.paths, Tools: pctx.tools, Env: pctx.envOverrides}, pctx.options, nil
	}

	configure, ok := globals["configure"].(starlark.Callable)
	if !ok {
		return nil, nil, eris.Errorf("%s has to define a configure() function", name)
	}

	pctx.initPhase = false
	if _, err := starlark.Call(thread, configure, nil, nil); err != nil {
		return nil, nil, scriptError(err, "configure() failed in %s", name)
	}

	result, err := pctx.finish()
	if err != nil {
		return nil, nil, err
	}
	return result, pctx.options, nil
}
