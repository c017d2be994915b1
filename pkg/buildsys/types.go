package buildsys

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"
	"mvdan.cc/sh/v3/syntax"
)

// ExecMode decides how a task's dependency list is executed
type ExecMode int

const (
	// Sequential runs each dependency to completion before starting the next one
	Sequential ExecMode = iota
	// Parallel starts all dependencies at once and waits for all of them
	Parallel
)

func (m ExecMode) String() string {
	if m == Parallel {
		return "parallel"
	}
	return "sequential"
}

// Body is the unit of work executed after a task's dependencies finished
type Body interface {
	Execute(ctx context.Context) error
}

// BodyFunc adapts a plain function to the Body interface
type BodyFunc func(ctx context.Context) error

// Execute calls f(ctx)
func (f BodyFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Task is a named unit of build work with optional dependencies
type Task struct {
	Short  string
	Desc   string
	Deps   []string
	Mode   ExecMode
	Body   Body
	Hidden bool
}

// TaskList maps short names to each relevant task
type TaskList map[string]*Task

// Add registers a task. Names must be unique.
func (l TaskList) Add(task *Task) error {
	if task.Short == "" {
		return eris.New("can't register a task without a name")
	}

	if _, ok := l[task.Short]; ok {
		return eris.Errorf("task %s is already registered", task.Short)
	}

	l[task.Short] = task
	return nil
}

// Names returns the sorted names of all visible tasks
func (l TaskList) Names() []string {
	names := make([]string, 0, len(l))
	for name, task := range l {
		if !task.Hidden {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}

// PathSpec maps a logical asset category to its sources and destination
type PathSpec struct {
	Name  string
	Src   []string
	Dest  string
	Entry string
}

// ToolSpec holds the external commands used for a category
type ToolSpec struct {
	Category string
	Cmd      string
	Minify   string
}

// TaskCmdScript is a shell snippet. Index is the position inside the task's cmds and ends up in parser errors.
type TaskCmdScript struct {
	TaskName string
	Content  string
	Index    int
}

func (s TaskCmdScript) ToTask() (*Task, error) {
	return nil, nil
}

func (s TaskCmdScript) ToShellStmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	reader := strings.NewReader(s.Content)
	result, err := parser.Parse(reader, fmt.Sprintf("%s:%d", s.TaskName, s.Index))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", s.Content)
	}

	return result.Stmts, nil
}

// TaskCmdTaskRef runs another task in place of a command
type TaskCmdTaskRef struct {
	Task *Task
}

func (t TaskCmdTaskRef) ToTask() (*Task, error) {
	return t.Task, nil
}

func (t TaskCmdTaskRef) ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error) {
	return nil, nil
}

// TaskCmd is a single step of a flyfile task: either a shell snippet or a reference to another task
type TaskCmd interface {
	ToTask() (*Task, error)
	ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error)
}

// ScriptOption is declared by option() in a flyfile's global scope
type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

var (
	_ starlark.Value      = (*Task)(nil)
	_ starlark.Comparable = StarlarkPath("")
)

func (t *Task) String() string {
	if t.Desc == "" {
		return fmt.Sprintf("task(%q)", t.Short)
	}
	return fmt.Sprintf("task(%q, desc=%q)", t.Short, t.Desc)
}

func (t *Task) Type() string         { return "task" }
func (t *Task) Freeze()              {}
func (t *Task) Truth() starlark.Bool { return starlark.True }

// Hash fails since tasks can't be used as dict keys
func (t *Task) Hash() (uint32, error) {
	return 0, eris.Errorf("unhashable type: %s", t.Type())
}

// StarlarkPath is a resolved path returned by resolve_path(). Command tuples pass it on relative to the
// task's base directory.
type StarlarkPath string

func (p StarlarkPath) String() string        { return starlark.String(p).String() }
func (p StarlarkPath) Type() string          { return "path" }
func (p StarlarkPath) Freeze()               {}
func (p StarlarkPath) Truth() starlark.Bool  { return p != "" }
func (p StarlarkPath) Hash() (uint32, error) { return starlark.String(p).Hash() }

// CompareSameType orders paths like strings
func (p StarlarkPath) CompareSameType(op starsyntax.Token, other starlark.Value, depth int) (bool, error) {
	return starlark.String(p).CompareSameType(op, starlark.String(other.(StarlarkPath)), depth)
}
