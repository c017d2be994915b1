// Package watch re-runs tasks when files matching their glob bindings change
package watch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngld/flybuild/pkg/buildlog"
	"github.com/ngld/flybuild/pkg/buildsys"
)

// DefaultDebounce is the quiet period after the last matching event before a binding runs
const DefaultDebounce = 200 * time.Millisecond

// Runner executes a task by name
type Runner interface {
	Run(ctx context.Context, name string) error
}

// Source delivers file system events to the engine
type Source interface {
	Start(ctx context.Context, root string, includes, excludes []string, notify func(paths ...string)) error
}

// Engine owns the watch bindings
type Engine struct {
	// Source is started by Start. A nil Source means events only arrive through Notify.
	Source   Source
	Excludes []string

	root     string
	runner   Runner
	debounce time.Duration

	lock     sync.Mutex
	bindings []*binding
	ctx      context.Context
}

// New returns an engine for the given project root. A debounce of 0 selects DefaultDebounce.
func New(root string, runner Runner, debounce time.Duration) *Engine {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Engine{
		Source:   &ModdSource{},
		Excludes: []string{"**/node_modules/**", "**/.git/**"},
		root:     root,
		runner:   runner,
		debounce: debounce,
	}
}

// Watch binds pattern (relative to the project root, "**" aware) to the given tasks. It doesn't block; the
// binding activates once the engine has been started.
func (e *Engine) Watch(pattern string, tasks ...string) error {
	if len(tasks) == 0 {
		return eris.Errorf("no tasks passed for %s", pattern)
	}

	// fail early on broken patterns
	if _, err := buildsys.MatchPattern(pattern, ""); err != nil {
		return err
	}

	b := newBinding(e, pattern, tasks)

	e.lock.Lock()
	defer e.lock.Unlock()

	e.bindings = append(e.bindings, b)
	if e.ctx != nil {
		go b.loop(e.ctx)
	}
	return nil
}

// Start activates all bindings and the event source. The engine stops once ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.lock.Lock()
	if e.ctx != nil {
		e.lock.Unlock()
		return eris.New("the watch engine is already running")
	}

	e.ctx = ctx
	includes := make([]string, 0, len(e.bindings))
	for _, b := range e.bindings {
		go b.loop(ctx)
		includes = append(includes, b.pattern)
	}
	e.lock.Unlock()

	if e.Source == nil || len(includes) == 0 {
		return nil
	}

	return e.Source.Start(ctx, e.root, includes, e.Excludes, e.Notify)
}

// Notify feeds changed paths into the engine. Paths may be absolute or relative to the project root.
// Events arriving before Start are dropped.
func (e *Engine) Notify(paths ...string) {
	e.lock.Lock()
	active := e.ctx != nil
	bindings := make([]*binding, len(e.bindings))
	copy(bindings, e.bindings)
	e.lock.Unlock()

	if !active {
		return
	}

	for _, path := range paths {
		path = e.normalize(path)
		for _, b := range bindings {
			ok, err := buildsys.MatchPattern(b.pattern, path)
			if err != nil || !ok {
				continue
			}

			b.notify(path)
		}
	}
}

func (e *Engine) normalize(path string) string {
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(e.root, path)
		if err == nil {
			path = rel
		}
	}

	return strings.TrimPrefix(filepath.ToSlash(path), "./")
}

func (e *Engine) run(ctx context.Context, b *binding, batch []string) {
	ctx = buildsys.WithChangedFiles(ctx, batch)
	logger := buildlog.Log(ctx)
	logger.Info().Str("pattern", b.pattern).Strs("paths", batch).Msgf("change detected, running %s", strings.Join(b.tasks, ", "))

	for _, name := range b.tasks {
		if err := e.runner.Run(ctx, name); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Str("pattern", b.pattern).Msgf("task %s failed", name)
		}
	}
}
