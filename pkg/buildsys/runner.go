package buildsys

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/ngld/flybuild/pkg/buildlog"
)

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		scheduler *Scheduler
		// stack lists the tasks currently executing on this call path, outermost first
		stack []string
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	rctx, _ := ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
	return rctx
}

func (r *runtimeCtx) push(name string) *runtimeCtx {
	stack := make([]string, len(r.stack), len(r.stack)+1)
	copy(stack, r.stack)

	return &runtimeCtx{
		scheduler: r.scheduler,
		stack:     append(stack, name),
	}
}

func (r *runtimeCtx) contains(name string) bool {
	for _, item := range r.stack {
		if item == name {
			return true
		}
	}
	return false
}

// Scheduler resolves task names against a TaskList and executes them
type Scheduler struct {
	tasks TaskList
}

// NewScheduler returns a scheduler for the given task list. Tasks added to the list later are visible as well.
func NewScheduler(tasks TaskList) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Tasks returns the task list this scheduler operates on
func (s *Scheduler) Tasks() TaskList {
	return s.tasks
}

// Run executes the named task after its dependencies. It's safe to call from inside a running task body
// as long as the body's context is passed along.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rctx := getRuntimeCtx(ctx)
	if rctx == nil || rctx.scheduler != s {
		rctx = &runtimeCtx{scheduler: s}
	}

	if rctx.contains(name) {
		return cyclicDependency(append(append([]string{}, rctx.stack...), name))
	}

	if err := s.resolve(name, rctx.stack, map[string]bool{}); err != nil {
		return err
	}

	return s.execute(ctx, rctx, name)
}

// resolve walks the static dependency graph below name and fails on unknown tasks or cycles
func (s *Scheduler) resolve(name string, path []string, done map[string]bool) error {
	for _, item := range path {
		if item == name {
			return cyclicDependency(append(append([]string{}, path...), name))
		}
	}

	if done[name] {
		return nil
	}

	task, ok := s.tasks[name]
	if !ok {
		if len(path) > 0 {
			return eris.Wrapf(taskNotFound(name), "dependency of %s", path[len(path)-1])
		}
		return taskNotFound(name)
	}

	path = append(path, name)
	for _, dep := range task.Deps {
		if err := s.resolve(dep, path, done); err != nil {
			return err
		}
	}

	done[name] = true
	return nil
}

func (s *Scheduler) execute(ctx context.Context, parent *runtimeCtx, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	task := s.tasks[name]
	rctx := parent.push(name)
	taskCtx := context.WithValue(ctx, runtimeCtxKey{}, rctx)

	switch task.Mode {
	case Parallel:
		group := errgroup.Group{}
		for _, dep := range task.Deps {
			dep := dep
			group.Go(func() error {
				return s.execute(taskCtx, rctx, dep)
			})
		}

		if err := group.Wait(); err != nil {
			return eris.Wrapf(err, "task %s failed due to one of its dependencies", name)
		}
	default:
		for _, dep := range task.Deps {
			if err := s.execute(taskCtx, rctx, dep); err != nil {
				return eris.Wrapf(err, "task %s failed due to its dependency %s", name, dep)
			}
		}
	}

	if task.Body == nil {
		return nil
	}

	taskCtx = buildlog.WithTask(taskCtx, name)
	logger := buildlog.Log(taskCtx)
	logger.Debug().Msg("starting")
	start := time.Now()

	if err := task.Body.Execute(taskCtx); err != nil {
		return eris.Wrapf(err, "task %s failed", name)
	}

	logger.Info().Msgf("finished after %s", time.Since(start).Round(time.Millisecond))
	return nil
}

func schedulerFrom(ctx context.Context) (*Scheduler, error) {
	rctx := getRuntimeCtx(ctx)
	if rctx == nil {
		return nil, eris.New("no scheduler attached to the context; call this from inside a task body")
	}
	return rctx.scheduler, nil
}

// SchedulerFrom returns the scheduler executing the current task or nil outside of task bodies
func SchedulerFrom(ctx context.Context) *Scheduler {
	rctx := getRuntimeCtx(ctx)
	if rctx == nil {
		return nil
	}
	return rctx.scheduler
}

// Start runs the named task with the scheduler executing the current task
func Start(ctx context.Context, name string) error {
	s, err := schedulerFrom(ctx)
	if err != nil {
		return err
	}

	return s.Run(ctx, name)
}

// RunSerial runs the named tasks one after another and stops at the first failure
func RunSerial(ctx context.Context, names ...string) error {
	s, err := schedulerFrom(ctx)
	if err != nil {
		return err
	}

	if err := s.resolveAll(ctx, names); err != nil {
		return err
	}

	for _, name := range names {
		if err := s.Run(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// resolveAll checks every name before any of them runs so a typo or a cycle has no side effects
func (s *Scheduler) resolveAll(ctx context.Context, names []string) error {
	rctx := getRuntimeCtx(ctx)
	for _, name := range names {
		if rctx.contains(name) {
			return cyclicDependency(append(append([]string{}, rctx.stack...), name))
		}

		if err := s.resolve(name, rctx.stack, map[string]bool{}); err != nil {
			return err
		}
	}
	return nil
}

// RunParallel runs the named tasks concurrently. Every task runs to completion even if a sibling fails and
// the first failure is returned.
func RunParallel(ctx context.Context, names ...string) error {
	s, err := schedulerFrom(ctx)
	if err != nil {
		return err
	}

	if err := s.resolveAll(ctx, names); err != nil {
		return err
	}

	group := errgroup.Group{}
	for _, name := range names {
		name := name
		group.Go(func() error {
			return s.Run(ctx, name)
		})
	}

	return group.Wait()
}
