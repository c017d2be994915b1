package buildsys

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/flybuild/pkg/buildlog"
)

// RunOptions are the CLI switches that influence how task bodies behave
type RunOptions struct {
	// DryRun only logs the shell commands
	DryRun bool
	// Force skips the up-to-date checks
	Force bool
}

type optionsKey struct{}

// WithOptions attaches the run options to the context
func WithOptions(ctx context.Context, opts RunOptions) context.Context {
	return context.WithValue(ctx, optionsKey{}, opts)
}

// OptionsFrom returns the run options attached to ctx (or the zero value)
func OptionsFrom(ctx context.Context) RunOptions {
	opts, _ := ctx.Value(optionsKey{}).(RunOptions)
	return opts
}

// ShellBody is the body of a task declared in a flyfile
type ShellBody struct {
	Name         string
	Base         string
	Env          map[string]string
	PathPrepend  []string
	Inputs       []string
	Outputs      []string
	SkipIfExists []string
	Cmds         []TaskCmd
}

// upToDate implements the skip_if_exists and inputs/outputs checks
func (b ShellBody) upToDate(ctx context.Context) (bool, error) {
	logger := buildlog.Log(ctx)

	if len(b.SkipIfExists) > 0 {
		skipList, err := ResolvePatterns(b.Base, b.SkipIfExists)
		if err != nil {
			return false, eris.Wrapf(err, "failed to resolve skipIfExists list")
		}

		// ResolvePatterns drops missing files so every pattern has to produce a match
		if len(skipList) >= len(b.SkipIfExists) {
			logger.Info().Msg("skipped because all skip files exist")
			return true, nil
		}
	}

	if len(b.Inputs) == 0 {
		return false, nil
	}

	var newestInput time.Time
	inputList, err := ResolvePatterns(b.Base, b.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := ResolvePatterns(b.Base, b.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, FilesystemError(err, "failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() || len(outputList) == 0 {
		return false, nil
	}

	var newestOutput time.Time
	oldestOutput := time.Now()

	for _, item := range outputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, FilesystemError(err, "failed to check output %s", item)
		}

		mt := info.ModTime()
		if mt.After(newestOutput) {
			newestOutput = mt
		}

		if mt.Before(oldestOutput) {
			oldestOutput = mt
		}
	}

	if newestOutput.Sub(oldestOutput) > 10*time.Minute {
		logger.Warn().Msgf("oldest output is %f minutes older than the newest output", newestOutput.Sub(oldestOutput).Minutes())
	}

	if oldestOutput.After(newestInput) {
		logger.Info().Msgf("nothing to do (output is %f seconds newer)", oldestOutput.Sub(newestInput).Seconds())
		return true, nil
	}

	return false, nil
}

// Execute runs the task's commands unless its outputs are up to date
func (b ShellBody) Execute(ctx context.Context) error {
	opts := OptionsFrom(ctx)
	if !opts.Force {
		skip, err := b.upToDate(ctx)
		if err != nil {
			return err
		}

		if skip {
			return nil
		}
	}

	sh := &Shell{
		Dir:         b.Base,
		Env:         b.Env,
		PathPrepend: b.PathPrepend,
		DryRun:      opts.DryRun,
	}
	parser := syntax.NewParser()

	for idx, item := range b.Cmds {
		stmts, err := item.ToShellStmts(parser)
		if err != nil {
			return eris.Wrapf(err, "failed to parse command #%d", idx)
		}

		if stmts != nil {
			if err := sh.RunStmts(ctx, stmts); err != nil {
				return err
			}
			continue
		}

		subTask, err := item.ToTask()
		if err != nil {
			return eris.Wrap(err, "failed to retrieve task ref")
		}

		if subTask == nil {
			return eris.Errorf("unexpected task command %+v", item)
		}

		if err := runInline(ctx, subTask); err != nil {
			return err
		}
	}

	return nil
}

// runInline executes a task value referenced from another task's command list. Registered tasks go through the
// scheduler; anonymous ones are executed directly after their dependencies.
func runInline(ctx context.Context, task *Task) error {
	s, err := schedulerFrom(ctx)
	if err != nil {
		return err
	}

	if _, ok := s.tasks[task.Short]; ok {
		return s.Run(ctx, task.Short)
	}

	for _, dep := range task.Deps {
		if err := s.Run(ctx, dep); err != nil {
			return eris.Wrapf(err, "task %s failed due to its dependency %s", task.Short, dep)
		}
	}

	if task.Body == nil {
		return nil
	}

	return task.Body.Execute(buildlog.WithTask(ctx, task.Short))
}

type changedFilesKey struct{}

// WithChangedFiles attaches the batch of changed paths (relative to the project root, slash separated) that
// triggered a watch run
func WithChangedFiles(ctx context.Context, paths []string) context.Context {
	return context.WithValue(ctx, changedFilesKey{}, paths)
}

// ChangedFiles returns the paths attached by WithChangedFiles (nil outside of watch runs)
func ChangedFiles(ctx context.Context) []string {
	paths, _ := ctx.Value(changedFilesKey{}).([]string)
	return paths
}
