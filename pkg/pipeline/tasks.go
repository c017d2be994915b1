package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngld/flybuild/pkg/buildlog"
	"github.com/ngld/flybuild/pkg/buildsys"
)

func (p *Pipeline) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.bc.Root, filepath.FromSlash(path))
}

func (p *Pipeline) rel(path string) string {
	rel, err := filepath.Rel(p.bc.Root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// sources resolves the category's globs. With narrow set, watch runs only look at the changed files that
// match one of the globs.
func (p *Pipeline) sources(ctx context.Context, spec buildsys.PathSpec, narrow bool) ([]string, error) {
	changed := buildsys.ChangedFiles(ctx)
	if !narrow || len(changed) == 0 {
		return buildsys.ResolvePatterns(p.bc.Root, spec.Src)
	}

	result := make([]string, 0, len(changed))
	for _, item := range changed {
		_, pat, err := matchAny(spec.Src, item)
		if err != nil {
			return nil, err
		}
		if pat == "" {
			continue
		}

		path := p.abs(item)
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, buildsys.FilesystemError(err, "failed to check %s", path)
		}

		if !info.IsDir() {
			result = append(result, path)
		}
	}
	return result, nil
}

// resolveOrdered keeps the order of the patterns (concatenation order matters)
func (p *Pipeline) resolveOrdered(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	result := []string{}

	for _, pat := range patterns {
		files, err := buildsys.ResolvePatterns(p.bc.Root, []string{pat})
		if err != nil {
			return nil, err
		}

		for _, file := range files {
			if !seen[file] {
				seen[file] = true
				result = append(result, file)
			}
		}
	}
	return result, nil
}

func matchAny(patterns []string, path string) (bool, string, error) {
	for _, pat := range patterns {
		ok, err := buildsys.MatchPattern(pat, path)
		if err != nil {
			return false, "", err
		}
		if ok {
			return true, pat, nil
		}
	}
	return false, "", nil
}

func (p *Pipeline) shell(ctx context.Context, category string, spec buildsys.PathSpec, files []string) *buildsys.Shell {
	env := make(map[string]string, len(p.env)+7)
	for k, v := range p.env {
		env[k] = v
	}

	rels := make([]string, len(files))
	for idx, file := range files {
		rels[idx] = p.rel(file)
	}

	production := "0"
	if p.bc.Production() {
		production = "1"
	}

	env["SRC"] = strings.Join(rels, " ")
	env["ENTRY"] = spec.Entry
	env["DEST"] = spec.Dest
	env["TARGET"] = p.bc.Target
	env["RELEASE"] = p.bc.Release
	env["CATEGORY"] = category
	env["FLY_PRODUCTION"] = production

	return &buildsys.Shell{
		Dir:         p.bc.Root,
		Env:         env,
		PathPrepend: p.pathPrepend,
		DryRun:      buildsys.OptionsFrom(ctx).DryRun,
	}
}

func (p *Pipeline) mkdir(ctx context.Context, dir string) error {
	if dir == "" || buildsys.OptionsFrom(ctx).DryRun {
		return nil
	}

	if err := os.MkdirAll(p.abs(dir), 0o770); err != nil {
		return buildsys.FilesystemError(err, "failed to create %s", dir)
	}
	return nil
}

// toolTask hands the category's files to its external command
func (p *Pipeline) toolTask(category string) buildsys.BodyFunc {
	return func(ctx context.Context) error {
		spec := p.paths[category]
		tool := p.tools[category]
		logger := buildlog.Log(ctx)

		if tool.Cmd == "" {
			logger.Debug().Msg("no command configured")
			return nil
		}

		files, err := p.sources(ctx, spec, false)
		if err != nil {
			return err
		}

		if len(files) == 0 {
			logger.Info().Msgf("no files matched %s", strings.Join(spec.Src, ", "))
			return nil
		}

		if err := p.mkdir(ctx, spec.Dest); err != nil {
			return err
		}

		started := time.Now().Truncate(time.Second)
		if err := p.shell(ctx, category, spec, files).Run(ctx, category, tool.Cmd); err != nil {
			return err
		}

		if category == Lint {
			return nil
		}

		outputs, err := p.emitted(spec.Dest, started)
		if err != nil {
			return err
		}
		return p.afterEmit(ctx, category, outputs)
	}
}

// emitted lists the files below dest written since the given time. The directory itself is returned when
// the tool didn't leave anything there.
func (p *Pipeline) emitted(dest string, since time.Time) ([]string, error) {
	var outputs []string
	root := p.abs(dest)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if info.Mode().IsRegular() && !info.ModTime().Before(since) {
			outputs = append(outputs, p.rel(path))
		}
		return nil
	})
	if err != nil {
		return nil, buildsys.FilesystemError(err, "failed to list the outputs in %s", dest)
	}

	if len(outputs) == 0 {
		return []string{dest}, nil
	}
	return outputs, nil
}

// copyTask copies the category's files below their glob base into the destination and runs the category's
// command (if any) over the copies
func (p *Pipeline) copyTask(category string) buildsys.BodyFunc {
	return func(ctx context.Context) error {
		spec := p.paths[category]
		tool := p.tools[category]
		logger := buildlog.Log(ctx)
		dryRun := buildsys.OptionsFrom(ctx).DryRun

		files, err := p.sources(ctx, spec, true)
		if err != nil {
			return err
		}

		if len(files) == 0 {
			logger.Debug().Msg("nothing to copy")
			return nil
		}

		dest := p.abs(spec.Dest)
		outputs := make([]string, 0, len(files))
		for _, file := range files {
			target := filepath.Join(dest, filepath.Base(file))

			_, pat, err := matchAny(spec.Src, p.rel(file))
			if err != nil {
				return err
			}
			if pat != "" {
				sub, err := filepath.Rel(p.abs(buildsys.PatternBase(pat)), file)
				if err == nil && !strings.HasPrefix(sub, "..") {
					target = filepath.Join(dest, sub)
				}
			}

			outputs = append(outputs, p.rel(target))
			if dryRun {
				logger.Info().Msgf("copy %s -> %s", p.rel(file), p.rel(target))
				continue
			}

			if err := copyFile(file, target); err != nil {
				return err
			}
		}

		logger.Debug().Msgf("copied %d files", len(outputs))

		if tool.Cmd != "" {
			copies := make([]string, len(outputs))
			for idx, item := range outputs {
				copies[idx] = p.abs(item)
			}

			if err := p.shell(ctx, category, spec, copies).Run(ctx, category, tool.Cmd); err != nil {
				return err
			}
		}

		return p.afterEmit(ctx, category, outputs)
	}
}

// concatTask joins the category's files (in pattern order) into vendor.js
func (p *Pipeline) concatTask(category string) buildsys.BodyFunc {
	return func(ctx context.Context) error {
		spec := p.paths[category]
		logger := buildlog.Log(ctx)

		files, err := p.resolveOrdered(spec.Src)
		if err != nil {
			return err
		}

		if len(files) == 0 {
			logger.Debug().Msg("nothing to concatenate")
			return nil
		}

		target := filepath.Join(p.abs(spec.Dest), "vendor.js")
		if buildsys.OptionsFrom(ctx).DryRun {
			logger.Info().Msgf("concat %d files -> %s", len(files), p.rel(target))
			return nil
		}

		if err := concatFiles(files, target); err != nil {
			return err
		}

		return p.afterEmit(ctx, category, []string{p.rel(target)})
	}
}

func (p *Pipeline) minifyTask(category string) buildsys.BodyFunc {
	return func(ctx context.Context) error {
		spec := p.paths[category]
		return p.shell(ctx, category, spec, nil).Run(ctx, minifyTasks[category], p.tools[category].Minify)
	}
}

// helperTask runs rev or cache which operate on whole directories instead of a file set
func (p *Pipeline) helperTask(category string) buildsys.BodyFunc {
	return func(ctx context.Context) error {
		cmd := p.tools[category].Cmd
		if cmd == "" && category == Cache {
			cmd = `tool precache "$RELEASE"`
		}

		if cmd == "" {
			buildlog.Log(ctx).Debug().Msg("no command configured")
			return nil
		}

		if err := p.mkdir(ctx, p.bc.Release); err != nil {
			return err
		}

		return p.shell(ctx, category, p.paths[category], nil).Run(ctx, category, cmd)
	}
}

func (p *Pipeline) clean(ctx context.Context) error {
	logger := buildlog.Log(ctx)

	for _, dir := range []string{p.bc.Target, p.bc.Release} {
		path := p.abs(dir)
		if filepath.Clean(path) == filepath.Clean(p.bc.Root) {
			return eris.Errorf("refusing to remove the project root (%s)", dir)
		}

		if buildsys.OptionsFrom(ctx).DryRun {
			logger.Info().Msgf("remove %s", dir)
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			return buildsys.FilesystemError(err, "failed to remove %s", dir)
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o770); err != nil {
		return buildsys.FilesystemError(err, "failed to create %s", filepath.Dir(dest))
	}

	in, err := os.Open(src)
	if err != nil {
		return buildsys.FilesystemError(err, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return buildsys.FilesystemError(err, "failed to create %s", dest)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return buildsys.FilesystemError(err, "failed to copy %s to %s", src, dest)
	}
	return nil
}

func concatFiles(files []string, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o770); err != nil {
		return buildsys.FilesystemError(err, "failed to create %s", filepath.Dir(dest))
	}

	out, err := os.Create(dest)
	if err != nil {
		return buildsys.FilesystemError(err, "failed to create %s", dest)
	}
	defer out.Close()

	for _, file := range files {
		in, err := os.Open(file)
		if err != nil {
			return buildsys.FilesystemError(err, "failed to open %s", file)
		}

		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return buildsys.FilesystemError(err, "failed to append %s", file)
		}

		if _, err := out.Write([]byte{'\n'}); err != nil {
			return buildsys.FilesystemError(err, "failed to write %s", dest)
		}
	}
	return nil
}
