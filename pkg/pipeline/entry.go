package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ngld/flybuild/pkg/buildlog"
	"github.com/ngld/flybuild/pkg/buildsys"
)

func (p *Pipeline) build(ctx context.Context) error {
	p.bc.SetMode(Production)

	if err := buildsys.Start(ctx, Clean); err != nil {
		return err
	}

	if err := buildsys.RunParallel(ctx, Lint, Images, Fonts, Extras); err != nil {
		return err
	}

	if err := buildsys.RunParallel(ctx, Scripts, Styles, HTML, Vendor); err != nil {
		return err
	}

	if err := buildsys.Start(ctx, Rev); err != nil {
		return err
	}

	if _, ok := p.tools[Cache]; ok {
		return buildsys.Start(ctx, Cache)
	}
	return nil
}

func (p *Pipeline) watch(ctx context.Context) error {
	logger := buildlog.Log(ctx)
	p.bc.SetMode(Watching)

	if p.watcher == nil {
		return eris.New("no file watcher available")
	}

	if err := buildsys.Start(ctx, Clean); err != nil {
		return err
	}

	bound := make([]string, 0, len(watchedCategories))
	for _, category := range watchedCategories {
		spec := p.paths[category]
		for _, pat := range spec.Src {
			if err := p.watcher.Watch(pat, category); err != nil {
				return eris.Wrapf(err, "failed to watch %s", pat)
			}
		}

		if len(spec.Src) > 0 {
			bound = append(bound, category)
		}
	}

	if err := buildsys.RunParallel(ctx, bound...); err != nil {
		logger.Error().Err(err).Msg("initial build failed, waiting for changes")
	}

	if err := p.watcher.Start(ctx); err != nil {
		return eris.Wrap(err, "failed to start the file watcher")
	}

	if err := p.startServer(ctx, p.bc.Target); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("stopped watching")
	return nil
}

func (p *Pipeline) serve(ctx context.Context) error {
	if err := buildsys.Start(ctx, "build"); err != nil {
		return err
	}

	if err := p.startServer(ctx, p.bc.Release); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func (p *Pipeline) release(ctx context.Context) error {
	if err := buildsys.Start(ctx, "build"); err != nil {
		return err
	}

	sh := p.shell(ctx, "release", buildsys.PathSpec{}, nil)
	if err := sh.Run(ctx, "compress", `tool compress "$RELEASE"`); err != nil {
		return err
	}

	return sh.Run(ctx, "archive", `tool archive "$RELEASE" "$RELEASE.tar.xz"`)
}

func (p *Pipeline) startServer(ctx context.Context, dir string) error {
	if p.server == nil {
		return eris.New("no development server available")
	}

	addr, err := p.server.Start(ctx, p.abs(dir))
	if err != nil {
		return eris.Wrap(err, "failed to start the development server")
	}

	p.bc.SetServing(true)
	go func() {
		<-ctx.Done()
		p.bc.SetServing(false)
	}()

	buildlog.Log(ctx).Info().Msgf("serving %s on http://%s", dir, addr)
	return nil
}
