package watch

import (
	"context"
	"time"

	"github.com/cortesi/moddwatch"
	"github.com/rotisserie/eris"

	"github.com/ngld/flybuild/pkg/buildlog"
)

// ModdSource watches the project root with moddwatch
type ModdSource struct {
	// Lull is moddwatch's own batching window. The engine debounces on top of it.
	Lull time.Duration
}

// Start begins watching and returns immediately. The watcher stops once ctx is done.
func (s *ModdSource) Start(ctx context.Context, root string, includes, excludes []string, notify func(paths ...string)) error {
	lull := s.Lull
	if lull <= 0 {
		lull = 50 * time.Millisecond
	}

	ch := make(chan *moddwatch.Mod, 16)
	watcher, err := moddwatch.Watch(root, includes, excludes, lull, ch)
	if err != nil {
		return eris.Wrapf(err, "failed to watch %s", root)
	}

	buildlog.Log(ctx).Debug().Strs("includes", includes).Msgf("watching %s", root)

	go func() {
		defer watcher.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case mod, ok := <-ch:
				if !ok {
					return
				}
				if mod == nil {
					continue
				}

				notify(mod.All()...)
			}
		}
	}()

	return nil
}
