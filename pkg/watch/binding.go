package watch

import (
	"context"
	"sync"
	"time"
)

// binding collects matching events until the debounce timer fires, then hands the batch to its run loop.
// Batches queued while a run is in progress are merged into one follow-up run.
type binding struct {
	engine  *Engine
	pattern string
	tasks   []string

	lock    sync.Mutex
	timer   *time.Timer
	pending []string
	queued  []string
	wake    chan struct{}
}

func newBinding(e *Engine, pattern string, tasks []string) *binding {
	return &binding{
		engine:  e,
		pattern: pattern,
		tasks:   tasks,
		wake:    make(chan struct{}, 1),
	}
}

func (b *binding) notify(path string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.pending = appendUnique(b.pending, path)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.engine.debounce, b.fire)
	} else {
		b.timer.Reset(b.engine.debounce)
	}
}

func (b *binding) fire() {
	b.lock.Lock()
	if len(b.pending) == 0 {
		b.lock.Unlock()
		return
	}

	for _, path := range b.pending {
		b.queued = appendUnique(b.queued, path)
	}
	b.pending = nil
	b.lock.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *binding) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.lock.Lock()
			if b.timer != nil {
				b.timer.Stop()
			}
			b.lock.Unlock()
			return
		case <-b.wake:
		}

		b.lock.Lock()
		batch := b.queued
		b.queued = nil
		b.lock.Unlock()

		if len(batch) > 0 {
			b.engine.run(ctx, b, batch)
		}
	}
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
