package pipeline

import (
	"context"

	"github.com/ngld/flybuild/pkg/buildlog"
	"github.com/ngld/flybuild/pkg/buildsys"
)

// afterEmit runs after every content task. Production builds chain into the category's minify task (if
// there is one), development builds notify the reloader once both watch mode and the server are active.
func (p *Pipeline) afterEmit(ctx context.Context, category string, outputs []string) error {
	if p.bc.Production() {
		name, ok := minifyTasks[category]
		if !ok {
			return nil
		}

		s := schedulerTasks(ctx)
		if _, registered := s[name]; !registered {
			return nil
		}
		return buildsys.Start(ctx, name)
	}

	if p.bc.Watching() && p.bc.Serving() && p.server != nil {
		buildlog.Log(ctx).Debug().Strs("paths", outputs).Msg("reloading")
		p.server.Reload(outputs...)
	}
	return nil
}

func schedulerTasks(ctx context.Context) buildsys.TaskList {
	s := buildsys.SchedulerFrom(ctx)
	if s == nil {
		return buildsys.TaskList{}
	}
	return s.Tasks()
}
