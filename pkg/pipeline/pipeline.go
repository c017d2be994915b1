// Package pipeline provides the built-in content and entry tasks (build, watch, serve, release) on top of
// the buildsys scheduler.
package pipeline

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/ngld/flybuild/pkg/buildsys"
)

// Reloader notifies connected clients that outputs changed
type Reloader interface {
	Reload(paths ...string)
}

// Server is the development server started by watch and serve
type Server interface {
	Reloader
	// Start binds the listener and serves dir in the background until ctx is done. It returns the
	// bound address once the server accepts connections.
	Start(ctx context.Context, dir string) (string, error)
}

// Watcher re-runs tasks when files matching a pattern change
type Watcher interface {
	Watch(pattern string, tasks ...string) error
	Start(ctx context.Context) error
}

// Options configure a Pipeline. Paths and Tools are merged over the defaults by category.
type Options struct {
	Root    string
	Source  string
	Target  string
	Release string

	Paths       map[string]buildsys.PathSpec
	Tools       map[string]buildsys.ToolSpec
	Env         map[string]string
	PathPrepend []string

	Watcher Watcher
	Server  Server
}

// Pipeline owns the build context and the task bodies that read it
type Pipeline struct {
	bc          *BuildContext
	paths       map[string]buildsys.PathSpec
	tools       map[string]buildsys.ToolSpec
	env         map[string]string
	pathPrepend []string
	watcher     Watcher
	server      Server
}

// New returns a pipeline for the given options
func New(opts Options) *Pipeline {
	if opts.Source == "" {
		opts.Source = "src"
	}
	if opts.Target == "" {
		opts.Target = "dist"
	}
	if opts.Release == "" {
		opts.Release = "release"
	}

	paths := DefaultPaths(opts.Source, opts.Target)
	for name, spec := range opts.Paths {
		if spec.Name == "" {
			spec.Name = name
		}

		if def, ok := paths[name]; ok {
			if spec.Dest == "" {
				spec.Dest = def.Dest
			}
			if spec.Entry == "" {
				spec.Entry = def.Entry
			}
		}
		paths[name] = spec
	}

	tools := DefaultTools()
	for name, spec := range opts.Tools {
		if spec.Category == "" {
			spec.Category = name
		}
		tools[name] = spec
	}

	pathPrepend := []string{filepath.Join(opts.Root, "node_modules", ".bin")}
	pathPrepend = append(pathPrepend, opts.PathPrepend...)

	return &Pipeline{
		bc:          NewBuildContext(opts.Root, opts.Target, opts.Release),
		paths:       paths,
		tools:       tools,
		env:         opts.Env,
		pathPrepend: pathPrepend,
		watcher:     opts.Watcher,
		server:      opts.Server,
	}
}

// Context returns the build context shared by the pipeline's tasks
func (p *Pipeline) Context() *BuildContext {
	return p.bc
}

// Tasks returns the built-in tasks
func (p *Pipeline) Tasks() []*buildsys.Task {
	tasks := []*buildsys.Task{
		{Short: "build", Desc: "production build into the release directory", Body: buildsys.BodyFunc(p.build)},
		{Short: "watch", Desc: "development build, rebuild on change and serve with live reload", Body: buildsys.BodyFunc(p.watch)},
		{Short: "default", Desc: "alias for watch", Body: buildsys.BodyFunc(p.watch), Hidden: true},
		{Short: "serve", Desc: "production build and serve the release directory", Body: buildsys.BodyFunc(p.serve)},
		{Short: "release", Desc: "production build packed into a compressed archive", Body: buildsys.BodyFunc(p.release)},
		{Short: Clean, Desc: "remove the target and release directories", Body: buildsys.BodyFunc(p.clean)},
		{Short: Lint, Desc: "lint the scripts", Body: p.toolTask(Lint)},
		{Short: Scripts, Desc: "bundle the scripts", Body: p.toolTask(Scripts)},
		{Short: Styles, Desc: "compile the styles", Body: p.toolTask(Styles)},
		{Short: Images, Desc: "copy (and optimize) the images", Body: p.copyTask(Images)},
		{Short: Fonts, Desc: "copy the fonts", Body: p.copyTask(Fonts)},
		{Short: HTML, Desc: "copy (and process) the html files", Body: p.copyTask(HTML)},
		{Short: Extras, Desc: "copy the extra files", Body: p.copyTask(Extras)},
		{Short: Vendor, Desc: "concatenate the vendor scripts", Body: p.concatTask(Vendor)},
		{Short: Rev, Desc: "fingerprint the target into the release directory", Body: p.helperTask(Rev)},
		{Short: Cache, Desc: "generate the offline cache manifest", Body: p.helperTask(Cache)},
	}

	for category, name := range minifyTasks {
		tool, ok := p.tools[category]
		if !ok || tool.Minify == "" {
			continue
		}

		tasks = append(tasks, &buildsys.Task{
			Short:  name,
			Desc:   "minify the " + category + " output",
			Body:   p.minifyTask(category),
			Hidden: true,
		})
	}

	return tasks
}

// Register adds the built-in tasks to list. A flyfile may replace lint, every other name is reserved.
func (p *Pipeline) Register(list buildsys.TaskList) error {
	for _, task := range p.Tasks() {
		if _, present := list[task.Short]; present {
			if task.Short == Lint {
				continue
			}
			return eris.Errorf(`the task name "%s" is reserved, please use a different name`, task.Short)
		}

		if err := list.Add(task); err != nil {
			return err
		}
	}
	return nil
}
