// Package cmd implements the flybuild CLI
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ngld/flybuild/pkg"
	"github.com/ngld/flybuild/pkg/buildlog"
	"github.com/ngld/flybuild/pkg/buildsys"
	"github.com/ngld/flybuild/pkg/config"
	"github.com/ngld/flybuild/pkg/devserver"
	"github.com/ngld/flybuild/pkg/pipeline"
	"github.com/ngld/flybuild/pkg/watch"
)

const cacheFile = ".flybuild.cache"

// errReported is returned after the failure has already been logged
var errReported = eris.New("failed")

var rootCmd = &cobra.Command{
	Use:   "flybuild [task...] [option=value...]",
	Short: "Front-end build orchestrator",
	Long: `flybuild runs the named tasks (or "default" if none are given) from the built-in pipeline and the
nearest flyfile.star. Arguments containing "=" set flyfile options.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runTasks,
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolP("list", "l", false, "list the available tasks and options")
	flags.BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	flags.BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
	flags.BoolP("verbose", "v", false, "show debug messages")
	flags.String("config", "", "config file (defaults to flybuild.toml in the project root)")
	flags.Bool("no-cache", false, "always evaluate the flyfile")

	rootCmd.AddCommand(toolCmd)
}

// Execute runs the CLI and exits with status 1 on failure
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	if err != errReported {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(1)
}

func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0)
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	if len(taskArgs) == 0 {
		taskArgs = append(taskArgs, "default")
	}
	return taskArgs, options
}

func setupLogging(cfg *config.Config, verbose bool) (zerolog.Logger, error) {
	level := cfg.LogLevel()
	if verbose {
		level = zerolog.DebugLevel
	}

	var out io.Writer
	if cfg.Log.JSON {
		zerolog.ErrorMarshalFunc = func(err error) interface{} {
			return eris.ToJSON(err, true)
		}
		out = os.Stderr
	} else {
		noColor := !term.IsTerminal(int(os.Stderr.Fd()))
		pkg.Colors.Disable = !term.IsTerminal(int(os.Stdout.Fd()))
		out = NewConsoleWriter(os.Stderr, noColor)
	}

	if cfg.Log.File != "" {
		logFile, err := os.Create(cfg.Log.File)
		if err != nil {
			return zerolog.Nop(), eris.Wrapf(err, "failed to open log file %s", cfg.Log.File)
		}

		var fileOut io.Writer = logFile
		if !cfg.Log.JSON {
			fileOut = NewConsoleWriter(logFile, true)
		}
		out = zerolog.MultiLevelWriter(out, fileOut)
	}

	logger := zerolog.New(out).Level(level)
	log.Logger = logger
	return logger, nil
}

func loadFlyfile(ctx context.Context, root, name string, options map[string]string, noCache bool) (*buildsys.Flyfile, map[string]buildsys.ScriptOption, error) {
	logger := buildlog.Log(ctx)
	script := filepath.Join(root, name)

	if _, err := os.Stat(script); err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Msgf("no %s found, using the built-in defaults", name)
			return &buildsys.Flyfile{Tasks: buildsys.TaskList{}}, nil, nil
		}
		return nil, nil, eris.Wrapf(err, "failed to check %s", script)
	}

	cache := filepath.Join(root, cacheFile)
	if !noCache {
		flyfile, err := buildsys.ReadCache(cache, script, options)
		if err != nil {
			logger.Warn().Err(err).Msg("ignoring broken cache")
		}

		if flyfile != nil {
			logger.Debug().Msg("using cached flyfile")
			// options are only needed for --list which always evaluates the script
			return flyfile, nil, nil
		}
	}

	flyfile, scriptOptions, err := buildsys.RunScript(ctx, script, root, options, true)
	if err != nil {
		return nil, nil, err
	}

	for name := range options {
		if _, ok := scriptOptions[name]; !ok {
			logger.Warn().Msgf("option %s isn't declared by the flyfile", name)
		}
	}

	if !noCache {
		if err := buildsys.WriteCache(cache, script, options, flyfile); err != nil {
			logger.Warn().Err(err).Msg("failed to write the flyfile cache")
		}
	}

	return flyfile, scriptOptions, nil
}

func printList(tasks buildsys.TaskList, options map[string]buildsys.ScriptOption) {
	fmt.Println("Available tasks:")
	names := tasks.Names()
	maxNameLen := 0
	for _, name := range names {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range names {
		fmt.Printf(lineFmt, name+":", tasks[name].Desc)
	}

	if len(options) == 0 {
		return
	}

	fmt.Println("\nOptions:")
	optNames := make([]string, 0, len(options))
	for name := range options {
		optNames = append(optNames, name)
	}
	sort.Strings(optNames)

	for _, name := range optNames {
		opt := options[name]
		fmt.Printf(" * %s=%s\n     %s\n", name, opt.Default(), opt.Help)
	}
}

func runTasks(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	list, _ := flags.GetBool("list")
	dryRun, _ := flags.GetBool("dry")
	force, _ := flags.GetBool("force")
	verbose, _ := flags.GetBool("verbose")
	configFile, _ := flags.GetString("config")
	noCache, _ := flags.GetBool("no-cache")

	taskArgs, options := splitArgs(args)

	wd, err := os.Getwd()
	if err != nil {
		return eris.Wrap(err, "failed to retrieve the current working directory")
	}

	root, err := pkg.FindProjectRoot(wd, "flyfile.star")
	if err != nil {
		if !eris.Is(err, pkg.ErrNoProjectRoot) {
			return err
		}
		root = wd
	}

	if configFile == "" {
		configFile = filepath.Join(root, config.DefaultFile)
	} else if _, err := os.Stat(configFile); err != nil {
		return eris.Wrapf(err, "failed to read config %s", configFile)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger, err := setupLogging(cfg, verbose)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = buildlog.WithLogger(ctx, &logger)
	ctx = buildsys.WithOptions(ctx, buildsys.RunOptions{DryRun: dryRun, Force: force})

	flyfile, scriptOptions, err := loadFlyfile(ctx, root, cfg.Flyfile, options, noCache || cfg.NoCache || list)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load the flyfile")
		return errReported
	}

	tasks := flyfile.Tasks
	if tasks == nil {
		tasks = buildsys.TaskList{}
	}
	scheduler := buildsys.NewScheduler(tasks)

	engine := watch.New(root, scheduler, cfg.Watch.Debounce)
	engine.Excludes = append(engine.Excludes, cfg.Build.Target+"/**", cfg.Build.Release+"/**")

	p := pipeline.New(pipeline.Options{
		Root:        root,
		Source:      cfg.Build.Source,
		Target:      cfg.Build.Target,
		Release:     cfg.Build.Release,
		Paths:       flyfile.Paths,
		Tools:       flyfile.Tools,
		Env:         flyfile.Env,
		PathPrepend: flyfile.PathPrepend,
		Watcher:     engine,
		Server:      devserver.New(cfg.Serve.Address),
	})

	if err := p.Register(tasks); err != nil {
		logger.Error().Err(err).Msg("failed to register the built-in tasks")
		return errReported
	}

	if list {
		printList(tasks, scriptOptions)
		return nil
	}

	for _, name := range taskArgs {
		err = scheduler.Run(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("interrupted")
				return errReported
			}

			logger.Error().Err(err).Msgf("failed task %s", name)
			return errReported
		}
	}

	return nil
}
