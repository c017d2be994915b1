package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DefaultFile is looked up in the project root if no config file was passed
const DefaultFile = "flybuild.toml"

// Config describes all configuration options
type Config struct {
	Flyfile string `default:"flyfile.star" usage:"Name of the task script to look for"`
	NoCache bool   `default:"false" usage:"Always evaluate the flyfile instead of using the cached result"`
	Log     struct {
		Level string `default:"info"`
		File  string
		JSON  bool `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Serve struct {
		Address string `default:"127.0.0.1:3000" usage:"Address the development server listens on"`
	}
	Watch struct {
		Debounce time.Duration `default:"200ms" usage:"Quiet period after a change before the bound tasks run"`
	}
	Build struct {
		Source  string `default:"src" usage:"Source directory"`
		Target  string `default:"dist" usage:"Output directory"`
		Release string `default:"release" usage:"Directory for fingerprinted release assets"`
	}
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object. file is only read
// if it exists.
func Loader(file string) (*Config, *aconfig.Loader) {
	files := []string{}
	if file != "" {
		if _, err := os.Stat(file); err == nil {
			files = append(files, file)
		}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "FLYBUILD",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the config from file (if present) and the environment and validates the result
func Load(file string) (*Config, error) {
	cfg, loader := Loader(file)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrapf(err, "failed to load %s", file)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[strings.ToLower(cfg.Log.Level)]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Watch.Debounce < 0 {
		return eris.Errorf(`Invalid value for watch.debounce: %s`, cfg.Watch.Debounce)
	}

	if cfg.Serve.Address == "" {
		return eris.New(`serve.address can't be empty`)
	}

	for name, dir := range map[string]string{
		"build.source":  cfg.Build.Source,
		"build.target":  cfg.Build.Target,
		"build.release": cfg.Build.Release,
	} {
		if dir == "" {
			return eris.Errorf(`%s can't be empty`, name)
		}

		clean := filepath.Clean(dir)
		if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
			return eris.Errorf(`Invalid value for %s: %s (must be a directory inside the project)`, name, dir)
		}
	}

	if cfg.Build.Target == cfg.Build.Release {
		return eris.New(`build.target and build.release have to be different directories`)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[strings.ToLower(cfg.Log.Level)]
}
