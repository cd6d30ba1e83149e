package main

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/mrdg/hive/auto"
	"github.com/mrdg/hive/state"
)

//go:embed defaults.yml
var defaultConfigYaml []byte

type Config struct {
	Addr      string  `yaml:"addr"`
	Static    string  `yaml:"static"`
	LogLevel  string  `yaml:"logLevel"`
	LogFormat string  `yaml:"logFormat"`
	Console   bool    `yaml:"console"`
	QueueSize int     `yaml:"queueSize"`
	RecordBPM float64 `yaml:"recordBPM"`
	Wave      string  `yaml:"wave"`   // WAV file with the initial waveform
	Script    string  `yaml:"script"` // console commands run at startup

	Notes auto.NoteConfig  `yaml:"notes"`
	Drift auto.DriftConfig `yaml:"drift"`
	State state.Snapshot   `yaml:"state"`
}

func decodeConfig(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// loadConfig returns the built in defaults, overridden by the file at path
// if it is not empty.
func loadConfig(path string) (Config, error) {
	cfg := Config{
		Notes: auto.DefaultNoteConfig(),
		Drift: auto.DefaultDriftConfig(),
		State: state.Defaults(),
	}
	if err := decodeConfig(bytes.NewReader(defaultConfigYaml), &cfg); err != nil {
		panic(fmt.Errorf("failed to decode default config: %w", err))
	}
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	if err := decodeConfig(f, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// configure builds the config from defaults, the --config file, the PORT
// environment variable and flags, in increasing order of precedence.
func configure(args []string, getenv func(string) string) (Config, error) {
	fs := pflag.NewFlagSet("hive", pflag.ContinueOnError)
	var (
		configPath = fs.StringP("config", "c", "", "YAML file overriding the defaults")
		addr       = fs.String("addr", "", "address to listen on")
		static     = fs.String("static", "", "directory with the client files")
		console    = fs.Bool("console", false, "run the admin console on stdin")
		logLevel   = fs.String("log-level", "", "log level (debug, info, warn, error)")
		logFormat  = fs.String("log-format", "", "log format (text or json)")
		strategy   = fs.String("drift-strategy", "", "drift strategy (walk or osc)")
		wave       = fs.String("wave", "", "WAV file with the initial waveform")
		script     = fs.String("run", "", "file with console commands to run at startup")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return cfg, err
	}
	if port := getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}
	for _, f := range []struct {
		name string
		set  func()
	}{
		{"addr", func() { cfg.Addr = *addr }},
		{"static", func() { cfg.Static = *static }},
		{"console", func() { cfg.Console = *console }},
		{"log-level", func() { cfg.LogLevel = *logLevel }},
		{"log-format", func() { cfg.LogFormat = *logFormat }},
		{"drift-strategy", func() { cfg.Drift.Strategy = auto.Strategy(*strategy) }},
		{"wave", func() { cfg.Wave = *wave }},
		{"run", func() { cfg.Script = *script }},
	} {
		if fs.Changed(f.name) {
			f.set()
		}
	}

	if err := cfg.Notes.Validate(); err != nil {
		return cfg, err
	}
	if err := cfg.Drift.Validate(state.DefaultParams()); err != nil {
		return cfg, err
	}
	if n := cfg.QueueSize; n <= 0 || n&(n-1) != 0 {
		return cfg, fmt.Errorf("queueSize must be a power of 2: %v", n)
	}
	if cfg.RecordBPM <= 0 {
		return cfg, fmt.Errorf("recordBPM must be positive: %v", cfg.RecordBPM)
	}
	return cfg, nil
}
