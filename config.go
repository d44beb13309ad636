//go:build !stave

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tetraminz/roboset/internal/builder"
	"github.com/tetraminz/roboset/internal/instruct"
	"github.com/tetraminz/roboset/internal/shard"
)

// Config describes a build run: where trials are read from, where shards
// and the index go, and how much work runs at once.
type Config struct {
	DataPath         string           `yaml:"data_path"`
	OutDir           string           `yaml:"out_dir"`
	DBPath           string           `yaml:"db"`
	DatasetName      string           `yaml:"dataset_name"`
	Split            string           `yaml:"split"`
	Version          string           `yaml:"version"`
	Workers          int              `yaml:"workers"`
	MaxPathsInMemory int              `yaml:"max_paths_in_memory"`
	JPEGQuality      int              `yaml:"jpeg_quality"`
	Filter           string           `yaml:"filter"`
	Limit            int              `yaml:"limit"`
	InstructionsFile string           `yaml:"instructions_file"`
	Instructions     []instruct.Entry `yaml:"instructions"`
}

func defaultConfig() Config {
	return Config{
		DataPath:         defaultDataPath,
		OutDir:           defaultOutDir,
		DBPath:           defaultSQLitePath,
		DatasetName:      defaultDatasetName,
		Split:            defaultSplit,
		Version:          defaultVersion,
		Workers:          builder.DefaultWorkers,
		MaxPathsInMemory: builder.DefaultMaxPathsInMemory,
		JPEGQuality:      shard.DefaultJPEGQuality,
	}
}

// mergeYAML overwrites the fields present in the file at path.
func (c *Config) mergeYAML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(envDataPath)); v != "" {
		c.DataPath = v
	}
	if v := strings.TrimSpace(getenv(envOutDir)); v != "" {
		c.OutDir = v
	}
}

func (c Config) validate() error {
	switch {
	case strings.TrimSpace(c.DataPath) == "":
		return errors.New("data path is required")
	case strings.TrimSpace(c.OutDir) == "":
		return errors.New("out dir is required")
	case strings.TrimSpace(c.DBPath) == "":
		return errors.New("db path is required")
	case c.DatasetName == "" || c.Split == "" || c.Version == "":
		return errors.New("dataset name, split and version are required")
	case c.Workers < 1:
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	case c.MaxPathsInMemory < 1:
		return fmt.Errorf("max_paths_in_memory must be >= 1, got %d", c.MaxPathsInMemory)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("jpeg_quality must be in 1..100, got %d", c.JPEGQuality)
	case c.Limit < 0:
		return fmt.Errorf("limit must be >= 0, got %d", c.Limit)
	}
	return nil
}

// instructionTable prefers inline instructions, then an instructions file,
// then the built-in RoboSet table.
func (c Config) instructionTable() (*instruct.Table, error) {
	if len(c.Instructions) == 0 && c.InstructionsFile != "" {
		return instruct.LoadYAML(c.InstructionsFile)
	}
	if len(c.Instructions) == 0 {
		return instruct.Default(), nil
	}
	table, err := instruct.NewTable(c.Instructions...)
	if err != nil {
		return nil, fmt.Errorf("config instructions: %w", err)
	}
	return table, nil
}

// parseBuildConfig resolves the build configuration. Later sources win:
// defaults, then the --config file, then the environment, then flags that
// were set explicitly.
func parseBuildConfig(args []string, getenv func(string) string) (Config, error) {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML config file")

	flags := defaultConfig()
	fs.StringVar(&flags.DataPath, "data_path", flags.DataPath, "Directory searched recursively for .h5 trial files")
	fs.StringVar(&flags.OutDir, "out_dir", flags.OutDir, "Output directory for shards and dataset metadata")
	fs.StringVar(&flags.DBPath, "db", flags.DBPath, "Path to SQLite index DB file")
	fs.IntVar(&flags.Workers, "workers", flags.Workers, "Files converted in parallel")
	fs.IntVar(&flags.MaxPathsInMemory, "max_paths_in_memory", flags.MaxPathsInMemory, "Files converted before a shard is written")
	fs.IntVar(&flags.JPEGQuality, "jpeg_quality", flags.JPEGQuality, "JPEG quality of stored frames (1..100)")
	fs.StringVar(&flags.Filter, "filter", flags.Filter, "Only convert paths containing this substring")
	fs.IntVar(&flags.Limit, "limit", flags.Limit, "Convert at most this many files (0 = all)")
	fs.StringVar(&flags.InstructionsFile, "instructions", flags.InstructionsFile, "Optional YAML list of {key, instruction} replacing the built-in table")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := defaultConfig()
	if *configPath != "" {
		if err := cfg.mergeYAML(*configPath); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv(getenv)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data_path":
			cfg.DataPath = flags.DataPath
		case "out_dir":
			cfg.OutDir = flags.OutDir
		case "db":
			cfg.DBPath = flags.DBPath
		case "workers":
			cfg.Workers = flags.Workers
		case "max_paths_in_memory":
			cfg.MaxPathsInMemory = flags.MaxPathsInMemory
		case "jpeg_quality":
			cfg.JPEGQuality = flags.JPEGQuality
		case "filter":
			cfg.Filter = flags.Filter
		case "limit":
			cfg.Limit = flags.Limit
		case "instructions":
			cfg.InstructionsFile = flags.InstructionsFile
			cfg.Instructions = nil
		}
	})

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
