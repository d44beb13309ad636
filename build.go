//go:build !stave

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/tetraminz/roboset/internal/builder"
	"github.com/tetraminz/roboset/internal/dataset"
	"github.com/tetraminz/roboset/internal/h5"
	"github.com/tetraminz/roboset/internal/shard"
)

type buildResult struct {
	RunID      string
	Paths      int
	Stats      builder.Stats
	ShardPaths []string
}

// RunBuild converts every recording under cfg.DataPath into shards under
// cfg.OutDir and indexes the result in cfg.DBPath.
func RunBuild(ctx context.Context, cfg Config, open builder.Opener, logger *slog.Logger, stdout io.Writer) (buildResult, error) {
	if err := cfg.validate(); err != nil {
		return buildResult{}, err
	}
	table, err := cfg.instructionTable()
	if err != nil {
		return buildResult{}, err
	}

	paths, err := dataset.ListRecordings(cfg.DataPath, cfg.Filter, cfg.Limit)
	if err != nil {
		return buildResult{}, err
	}
	fmt.Fprintf(stdout, "Found %d paths!\n", len(paths))

	store, err := OpenIndexStore(cfg.DBPath)
	if err != nil {
		return buildResult{}, err
	}
	defer store.Close()

	encoder, err := shard.NewEncoder(cfg.JPEGQuality)
	if err != nil {
		return buildResult{}, err
	}
	writer, err := shard.NewWriter(cfg.OutDir, cfg.DatasetName, cfg.Split)
	if err != nil {
		return buildResult{}, err
	}

	run := newBuildRun(uuid.NewString(), cfg, time.Now())
	if err := store.BeginRun(run); err != nil {
		return buildResult{}, err
	}
	logger.Info("build started",
		slog.String("run_id", run.RunID),
		slog.String("data_path", cfg.DataPath),
		slog.String("out_dir", cfg.OutDir),
		slog.Int("paths", len(paths)),
		slog.Int("workers", cfg.Workers),
		slog.Int("max_paths_in_memory", cfg.MaxPathsInMemory),
	)

	b, err := builder.New(
		builder.Config{Workers: cfg.Workers, MaxPathsInMemory: cfg.MaxPathsInMemory},
		table,
		open,
		encoder,
		writer,
		builder.WithLogger(logger),
		builder.WithRecorder(store),
	)
	if err != nil {
		return buildResult{}, err
	}
	stats, err := b.Run(ctx, paths)
	if err != nil {
		return buildResult{}, fmt.Errorf("build %s: %w", run.RunID, err)
	}

	for _, info := range writer.Shards() {
		logger.Debug("shard written",
			slog.Int("shard", info.Index),
			slog.Int("episodes", info.Episodes),
			slog.String("bytes", humanize.Bytes(uint64(info.Bytes))),
		)
	}
	shardPaths, err := writer.Finish(datasetMetadata(cfg.Version))
	if err != nil {
		return buildResult{}, err
	}

	run.finish(stats, time.Now())
	if err := store.FinishRun(run); err != nil {
		return buildResult{}, err
	}
	return buildResult{RunID: run.RunID, Paths: len(paths), Stats: stats, ShardPaths: shardPaths}, nil
}

type h5Recording struct {
	file *h5.File
}

func openH5Recording(path string) (builder.Recording, error) {
	f, err := h5.Open(path)
	if err != nil {
		return nil, err
	}
	return h5Recording{file: f}, nil
}

func (r h5Recording) TrialKeys() ([]string, error) {
	return r.file.TrialKeys()
}

func (r h5Recording) Trial(key string) (builder.Trial, error) {
	t, err := r.file.Trial(key)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r h5Recording) Close() error {
	return r.file.Close()
}
