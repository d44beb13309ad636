//go:build !stave

package main

import (
	"time"

	"github.com/tetraminz/roboset/internal/builder"
	"github.com/tetraminz/roboset/internal/shard"
)

const (
	defaultDataPath    = "/data/roboset"
	defaultOutDir      = "out/roboset/1.0.0"
	defaultSQLitePath  = "out/roboset.db"
	defaultDatasetName = "roboset"
	defaultSplit       = "train"
	defaultVersion     = "1.0.0"

	envDataPath = "ROBOSET_DATA_PATH"
	envOutDir   = "ROBOSET_OUT_DIR"

	datasetDescription = "RoboSet kitchen manipulation trials as RLDS episodes: four camera views, " +
		"8-dim arm+gripper state, velocity and action, one language instruction per task."
)

var releaseNotes = map[string]string{
	"1.0.0": "Initial release.",
}

func datasetMetadata(version string) shard.Metadata {
	return shard.Metadata{
		Version:      version,
		ReleaseNotes: releaseNotes,
		Description:  datasetDescription,
	}
}

// BuildRun is one row of build_runs.
type BuildRun struct {
	RunID            string
	StartedAtUTC     string
	FinishedAtUTC    string
	DataPath         string
	OutDir           string
	Workers          int
	MaxPathsInMemory int
	FilesTotal       int
	EpisodesTotal    int
	SkippedTotal     int
	ShardsTotal      int
	BytesTotal       int64
}

func newBuildRun(runID string, cfg Config, started time.Time) BuildRun {
	return BuildRun{
		RunID:            runID,
		StartedAtUTC:     started.UTC().Format(time.RFC3339),
		DataPath:         cfg.DataPath,
		OutDir:           cfg.OutDir,
		Workers:          cfg.Workers,
		MaxPathsInMemory: cfg.MaxPathsInMemory,
	}
}

func (r *BuildRun) finish(stats builder.Stats, finished time.Time) {
	r.FinishedAtUTC = finished.UTC().Format(time.RFC3339)
	r.FilesTotal = stats.Files
	r.EpisodesTotal = stats.Episodes
	r.SkippedTotal = stats.Skipped
	r.ShardsTotal = stats.Shards
	r.BytesTotal = stats.Bytes
}
