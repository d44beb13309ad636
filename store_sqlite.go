//go:build !stave

package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/tetraminz/roboset/internal/builder"
	"github.com/tetraminz/roboset/internal/episode"
)

const createBuildRunsTableSQL = `
CREATE TABLE IF NOT EXISTS build_runs (
	run_id TEXT PRIMARY KEY,
	started_at_utc TEXT NOT NULL,
	finished_at_utc TEXT NOT NULL DEFAULT '',
	data_path TEXT NOT NULL,
	out_dir TEXT NOT NULL,
	workers INTEGER NOT NULL,
	max_paths_in_memory INTEGER NOT NULL,
	files_total INTEGER NOT NULL DEFAULT 0,
	episodes_total INTEGER NOT NULL DEFAULT 0,
	skipped_total INTEGER NOT NULL DEFAULT 0,
	shards_total INTEGER NOT NULL DEFAULT 0,
	bytes_total INTEGER NOT NULL DEFAULT 0
)`

const createEpisodesTableSQL = `
CREATE TABLE IF NOT EXISTS episodes (
	episode_key TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	trial_id TEXT NOT NULL,
	instruction TEXT NOT NULL,
	shard_index INTEGER NOT NULL,
	record_index INTEGER NOT NULL,
	step_count INTEGER NOT NULL,
	source_length INTEGER NOT NULL,
	dropped_steps INTEGER NOT NULL,
	encoded_bytes INTEGER NOT NULL,
	action_abs_max REAL NOT NULL,
	state_velocity_abs_mean REAL NOT NULL,
	gripper_close_fraction REAL NOT NULL,
	longest_dropped_run INTEGER NOT NULL
)`

const createSkippedTrialsTableSQL = `
CREATE TABLE IF NOT EXISTS skipped_trials (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	trial_id TEXT NOT NULL,
	reason TEXT NOT NULL,
	message TEXT NOT NULL
)`

var createIndexIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_episodes_instruction ON episodes(instruction)`,
	`CREATE INDEX IF NOT EXISTS idx_episodes_shard ON episodes(shard_index, record_index)`,
	`CREATE INDEX IF NOT EXISTS idx_skipped_trials_reason ON skipped_trials(reason)`,
}

const dropBuildRunsSQL = `DROP TABLE IF EXISTS build_runs`
const dropEpisodesSQL = `DROP TABLE IF EXISTS episodes`
const dropSkippedTrialsSQL = `DROP TABLE IF EXISTS skipped_trials`
const deleteEpisodesSQL = `DELETE FROM episodes`
const deleteSkippedTrialsSQL = `DELETE FROM skipped_trials`

const insertBuildRunSQL = `
INSERT INTO build_runs (
	run_id,
	started_at_utc,
	data_path,
	out_dir,
	workers,
	max_paths_in_memory
) VALUES (?, ?, ?, ?, ?, ?)`

const finishBuildRunSQL = `
UPDATE build_runs SET
	finished_at_utc = ?,
	files_total = ?,
	episodes_total = ?,
	skipped_total = ?,
	shards_total = ?,
	bytes_total = ?
WHERE run_id = ?`

const insertEpisodeSQL = `
INSERT OR REPLACE INTO episodes (
	episode_key,
	run_id,
	file_path,
	trial_id,
	instruction,
	shard_index,
	record_index,
	step_count,
	source_length,
	dropped_steps,
	encoded_bytes,
	action_abs_max,
	state_velocity_abs_mean,
	gripper_close_fraction,
	longest_dropped_run
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertSkippedTrialSQL = `
INSERT INTO skipped_trials (
	run_id,
	file_path,
	trial_id,
	reason,
	message
) VALUES (?, ?, ?, ?, ?)`

// IndexStore records where every episode of the current build landed and
// which trials were skipped. Build run history is kept across builds.
type IndexStore struct {
	db    *sql.DB
	runID string
}

var _ builder.Recorder = (*IndexStore)(nil)

func OpenIndexStore(dbPath string) (*IndexStore, error) {
	if err := ensureDBDir(dbPath); err != nil {
		return nil, err
	}
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if err := ensureIndexSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &IndexStore{db: db}, nil
}

func (s *IndexStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun clears the episode and skip tables and opens a new run row.
// Episodes and skips recorded afterwards belong to this run.
func (s *IndexStore) BeginRun(run BuildRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store is not initialized")
	}
	if strings.TrimSpace(run.RunID) == "" {
		return fmt.Errorf("run id is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(deleteEpisodesSQL); err != nil {
		return fmt.Errorf("clear episodes: %w", err)
	}
	if _, err := tx.Exec(deleteSkippedTrialsSQL); err != nil {
		return fmt.Errorf("clear skipped_trials: %w", err)
	}
	if _, err := tx.Exec(
		insertBuildRunSQL,
		run.RunID,
		run.StartedAtUTC,
		run.DataPath,
		run.OutDir,
		run.Workers,
		run.MaxPathsInMemory,
	); err != nil {
		return fmt.Errorf("insert build run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.runID = run.RunID
	return nil
}

func (s *IndexStore) FinishRun(run BuildRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store is not initialized")
	}
	res, err := s.db.Exec(
		finishBuildRunSQL,
		run.FinishedAtUTC,
		run.FilesTotal,
		run.EpisodesTotal,
		run.SkippedTotal,
		run.ShardsTotal,
		run.BytesTotal,
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("update build run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("build run %s not found", run.RunID)
	}
	return nil
}

func (s *IndexStore) RecordEpisode(r builder.EpisodeResult) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store is not initialized")
	}
	if _, err := s.db.Exec(
		insertEpisodeSQL,
		r.Key,
		s.runID,
		r.FilePath,
		r.TrialID,
		r.Instruction,
		r.Shard,
		r.Record,
		r.Metrics.StepCount,
		r.Metrics.SourceLength,
		r.Metrics.DroppedSteps,
		r.EncodedBytes,
		r.Metrics.ActionAbsMax,
		r.Metrics.StateVelocityAbsMean,
		r.Metrics.GripperCloseFraction,
		r.Metrics.LongestDroppedRun,
	); err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

func (s *IndexStore) RecordSkip(skip *episode.SkipError) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store is not initialized")
	}
	if _, err := s.db.Exec(
		insertSkippedTrialSQL,
		s.runID,
		skip.FilePath,
		skip.TrialID,
		string(skip.Reason),
		skip.Message(),
	); err != nil {
		return fmt.Errorf("insert skipped trial: %w", err)
	}
	return nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

func ensureDBDir(dbPath string) error {
	if strings.TrimSpace(dbPath) == "" {
		return fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	return nil
}

type tableSchema struct {
	name     string
	create   string
	required []string
}

func indexTables() []tableSchema {
	return []tableSchema{
		{
			name:   "build_runs",
			create: createBuildRunsTableSQL,
			required: []string{
				"run_id",
				"started_at_utc",
				"finished_at_utc",
				"data_path",
				"out_dir",
				"workers",
				"max_paths_in_memory",
				"files_total",
				"episodes_total",
				"skipped_total",
				"shards_total",
				"bytes_total",
			},
		},
		{
			name:   "episodes",
			create: createEpisodesTableSQL,
			required: []string{
				"episode_key",
				"run_id",
				"file_path",
				"trial_id",
				"instruction",
				"shard_index",
				"record_index",
				"step_count",
				"source_length",
				"dropped_steps",
				"encoded_bytes",
				"action_abs_max",
				"state_velocity_abs_mean",
				"gripper_close_fraction",
				"longest_dropped_run",
			},
		},
		{
			name:   "skipped_trials",
			create: createSkippedTrialsTableSQL,
			required: []string{
				"run_id",
				"file_path",
				"trial_id",
				"reason",
				"message",
			},
		},
	}
}

func ensureIndexSchema(db *sql.DB) error {
	for _, table := range indexTables() {
		if _, err := db.Exec(table.create); err != nil {
			return fmt.Errorf("create %s table: %w", table.name, err)
		}
		missing, err := missingTableColumns(db, table.name, table.required)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf(
				"incompatible %s schema, missing columns: %s; run `go run . setup --db <path>`",
				table.name,
				strings.Join(missing, ", "),
			)
		}
	}
	for _, stmt := range createIndexIndexesSQL {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func missingTableColumns(db *sql.DB, tableName string, required []string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, tableName))
	if err != nil {
		return nil, fmt.Errorf("inspect %s schema: %w", tableName, err)
	}
	defer rows.Close()

	existing := map[string]struct{}{}
	for rows.Next() {
		var cid int
		var name string
		var colType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("scan %s schema: %w", tableName, err)
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s schema: %w", tableName, err)
	}

	var missing []string
	for _, col := range required {
		if _, ok := existing[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing, nil
}

// SetupSQLite drops the index tables and creates them again.
func SetupSQLite(dbPath string) error {
	if err := ensureDBDir(dbPath); err != nil {
		return err
	}
	db, err := openSQLite(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, stmt := range []string{dropBuildRunsSQL, dropEpisodesSQL, dropSkippedTrialsSQL} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}
	return ensureIndexSchema(db)
}
