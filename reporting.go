//go:build !stave

package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

type reportMetrics struct {
	TotalEpisodes     int
	TotalSteps        int
	TotalDroppedSteps int
	TotalBytes        int64
	TotalSkipped      int
	TotalRuns         int

	AvgStepsPerEpisode      float64
	DroppedStepPercent      float64
	AvgGripperCloseFraction float64
	LongestDroppedRun       int

	Instructions []instructionCount
	SkipReasons  []reasonCount
	LastRun      *BuildRun
}

type instructionCount struct {
	Instruction string
	Episodes    int
	Steps       int
}

type reasonCount struct {
	Reason string
	Count  int
}

func BuildReport(dbPath string) (reportMetrics, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return reportMetrics{}, err
	}
	defer db.Close()
	if err := ensureIndexSchema(db); err != nil {
		return reportMetrics{}, err
	}

	report := reportMetrics{}
	var sourceSteps int
	if err := db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(step_count), 0),
			COALESCE(SUM(dropped_steps), 0),
			COALESCE(SUM(source_length), 0),
			COALESCE(SUM(encoded_bytes), 0),
			COALESCE(AVG(gripper_close_fraction), 0),
			COALESCE(MAX(longest_dropped_run), 0)
		FROM episodes
	`).Scan(
		&report.TotalEpisodes,
		&report.TotalSteps,
		&report.TotalDroppedSteps,
		&sourceSteps,
		&report.TotalBytes,
		&report.AvgGripperCloseFraction,
		&report.LongestDroppedRun,
	); err != nil {
		return reportMetrics{}, fmt.Errorf("query episode totals: %w", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM skipped_trials`).Scan(&report.TotalSkipped); err != nil {
		return reportMetrics{}, fmt.Errorf("query skipped totals: %w", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM build_runs`).Scan(&report.TotalRuns); err != nil {
		return reportMetrics{}, fmt.Errorf("query run totals: %w", err)
	}

	if report.TotalEpisodes > 0 {
		report.AvgStepsPerEpisode = float64(report.TotalSteps) / float64(report.TotalEpisodes)
	}
	if sourceSteps > 0 {
		report.DroppedStepPercent = 100.0 * float64(report.TotalDroppedSteps) / float64(sourceSteps)
	}

	if report.Instructions, err = queryInstructionCounts(db); err != nil {
		return reportMetrics{}, err
	}
	if report.SkipReasons, err = querySkipReasons(db); err != nil {
		return reportMetrics{}, err
	}
	if report.LastRun, err = queryLastRun(db); err != nil {
		return reportMetrics{}, err
	}
	return report, nil
}

func queryInstructionCounts(db *sql.DB) ([]instructionCount, error) {
	rows, err := db.Query(`
		SELECT instruction, COUNT(*), COALESCE(SUM(step_count), 0)
		FROM episodes
		GROUP BY instruction
		ORDER BY COUNT(*) DESC, instruction
	`)
	if err != nil {
		return nil, fmt.Errorf("query instruction counts: %w", err)
	}
	defer rows.Close()

	var out []instructionCount
	for rows.Next() {
		var item instructionCount
		if err := rows.Scan(&item.Instruction, &item.Episodes, &item.Steps); err != nil {
			return nil, fmt.Errorf("scan instruction count: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instruction counts: %w", err)
	}
	return out, nil
}

func querySkipReasons(db *sql.DB) ([]reasonCount, error) {
	rows, err := db.Query(`
		SELECT reason, COUNT(*)
		FROM skipped_trials
		GROUP BY reason
		ORDER BY reason
	`)
	if err != nil {
		return nil, fmt.Errorf("query skip reasons: %w", err)
	}
	defer rows.Close()

	var out []reasonCount
	for rows.Next() {
		var item reasonCount
		if err := rows.Scan(&item.Reason, &item.Count); err != nil {
			return nil, fmt.Errorf("scan skip reason: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skip reasons: %w", err)
	}
	return out, nil
}

func queryLastRun(db *sql.DB) (*BuildRun, error) {
	var run BuildRun
	err := db.QueryRow(`
		SELECT
			run_id,
			started_at_utc,
			finished_at_utc,
			data_path,
			out_dir,
			workers,
			max_paths_in_memory,
			files_total,
			episodes_total,
			skipped_total,
			shards_total,
			bytes_total
		FROM build_runs
		ORDER BY started_at_utc DESC, rowid DESC
		LIMIT 1
	`).Scan(
		&run.RunID,
		&run.StartedAtUTC,
		&run.FinishedAtUTC,
		&run.DataPath,
		&run.OutDir,
		&run.Workers,
		&run.MaxPathsInMemory,
		&run.FilesTotal,
		&run.EpisodesTotal,
		&run.SkippedTotal,
		&run.ShardsTotal,
		&run.BytesTotal,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last run: %w", err)
	}
	return &run, nil
}

func FormatReport(r reportMetrics) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("total_episodes=%d\n", r.TotalEpisodes))
	b.WriteString(fmt.Sprintf("total_steps=%d (avg %.2f per episode)\n", r.TotalSteps, r.AvgStepsPerEpisode))
	b.WriteString(fmt.Sprintf("dropped_steps=%d (%.2f%%)\n", r.TotalDroppedSteps, r.DroppedStepPercent))
	b.WriteString(fmt.Sprintf("longest_dropped_run=%d\n", r.LongestDroppedRun))
	b.WriteString(fmt.Sprintf("gripper_close_fraction=%.2f (avg)\n", r.AvgGripperCloseFraction))
	b.WriteString(fmt.Sprintf("encoded_bytes=%d (%s)\n", r.TotalBytes, humanize.Bytes(uint64(r.TotalBytes))))
	b.WriteString(fmt.Sprintf("skipped_trials=%d\n", r.TotalSkipped))
	for _, item := range r.SkipReasons {
		b.WriteString(fmt.Sprintf("skipped[%s]=%d\n", item.Reason, item.Count))
	}
	for _, item := range r.Instructions {
		b.WriteString(fmt.Sprintf("episodes[%q]=%d steps=%d\n", item.Instruction, item.Episodes, item.Steps))
	}
	b.WriteString(fmt.Sprintf("build_runs=%d\n", r.TotalRuns))
	if r.LastRun != nil {
		run := r.LastRun
		finished := run.FinishedAtUTC
		if finished == "" {
			finished = "unfinished"
		}
		b.WriteString(fmt.Sprintf(
			"last_run=%s started=%s finished=%s files=%d episodes=%d skipped=%d shards=%d bytes=%s\n",
			run.RunID,
			run.StartedAtUTC,
			finished,
			run.FilesTotal,
			run.EpisodesTotal,
			run.SkippedTotal,
			run.ShardsTotal,
			humanize.Bytes(uint64(run.BytesTotal)),
		))
	}
	return b.String()
}

func PrintReport(r reportMetrics) {
	fmt.Print(FormatReport(r))
}
