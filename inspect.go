//go:build !stave

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tetraminz/roboset/internal/shard"
	"github.com/tetraminz/roboset/internal/tfrecord"
)

// InspectShard reads every record of a shard file and checks its framing.
func InspectShard(path string) ([]shard.Summary, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("shard path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	var out []shard.Summary
	r := tfrecord.NewReader(f)
	for i := 0; ; i++ {
		record, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", i, err)
		}
		s, err := shard.Summarize(record)
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", i, err)
		}
		out = append(out, s)
	}
}

// FormatShard prints one line per record. A record is complete when only
// its final step is marked last.
func FormatShard(summaries []shard.Summary) string {
	var b strings.Builder
	steps := 0
	for i, s := range summaries {
		steps += s.Steps
		var ret float64
		for _, r := range s.Rewards {
			ret += float64(r)
		}
		b.WriteString(fmt.Sprintf("record=%d file_path=%s trial_id=%s steps=%d return=%g complete=%t instruction=%q\n",
			i, s.FilePath, s.TrialID, s.Steps, ret, endsOnce(s.IsLast), s.Instruction))
	}
	b.WriteString(fmt.Sprintf("episodes=%d steps=%d\n", len(summaries), steps))
	return b.String()
}

func endsOnce(isLast []int64) bool {
	for i, v := range isLast {
		if (v == 1) != (i == len(isLast)-1) {
			return false
		}
	}
	return len(isLast) > 0
}
