package builder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/tetraminz/roboset/internal/episode"
	"github.com/tetraminz/roboset/internal/episode/episodetest"
	"github.com/tetraminz/roboset/internal/instruct"
	"github.com/tetraminz/roboset/internal/shard"
	"github.com/tetraminz/roboset/internal/tfrecord"
)

type fakeTrial struct {
	*episodetest.Trial
}

func (fakeTrial) Close() error { return nil }

type fakeRecording struct {
	keys   []string
	trials map[string]*episodetest.Trial
}

func (r *fakeRecording) TrialKeys() ([]string, error) { return r.keys, nil }

func (r *fakeRecording) Trial(key string) (Trial, error) {
	t, ok := r.trials[key]
	if !ok {
		return nil, errors.New("no such group")
	}
	return fakeTrial{t}, nil
}

func (r *fakeRecording) Close() error { return nil }

type fakeFiles struct {
	mu     sync.Mutex
	files  map[string]*fakeRecording
	opened []string
}

func (f *fakeFiles) open(path string) (Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, path)
	rec, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return rec, nil
}

func recording(length int, keys ...string) *fakeRecording {
	rec := &fakeRecording{keys: keys, trials: map[string]*episodetest.Trial{}}
	for _, k := range keys {
		rec.trials[k] = episodetest.NewTrial(length)
	}
	return rec
}

type memRecorder struct {
	episodes []EpisodeResult
	skips    []*episode.SkipError
}

func (m *memRecorder) RecordEpisode(r EpisodeResult) error {
	m.episodes = append(m.episodes, r)
	return nil
}

func (m *memRecorder) RecordSkip(s *episode.SkipError) error {
	m.skips = append(m.skips, s)
	return nil
}

func newBuilder(t *testing.T, cfg Config, files *fakeFiles, sink Sink, rec Recorder) *Builder {
	t.Helper()
	enc, err := shard.NewEncoder(shard.DefaultJPEGQuality)
	if err != nil {
		t.Fatalf("NewEncoder error: %v", err)
	}
	b, err := New(cfg, instruct.Default(), files.open, enc, sink,
		WithLogger(slog.New(slog.DiscardHandler)),
		WithRecorder(rec),
	)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return b
}

func readShard(t *testing.T, path string) []shard.Summary {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open shard: %v", err)
	}
	defer f.Close()

	var out []shard.Summary
	r := tfrecord.NewReader(f)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("read shard %s: %v", path, err)
		}
		s, err := shard.Summarize(rec)
		if err != nil {
			t.Fatalf("summarize: %v", err)
		}
		out = append(out, s)
	}
}

func TestRunWritesOneShardPerChunkInInputOrder(t *testing.T) {
	t.Parallel()

	paths := []string{
		"/data/pick_butter/a.h5",
		"/data/pick_butter/b.h5",
		"/data/drag_mug_forward/c.h5",
	}
	files := &fakeFiles{files: map[string]*fakeRecording{
		paths[0]: recording(3, "Trial0", "Trial1"),
		paths[1]: recording(2, "Trial0"),
		paths[2]: recording(4, "Trial0"),
	}}
	dir := t.TempDir()
	sink, err := shard.NewWriter(dir, "roboset", "train")
	if err != nil {
		t.Fatalf("NewWriter error: %v", err)
	}
	rec := &memRecorder{}
	b := newBuilder(t, Config{Workers: 2, MaxPathsInMemory: 2}, files, sink, rec)

	stats, err := b.Run(context.Background(), paths)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if stats.Files != 3 || stats.Episodes != 4 || stats.Skipped != 0 || stats.Shards != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Steps != 3+3+2+4 {
		t.Fatalf("Steps got %d want %d", stats.Steps, 12)
	}

	shardPaths, err := sink.Finish(shard.Metadata{Version: "1.0.0"})
	if err != nil {
		t.Fatalf("Finish error: %v", err)
	}
	if len(shardPaths) != 2 {
		t.Fatalf("shards got %d want 2", len(shardPaths))
	}

	var gotKeys [][]string
	for _, p := range shardPaths {
		var keys []string
		for _, s := range readShard(t, p) {
			keys = append(keys, s.FilePath+"/"+s.TrialID)
		}
		gotKeys = append(gotKeys, keys)
	}
	wantKeys := [][]string{
		{paths[0] + "/Trial0", paths[0] + "/Trial1", paths[1] + "/Trial0"},
		{paths[2] + "/Trial0"},
	}
	if !reflect.DeepEqual(gotKeys, wantKeys) {
		t.Fatalf("shard contents mismatch:\n got %v\nwant %v", gotKeys, wantKeys)
	}

	if len(rec.episodes) != 4 {
		t.Fatalf("recorded episodes got %d want 4", len(rec.episodes))
	}
	first := rec.episodes[0]
	if first.Key != episode.Key(paths[0], "Trial0") || first.Shard != 0 || first.Record != 0 {
		t.Fatalf("unexpected first result %+v", first)
	}
	if first.Instruction != "Pick up the butter." {
		t.Fatalf("Instruction got %q want %q", first.Instruction, "Pick up the butter.")
	}
	last := rec.episodes[3]
	if last.Shard != 1 || last.Record != 0 || last.Metrics.StepCount != 4 {
		t.Fatalf("unexpected last result %+v", last)
	}
}

func TestRunOneShardPerFileWhenChunkSizeIsOne(t *testing.T) {
	t.Parallel()

	paths := []string{"/d/pick_butter/0.h5", "/d/pick_butter/1.h5", "/d/pick_butter/2.h5"}
	files := &fakeFiles{files: map[string]*fakeRecording{}}
	for _, p := range paths {
		files.files[p] = recording(2, "Trial0")
	}
	sink, err := shard.NewWriter(t.TempDir(), "roboset", "train")
	if err != nil {
		t.Fatalf("NewWriter error: %v", err)
	}
	b := newBuilder(t, Config{Workers: 2, MaxPathsInMemory: 1}, files, sink, nil)

	stats, err := b.Run(context.Background(), paths)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if stats.Shards != 3 {
		t.Fatalf("Shards got %d want 3", stats.Shards)
	}
	for i, info := range sink.Shards() {
		if info.Index != i || info.Episodes != 1 {
			t.Fatalf("shard %d info %+v", i, info)
		}
	}
}

func TestRunOpensEveryPathOnce(t *testing.T) {
	t.Parallel()

	var paths []string
	files := &fakeFiles{files: map[string]*fakeRecording{}}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		p := filepath.Join("/d/pick_butter", name+".h5")
		paths = append(paths, p)
		files.files[p] = recording(2, "Trial0")
	}
	sink, err := shard.NewWriter(t.TempDir(), "roboset", "train")
	if err != nil {
		t.Fatalf("NewWriter error: %v", err)
	}
	b := newBuilder(t, Config{Workers: 3, MaxPathsInMemory: 4}, files, sink, nil)

	if _, err := b.Run(context.Background(), paths); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	opened := append([]string(nil), files.opened...)
	sort.Strings(opened)
	if !reflect.DeepEqual(opened, paths) {
		t.Fatalf("opened mismatch:\n got %v\nwant %v", opened, paths)
	}
	if got := len(sink.Shards()); got != 2 {
		t.Fatalf("shards got %d want 2", got)
	}
}

func TestRunSkipsBadTrialsAndFiles(t *testing.T) {
	t.Parallel()

	good := recording(3, "Trial0", "Trial1", "Trial2", "Trial3")
	// Trial1 loses every step to NaN, Trial2 has an array of the wrong length,
	// Trial3 is listed but cannot be opened.
	for i := 0; i < 3; i++ {
		good.trials["Trial1"].Set(episode.FieldQVEE, i, 0, math.NaN())
	}
	good.trials["Trial2"].Truncate(episode.FieldCtrlArm, 2)
	delete(good.trials, "Trial3")

	paths := []string{
		"/d/pick_butter/good.h5",
		"/d/unknown_task/x.h5",
		"/d/pick_butter/missing.h5",
	}
	files := &fakeFiles{files: map[string]*fakeRecording{
		paths[0]: good,
		paths[1]: recording(2, "Trial0"),
	}}
	sink, err := shard.NewWriter(t.TempDir(), "roboset", "train")
	if err != nil {
		t.Fatalf("NewWriter error: %v", err)
	}
	rec := &memRecorder{}
	b := newBuilder(t, Config{Workers: 2, MaxPathsInMemory: 4}, files, sink, rec)

	stats, err := b.Run(context.Background(), paths)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if stats.Episodes != 1 || stats.Skipped != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	want := map[episode.SkipReason]int{
		episode.ReasonEmpty:       1,
		episode.ReasonConsistency: 1,
		episode.ReasonRead:        1,
		episode.ReasonLookup:      1,
		episode.ReasonOpen:        1,
	}
	if !reflect.DeepEqual(stats.Skips, want) {
		t.Fatalf("skips got %v want %v", stats.Skips, want)
	}
	if len(rec.skips) != 5 {
		t.Fatalf("recorded skips got %d want 5", len(rec.skips))
	}
	if rec.skips[4].FilePath != paths[2] || rec.skips[4].Reason != episode.ReasonOpen {
		t.Fatalf("unexpected open skip %+v", rec.skips[4])
	}
	if rec.episodes[0].TrialID != "Trial0" {
		t.Fatalf("unexpected episode %+v", rec.episodes[0])
	}
}

func TestRunWithoutEpisodesWritesNoShard(t *testing.T) {
	t.Parallel()

	files := &fakeFiles{files: map[string]*fakeRecording{"/d/nowhere/a.h5": recording(2, "Trial0")}}
	sink, err := shard.NewWriter(t.TempDir(), "roboset", "train")
	if err != nil {
		t.Fatalf("NewWriter error: %v", err)
	}
	b := newBuilder(t, Config{Workers: 1, MaxPathsInMemory: 1}, files, sink, nil)

	stats, err := b.Run(context.Background(), []string{"/d/nowhere/a.h5"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if stats.Shards != 0 || stats.Skipped != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	files := &fakeFiles{files: map[string]*fakeRecording{"/d/pick_butter/a.h5": recording(2, "Trial0")}}
	sink, err := shard.NewWriter(t.TempDir(), "roboset", "train")
	if err != nil {
		t.Fatalf("NewWriter error: %v", err)
	}
	b := newBuilder(t, Config{Workers: 1, MaxPathsInMemory: 1}, files, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Run(ctx, []string{"/d/pick_butter/a.h5"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error got %v want context.Canceled", err)
	}
}

type failingSink struct{}

func (failingSink) WriteShard([]shard.Record) (shard.Info, error) {
	return shard.Info{}, errors.New("disk full")
}

func TestRunReturnsSinkErrors(t *testing.T) {
	t.Parallel()

	files := &fakeFiles{files: map[string]*fakeRecording{"/d/pick_butter/a.h5": recording(2, "Trial0")}}
	b := newBuilder(t, Config{Workers: 1, MaxPathsInMemory: 1}, files, failingSink{}, nil)

	if _, err := b.Run(context.Background(), []string{"/d/pick_butter/a.h5"}); err == nil {
		t.Fatalf("expected sink error")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	files := &fakeFiles{}
	enc, _ := shard.NewEncoder(shard.DefaultJPEGQuality)
	for _, cfg := range []Config{{Workers: 0, MaxPathsInMemory: 1}, {Workers: 1, MaxPathsInMemory: 0}} {
		if _, err := New(cfg, instruct.Default(), files.open, enc, failingSink{}); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
	if _, err := New(Config{Workers: 1, MaxPathsInMemory: 1}, nil, files.open, enc, failingSink{}); err == nil {
		t.Fatalf("expected error for missing instructions")
	}
}
