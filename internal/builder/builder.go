// Package builder converts trial recordings into dataset shards.
//
// Input paths are processed in chunks of MaxPathsInMemory. Within a chunk up
// to Workers goroutines each claim one path, open it, parse its trials one
// after another and encode the surviving episodes. When the chunk is done its
// episodes are written as one shard, in path order and then trial order, so
// the output does not depend on scheduling.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tetraminz/roboset/internal/compute"
	"github.com/tetraminz/roboset/internal/episode"
	"github.com/tetraminz/roboset/internal/shard"
)

const (
	DefaultWorkers          = 2
	DefaultMaxPathsInMemory = 4
)

// Recording is an open input file.
type Recording interface {
	TrialKeys() ([]string, error)
	Trial(key string) (Trial, error)
	Close() error
}

// Trial is one trial of a Recording.
type Trial interface {
	episode.TrialSource
	Close() error
}

// Opener opens one input file. It is called inside the worker that converts
// the file, so every handle it returns is used by a single goroutine.
type Opener func(path string) (Recording, error)

// Encoder serializes an episode. It must be safe for concurrent use.
type Encoder interface {
	Encode(ep episode.Episode) ([]byte, error)
}

// Sink stores one shard of encoded episodes.
type Sink interface {
	WriteShard(records []shard.Record) (shard.Info, error)
}

// EpisodeResult describes a stored episode.
type EpisodeResult struct {
	Key          string
	FilePath     string
	TrialID      string
	Instruction  string
	Shard        int
	Record       int
	EncodedBytes int
	Metrics      compute.Metrics
}

// Recorder is told about every stored episode and every skip. It is only
// called from the goroutine running Run.
type Recorder interface {
	RecordEpisode(r EpisodeResult) error
	RecordSkip(s *episode.SkipError) error
}

// Config holds the two conversion tunables.
type Config struct {
	Workers          int
	MaxPathsInMemory int
}

func (c Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.MaxPathsInMemory < 1 {
		return fmt.Errorf("max paths in memory must be >= 1, got %d", c.MaxPathsInMemory)
	}
	return nil
}

// Stats summarizes a run.
type Stats struct {
	Files    int
	Episodes int
	Steps    int
	Skipped  int
	Shards   int
	Bytes    int64
	Skips    map[episode.SkipReason]int
}

// Builder runs conversions.
type Builder struct {
	cfg          Config
	open         Opener
	encoder      Encoder
	sink         Sink
	recorder     Recorder
	instructions episode.Instructions
	logger       *slog.Logger
}

// New returns a builder. A nil recorder discards results.
func New(cfg Config, instructions episode.Instructions, open Opener, encoder Encoder, sink Sink, opts ...Option) (*Builder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if instructions == nil || open == nil || encoder == nil || sink == nil {
		return nil, errors.New("builder needs instructions, an opener, an encoder and a sink")
	}
	b := &Builder{
		cfg:          cfg,
		open:         open,
		encoder:      encoder,
		sink:         sink,
		instructions: instructions,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Option configures a Builder.
type Option func(*Builder)

func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(b *Builder) {
		b.recorder = r
	}
}

type encodedEpisode struct {
	key         string
	meta        episode.Metadata
	instruction string
	data        []byte
	metrics     compute.Metrics
}

type fileResult struct {
	episodes []encodedEpisode
	skips    []*episode.SkipError
}

// Run converts paths. Trial-level problems are logged, recorded and
// skipped; only context, encoding, sink and recorder errors stop the run.
func (b *Builder) Run(ctx context.Context, paths []string) (Stats, error) {
	stats := Stats{Skips: map[episode.SkipReason]int{}}

	for start := 0; start < len(paths); start += b.cfg.MaxPathsInMemory {
		end := min(start+b.cfg.MaxPathsInMemory, len(paths))
		chunk := paths[start:end]

		results, err := b.convertChunk(ctx, chunk)
		if err != nil {
			return stats, err
		}
		if err := b.flush(results, &stats); err != nil {
			return stats, err
		}
		stats.Files += len(chunk)
		b.logger.Info("chunk converted",
			slog.Int("paths_done", end),
			slog.Int("paths_total", len(paths)),
			slog.Int("episodes", stats.Episodes),
			slog.Int("skipped", stats.Skipped),
		)
	}
	return stats, nil
}

func (b *Builder) convertChunk(ctx context.Context, chunk []string) ([]fileResult, error) {
	results := make([]fileResult, len(chunk))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for i, path := range chunk {
		g.Go(func() error {
			res, err := b.convertFile(gctx, path)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// convertFile runs inside a worker. The recording handle and the parser are
// created here and never shared with other workers.
func (b *Builder) convertFile(ctx context.Context, path string) (fileResult, error) {
	var res fileResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	skipFile := func(err error) fileResult {
		skip := &episode.SkipError{Reason: episode.ReasonOpen, FilePath: path, Err: err}
		b.logger.Warn(skip.Message(), slog.String("file_path", path), slog.Any("error", err))
		res.skips = append(res.skips, skip)
		return res
	}

	rec, err := b.open(path)
	if err != nil {
		return skipFile(err), nil
	}
	defer rec.Close()

	keys, err := rec.TrialKeys()
	if err != nil {
		return skipFile(err), nil
	}
	b.logger.Debug("processing file", slog.String("file_path", path), slog.Int("trials", len(keys)))

	parser := episode.NewParser(b.instructions, b.logger)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ep, skip, err := b.convertTrial(parser, rec, path, key)
		if err != nil {
			return res, err
		}
		if skip != nil {
			res.skips = append(res.skips, skip)
			continue
		}
		res.episodes = append(res.episodes, ep)
	}
	return res, nil
}

func (b *Builder) convertTrial(parser *episode.Parser, rec Recording, path, key string) (encodedEpisode, *episode.SkipError, error) {
	trial, err := rec.Trial(key)
	if err != nil {
		skip := &episode.SkipError{Reason: episode.ReasonRead, FilePath: path, TrialID: key, Err: fmt.Errorf("%w: %v", episode.ErrRead, err)}
		b.logger.Warn(skip.Message(), slog.String("file_path", path), slog.String("trial_id", key), slog.Any("error", err))
		return encodedEpisode{}, skip, nil
	}
	defer trial.Close()

	ep, err := parser.Parse(trial, path, key)
	if err != nil {
		var skip *episode.SkipError
		if errors.As(err, &skip) {
			return encodedEpisode{}, skip, nil
		}
		return encodedEpisode{}, nil, err
	}

	data, err := b.encoder.Encode(ep)
	if err != nil {
		return encodedEpisode{}, nil, fmt.Errorf("encode %s: %w", ep.Key, err)
	}
	return encodedEpisode{
		key:         ep.Key,
		meta:        ep.Metadata,
		instruction: ep.Steps[0].LanguageInstruction,
		data:        data,
		metrics:     compute.ComputeMetrics(ep),
	}, nil, nil
}

func (b *Builder) flush(results []fileResult, stats *Stats) error {
	var records []shard.Record
	for _, res := range results {
		for _, ep := range res.episodes {
			records = append(records, shard.Record{Key: ep.key, Data: ep.data})
		}
	}

	shardIndex := -1
	if len(records) > 0 {
		info, err := b.sink.WriteShard(records)
		if err != nil {
			return fmt.Errorf("write shard: %w", err)
		}
		shardIndex = info.Index
		stats.Shards++
		stats.Bytes += info.Bytes
	}

	record := 0
	for _, res := range results {
		for _, ep := range res.episodes {
			stats.Episodes++
			stats.Steps += ep.metrics.StepCount
			if b.recorder != nil {
				if err := b.recorder.RecordEpisode(EpisodeResult{
					Key:          ep.key,
					FilePath:     ep.meta.FilePath,
					TrialID:      ep.meta.TrialID,
					Instruction:  ep.instruction,
					Shard:        shardIndex,
					Record:       record,
					EncodedBytes: len(ep.data),
					Metrics:      ep.metrics,
				}); err != nil {
					return fmt.Errorf("record episode %s: %w", ep.key, err)
				}
			}
			record++
		}
		for _, skip := range res.skips {
			stats.Skipped++
			stats.Skips[skip.Reason]++
			if b.recorder != nil {
				if err := b.recorder.RecordSkip(skip); err != nil {
					return fmt.Errorf("record skip %s: %w", skip.FilePath, err)
				}
			}
		}
	}
	return nil
}
