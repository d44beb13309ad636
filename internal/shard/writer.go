package shard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tetraminz/roboset/internal/tfrecord"
)

// Record is one encoded episode waiting to be written.
type Record struct {
	Key  string
	Data []byte
}

// Info describes one written shard.
type Info struct {
	Index    int
	Episodes int
	Bytes    int64
}

// Writer writes shards into one directory. Shards are first written under a
// provisional name and renamed by Finish once the total is known.
type Writer struct {
	dir    string
	name   string
	split  string
	shards []Info
	done   bool
}

func NewWriter(dir, name, split string) (*Writer, error) {
	if dir == "" || name == "" || split == "" {
		return nil, errors.New("shard writer needs a directory, dataset name and split")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %q: %w", dir, err)
	}
	// Shards of an earlier build may carry a different total.
	stale, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%s-%s.tfrecord-*", name, split)))
	if err != nil {
		return nil, fmt.Errorf("list stale shards: %w", err)
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale shard %q: %w", path, err)
		}
	}
	return &Writer{dir: dir, name: name, split: split}, nil
}

// FileName is the final name of shard index out of total.
func FileName(name, split string, index, total int) string {
	return fmt.Sprintf("%s-%s.tfrecord-%05d-of-%05d", name, split, index, total)
}

func (w *Writer) provisionalPath(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.tfrecord-%05d.partial", w.name, w.split, index))
}

// WriteShard writes records, in order, to the next shard. Record i of the
// shard is records[i].
func (w *Writer) WriteShard(records []Record) (Info, error) {
	if w.done {
		return Info{}, errors.New("shard writer is finished")
	}
	if len(records) == 0 {
		return Info{}, errors.New("shard has no records")
	}

	index := len(w.shards)
	path := w.provisionalPath(index)
	f, err := os.Create(path)
	if err != nil {
		return Info{}, fmt.Errorf("create shard %q: %w", path, err)
	}
	defer f.Close()

	tw := tfrecord.NewWriter(f)
	for _, r := range records {
		if err := tw.Write(r.Data); err != nil {
			return Info{}, fmt.Errorf("shard %d record %s: %w", index, r.Key, err)
		}
	}
	if err := tw.Flush(); err != nil {
		return Info{}, fmt.Errorf("flush shard %d: %w", index, err)
	}
	if err := f.Sync(); err != nil {
		return Info{}, fmt.Errorf("sync shard %d: %w", index, err)
	}

	info := Info{Index: index, Episodes: tw.Records(), Bytes: tw.Bytes()}
	w.shards = append(w.shards, info)
	return info, nil
}

// Shards returns the shards written so far.
func (w *Writer) Shards() []Info {
	return append([]Info(nil), w.shards...)
}

// Finish renames every shard to its final name and writes the dataset
// metadata files. It returns the final shard paths.
func (w *Writer) Finish(meta Metadata) ([]string, error) {
	if w.done {
		return nil, errors.New("shard writer is finished")
	}
	w.done = true

	total := len(w.shards)
	paths := make([]string, 0, total)
	lengths := make([]int, 0, total)
	var numBytes int64
	for _, s := range w.shards {
		final := filepath.Join(w.dir, FileName(w.name, w.split, s.Index, total))
		if err := os.Rename(w.provisionalPath(s.Index), final); err != nil {
			return nil, fmt.Errorf("rename shard %d: %w", s.Index, err)
		}
		paths = append(paths, final)
		lengths = append(lengths, s.Episodes)
		numBytes += s.Bytes
	}

	info := datasetInfo{
		Name:         w.name,
		Version:      meta.Version,
		ReleaseNotes: meta.ReleaseNotes,
		Description:  meta.Description,
		FileFormat:   "tfrecord",
		Splits: []splitInfo{{
			Name:         w.split,
			ShardLengths: lengths,
			NumBytes:     numBytes,
			NumExamples:  sum(lengths),
			FilePattern:  fmt.Sprintf("%s-%s.tfrecord-*-of-%05d", w.name, w.split, total),
		}},
	}
	if err := writeJSON(filepath.Join(w.dir, "dataset_info.json"), info); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(w.dir, "features.json"), Features()); err != nil {
		return nil, err
	}
	return paths, nil
}

// Metadata is the dataset-level description written by Finish.
type Metadata struct {
	Version      string
	ReleaseNotes map[string]string
	Description  string
}

type datasetInfo struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	ReleaseNotes map[string]string `json:"release_notes,omitempty"`
	Description  string            `json:"description,omitempty"`
	FileFormat   string            `json:"file_format"`
	Splits       []splitInfo       `json:"splits"`
}

type splitInfo struct {
	Name         string `json:"name"`
	ShardLengths []int  `json:"shard_lengths"`
	NumBytes     int64  `json:"num_bytes"`
	NumExamples  int    `json:"num_examples"`
	FilePattern  string `json:"file_pattern"`
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}
