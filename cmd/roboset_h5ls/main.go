package main

/*
roboset_h5ls lists the trials of one RoboSet recording and the shape of every
array they hold, without reading array values.

Usage:
  go run ./cmd/roboset_h5ls --file /data/roboset/pick_butter/trial_0.h5

Flags:
  --file     Path to a .h5 recording.
  --trial    Optional trial key; lists only this trial.
*/

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tetraminz/roboset/internal/episode"
	"github.com/tetraminz/roboset/internal/h5"
)

func main() {
	if err := run(context.Background(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer) error {
	path := flag.String("file", "", "path to a .h5 recording")
	only := flag.String("trial", "", "optional trial key")
	flag.Parse()

	if strings.TrimSpace(*path) == "" {
		return errors.New("--file is required")
	}

	f, err := h5.Open(*path)
	if err != nil {
		return err
	}
	defer f.Close()

	keys, err := f.TrialKeys()
	if err != nil {
		return err
	}
	if *only != "" {
		keys = []string{*only}
	}

	fmt.Fprintf(out, "file=%s trials=%d\n", *path, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := listTrial(out, f, key); err != nil {
			return err
		}
	}
	return nil
}

func listTrial(out io.Writer, f *h5.File, key string) error {
	trial, err := f.Trial(key)
	if err != nil {
		return err
	}
	defer trial.Close()

	arrays, err := trial.Arrays()
	if err != nil {
		return err
	}
	present := map[string]bool{}
	fmt.Fprintf(out, "%s:\n", key)
	for _, a := range arrays {
		present[a.Name] = true
		fmt.Fprintf(out, "  %-10s %v\n", a.Name, a.Dims)
	}
	for _, name := range append(append([]string(nil), episode.ImageFields...), episode.NumericFields...) {
		if !present[name] {
			fmt.Fprintf(out, "  %-10s missing\n", name)
		}
	}
	return nil
}
