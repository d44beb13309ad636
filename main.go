//go:build !stave

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

func main() {
	log.SetFlags(0)
	if err := runCLI(); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func runCLI() error {
	if len(os.Args) < 2 {
		printUsage()
		return nil
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "build":
		return runBuildCmd(args)
	case "report":
		return runReportCmd(args)
	case "setup":
		return runSetupCmd(args)
	case "inspect":
		return runInspectCmd(args)
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runBuildCmd(args []string) error {
	cfg, err := parseBuildConfig(args, os.Getenv)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := RunBuild(ctx, cfg, openH5Recording, newLogger(os.Stderr), os.Stdout)
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s files=%d episodes=%d skipped=%d shards=%d bytes=%d (%s) out_dir=%s\n",
		res.RunID,
		res.Stats.Files,
		res.Stats.Episodes,
		res.Stats.Skipped,
		res.Stats.Shards,
		res.Stats.Bytes,
		humanize.Bytes(uint64(res.Stats.Bytes)),
		cfg.OutDir,
	)
	return nil
}

func runReportCmd(args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	dbPath := fs.String("db", defaultSQLitePath, "Path to SQLite index DB file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := BuildReport(*dbPath)
	if err != nil {
		return err
	}
	PrintReport(report)
	return nil
}

func runSetupCmd(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	dbPath := fs.String("db", defaultSQLitePath, "Path to SQLite index DB file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := SetupSQLite(*dbPath); err != nil {
		return err
	}
	fmt.Printf("setup_ok db=%s\n", *dbPath)
	return nil
}

func runInspectCmd(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	shardPath := fs.String("shard", "", "Path to a shard file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	summaries, err := InspectShard(*shardPath)
	if err != nil {
		return err
	}
	fmt.Print(FormatShard(summaries))
	return nil
}

// newLogger writes text records to a terminal and JSON records otherwise.
func newLogger(f *os.File) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return slog.New(slog.NewTextHandler(f, opts))
	}
	return slog.New(slog.NewJSONHandler(f, opts))
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  go run . build --data_path /data/roboset --out_dir out/roboset/1.0.0 --db out/roboset.db")
	fmt.Println("  go run . build --config roboset.yaml --workers 4 --max_paths_in_memory 8")
	fmt.Println("  go run . report --db out/roboset.db")
	fmt.Println("  go run . setup --db out/roboset.db")
	fmt.Println("  go run . inspect --shard out/roboset/1.0.0/roboset-train.tfrecord-00000-of-00001")
}
