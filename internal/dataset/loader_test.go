package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestListRecordingsWalksRecursivelyAndSorts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, rel := range []string{
		"pick_butter/trial_1.h5",
		"pick_butter/trial_0.h5",
		"kinesthetic/drag_mug_forward/run.h5",
		"pick_butter/notes.txt",
		"pick_butter/trial_2.H5",
	} {
		touch(t, filepath.Join(root, rel))
	}

	got, err := ListRecordings(root, "", 0)
	if err != nil {
		t.Fatalf("ListRecordings error: %v", err)
	}
	want := []string{
		filepath.Join(root, "kinesthetic/drag_mug_forward/run.h5"),
		filepath.Join(root, "pick_butter/trial_0.h5"),
		filepath.Join(root, "pick_butter/trial_1.h5"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("paths mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestListRecordingsFilterAndLimit(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, rel := range []string{"pick_butter/a.h5", "pick_butter/b.h5", "pick_cup/a.h5"} {
		touch(t, filepath.Join(root, rel))
	}

	got, err := ListRecordings(root, "pick_butter", 1)
	if err != nil {
		t.Fatalf("ListRecordings error: %v", err)
	}
	if want := []string{filepath.Join(root, "pick_butter/a.h5")}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestListRecordingsValidatesArgs(t *testing.T) {
	t.Parallel()

	if _, err := ListRecordings(" ", "", 0); err == nil {
		t.Fatalf("expected error for empty root")
	}
	if _, err := ListRecordings(t.TempDir(), "", -1); err == nil {
		t.Fatalf("expected error for negative limit")
	}
	if _, err := ListRecordings(filepath.Join(t.TempDir(), "missing"), "", 0); err == nil {
		t.Fatalf("expected error for missing root")
	}
}
