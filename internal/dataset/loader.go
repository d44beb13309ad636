package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// RecordingExt is the extension of trial recording files.
const RecordingExt = ".h5"

// ListRecordings walks root recursively and returns the recording files,
// sorted. Only paths containing filter are kept when filter is non-empty;
// a positive limit caps the result.
func ListRecordings(root, filter string, limit int) ([]string, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("data path is required")
	}
	if limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}

	paths, err := listFiles(root, RecordingExt)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if filter != "" && !strings.Contains(path, filter) {
			continue
		}
		out = append(out, path)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func listFiles(root, ext string) ([]string, error) {
	paths := make([]string, 0, 256)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ext {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", root, err)
	}

	sort.Strings(paths)
	return paths, nil
}
