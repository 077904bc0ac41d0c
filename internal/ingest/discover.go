package ingest

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/fsutil"
)

// DefaultEONamePatterns are the substrings that mark a .txt file as a likely
// EO export.
var DefaultEONamePatterns = []string{"altum", "eo"}

// FindEOFiles walks root for .txt files whose name contains one of patterns,
// case-insensitively. Results are sorted. An empty patterns list uses
// DefaultEONamePatterns.
func FindEOFiles(fsys fsutil.FileSystem, root string, patterns []string) ([]string, error) {
	info, err := fsys.Stat(root)
	if err != nil {
		return nil, align.NewInputError(root, err)
	}
	if !info.IsDir() {
		return nil, align.NewInputError(root, errors.New("not a directory"))
	}
	if len(patterns) == 0 {
		patterns = DefaultEONamePatterns
	}
	lower := make([]string, len(patterns))
	for i, p := range patterns {
		lower[i] = strings.ToLower(p)
	}

	var found []string
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := fsys.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if e.IsDir() {
				if err := walk(path); err != nil {
					return err
				}
				continue
			}
			if matchesEOName(e.Name(), lower) {
				found = append(found, path)
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, align.NewInputError(root, err)
	}
	sort.Strings(found)
	return found, nil
}

func matchesEOName(name string, patterns []string) bool {
	n := strings.ToLower(name)
	if filepath.Ext(n) != ".txt" {
		return false
	}
	stem := strings.TrimSuffix(n, ".txt")
	for _, p := range patterns {
		if p != "" && strings.Contains(stem, p) {
			return true
		}
	}
	return false
}
