package utils

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/samber/lo"
)

// StaleTempAge is how long a scratch file may live before GC takes it.
const StaleTempAge = time.Hour

const dirPerm = 0o750

// EnsureDirs runs MkdirAll on each dir.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return nil
}

func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ScanSubdirs lists the directory children of dir. A missing dir is empty.
func ScanSubdirs(dir string) ([]string, error) {
	entries, err := readDir(dir)
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), e.IsDir()
	}), nil
}

// FilterUnreferenced keeps the candidates that appear in none of sets.
func FilterUnreferenced(candidates []string, sets ...map[string]struct{}) []string {
	return lo.Reject(candidates, func(s string, _ int) bool {
		return lo.SomeBy(sets, func(set map[string]struct{}) bool {
			_, ok := set[s]
			return ok
		})
	})
}

// RemoveMatching deletes every entry of dir that match accepts and joins
// the failures.
func RemoveMatching(ctx context.Context, dir string, match func(os.DirEntry) bool) error {
	entries, err := readDir(dir)
	if err != nil {
		return err
	}
	logger := log.WithFunc("utils.RemoveMatching")
	var errs []error
	for _, e := range lo.Filter(entries, func(e os.DirEntry, _ int) bool { return match(e) }) {
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		logger.Infof(ctx, "removed %s", path)
	}
	return errors.Join(errs...)
}

// OlderThan matches entries whose mtime is more than age ago.
func OlderThan(age time.Duration) func(os.DirEntry) bool {
	cutoff := time.Now().Add(-age)
	return func(e os.DirEntry) bool {
		info, err := e.Info()
		return err == nil && info.ModTime().Before(cutoff)
	}
}

func readDir(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	return entries, nil
}
