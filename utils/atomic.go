package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// AtomicWriteFile replaces path with data. The bytes land in a sibling temp
// file that is synced and renamed over path, so readers see either the old
// content or the new one.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) (retErr error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	staged := f.Name()
	defer func() {
		if retErr != nil {
			_ = f.Close()
			_ = os.Remove(staged)
		}
	}()

	for _, step := range []struct {
		what string
		fn   func() error
	}{
		{"write", func() error { _, err := f.Write(data); return err }},
		{"sync", f.Sync},
		{"chmod", func() error { return f.Chmod(perm) }},
		{"close", f.Close},
		{"rename", func() error { return os.Rename(staged, path) }},
	} {
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s %s: %w", step.what, path, err)
		}
	}
	return syncDir(dir)
}

// AtomicWriteJSON is AtomicWriteFile for an indented JSON document.
func AtomicWriteJSON(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return AtomicWriteFile(path, append(data, '\n'), perm)
}

// syncDir persists the rename. Filesystems without directory fsync are
// tolerated.
func syncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec
	if err != nil {
		return fmt.Errorf("open %s: %w", dir, err)
	}
	defer d.Close() //nolint:errcheck
	err = d.Sync()
	for _, benign := range []error{syscall.EINVAL, syscall.ENOTSUP, syscall.EBADF} {
		if errors.Is(err, benign) {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("sync %s: %w", dir, err)
	}
	return nil
}
