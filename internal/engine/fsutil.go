package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrTooLarge is returned by WriteFileAtomic when the source exceeds the limit.
	ErrTooLarge = errors.New("file exceeds size limit")
	// ErrEmpty is returned by WriteFileAtomic when RejectEmpty is set and r had no bytes.
	ErrEmpty = errors.New("file is empty")
)

// WriteOptions tunes WriteFileAtomic. A zero Limit disables the size check.
type WriteOptions struct {
	Limit       int64
	RejectEmpty bool
}

// WriteFileAtomic streams r into path through a temp file in the same
// directory and renames it into place, so readers never observe a torn file
// and concurrent writers resolve to last-writer-wins. Returns the number of
// bytes written. On error nothing is left at path.
func WriteFileAtomic(path string, r io.Reader, opts WriteOptions) (int64, error) {
	limit := opts.Limit
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		return n, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if limit > 0 && n > limit {
		tmp.Close()
		return n, ErrTooLarge
	}
	if opts.RejectEmpty && n == 0 {
		tmp.Close()
		return 0, ErrEmpty
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return n, fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return n, fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	committed = true
	return n, nil
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
