// Package filesys holds the handful of filesystem primitives the storage
// engine's directory layout needs: creating the data/segment/manifest
// directories on open, and globbing existing segment files back on
// recovery. Kept deliberately small — everything here is exercised by the
// keyspace, journal, or segment store at open time.
package filesys

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrIsNotDir is returned when a path that should be a directory turns out
// to be a regular file.
var ErrIsNotDir = errors.New("path isn't a directory")

// CreateDir ensures dirPath exists with the given permission bits, creating
// any missing parents. If force is false and os.Stat reports anything
// other than not-exist, that result is returned as-is (nil for an existing
// directory) and nothing is created; if force is true an existing
// directory is kept and its permission bits are set to permission. A
// path that exists but isn't a directory is always rejected with
// ErrIsNotDir, regardless of force.
func CreateDir(dirPath string, permission os.FileMode, force bool) error {
	stat, err := os.Stat(dirPath)
	if stat != nil && !stat.IsDir() {
		return ErrIsNotDir
	}
	if !force && !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(dirPath, permission); err != nil {
		return err
	}
	return os.Chmod(dirPath, permission)
}

// ReadDir expands a glob pattern (e.g. a segment directory's
// "segment_*.seg") into the matching file paths, used by seginfo to
// rediscover on-disk segments after a restart.
func ReadDir(pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}
