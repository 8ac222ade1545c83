// Package seginfo provides utilities for naming and discovering segment
// files in a partition's segment directory.
//
// Filename Format: prefix_id.seg
//
// Where:
//   - prefix: A configurable string identifying the file type (e.g. "segment").
//   - id: The segment's UUID (see github.com/google/uuid), assigned once at
//     write() time and stable for the segment's lifetime.
//   - .seg: A fixed file extension.
//
// Example filenames:
//
//	segment_018f2a3e-9c2b-7b7e-8b6b-8e9f2a3e9c2b.seg
package seginfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/emberdb/emberdb/pkg/filesys"
)

// GenerateName creates a properly formatted filename for a new segment file.
func GenerateName(id, prefix string) string {
	if prefix == "" {
		prefix = "segment"
	}
	return fmt.Sprintf("%s_%s.seg", prefix, id)
}

// ParseSegmentID extracts the UUID from a segment filename.
func ParseSegmentID(fullPath, prefix string) (string, error) {
	_, filename := filepath.Split(fullPath)

	if prefix == "" {
		prefix = "segment"
	}

	withPrefix := prefix + "_"
	if !strings.HasPrefix(filename, withPrefix) {
		return "", fmt.Errorf("filename %s does not start with expected prefix %s", filename, withPrefix)
	}

	withoutPrefix := strings.TrimPrefix(filename, withPrefix)
	withoutExtension := strings.TrimSuffix(withoutPrefix, ".seg")
	if withoutExtension == withoutPrefix {
		return "", fmt.Errorf("filename %s does not have expected .seg extension", filename)
	}

	if withoutExtension == "" {
		return "", fmt.Errorf("filename %s has no segment id", filename)
	}

	return withoutExtension, nil
}

// ListSegmentFiles returns the full paths of every segment file found in
// segmentDir with the given prefix, used by internal/segment on keyspace
// open to rehydrate the set of segments a partition's level files claim
// to own.
func ListSegmentFiles(dataDir, segmentDir, prefix string) ([]string, error) {
	if dataDir == "" || segmentDir == "" {
		return nil, fmt.Errorf("dataDir and segmentDir must be non-empty")
	}
	if prefix == "" {
		prefix = "segment"
	}

	searchPattern := filepath.Join(dataDir, segmentDir, prefix+"_*.seg")
	matches, err := filesys.ReadDir(searchPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment directory with pattern %s: %w", searchPattern, err)
	}
	return matches, nil
}

// GetFileInfo safely retrieves file system metadata for a given path.
func GetFileInfo(filePath string) (os.FileInfo, error) {
	file, err := os.OpenFile(filePath, os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info for %s: %w", filePath, err)
	}

	return stat, nil
}
