package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JSH-Team/threadsweeper/internal/utils/logger"
)

// ExportFileName returns the name used for an export taken at t.
func ExportFileName(t time.Time) string {
	return fmt.Sprintf("archives-%s.json", t.Format("20060102-150405"))
}

// ExportToDir writes every archive to a timestamped JSON file inside dir and
// returns its path.
func (s *Archives) ExportToDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory %s: %w", dir, err)
	}

	fullPath := filepath.Join(dir, ExportFileName(time.Now()))
	f, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create export file %s: %w", fullPath, err)
	}

	if err := s.Export(f); err != nil {
		f.Close()
		os.Remove(fullPath)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	logger.Info("Archives exported to %s", fullPath)
	return fullPath, nil
}

// ImportFile loads archives from a file written by ExportToDir.
func (s *Archives) ImportFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	n, err := s.Import(f)
	if err != nil {
		return 0, fmt.Errorf("failed to import %s: %w", path, err)
	}
	return n, nil
}
