// =============================================================================
// NCM Report Consolidator - File Manager Utility
// =============================================================================
//
// This module provides the file handling around a run:
//   - Output directory creation
//   - A per-run scratch directory inside the output directory
//   - Publishing finished files out of the scratch directory
//   - File naming utilities
//
// PUBLISH STRATEGY:
//   Every file a run produces is first written into the scratch directory.
//   Only when the whole run succeeded are the results renamed into the output
//   directory. The scratch directory lives inside the output directory so the
//   rename stays on one filesystem and is atomic; a copy is used as a fallback
//   when rename fails. A failed run leaves nothing but its scratch directory,
//   which the caller removes.
//
// =============================================================================

package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// ScratchPrefix prefixes the name of every scratch directory.
const ScratchPrefix = ".ncmreport-"

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for a run.
type FileManager struct {
	// OutputDir is the directory where published files are placed.
	OutputDir string
}

// NewFileManager creates a new FileManager for the output directory.
func NewFileManager(outputDir string) *FileManager {
	return &FileManager{OutputDir: outputDir}
}

// NewRunID returns a fresh identifier for a run.
func NewRunID() string {
	return uuid.New().String()
}

// EnsureDirectories creates the output directory if it doesn't exist.
func (fm *FileManager) EnsureDirectories() error {
	if err := os.MkdirAll(fm.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", fm.OutputDir, err)
	}
	return nil
}

// CreateScratchDir creates the scratch directory of a run.
//
// RETURNS:
//   - The path of the new directory: <OutputDir>/.ncmreport-<runID>
//   - An error if it cannot be created.
func (fm *FileManager) CreateScratchDir(runID string) (string, error) {
	if err := fm.EnsureDirectories(); err != nil {
		return "", err
	}
	dir := filepath.Join(fm.OutputDir, ScratchPrefix+runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return dir, nil
}

// Publish moves src into the output directory under name, replacing any
// existing file of that name.
//
// RETURNS:
//   - The published path.
//   - An error if the file could be neither renamed nor copied.
func (fm *FileManager) Publish(src, name string) (string, error) {
	dst := filepath.Join(fm.OutputDir, name)

	if err := os.Rename(src, dst); err != nil {
		// If rename fails (e.g., cross-device), try copy and delete.
		if err := copyFile(src, dst); err != nil {
			return "", fmt.Errorf("failed to copy %s: %w", filepath.Base(src), err)
		}
		if err := os.Remove(src); err != nil {
			return "", fmt.Errorf("failed to remove %s: %w", src, err)
		}
	}

	return dst, nil
}

// RemoveScratch deletes a scratch directory and everything in it.
// Paths outside the output directory are refused.
func (fm *FileManager) RemoveScratch(dir string) error {
	if filepath.Dir(filepath.Clean(dir)) != filepath.Clean(fm.OutputDir) ||
		!strings.HasPrefix(filepath.Base(dir), ScratchPrefix) {
		return fmt.Errorf("refusing to remove %s: not a scratch directory of %s", dir, fm.OutputDir)
	}
	return os.RemoveAll(dir)
}

// =============================================================================
// FILE NAMING
// =============================================================================

// SanitizeFileName makes name safe to use as a file name on every platform.
// Path separators, reserved characters and control characters become '_'.
// Leading and trailing spaces and dots are dropped.
func SanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), " .")
	if out == "" {
		return "_"
	}
	return out
}

// UniqueName returns name, or name with a " (n)" suffix before the extension
// when name is already in taken. The returned name is added to taken.
func UniqueName(name string, taken map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; taken[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
	taken[strings.ToLower(candidate)] = true
	return candidate
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	if err != nil {
		return err
	}

	return destFile.Sync()
}
