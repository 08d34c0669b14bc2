// Package security holds input checks applied to locator paths that reach the
// local filesystem.
package security

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"
)

var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrInvalidPath   = errors.New("invalid file path")
)

// ValidateFilePath rejects empty paths, paths with ".." segments, and, when
// baseDir is set, paths that resolve outside baseDir.
func ValidateFilePath(path, baseDir string) error {
	if strings.TrimSpace(path) == "" || strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	if slices.Contains(strings.Split(filepath.ToSlash(path), "/"), "..") {
		return ErrPathTraversal
	}
	if baseDir == "" {
		return nil
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return err
	}
	absPath, err := filepath.Abs(filepath.Join(absBase, path))
	if filepath.IsAbs(path) {
		absPath, err = filepath.Abs(path)
	}
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ErrPathTraversal
	}
	return nil
}
