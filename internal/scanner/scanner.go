// Package scanner walks the documentation source tree: it discovers
// translatable files, applies the blacklist, and mirrors non-translatable
// resources into the target tree.
package scanner

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// translatableExtensions are the file extensions handed to the translator.
// Everything else under the source tree is treated as a resource.
var translatableExtensions = map[string]bool{
	".md":    true,
	".pages": true,
}

// IsTranslatable reports whether path has a recognized documentation
// extension.
func IsTranslatable(path string) bool {
	return translatableExtensions[filepath.Ext(path)]
}

// TranslatableFiles returns the relative slash paths of all translatable
// files under sourceDir, sorted for stable assignment order.
func TranslatableFiles(sourceDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsTranslatable(path) {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan source directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// CopyResources mirrors every non-translatable file under sourceDir into
// targetDir byte-for-byte, but only if the target copy does not exist yet.
// Existing target files are never overwritten.
func CopyResources(sourceDir, targetDir string) error {
	return filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || IsTranslatable(path) {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(targetDir, rel)
		if _, err := os.Stat(target); err == nil {
			return nil
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create resource directory: %w", err)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open resource %s: %w", src, err)
	}
	defer source.Close()

	destination, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create resource %s: %w", dst, err)
	}
	defer destination.Close()

	if _, err := io.Copy(destination, source); err != nil {
		return fmt.Errorf("failed to copy resource %s: %w", src, err)
	}
	return nil
}
