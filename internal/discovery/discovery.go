// Package discovery finds the audio files a batch run will process.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathNotExist marks a missing input root. The caller reports it and
// exits non-zero before any transcription begins.
var ErrPathNotExist = errors.New("input path does not exist")

// DefaultExtensions are the audio extensions recognized when none are
// configured.
var DefaultExtensions = []string{".mp3"}

// Discover returns the audio files under root, in traversal order.
// A root that is itself a file with a recognized extension yields a
// one-element slice; a file with an unrecognized extension yields none.
// A directory is walked recursively. An empty result with a nil error
// means zero work, not failure.
func Discover(root string, exts []string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotExist, root)
		}
		return nil, fmt.Errorf("stat input path: %w", err)
	}

	if !info.IsDir() {
		if matchesExt(root, exts) {
			return []string{root}, nil
		}
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if matchesExt(path, exts) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

// matchesExt reports whether path has one of the given extensions,
// case-insensitively.
func matchesExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
