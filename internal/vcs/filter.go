package vcs

import (
	"path/filepath"
	"strings"
)

// FileFilter decides which repository files are worth indexing.
type FileFilter struct {
	Extensions []string
	Excluded   []string
	MaxBytes   int64
}

// IsExcluded reports whether rel matches an exclusion pattern, either as a glob over
// the whole path or base name, or as a plain substring.
func (f FileFilter) IsExcluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, p := range f.Excluded {
		if p == "" {
			continue
		}
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if strings.Contains(rel, p) {
			return true
		}
	}
	return false
}

// HasExtension reports whether rel carries one of the allowed extensions.
// An empty allow-list admits every file.
func (f FileFilter) HasExtension(rel string) bool {
	if len(f.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(rel))
	for _, e := range f.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

func (f FileFilter) TooLarge(size int64) bool {
	return f.MaxBytes > 0 && size > f.MaxBytes
}
