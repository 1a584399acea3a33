// Package fileutil provides transcript file naming utilities.
package fileutil

import (
	"fmt"
	"regexp"
	"strings"
)

// illegalChars are characters unsafe in filenames: / \ : * ? " < > |
var illegalChars = regexp.MustCompile(`[\/\\:*?"<>|]`)

// SanitizeStem makes an input file stem safe for use as an output filename.
// Legal characters pass through untouched so "episode.mp3" still maps to
// "episode.txt".
func SanitizeStem(stem string) string {
	s := illegalChars.ReplaceAllString(stem, "_")
	s = strings.TrimSpace(s)
	if s == "" {
		return "transcript"
	}
	return s
}

// UniqueStem returns stem if unused, otherwise the first "stem-N" (N >= 2)
// not present in taken. The chosen stem is recorded in taken. Output is
// flat, so two inputs sharing a base name must not share a transcript.
func UniqueStem(stem string, taken map[string]bool) string {
	if !taken[stem] {
		taken[stem] = true
		return stem
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", stem, i)
		if !taken[candidate] {
			taken[candidate] = true
			return candidate
		}
	}
}
