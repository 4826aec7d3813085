package scan

import "path"

// ShouldIgnore checks if a relative path matches any ignore pattern.
// Patterns are tried against the base name and the full relative path.
func ShouldIgnore(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := path.Match(pattern, path.Base(rel)); err == nil && matched {
			return true
		}
		if matched, err := path.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}
