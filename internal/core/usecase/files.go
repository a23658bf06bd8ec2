package usecase

import (
	"path/filepath"
	"strings"
)

var forbiddenExtensions = map[string]struct{}{
	".exe": {},
	".bat": {},
	".cmd": {},
	".sh":  {},
	".js":  {},
	".php": {},
	".py":  {},
}

// isForbiddenFile reports whether name carries an executable or script extension.
func isForbiddenFile(name string) bool {
	_, ok := forbiddenExtensions[strings.ToLower(filepath.Ext(strings.TrimSpace(name)))]
	return ok
}

// sanitizeFilename keeps [a-zA-Z0-9._-] and replaces everything else,
// path separators included, with an underscore.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || strings.Trim(name, ".") == "" {
		return "document.bin"
	}
	return name
}
