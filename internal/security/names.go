// Package security guards the file names the report writers derive from
// operator-supplied labels.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxLabelLen = 96

// SanitizeLabel turns an arbitrary run label into a file-name fragment.
// Anything other than ASCII letters, digits, dot, underscore or dash becomes
// a single underscore. Leading and trailing dots and underscores are removed,
// so the result can never be "." or "..". An empty result is "run".
func SanitizeLabel(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLabelLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "run"
	}
	return out
}

// JoinWithin joins name onto dir and rejects results that leave dir.
func JoinWithin(dir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	joined := filepath.Join(dir, name)
	rel, err := filepath.Rel(filepath.Clean(dir), joined)
	if err != nil {
		return "", fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s escapes %s", name, dir)
	}
	return joined, nil
}
