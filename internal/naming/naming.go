// Package naming normalizes and validates the names of incoming files and
// folders before they touch the disk.
package naming

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// MaxNameLength bounds file and folder names, extension included.
const MaxNameLength = 200

// Reserved storage-root entries. ThumbsDir and QOIDir are the derivative
// mirror trees; TempDir holds in-flight uploads; SidecarFile persists folder
// identity across restarts.
const (
	ThumbsDir   = "_thumbs"
	QOIDir      = "_qoi"
	TempDir     = ".tmp"
	SidecarFile = ".folders.json"
)

var (
	ErrEmptyName    = errors.New("name is empty")
	ErrReservedName = errors.New("name is reserved")
	ErrInvalidName  = errors.New("name is invalid")
)

// IsReserved reports whether a name collides with internal storage entries.
func IsReserved(name string) bool {
	return name == ThumbsDir || name == QOIDir || name == TempDir || name == SidecarFile
}

// SanitizeFilename strips directory components from a client-declared
// filename and normalizes the remainder into a safe on-disk name. The
// extension is kept (lowercased); the stem is rewritten so it contains only
// letters, digits, '-', '_' and '.'.
func SanitizeFilename(declared string) (string, error) {
	// Strip directory components, tolerating both separator styles.
	base := declared
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." {
		return "", ErrEmptyName
	}

	ext := strings.ToLower(path.Ext(base))
	stem := strings.TrimSuffix(base, path.Ext(base))
	stem = normalizeStem(stem)

	// A name that sanitized away entirely, or that would become a hidden
	// file, gets a generated stem instead.
	if stem == "" || strings.HasPrefix(stem, ".") {
		stem = "file_" + shortID()
	}

	if len(stem)+len(ext) > MaxNameLength {
		stem = stem[:MaxNameLength-len(ext)]
		stem = strings.TrimRight(stem, "_.-")
	}

	name := stem + ext
	if IsReserved(name) {
		return "", fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	return name, nil
}

func normalizeStem(stem string) string {
	stem = strings.ToLower(stem)
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			// Dropped outright.
		case unicode.IsSpace(r):
			b.WriteByte('_')
		case unicode.IsPunct(r) && r != '-' && r != '_' && r != '.':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return strings.Trim(out, "_")
}

// ValidateFolderName checks a folder name as-is: folders keep the name the
// caller chose, so anything unsafe is rejected rather than rewritten.
func ValidateFolderName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: path separator in %q", ErrInvalidName, name)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidName, name, MaxNameLength)
	}
	if IsReserved(name) {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	return nil
}

// WithSuffix inserts a disambiguating suffix between stem and extension:
// photo.jpg -> photo-4f9a1c.jpg.
func WithSuffix(filename, suffix string) string {
	ext := path.Ext(filename)
	return strings.TrimSuffix(filename, ext) + "-" + suffix + ext
}

// UniqueSuffix returns a short random suffix for sibling-name collisions.
func UniqueSuffix() string {
	return shortID()
}

func shortID() string {
	return uuid.NewString()[:8]
}
