// Package validation checks names and content supplied by clients before
// they reach the library.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxNameLength is the common filesystem limit.
const maxNameLength = 255

var ErrInvalidMediaName = errors.New("invalid media name")

// dangerousChars can break headers or escape the media directory.
var dangerousChars = map[rune]bool{
	'"':  true,
	'\\': true,
	'/':  true,
	':':  true,
	'\n': true,
	'\r': true,
}

// mediaName matches the files the server writes: an item id, a dash and an
// ASCII file name.
var mediaName = regexp.MustCompile(`^[0-9]+-[A-Za-z0-9_.-]+$`)

// UploadName cleans a client-supplied upload file name. Unicode is kept,
// separators and control characters become underscores and the result is
// truncated to 255 bytes with its extension preserved. An empty result
// becomes "upload".
func UploadName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if r < 32 || r == 127 || dangerousChars[r] {
			sb.WriteRune('_')
			continue
		}
		sb.WriteRune(r)
	}

	result := strings.TrimSpace(sb.String())
	if strings.Trim(result, "_.") == "" {
		return "upload"
	}
	if len(result) > maxNameLength {
		result = truncatePreservingExtension(result)
	}
	return result
}

// MediaName rejects anything that is not a plain file name the server
// could have written into the media directory.
func MediaName(name string) error {
	if name == "" || len(name) > maxNameLength || strings.Contains(name, "..") || !mediaName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidMediaName, name)
	}
	return nil
}

// InlineDisposition is a Content-Disposition value for serving name inline.
func InlineDisposition(name string) string {
	return fmt.Sprintf("inline; filename=%q", UploadName(name))
}

func truncatePreservingExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || len(ext) >= maxNameLength {
		return truncateToBytes(name, maxNameLength)
	}
	base := name[:len(name)-len(ext)]
	return truncateToBytes(base, maxNameLength-len(ext)) + ext
}

// truncateToBytes cuts s to at most maxBytes without splitting a rune.
func truncateToBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
