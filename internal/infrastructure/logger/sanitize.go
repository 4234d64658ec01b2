package logger

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// maxFieldLen caps one sanitized value. Video descriptions and client
// payloads can be arbitrarily long.
const maxFieldLen = 200

// SanitizeForLog makes a remote or client supplied value safe for a single
// log line. Newlines, tabs and NUL get their usual escapes, other C0/C1
// controls become \xNN, and Unicode format characters (bidi overrides, zero
// width joiners) become \uNNNN so a title cannot reorder or hide text in a
// terminal. Printable Unicode is kept. Values longer than maxFieldLen runes
// are cut and end in "...".
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(min(len(s), maxFieldLen+8))

	n := 0
	for _, r := range s {
		if n == maxFieldLen {
			result.WriteString("...")
			break
		}
		n++

		switch {
		case r == '\n':
			result.WriteString(`\n`)
		case r == '\r':
			result.WriteString(`\r`)
		case r == '\t':
			result.WriteString(`\t`)
		case r < 0x20 || (r >= 0x7f && r <= 0x9f):
			fmt.Fprintf(&result, `\x%02x`, r)
		case unicode.Is(unicode.Cf, r):
			fmt.Fprintf(&result, `\u%04x`, r)
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}

// SanitizeURL is SanitizeForLog for URLs handed to yt-dlp. Credentials and
// query values other than the video and playlist ids are dropped, since
// storyboard and media URLs carry signatures.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return SanitizeForLog(raw)
	}
	u.User = nil
	u.Fragment = ""
	q := u.Query()
	for key := range q {
		if key != "v" && key != "list" {
			q.Set(key, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return SanitizeForLog(u.String())
}
