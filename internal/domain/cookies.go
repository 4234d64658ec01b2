package domain

import (
	"fmt"
	"strings"
	"time"
)

// NetscapeCookies converts cookies copied from a browser's storage table
// (name, value, domain, path, expiry, http-only separated by tabs) into the
// Netscape cookie file format read by the download tool. Rows that do not
// parse are skipped.
func NetscapeCookies(pasted string, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Netscape HTTP Cookie File\n")

	for _, line := range strings.Split(pasted, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(fields) < 6 || fields[0] == "" || fields[2] == "" {
			continue
		}
		name, value, domain, path, expiry, httpOnly := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]

		if !strings.HasPrefix(domain, ".") {
			domain = "." + domain
		}
		flag := "FALSE"
		if httpOnly == "✓" {
			flag = "TRUE"
		}

		var expires time.Time
		if expiry == "Session" {
			expires = now.Add(24 * time.Hour)
		} else {
			t, err := time.Parse(time.RFC3339Nano, expiry)
			if err != nil {
				continue
			}
			expires = t
		}

		fmt.Fprintf(&b, "%s\tTRUE\t%s\t%s\t%d\t%s\t%s\n", domain, path, flag, expires.Unix(), name, value)
	}
	return b.String()
}
