// Package chatlog parses, normalizes, and merges timestamped chat
// log text. Every function here is pure: callers own all file I/O.
package chatlog

import (
	"regexp"
	"strings"
)

// headerRe matches the bracketed timestamp that opens an entry:
// [YYYY/MM/DD H:M], optionally with :SS seconds and an AM/PM suffix.
var headerRe = regexp.MustCompile(
	`^\[\d{4}/\d{2}/\d{2} \d{1,2}:\d{1,2}(:\d{2})?( [AP]M)?\]`,
)

var lineEndingReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// NormalizeLineEndings converts CRLF and lone CR to LF.
func NormalizeLineEndings(text string) string {
	return lineEndingReplacer.Replace(text)
}

// IsHeader reports whether line starts with a recognized timestamp.
func IsHeader(line string) bool {
	return headerRe.MatchString(line)
}

// Segment splits text into entries. A header line starts a new
// entry; non-empty lines without a timestamp continue the current
// one. Blank lines are dropped. Lines before the first header form
// an entry of their own.
func Segment(text string) []string {
	text = NormalizeLineEndings(text)
	if text == "" {
		return nil
	}

	var entries []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			entries = append(entries, strings.Join(current, "\n"))
			current = current[:0]
		}
	}

	for line := range strings.SplitSeq(text, "\n") {
		switch {
		case IsHeader(line):
			flush()
			current = append(current, line)
		case line != "":
			current = append(current, line)
		}
	}
	flush()
	return entries
}
