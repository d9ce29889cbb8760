package chatlog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// timestampRe is headerRe with every component captured.
var timestampRe = regexp.MustCompile(
	`^\[(\d{4})/(\d{2})/(\d{2}) (\d{1,2}):(\d{1,2})(?::(\d{2}))?( [AP]M)?\]`,
)

// Timestamp holds the components of a bracketed entry timestamp.
// Year, Month, Day, and Second are kept as written; Hour and Minute
// are parsed so they can be re-padded.
type Timestamp struct {
	Year     string
	Month    string
	Day      string
	Hour     int
	Minute   int
	Second   string // empty when the source had no seconds
	Meridiem string // "AM", "PM", or empty
}

// ParseTimestamp matches the timestamp at the start of line. It
// returns the parsed components and the byte offset just past the
// closing bracket.
func ParseTimestamp(line string) (Timestamp, int, bool) {
	m := timestampRe.FindStringSubmatchIndex(line)
	if m == nil {
		return Timestamp{}, 0, false
	}
	group := func(i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return line[m[2*i]:m[2*i+1]]
	}

	// The grammar guarantees 1-2 ASCII digits.
	hour, _ := strconv.Atoi(group(4))
	minute, _ := strconv.Atoi(group(5))

	return Timestamp{
		Year:     group(1),
		Month:    group(2),
		Day:      group(3),
		Hour:     hour,
		Minute:   minute,
		Second:   group(6),
		Meridiem: strings.TrimSpace(group(7)),
	}, m[1], true
}

// Hour24 returns the hour on a 24-hour clock. Timestamps without a
// meridiem are returned unchanged.
func (ts Timestamp) Hour24() int {
	switch ts.Meridiem {
	case "AM":
		if ts.Hour == 12 {
			return 0
		}
	case "PM":
		if ts.Hour != 12 {
			return ts.Hour + 12
		}
	}
	return ts.Hour
}

// String renders the canonical form: 24-hour clock, two-digit hour
// and minute, seconds only when present, no meridiem.
func (ts Timestamp) String() string {
	if ts.Second != "" {
		return fmt.Sprintf("[%s/%s/%s %02d:%02d:%s]",
			ts.Year, ts.Month, ts.Day,
			ts.Hour24(), ts.Minute, ts.Second)
	}
	return fmt.Sprintf("[%s/%s/%s %02d:%02d]",
		ts.Year, ts.Month, ts.Day, ts.Hour24(), ts.Minute)
}

// NormalizeEntry rewrites the timestamp on the first line of entry
// into canonical form. Entries that do not start with "[" are
// returned unchanged. An entry that starts with "[" but has no
// well-formed timestamp yields a *MalformedTimestampError naming
// source.
func NormalizeEntry(entry, source string) (string, error) {
	if !strings.HasPrefix(entry, "[") {
		return entry, nil
	}

	first, rest, multiline := strings.Cut(entry, "\n")
	ts, end, ok := ParseTimestamp(first)
	if !ok {
		return "", newMalformedTimestampError(source, first)
	}

	normalized := ts.String() + first[end:]
	if multiline {
		normalized += "\n" + rest
	}
	return normalized, nil
}
