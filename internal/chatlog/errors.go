package chatlog

import (
	"errors"
	"fmt"
)

// ErrMalformedTimestamp is matched by errors.Is for every
// *MalformedTimestampError.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// ExpectedFormat describes the accepted timestamp grammar.
const ExpectedFormat = "[YYYY/MM/DD HH:MM:SS] or [YYYY/MM/DD HH:MM]" +
	" or [YYYY/MM/DD HH:MM AM/PM]"

// maxLinePreview caps the offending line carried in errors.
const maxLinePreview = 80

// MalformedTimestampError reports an entry whose first line looks
// like a timestamp header but does not match the grammar.
type MalformedTimestampError struct {
	Source   string // label of the merged file, usually a relative path
	Line     string // offending line, truncated
	Expected string
}

func newMalformedTimestampError(
	source, line string,
) *MalformedTimestampError {
	return &MalformedTimestampError{
		Source:   source,
		Line:     truncateRunes(line, maxLinePreview),
		Expected: ExpectedFormat,
	}
}

func (e *MalformedTimestampError) Error() string {
	return fmt.Sprintf(
		"malformed timestamp in %s:\n  line: %s\n  expected format: %s",
		e.Source, e.Line, e.Expected,
	)
}

func (e *MalformedTimestampError) Is(target error) bool {
	return target == ErrMalformedTimestamp
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
