package chatlog

import (
	"slices"
	"strings"
)

// MergeBlobs concatenates the copies of one logical file in the
// order given and merges them. source labels errors.
func MergeBlobs(blobs []string, source string) (string, error) {
	return Merge(strings.Join(blobs, ""), source)
}

// Merge segments text into entries, normalizes their timestamps,
// sorts them byte-wise, and drops exact duplicates. The result uses
// LF line endings and ends with exactly one newline. Any malformed
// timestamp aborts the merge with no partial result.
func Merge(text, source string) (string, error) {
	if text == "" {
		return "\n", nil
	}

	entries := Segment(text)
	for i, entry := range entries {
		normalized, err := NormalizeEntry(entry, source)
		if err != nil {
			return "", err
		}
		entries[i] = normalized
	}

	// Go string ordering compares UTF-8 bytes, so this is
	// independent of locale.
	slices.Sort(entries)
	entries = slices.Compact(entries)

	// Blank-only input has no entries and yields "\n", the same as
	// empty input, so Merge(Merge(x)) == Merge(x) holds.
	out := strings.Join(entries, "\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out, nil
}

// CountEntries returns the number of entries Segment finds in text.
func CountEntries(text string) int {
	return len(Segment(text))
}
