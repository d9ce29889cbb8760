package sync

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// decodeText returns a chat log's bytes as a string and whether
// the Latin-1 fallback was used. Files that are not valid UTF-8 are
// decoded as ISO-8859-1, which accepts every byte sequence.
func decodeText(data []byte) (string, bool) {
	if utf8.Valid(data) {
		return string(data), false
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(data), true
	}
	return string(out), true
}
