// Licensed under the MIT license which can be found in the LICENSE file.

package util

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// PackString writes s as a zero-padded ISO 8859-1 string of exactly maxLen bytes. Characters
// outside of ISO 8859-1 are replaced, longer strings are cut.
func PackString(buffer []byte, maxLen int, s string) {
	encoded, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		encoded = strings.Map(func(r rune) rune {
			if r > 0xff {
				return '?'
			}
			return r
		}, s)
		encoded, _ = charmap.ISO8859_1.NewEncoder().String(encoded)
	}

	n := copy(buffer[:maxLen], encoded)
	for i := n; i < maxLen; i++ {
		buffer[i] = 0
	}
}

// UnpackString reads a zero-padded ISO 8859-1 string of maxLen bytes.
func UnpackString(data []byte, maxLen int, s *string) (uint, error) {
	if len(data) < maxLen {
		return 0, &TruncatedBufferError{Structure: "string", Need: maxLen, Have: len(data)}
	}

	raw := data[:maxLen]
	if i := strings.IndexByte(string(raw), 0); i >= 0 {
		raw = raw[:i]
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return 0, err
	}

	*s = string(decoded)
	return uint(maxLen), nil
}
