// Licensed under the MIT license which can be found in the LICENSE file.

package util

import (
	"fmt"
	"io"
)

// TruncatedBufferError is returned when a buffer is shorter than a declared or required length.
// The frame it belongs to must be treated as malformed.
type TruncatedBufferError struct {
	Structure string
	Need      int
	Have      int
}

func (e *TruncatedBufferError) Error() string {
	if e.Structure == "" {
		return fmt.Sprintf("knx: buffer too short: need %d bytes, have %d", e.Need, e.Have)
	}
	return fmt.Sprintf("knx: buffer too short for %s: need %d bytes, have %d", e.Structure, e.Need, e.Have)
}

// Is makes TruncatedBufferError match io.ErrUnexpectedEOF.
func (e *TruncatedBufferError) Is(target error) bool {
	return target == io.ErrUnexpectedEOF
}

// InvalidFieldError is returned when a numeric or textual field is out of range.
type InvalidFieldError struct {
	Field string
	Value interface{}
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("knx: invalid %s: %v", e.Field, e.Value)
}

// CheckLength returns a TruncatedBufferError if data holds fewer than need bytes.
func CheckLength(structure string, data []byte, need int) error {
	if len(data) < need {
		return &TruncatedBufferError{Structure: structure, Need: need, Have: len(data)}
	}
	return nil
}
