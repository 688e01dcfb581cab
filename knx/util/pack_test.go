// Licensed under the MIT license which can be found in the LICENSE file.

package util

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedByte uint8

type pair struct {
	A uint8
	B uint16
}

func (pair) Size() uint { return 3 }

func (p *pair) Pack(buffer []byte) { PackSome(buffer, p.A, p.B) }

func (p *pair) Unpack(data []byte) (uint, error) { return UnpackSome(data, &p.A, &p.B) }

func TestPackUnpackSome(t *testing.T) {
	buffer := make([]byte, 13)
	PackSome(buffer, uint8(0x01), uint16(0x0203), namedByte(0x04), [2]byte{0x05, 0x06}, []byte{0x07}, pair{0x08, 0x090a}, uint16(0x0b0c))

	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x00}, buffer)

	var (
		a uint8
		b uint16
		c namedByte
		d [2]byte
		e = make([]byte, 1)
		f pair
		g uint16
	)
	n, err := UnpackSome(buffer, &a, &b, &c, &d, e, &f, &g)
	require.NoError(t, err)
	assert.Equal(t, uint(12), n)
	assert.Equal(t, uint8(0x01), a)
	assert.Equal(t, uint16(0x0203), b)
	assert.Equal(t, namedByte(0x04), c)
	assert.Equal(t, [2]byte{0x05, 0x06}, d)
	assert.Equal(t, []byte{0x07}, e)
	assert.Equal(t, pair{0x08, 0x090a}, f)
	assert.Equal(t, uint16(0x0b0c), g)
}

func TestUnpackSomeTruncated(t *testing.T) {
	var a uint8
	var b uint16
	n, err := UnpackSome([]byte{0x01, 0x02}, &a, &b)
	assert.Equal(t, uint(1), n)

	var truncated *TruncatedBufferError
	require.True(t, errors.As(err, &truncated))
	assert.Equal(t, 2, truncated.Need)
	assert.Equal(t, 1, truncated.Have)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestPackString(t *testing.T) {
	buffer := make([]byte, 8)
	PackString(buffer, 8, "Büro")
	assert.Equal(t, []byte{'B', 0xfc, 'r', 'o', 0, 0, 0, 0}, buffer)

	var s string
	n, err := UnpackString(buffer, 8, &s)
	require.NoError(t, err)
	assert.Equal(t, uint(8), n)
	assert.Equal(t, "Büro", s)

	PackString(buffer, 4, "toolongname")
	assert.Equal(t, []byte("tool"), buffer[:4])

	_, err = UnpackString(buffer[:3], 8, &s)
	assert.Error(t, err)
}
