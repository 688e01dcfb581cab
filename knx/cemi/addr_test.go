// Licensed under the MIT license which can be found in the LICENSE file.

package cemi

import (
	"errors"
	"testing"

	"github.com/LB-00/knx-secure/knx/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndividualAddrString(t *testing.T) {
	for _, addr := range []IndividualAddr{0, 1, 0x1101, 0xfe01, 0xffff} {
		parsed, err := NewIndividualAddrString(addr.String())
		require.NoError(t, err)
		assert.Equal(t, addr, parsed)
	}

	addr, err := NewIndividualAddrString("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, IndividualAddr(0x1203), addr)
	assert.Equal(t, NewIndividualAddr3(1, 2, 3), addr)
}

func TestGroupAddrFormats(t *testing.T) {
	cases := []struct {
		text   string
		format GroupAddrFormat
		addr   GroupAddr
	}{
		{"1/1/1", GroupAddrFormatThreeLevel, 0x0901},
		{"1/2/3", GroupAddrFormatThreeLevel, 0x0a03},
		{"31/7/255", GroupAddrFormatThreeLevel, 0xffff},
		{"1/515", GroupAddrFormatTwoLevel, 0x0a03},
		{"31/2047", GroupAddrFormatTwoLevel, 0xffff},
		{"2563", GroupAddrFormatFree, 0x0a03},
	}

	for _, c := range cases {
		t.Run(c.text, func(t *testing.T) {
			addr, err := NewGroupAddrString(c.text)
			require.NoError(t, err)
			assert.Equal(t, c.addr, addr)
			assert.Equal(t, c.text, addr.Format(c.format))
		})
	}
}

func TestGroupAddrRoundTrip(t *testing.T) {
	for v := 0; v <= 0xffff; v += 97 {
		addr := GroupAddr(v)
		for _, format := range []GroupAddrFormat{GroupAddrFormatThreeLevel, GroupAddrFormatTwoLevel, GroupAddrFormatFree} {
			parsed, err := NewGroupAddrString(addr.Format(format))
			require.NoError(t, err)
			assert.Equal(t, addr, parsed)
		}
	}
}

func TestAddrInvalid(t *testing.T) {
	for _, text := range []string{"32/0/0", "1/8/0", "1/2/256", "1/2048", "65536", "a/b/c", "1/2/3/4", ""} {
		_, err := NewGroupAddrString(text)
		var invalid *util.InvalidFieldError
		assert.True(t, errors.As(err, &invalid), text)
	}

	for _, text := range []string{"16.0.0", "1.16.0", "1.1.256", "1.1", "x"} {
		_, err := NewIndividualAddrString(text)
		assert.Error(t, err, text)
	}
}
