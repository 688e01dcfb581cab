// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package cemi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/LB-00/knx-secure/knx/util"
)

// IndividualAddr is an address for a KNX device.
type IndividualAddr uint16

// NewIndividualAddr3 generates an individual address from an "a.b.c"-representation, where a is
// the area address [0..15], b is the line address [0..15] and c is the device address [0..255].
func NewIndividualAddr3(a, b, c uint8) IndividualAddr {
	return NewIndividualAddr2(a<<4|b&15, c)
}

// NewIndividualAddr2 generates an individual address from an "a.b"-representation, where a is
// the subnetwork address [0..255] and b is the device address [0..255].
func NewIndividualAddr2(a, b uint8) IndividualAddr {
	return IndividualAddr(a)<<8 | IndividualAddr(b)
}

// NewIndividualAddrString parses the given string to an individual address. Supported formats
// are %d.%d.%d ([0..15], [0..15], [0..255]) and %d ([0..65535]).
func NewIndividualAddrString(addr string) (IndividualAddr, error) {
	parts := strings.Split(addr, ".")

	switch len(parts) {
	case 3:
		nums, err := parseParts(parts, 15, 15, 255)
		if err != nil {
			return 0, &util.InvalidFieldError{Field: "individual address", Value: addr}
		}
		return NewIndividualAddr3(uint8(nums[0]), uint8(nums[1]), uint8(nums[2])), nil

	case 1:
		nums, err := parseParts(parts, 0xffff)
		if err != nil {
			return 0, &util.InvalidFieldError{Field: "individual address", Value: addr}
		}
		return IndividualAddr(nums[0]), nil
	}

	return 0, &util.InvalidFieldError{Field: "individual address", Value: addr}
}

// String generates a string representation "a.b.c" where
// a = Area Address = 4 bits, b = Line Address = 4 bits,
// c = Device Address = 1 byte.
func (addr IndividualAddr) String() string {
	return fmt.Sprintf("%d.%d.%d", uint8(addr>>12)&15, uint8(addr>>8)&15, uint8(addr))
}

// GroupAddr is an address for a KNX group object.
type GroupAddr uint16

// GroupAddrFormat selects the textual representation of a group address.
type GroupAddrFormat uint8

const (
	// GroupAddrFormatThreeLevel is "main/middle/sub" with 5/3/8 bits.
	GroupAddrFormatThreeLevel GroupAddrFormat = iota

	// GroupAddrFormatTwoLevel is "main/sub" with 5/11 bits.
	GroupAddrFormatTwoLevel

	// GroupAddrFormatFree is the plain 16 bit number.
	GroupAddrFormatFree
)

// NewGroupAddr3 generates a group address from an "a/b/c"-representation, where a is the main
// group [0..31], b is the middle group [0..7], c is the sub group [0..255].
func NewGroupAddr3(a, b, c uint8) GroupAddr {
	return GroupAddr(a&31)<<11 | GroupAddr(b&7)<<8 | GroupAddr(c)
}

// NewGroupAddr2 generates a group address from an "a/b"-representation, where a is the main
// group [0..31] and b is the sub group [0..2047].
func NewGroupAddr2(a uint8, b uint16) GroupAddr {
	return GroupAddr(a&31)<<11 | GroupAddr(b&2047)
}

// NewGroupAddrString parses the given string to a group address. Supported formats are
// %d/%d/%d ([0..31], [0..7], [0..255]), %d/%d ([0..31], [0..2047]) and %d ([0..65535]).
func NewGroupAddrString(addr string) (GroupAddr, error) {
	parts := strings.Split(addr, "/")

	switch len(parts) {
	case 3:
		nums, err := parseParts(parts, 31, 7, 255)
		if err != nil {
			return 0, &util.InvalidFieldError{Field: "group address", Value: addr}
		}
		return NewGroupAddr3(uint8(nums[0]), uint8(nums[1]), uint8(nums[2])), nil

	case 2:
		nums, err := parseParts(parts, 31, 2047)
		if err != nil {
			return 0, &util.InvalidFieldError{Field: "group address", Value: addr}
		}
		return NewGroupAddr2(uint8(nums[0]), uint16(nums[1])), nil

	case 1:
		nums, err := parseParts(parts, 0xffff)
		if err != nil {
			return 0, &util.InvalidFieldError{Field: "group address", Value: addr}
		}
		return GroupAddr(nums[0]), nil
	}

	return 0, &util.InvalidFieldError{Field: "group address", Value: addr}
}

// String generates the three-level representation "a/b/c" where
// a = Main Group = 5 bits, b = Middle Group = 3 bits, c = Sub Group = 1 byte.
func (addr GroupAddr) String() string {
	return addr.Format(GroupAddrFormatThreeLevel)
}

// Format generates the representation of the address in the given format.
func (addr GroupAddr) Format(format GroupAddrFormat) string {
	switch format {
	case GroupAddrFormatTwoLevel:
		return fmt.Sprintf("%d/%d", uint8(addr>>11)&31, uint16(addr)&2047)
	case GroupAddrFormatFree:
		return strconv.Itoa(int(addr))
	default:
		return fmt.Sprintf("%d/%d/%d", uint8(addr>>11)&31, uint8(addr>>8)&7, uint8(addr))
	}
}

// parseParts converts each part to a number no larger than the corresponding limit.
func parseParts(parts []string, limits ...uint64) ([]uint64, error) {
	nums := make([]uint64, len(parts))
	for i, part := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 16)
		if err != nil {
			return nil, err
		}
		if n > limits[i] {
			return nil, fmt.Errorf("%d exceeds %d", n, limits[i])
		}
		nums[i] = n
	}
	return nums, nil
}
