// Licensed under the MIT license which can be found in the LICENSE file.

package cemi

import "fmt"

// FrameType is bit 7 of the first control octet.
type FrameType uint8

const (
	// ExtendedFrame marks an extended frame.
	ExtendedFrame FrameType = 0

	// StandardFrame marks a standard frame.
	StandardFrame FrameType = 1
)

// Priority determines the priority of a telegram on the bus.
type Priority uint8

// These are known priorities.
const (
	PrioritySystem Priority = 0b00
	PriorityNormal Priority = 0b01
	PriorityUrgent Priority = 0b10
	PriorityLow    Priority = 0b11
)

// String returns the name of the priority.
func (p Priority) String() string {
	switch p {
	case PrioritySystem:
		return "system"
	case PriorityNormal:
		return "normal"
	case PriorityUrgent:
		return "urgent"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("Priority(%d)", uint8(p))
}

// AddressType tells whether the destination is an individual or a group address.
type AddressType uint8

const (
	// AddressTypeIndividual means the destination is an IndividualAddr.
	AddressTypeIndividual AddressType = 0

	// AddressTypeGroup means the destination is a GroupAddr.
	AddressTypeGroup AddressType = 1
)

// Bit masks of the first control octet.
const (
	ctrl1FrameType  uint8 = 1 << 7
	ctrl1NoRepeat   uint8 = 1 << 5
	ctrl1NoSysBcast uint8 = 1 << 4
	ctrl1Priority   uint8 = 3 << 2
	ctrl1AckRequest uint8 = 1 << 1
	ctrl1Error      uint8 = 1 << 0
)

// Bit masks of the second control octet.
const (
	ctrl2AddrType    uint8 = 1 << 7
	ctrl2HopCount    uint8 = 7 << 4
	ctrl2FrameFormat uint8 = 15
)

// ControlField is the pair of control octets found in every L_Data frame.
type ControlField struct {
	FrameType FrameType

	// Repeat allows repetitions on error. It is encoded inverted (bit 5 = "do not repeat").
	Repeat bool

	// SystemBroadcast selects system broadcast. It is encoded inverted (bit 4 = "broadcast").
	SystemBroadcast bool

	Priority   Priority
	AckRequest bool

	// Error is the confirm flag, set by the server in a negative L_Data.con.
	Error bool

	AddressType AddressType
	HopCount    uint8
	FrameFormat uint8
}

// NewGroupControl returns the control field commonly used for group communication: standard
// frame, no repetition, low priority, 6 hops.
func NewGroupControl() ControlField {
	return ControlField{
		FrameType:   StandardFrame,
		Priority:    PriorityLow,
		AddressType: AddressTypeGroup,
		HopCount:    6,
	}
}

// NewIndividualControl returns the control field used for point-to-point communication.
func NewIndividualControl() ControlField {
	return ControlField{
		FrameType:   StandardFrame,
		Priority:    PriorityLow,
		AddressType: AddressTypeIndividual,
		HopCount:    6,
	}
}

// Size returns the packed size.
func (ControlField) Size() uint {
	return 2
}

// Pack assembles both control octets in the given buffer.
func (ctrl *ControlField) Pack(buffer []byte) {
	buffer[0], buffer[1] = ctrl.Octets()
}

// Octets returns the two control octets.
func (ctrl *ControlField) Octets() (uint8, uint8) {
	var c1, c2 uint8

	if ctrl.FrameType == StandardFrame {
		c1 |= ctrl1FrameType
	}
	if !ctrl.Repeat {
		c1 |= ctrl1NoRepeat
	}
	if !ctrl.SystemBroadcast {
		c1 |= ctrl1NoSysBcast
	}
	c1 |= uint8(ctrl.Priority&3) << 2
	if ctrl.AckRequest {
		c1 |= ctrl1AckRequest
	}
	if ctrl.Error {
		c1 |= ctrl1Error
	}

	if ctrl.AddressType == AddressTypeGroup {
		c2 |= ctrl2AddrType
	}
	c2 |= (ctrl.HopCount & 7) << 4
	c2 |= ctrl.FrameFormat & ctrl2FrameFormat

	return c1, c2
}

// Unpack parses both control octets.
func (ctrl *ControlField) Unpack(data []byte) (uint, error) {
	if len(data) < 2 {
		return 0, errTruncated("control field", 2, len(data))
	}

	c1, c2 := data[0], data[1]

	ctrl.FrameType = FrameType(c1 >> 7)
	ctrl.Repeat = c1&ctrl1NoRepeat == 0
	ctrl.SystemBroadcast = c1&ctrl1NoSysBcast == 0
	ctrl.Priority = Priority((c1 & ctrl1Priority) >> 2)
	ctrl.AckRequest = c1&ctrl1AckRequest != 0
	ctrl.Error = c1&ctrl1Error != 0

	ctrl.AddressType = AddressType(c2 >> 7)
	ctrl.HopCount = (c2 & ctrl2HopCount) >> 4
	ctrl.FrameFormat = c2 & ctrl2FrameFormat

	return 2, nil
}
