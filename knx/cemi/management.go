// T_CONNECT and T_DISCONNECT requests are part of the Device Management
// service family and are used to establish and terminate point-to-point
// connections to KNX devices. See KNX Standard 03_08_03 Management.

package cemi

// ControlConn represents a T_CONNECT ControlData structure.
type ControlConn struct {
	ControlData
}

// TConnect creates a new T_CONNECT ControlData structure.
func TConnect() *ControlConn {
	return &ControlConn{
		ControlData: ControlData{Command: uint8(Connect)},
	}
}

// ControlDisc represents a T_DISCONNECT ControlData structure.
type ControlDisc struct {
	ControlData
}

// TDisconnect creates a new T_DISCONNECT ControlData structure.
func TDisconnect() *ControlDisc {
	return &ControlDisc{
		ControlData: ControlData{Command: uint8(Disconnect)},
	}
}

// ControlAck represents a T_ACK ControlData structure.
type ControlAck struct {
	ControlData
}

// TAck creates a new T_ACK ControlData structure with the given sequence number.
func TAck(seqNumber uint8) *ControlAck {
	return &ControlAck{
		ControlData: ControlData{Numbered: true, SeqNumber: seqNumber, Command: uint8(Ack)},
	}
}

// ControlNak represents a T_NAK ControlData structure.
type ControlNak struct {
	ControlData
}

// TNak creates a new T_NAK ControlData structure with the given sequence number.
func TNak(seqNumber uint8) *ControlNak {
	return &ControlNak{
		ControlData: ControlData{Numbered: true, SeqNumber: seqNumber, Command: uint8(Nak)},
	}
}

// newPointToPoint wraps a transport unit in an L_Data.req addressed to a single device.
func newPointToPoint(src, dst IndividualAddr, unit TransportUnit, repeat bool) *LDataReq {
	control := NewIndividualControl()
	control.Repeat = repeat

	return &LDataReq{
		LData: LData{
			Control:     control,
			Source:      src,
			Destination: uint16(dst),
			Data:        unit,
		},
	}
}

// NewConnReq creates a new L_Data.req message with a T_CONNECT transport control field
// using the specified source and destination addresses.
func NewConnReq(src, dst IndividualAddr) *LDataReq {
	return newPointToPoint(src, dst, TConnect(), false)
}

// NewDiscReq creates a new L_Data.req message with a T_DISCONNECT transport control field
// using the specified source and destination addresses.
func NewDiscReq(src, dst IndividualAddr) *LDataReq {
	return newPointToPoint(src, dst, TDisconnect(), false)
}

// NewAck creates a new L_Data.req message with a T_ACK transport control field
// using the specified source and destination addresses and sequence number.
func NewAck(src, dst IndividualAddr, seq uint8) *LDataReq {
	return newPointToPoint(src, dst, TAck(seq), true)
}

// NewNak creates a new L_Data.req message with a T_NAK transport control field.
func NewNak(src, dst IndividualAddr, seq uint8) *LDataReq {
	return newPointToPoint(src, dst, TNak(seq), true)
}
