// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import "fmt"

// ErrCode is the status code returned by a KNXnet/IP server.
type ErrCode uint8

// These are known status codes.
const (
	NoError                    ErrCode = 0x00
	ErrHostProtocolType        ErrCode = 0x01
	ErrVersionNotSupported     ErrCode = 0x02
	ErrSequenceNumber          ErrCode = 0x04
	ErrConnectionID            ErrCode = 0x21
	ErrConnectionType          ErrCode = 0x22
	ErrConnectionOption        ErrCode = 0x23
	ErrNoMoreConnections       ErrCode = 0x24
	ErrNoMoreUniqueConnections ErrCode = 0x25
	ErrDataConnection          ErrCode = 0x26
	ErrKNXConnection           ErrCode = 0x27
	ErrAuthorisation           ErrCode = 0x28
	ErrTunnellingLayer         ErrCode = 0x29
)

// String describes the status code.
func (err ErrCode) String() string {
	switch err {
	case NoError:
		return "Operation successful"
	case ErrHostProtocolType:
		return "The requested host protocol is not supported"
	case ErrVersionNotSupported:
		return "The requested protocol version is not supported"
	case ErrSequenceNumber:
		return "The received sequence number is out of order"
	case ErrConnectionID:
		return "No active data connection with the given ID"
	case ErrConnectionType:
		return "The requested connection type is not supported"
	case ErrConnectionOption:
		return "One of the requested options is not supported"
	case ErrNoMoreConnections:
		return "No more connections available"
	case ErrNoMoreUniqueConnections:
		return "No more unique connections available"
	case ErrDataConnection:
		return "Error in the data connection with the given ID"
	case ErrKNXConnection:
		return "Error in the KNX connection"
	case ErrAuthorisation:
		return "The client is not authorised to use the requested individual address"
	case ErrTunnellingLayer:
		return "The requested tunnelling layer is not supported"
	}
	return fmt.Sprintf("Unknown status code %#02x", uint8(err))
}

// Error implements the error interface.
func (err ErrCode) Error() string {
	return "knxnet: " + err.String()
}
