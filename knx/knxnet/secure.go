// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"errors"
	"fmt"

	"github.com/LB-00/knx-secure/knx/util"
)

// Sizes of the fields used by the KNX IP Secure services.
const (
	PublicKeySize = 32
	MACSize       = 16
	SequenceSize  = 6
	SerialSize    = 6

	// SecureWrapperMinSize is the size of a Secure Wrapper frame with an empty payload.
	SecureWrapperMinSize = HeaderSize + 2 + SequenceSize + SerialSize + 2 + MACSize
)

// ErrInvalidBufferLength is returned for a Secure Wrapper frame shorter than SecureWrapperMinSize.
var ErrInvalidBufferLength = errors.New("knxnet: secure wrapper frame too short")

// lengthError reports a secure service whose body does not have the required size.
func lengthError(service ServiceID, have int) error {
	return &util.InvalidFieldError{Field: fmt.Sprintf("%v body length", service), Value: have}
}

// A SessionReq opens a secure session. It carries the client's Curve25519 public key.
type SessionReq struct {
	Control   HostInfo
	PublicKey [PublicKeySize]byte
}

// Service returns the service identifier for Session Request.
func (SessionReq) Service() ServiceID {
	return SessionReqService
}

// Size returns the packed size.
func (req *SessionReq) Size() uint {
	return req.Control.Size() + PublicKeySize
}

// Pack assembles the service payload in the given buffer.
func (req *SessionReq) Pack(buffer []byte) {
	util.PackSome(buffer, req.Control, req.PublicKey[:])
}

// Unpack parses the given service payload in order to initialize the structure.
func (req *SessionReq) Unpack(data []byte) (uint, error) {
	if len(data) != HostInfoSize+PublicKeySize {
		return 0, lengthError(SessionReqService, len(data))
	}
	return util.UnpackSome(data, &req.Control, req.PublicKey[:])
}

// A SessionRes answers a SessionReq with the session id, the server's public key and a MAC
// keyed by the device authentication code.
type SessionRes struct {
	SessionID uint16
	PublicKey [PublicKeySize]byte
	MAC       [MACSize]byte
}

// Service returns the service identifier for Session Response.
func (SessionRes) Service() ServiceID {
	return SessionResService
}

// Size returns the packed size.
func (SessionRes) Size() uint {
	return 2 + PublicKeySize + MACSize
}

// Pack assembles the service payload in the given buffer.
func (res *SessionRes) Pack(buffer []byte) {
	util.PackSome(buffer, res.SessionID, res.PublicKey[:], res.MAC[:])
}

// Unpack parses the given service payload in order to initialize the structure.
func (res *SessionRes) Unpack(data []byte) (uint, error) {
	if len(data) != int(res.Size()) {
		return 0, lengthError(SessionResService, len(data))
	}
	return util.UnpackSome(data, &res.SessionID, res.PublicKey[:], res.MAC[:])
}

// A SessionAuth authenticates the user of a secure session.
type SessionAuth struct {
	UserID uint8
	MAC    [MACSize]byte
}

// Service returns the service identifier for Session Authenticate.
func (SessionAuth) Service() ServiceID {
	return SessionAuthService
}

// Size returns the packed size.
func (SessionAuth) Size() uint {
	return 2 + MACSize
}

// Pack assembles the service payload in the given buffer.
func (auth *SessionAuth) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(0), auth.UserID, auth.MAC[:])
}

// Unpack parses the given service payload in order to initialize the structure.
func (auth *SessionAuth) Unpack(data []byte) (uint, error) {
	if len(data) != int(auth.Size()) {
		return 0, lengthError(SessionAuthService, len(data))
	}

	var reserved uint8
	return util.UnpackSome(data, &reserved, &auth.UserID, auth.MAC[:])
}

// SessionStatusCode is the status reported by a Session Status.
type SessionStatusCode uint8

// These are the session status codes.
const (
	SessionAuthSuccess     SessionStatusCode = 0x00
	SessionAuthFailed      SessionStatusCode = 0x01
	SessionUnauthenticated SessionStatusCode = 0x02
	SessionTimeout         SessionStatusCode = 0x03
	SessionKeepAlive       SessionStatusCode = 0x04
	SessionClose           SessionStatusCode = 0x05
)

// String describes the status code.
func (status SessionStatusCode) String() string {
	switch status {
	case SessionAuthSuccess:
		return "authentication success"
	case SessionAuthFailed:
		return "authentication failed"
	case SessionUnauthenticated:
		return "unauthenticated"
	case SessionTimeout:
		return "timeout"
	case SessionKeepAlive:
		return "keep alive"
	case SessionClose:
		return "close"
	}
	return fmt.Sprintf("SessionStatusCode(%#02x)", uint8(status))
}

// A SessionStatus reports the state of a secure session. It follows the status octet with a
// reserved octet; a body without the reserved octet is accepted on input.
type SessionStatus struct {
	Status SessionStatusCode
}

// Service returns the service identifier for Session Status.
func (SessionStatus) Service() ServiceID {
	return SessionStatusService
}

// Size returns the packed size.
func (SessionStatus) Size() uint {
	return 2
}

// Pack assembles the service payload in the given buffer.
func (status *SessionStatus) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(status.Status), uint8(0))
}

// Unpack parses the given service payload in order to initialize the structure.
func (status *SessionStatus) Unpack(data []byte) (uint, error) {
	if len(data) != 1 && len(data) != 2 {
		return 0, lengthError(SessionStatusService, len(data))
	}

	status.Status = SessionStatusCode(data[0])
	return uint(len(data)), nil
}

// A SecureWrapper carries an encrypted KNXnet/IP frame. The cryptographic operations live in the
// secure package; this type only describes the layout.
type SecureWrapper struct {
	SessionID uint16
	Sequence  [SequenceSize]byte
	Serial    [SerialSize]byte
	Tag       uint16
	Payload   []byte
	MAC       [MACSize]byte
}

// Service returns the service identifier for Secure Wrapper.
func (SecureWrapper) Service() ServiceID {
	return SecureWrapperService
}

// Size returns the packed size.
func (w *SecureWrapper) Size() uint {
	return SecureWrapperMinSize - HeaderSize + uint(len(w.Payload))
}

// Pack assembles the service payload in the given buffer.
func (w *SecureWrapper) Pack(buffer []byte) {
	util.PackSome(buffer, w.SessionID, w.Sequence[:], w.Serial[:], w.Tag, w.Payload, w.MAC[:])
}

// Unpack parses the given service payload in order to initialize the structure.
func (w *SecureWrapper) Unpack(data []byte) (uint, error) {
	if len(data) < SecureWrapperMinSize-HeaderSize {
		return 0, ErrInvalidBufferLength
	}

	n, err := util.UnpackSome(data, &w.SessionID, w.Sequence[:], w.Serial[:], &w.Tag)
	if err != nil {
		return 0, err
	}

	end := uint(len(data)) - MACSize
	w.Payload = append([]byte(nil), data[n:end]...)
	copy(w.MAC[:], data[end:])

	return uint(len(data)), nil
}

// Header returns the KNXnet/IP header of the wrapper frame. It is part of the data
// authenticated by the MAC.
func (w *SecureWrapper) Header() Header {
	return NewHeader(SecureWrapperService, w.Size())
}
