// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

// Package cemi implements the Common External Message Interface used to carry KNX telegrams
// inside KNXnet/IP frames.
package cemi

import (
	"fmt"

	"github.com/LB-00/knx-secure/knx/util"
)

// MessageCode is used to identify the contents of a CEMI frame.
type MessageCode uint8

// These are known message codes.
const (
	LDataReqCode MessageCode = 0x11
	LDataConCode MessageCode = 0x2E
	LDataIndCode MessageCode = 0x29
)

// String returns the name of the message code.
func (code MessageCode) String() string {
	switch code {
	case LDataReqCode:
		return "L_Data.req"
	case LDataConCode:
		return "L_Data.con"
	case LDataIndCode:
		return "L_Data.ind"
	}
	return fmt.Sprintf("MessageCode(%#02x)", uint8(code))
}

// UnsupportedMessageCodeError indicates an unsupported message code.
type UnsupportedMessageCodeError struct {
	MessageCode MessageCode
}

func (err UnsupportedMessageCodeError) Error() string {
	return fmt.Sprintf("knx: unsupported cEMI message code %#02x", uint8(err.MessageCode))
}

// Message is the body of a cEMI frame.
type Message interface {
	util.Packable
	MessageCode() MessageCode
}

// Size returns the packed size of the message including its message code.
func Size(message Message) uint {
	return 1 + message.Size()
}

// Pack assembles the message code and the message in the given buffer.
func Pack(buffer []byte, message Message) {
	buffer[0] = byte(message.MessageCode())
	message.Pack(buffer[1:])
}

// AllocAndPack allocates a buffer and packs the message into it.
func AllocAndPack(message Message) []byte {
	buffer := make([]byte, Size(message))
	Pack(buffer, message)
	return buffer
}

// Unpack parses the given cEMI frame. The concrete message type is selected by the leading
// message code.
func Unpack(data []byte, message *Message) (uint, error) {
	if len(data) < 1 {
		return 0, errTruncated("cEMI frame", 1, 0)
	}

	var body interface {
		Message
		util.Unpackable
	}

	switch MessageCode(data[0]) {
	case LDataReqCode:
		body = &LDataReq{}
	case LDataConCode:
		body = &LDataCon{}
	case LDataIndCode:
		body = &LDataInd{}
	default:
		return 0, UnsupportedMessageCodeError{MessageCode(data[0])}
	}

	n, err := body.Unpack(data[1:])
	if err != nil {
		return 0, err
	}

	*message = body
	return n + 1, nil
}

func errTruncated(structure string, need, have int) error {
	return &util.TruncatedBufferError{Structure: structure, Need: need, Have: have}
}
