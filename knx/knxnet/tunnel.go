// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/util"
)

// tunnelHeaderSize is the size of the connection header of tunnelling services.
const tunnelHeaderSize = 4

// unpackConnHeader parses the connection header shared by TunnelReq and TunnelRes.
func unpackConnHeader(data []byte, channel, seqNumber, status *uint8) (uint, error) {
	var length uint8
	n, err := util.UnpackSome(data, &length, channel, seqNumber, status)
	if err != nil {
		return n, err
	}

	if length != tunnelHeaderSize {
		return n, &util.InvalidFieldError{Field: "connection header length", Value: length}
	}

	return n, nil
}

// A TunnelReq asks a gateway to transmit data.
type TunnelReq struct {
	// Communication channel
	Channel uint8

	// Sequential number, used to track acknowledgements
	SeqNumber uint8

	// Data to be tunneled
	Payload cemi.Message
}

// Service returns the service identifier for tunnel requests.
func (TunnelReq) Service() ServiceID {
	return TunnelReqService
}

// Size returns the packed size.
func (req *TunnelReq) Size() uint {
	return tunnelHeaderSize + cemi.Size(req.Payload)
}

// Pack assembles the service payload in the given buffer.
func (req *TunnelReq) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(tunnelHeaderSize), req.Channel, req.SeqNumber, uint8(0))
	cemi.Pack(buffer[tunnelHeaderSize:], req.Payload)
}

// Unpack parses the given service payload in order to initialize the structure.
func (req *TunnelReq) Unpack(data []byte) (n uint, err error) {
	var reserved uint8
	if n, err = unpackConnHeader(data, &req.Channel, &req.SeqNumber, &reserved); err != nil {
		return
	}

	m, err := cemi.Unpack(data[n:], &req.Payload)
	return n + m, err
}

// A TunnelRes is a response to a TunnelReq. It acts as an acknowledgement.
type TunnelRes struct {
	// Communication channel
	Channel uint8

	// Identifies the request that is being acknowledged
	SeqNumber uint8

	// Status code, determines whether the tunneling succeeded or not
	Status ErrCode
}

// Service returns the service identifier for tunnel responses.
func (TunnelRes) Service() ServiceID {
	return TunnelResService
}

// Size returns the packed size.
func (TunnelRes) Size() uint {
	return tunnelHeaderSize
}

// Pack assembles the service payload in the given buffer.
func (res *TunnelRes) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(tunnelHeaderSize), res.Channel, res.SeqNumber, uint8(res.Status))
}

// Unpack parses the given service payload in order to initialize the structure.
func (res *TunnelRes) Unpack(data []byte) (uint, error) {
	return unpackConnHeader(data, &res.Channel, &res.SeqNumber, (*uint8)(&res.Status))
}
