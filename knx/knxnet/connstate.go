// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import "github.com/LB-00/knx-secure/knx/util"

// A ConnStateReq requests the connection state from a gateway.
type ConnStateReq struct {
	Channel uint8
	Status  uint8
	Control HostInfo
}

// Service returns the service identifier for the Connection State Request.
func (ConnStateReq) Service() ServiceID {
	return ConnStateReqService
}

// Size returns the packed size.
func (req *ConnStateReq) Size() uint {
	return 2 + req.Control.Size()
}

// Pack assembles the service payload in the given buffer.
func (req *ConnStateReq) Pack(buffer []byte) {
	util.PackSome(buffer, req.Channel, req.Status, req.Control)
}

// Unpack parses the given service payload in order to initialize the structure.
func (req *ConnStateReq) Unpack(data []byte) (uint, error) {
	return util.UnpackSome(data, &req.Channel, &req.Status, &req.Control)
}

// A ConnStateRes is a response to a ConnStateReq.
type ConnStateRes struct {
	Channel uint8
	Status  ErrCode
}

// Service returns the service identifier for the Connection State Response.
func (ConnStateRes) Service() ServiceID {
	return ConnStateResService
}

// Size returns the packed size.
func (ConnStateRes) Size() uint {
	return 2
}

// Pack assembles the service payload in the given buffer.
func (res *ConnStateRes) Pack(buffer []byte) {
	util.PackSome(buffer, res.Channel, uint8(res.Status))
}

// Unpack parses the given service payload in order to initialize the structure.
func (res *ConnStateRes) Unpack(data []byte) (uint, error) {
	return util.UnpackSome(data, &res.Channel, (*uint8)(&res.Status))
}

// StatusString describes the status of the response.
func (res *ConnStateRes) StatusString() string {
	return res.Status.String()
}
