// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import "github.com/LB-00/knx-secure/knx/util"

// A DiscReq requests a connection to be terminated.
type DiscReq struct {
	Channel uint8
	Status  uint8
	Control HostInfo
}

// Service returns the service identifier for Disconnect Request.
func (DiscReq) Service() ServiceID {
	return DiscReqService
}

// Size returns the packed size.
func (req *DiscReq) Size() uint {
	return 2 + req.Control.Size()
}

// Pack assembles the service payload in the given buffer.
func (req *DiscReq) Pack(buffer []byte) {
	util.PackSome(buffer, req.Channel, req.Status, req.Control)
}

// Unpack parses the given service payload in order to initialize the structure.
func (req *DiscReq) Unpack(data []byte) (uint, error) {
	return util.UnpackSome(data, &req.Channel, &req.Status, &req.Control)
}

// A DiscRes is a response to a DiscReq.
type DiscRes struct {
	Channel uint8
	Status  ErrCode
}

// Service returns the service identifier for Disconnect Response.
func (DiscRes) Service() ServiceID {
	return DiscResService
}

// Size returns the packed size.
func (DiscRes) Size() uint {
	return 2
}

// Pack assembles the service payload in the given buffer.
func (res *DiscRes) Pack(buffer []byte) {
	util.PackSome(buffer, res.Channel, uint8(res.Status))
}

// Unpack parses the given service payload in order to initialize the structure.
func (res *DiscRes) Unpack(data []byte) (uint, error) {
	return util.UnpackSome(data, &res.Channel, (*uint8)(&res.Status))
}
