// Copyright (c) 2022 mobilarte.
// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import "net"

// NewDescriptionReq creates a new Description Request, addr defines where KNXnet/IP server
// should send the response to.
func NewDescriptionReq(addr net.Addr) (*DescriptionReq, error) {
	hostinfo, err := HostInfoFromAddress(addr)
	if err != nil {
		return nil, err
	}

	return &DescriptionReq{Control: hostinfo}, nil
}

// A DescriptionReq requests a description from a particular KNXnet/IP server via unicast.
type DescriptionReq struct {
	Control HostInfo
}

// Service returns the service identifier for Description Request.
func (DescriptionReq) Service() ServiceID {
	return DescrReqService
}

// Size returns the packed size.
func (req *DescriptionReq) Size() uint {
	return req.Control.Size()
}

// Pack assembles the service payload in the given buffer.
func (req *DescriptionReq) Pack(buffer []byte) {
	req.Control.Pack(buffer)
}

// Unpack parses the given service payload in order to initialize the structure.
func (req *DescriptionReq) Unpack(data []byte) (uint, error) {
	return req.Control.Unpack(data)
}

// A DescriptionRes is a Description Response from a KNXnet/IP server.
type DescriptionRes struct {
	DescriptionBlock
}

// Service returns the service identifier for the Description Response.
func (DescriptionRes) Service() ServiceID {
	return DescrResService
}
