// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"net"

	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/util"
)

// ConnType is the type of connection requested.
type ConnType uint8

// These are the connection types.
const (
	DeviceMgmtConnection ConnType = 0x03
	TunnelConnection     ConnType = 0x04
	RemLogConnection     ConnType = 0x06
	RemConfConnection    ConnType = 0x07
	ObjSvrConnection     ConnType = 0x08
)

// TunnelLayer identifies the tunnelling layer of a tunnel connection.
type TunnelLayer uint8

// These are the tunnelling layers.
const (
	// TunnelLayerData establishes a Data Link layer tunnel to the KNX network.
	TunnelLayerData TunnelLayer = 0x02

	// TunnelLayerRaw establishes a raw tunnel to the KNX network.
	TunnelLayerRaw TunnelLayer = 0x04

	// TunnelLayerBusmonitor establishes a Busmonitor tunnel to the KNX network.
	TunnelLayerBusmonitor TunnelLayer = 0x80
)

// ConnReqInfo is the connection request information (CRI).
//
// Tunnel connections carry the layer. When Extended is set, the CRI additionally asks for the
// individual address Addr (tunnelling v2).
type ConnReqInfo struct {
	Type     ConnType
	Layer    TunnelLayer
	Extended bool
	Addr     cemi.IndividualAddr
}

// Size returns the packed size.
func (info ConnReqInfo) Size() uint {
	switch {
	case info.Type != TunnelConnection:
		return 2
	case info.Extended:
		return 6
	default:
		return 4
	}
}

// Pack assembles the connection request information in the given buffer.
func (info ConnReqInfo) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(info.Size()), uint8(info.Type))

	if info.Type != TunnelConnection {
		return
	}

	util.PackSome(buffer[2:], uint8(info.Layer), uint8(0))
	if info.Extended {
		util.PackSome(buffer[4:], uint16(info.Addr))
	}
}

// Unpack parses the given data in order to initialize the structure.
func (info *ConnReqInfo) Unpack(data []byte) (n uint, err error) {
	var length uint8
	if _, err = util.UnpackSome(data, &length, (*uint8)(&info.Type)); err != nil {
		return
	}

	if err = util.CheckLength("connection request info", data, int(length)); err != nil {
		return
	}

	block := data[:length]

	switch {
	case info.Type != TunnelConnection && length == 2:
	case info.Type == TunnelConnection && length == 4:
		info.Layer = TunnelLayer(block[2])
		info.Extended = false
	case info.Type == TunnelConnection && length == 6:
		info.Layer = TunnelLayer(block[2])
		info.Extended = true
		info.Addr = cemi.IndividualAddr(uint16(block[4])<<8 | uint16(block[5]))
	default:
		return 0, &util.InvalidFieldError{Field: "connection request info length", Value: length}
	}

	return uint(length), nil
}

// ConnResData is the connection response data block (CRD). Tunnel connections carry the
// individual address assigned to the client.
type ConnResData struct {
	Type ConnType
	Addr cemi.IndividualAddr
}

// Size returns the packed size.
func (data ConnResData) Size() uint {
	if data.Type == TunnelConnection {
		return 4
	}
	return 2
}

// Pack assembles the connection response data in the given buffer.
func (data ConnResData) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(data.Size()), uint8(data.Type))
	if data.Type == TunnelConnection {
		util.PackSome(buffer[2:], uint16(data.Addr))
	}
}

// Unpack parses the given data in order to initialize the structure.
func (data *ConnResData) Unpack(buffer []byte) (n uint, err error) {
	var length uint8
	if _, err = util.UnpackSome(buffer, &length, (*uint8)(&data.Type)); err != nil {
		return
	}

	if err = util.CheckLength("connection response data", buffer, int(length)); err != nil {
		return
	}

	switch {
	case length == 4:
		data.Addr = cemi.IndividualAddr(uint16(buffer[2])<<8 | uint16(buffer[3]))
	case length < 2:
		return 0, &util.InvalidFieldError{Field: "connection response data length", Value: length}
	}

	return uint(length), nil
}

// A ConnReq requests a connection to a gateway.
type ConnReq struct {
	Control HostInfo
	Tunnel  HostInfo
	Info    ConnReqInfo
}

// NewConnReq creates a request for a link layer tunnel. The server replies to the control
// endpoint and sends tunnelled frames to the data endpoint.
func NewConnReq(control, tunnel HostInfo) *ConnReq {
	return &ConnReq{
		Control: control,
		Tunnel:  tunnel,
		Info:    ConnReqInfo{Type: TunnelConnection, Layer: TunnelLayerData},
	}
}

// NewConnReqAddr is NewConnReq derived from a local address, as used with unicast UDP.
func NewConnReqAddr(addr net.Addr) (*ConnReq, error) {
	hostinfo, err := HostInfoFromAddress(addr)
	if err != nil {
		return nil, err
	}
	return NewConnReq(hostinfo, hostinfo), nil
}

// Service returns the service identifier for Connection Request.
func (ConnReq) Service() ServiceID {
	return ConnReqService
}

// Size returns the packed size.
func (req *ConnReq) Size() uint {
	return req.Control.Size() + req.Tunnel.Size() + req.Info.Size()
}

// Pack assembles the service payload in the given buffer.
func (req *ConnReq) Pack(buffer []byte) {
	util.PackSome(buffer, req.Control, req.Tunnel, req.Info)
}

// Unpack parses the given service payload in order to initialize the structure.
func (req *ConnReq) Unpack(data []byte) (uint, error) {
	return util.UnpackSome(data, &req.Control, &req.Tunnel, &req.Info)
}

// A ConnRes is a response to a ConnReq.
type ConnRes struct {
	Channel uint8
	Status  ErrCode
	Control HostInfo
	Data    ConnResData
}

// Service returns the service identifier for Connection Response.
func (ConnRes) Service() ServiceID {
	return ConnResService
}

// Size returns the packed size.
func (res *ConnRes) Size() uint {
	if res.Status != NoError {
		return 2
	}
	return 2 + res.Control.Size() + res.Data.Size()
}

// Pack assembles the service payload in the given buffer.
func (res *ConnRes) Pack(buffer []byte) {
	if res.Status != NoError {
		util.PackSome(buffer, res.Channel, uint8(res.Status))
		return
	}
	util.PackSome(buffer, res.Channel, uint8(res.Status), res.Control, res.Data)
}

// Unpack parses the given service payload in order to initialize the structure. Failed
// responses may omit the endpoint and the response data.
func (res *ConnRes) Unpack(data []byte) (n uint, err error) {
	if n, err = util.UnpackSome(data, &res.Channel, (*uint8)(&res.Status)); err != nil {
		return
	}

	if res.Status != NoError && len(data) == int(n) {
		return
	}

	m, err := util.UnpackSome(data[n:], &res.Control, &res.Data)
	return n + m, err
}

// StatusString describes the status of the response.
func (res *ConnRes) StatusString() string {
	return res.Status.String()
}
