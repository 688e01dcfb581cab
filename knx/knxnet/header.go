// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"fmt"

	"github.com/LB-00/knx-secure/knx/util"
)

// ServiceID identifies the service that is contained in a packet.
type ServiceID uint16

// These are supported services.
const (
	SearchReqService     ServiceID = 0x0201
	SearchResService     ServiceID = 0x0202
	DescrReqService      ServiceID = 0x0203
	DescrResService      ServiceID = 0x0204
	ConnReqService       ServiceID = 0x0205
	ConnResService       ServiceID = 0x0206
	ConnStateReqService  ServiceID = 0x0207
	ConnStateResService  ServiceID = 0x0208
	DiscReqService       ServiceID = 0x0209
	DiscResService       ServiceID = 0x020a
	SearchReqExtService  ServiceID = 0x020b
	SearchResExtService  ServiceID = 0x020c
	TunnelReqService     ServiceID = 0x0420
	TunnelResService     ServiceID = 0x0421
	RoutingIndService    ServiceID = 0x0530
	RoutingLostService   ServiceID = 0x0531
	RoutingBusyService   ServiceID = 0x0532
	SecureWrapperService ServiceID = 0x0950
	SessionReqService    ServiceID = 0x0951
	SessionResService    ServiceID = 0x0952
	SessionAuthService   ServiceID = 0x0953
	SessionStatusService ServiceID = 0x0954
)

var serviceNames = map[ServiceID]string{
	SearchReqService:     "SearchReq",
	SearchResService:     "SearchRes",
	DescrReqService:      "DescrReq",
	DescrResService:      "DescrRes",
	ConnReqService:       "ConnReq",
	ConnResService:       "ConnRes",
	ConnStateReqService:  "ConnStateReq",
	ConnStateResService:  "ConnStateRes",
	DiscReqService:       "DiscReq",
	DiscResService:       "DiscRes",
	SearchReqExtService:  "SearchReqExt",
	SearchResExtService:  "SearchResExt",
	TunnelReqService:     "TunnelReq",
	TunnelResService:     "TunnelRes",
	RoutingIndService:    "RoutingInd",
	RoutingLostService:   "RoutingLost",
	RoutingBusyService:   "RoutingBusy",
	SecureWrapperService: "SecureWrapper",
	SessionReqService:    "SessionReq",
	SessionResService:    "SessionRes",
	SessionAuthService:   "SessionAuth",
	SessionStatusService: "SessionStatus",
}

// String converts the service identifier to a string.
func (service ServiceID) String() string {
	if name, ok := serviceNames[service]; ok {
		return name
	}
	return fmt.Sprintf("%#04x", uint16(service))
}

const (
	// HeaderSize is the fixed length of the KNXnet/IP header.
	HeaderSize = 6

	// ProtocolVersion is the only KNXnet/IP protocol version understood.
	ProtocolVersion = 0x10
)

// Header is the frame envelope preceding every KNXnet/IP service.
type Header struct {
	Version     uint8
	Service     ServiceID
	TotalLength uint16
}

// NewHeader creates the header for a service body of the given size.
func NewHeader(service ServiceID, bodySize uint) Header {
	return Header{
		Version:     ProtocolVersion,
		Service:     service,
		TotalLength: uint16(HeaderSize + bodySize),
	}
}

// Size returns the packed size.
func (Header) Size() uint {
	return HeaderSize
}

// Pack assembles the header in the given buffer.
func (header Header) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(HeaderSize), header.Version, uint16(header.Service), header.TotalLength)
}

// Unpack parses the header. A total length that disagrees with the buffer is logged but
// tolerated, since some gateways pad their frames.
func (header *Header) Unpack(data []byte) (n uint, err error) {
	if err = util.CheckLength("header", data, HeaderSize); err != nil {
		return
	}

	var headerLen uint8
	if n, err = util.UnpackSome(
		data, &headerLen, &header.Version, (*uint16)(&header.Service), &header.TotalLength,
	); err != nil {
		return
	}

	if headerLen != HeaderSize {
		return n, &util.InvalidFieldError{Field: "header length", Value: headerLen}
	}

	if header.Version != ProtocolVersion {
		return n, &util.InvalidFieldError{Field: "protocol version", Value: header.Version}
	}

	if int(header.TotalLength) != len(data) {
		util.Log(header, "Total length %d does not match frame length %d", header.TotalLength, len(data))
	}

	return
}

// body returns the service body described by the header, clamped to the available data.
func (header *Header) body(data []byte) []byte {
	end := int(header.TotalLength)
	if end < HeaderSize {
		end = HeaderSize
	}
	if end > len(data) {
		end = len(data)
	}
	return data[HeaderSize:end]
}
