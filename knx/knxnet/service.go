// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

// Package knxnet implements the KNXnet/IP services, including the KNX IP Secure session and
// wrapper services, and the sockets that carry them.
package knxnet

import (
	"fmt"

	"github.com/LB-00/knx-secure/knx/util"
)

// Service is implemented by all KNXnet/IP services.
type Service interface {
	Service() ServiceID
}

// ServicePackable combines Service and util.Packable.
type ServicePackable interface {
	util.Packable
	Service
}

// UnknownServiceTypeError is returned for frames with a service type outside the known set.
type UnknownServiceTypeError struct {
	Service ServiceID
}

func (err UnknownServiceTypeError) Error() string {
	return fmt.Sprintf("knxnet: unknown service type %#04x", uint16(err.Service))
}

// Size returns the size of the frame carrying the service.
func Size(srv ServicePackable) uint {
	return HeaderSize + srv.Size()
}

// Pack assembles the header and the service in the given buffer.
func Pack(buffer []byte, srv ServicePackable) {
	NewHeader(srv.Service(), srv.Size()).Pack(buffer)
	srv.Pack(buffer[HeaderSize:])
}

// AllocAndPack allocates a buffer and packs the service into it.
func AllocAndPack(srv ServicePackable) []byte {
	buffer := make([]byte, Size(srv))
	Pack(buffer, srv)
	return buffer
}

type serviceUnpackable interface {
	util.Unpackable
	Service
}

// newService returns an empty service for the given identifier.
func newService(id ServiceID) (serviceUnpackable, error) {
	switch id {
	case SearchReqService:
		return &SearchReq{}, nil
	case SearchResService:
		return &SearchRes{}, nil
	case DescrReqService:
		return &DescriptionReq{}, nil
	case DescrResService:
		return &DescriptionRes{}, nil
	case SearchReqExtService:
		return &SearchReqExt{}, nil
	case SearchResExtService:
		return &SearchResExt{}, nil
	case ConnReqService:
		return &ConnReq{}, nil
	case ConnResService:
		return &ConnRes{}, nil
	case ConnStateReqService:
		return &ConnStateReq{}, nil
	case ConnStateResService:
		return &ConnStateRes{}, nil
	case DiscReqService:
		return &DiscReq{}, nil
	case DiscResService:
		return &DiscRes{}, nil
	case TunnelReqService:
		return &TunnelReq{}, nil
	case TunnelResService:
		return &TunnelRes{}, nil
	case RoutingIndService:
		return &RoutingInd{}, nil
	case RoutingLostService:
		return &RoutingLost{}, nil
	case RoutingBusyService:
		return &RoutingBusy{}, nil
	case SecureWrapperService:
		return &SecureWrapper{}, nil
	case SessionReqService:
		return &SessionReq{}, nil
	case SessionResService:
		return &SessionRes{}, nil
	case SessionAuthService:
		return &SessionAuth{}, nil
	case SessionStatusService:
		return &SessionStatus{}, nil
	}
	return nil, UnknownServiceTypeError{id}
}

// Unpack parses a KNXnet/IP frame and stores the decoded service in srv. Bytes beyond the
// declared total length are ignored.
func Unpack(data []byte, srv *Service) (uint, error) {
	var header Header
	if _, err := header.Unpack(data); err != nil {
		return 0, err
	}

	if header.Service == SecureWrapperService && len(data) < SecureWrapperMinSize {
		return 0, ErrInvalidBufferLength
	}

	body, err := newService(header.Service)
	if err != nil {
		return 0, err
	}

	n, err := body.Unpack(header.body(data))
	if err != nil {
		return 0, fmt.Errorf("unpack %v: %w", header.Service, err)
	}

	*srv = body
	return HeaderSize + n, nil
}
