// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"net"

	"github.com/LB-00/knx-secure/knx/util"
)

// NewSearchReq creates a new SearchReq, addr defines where KNXnet/IP server should send the response to.
func NewSearchReq(addr net.Addr) (*SearchReq, error) {
	hostinfo, err := HostInfoFromAddress(addr)
	if err != nil {
		return nil, err
	}

	return &SearchReq{Control: hostinfo}, nil
}

// A SearchReq requests a discovery from all KNXnet/IP servers via multicast.
type SearchReq struct {
	Control HostInfo
}

// Service returns the service identifier for Search Request.
func (SearchReq) Service() ServiceID {
	return SearchReqService
}

// Size returns the packed size.
func (req *SearchReq) Size() uint {
	return req.Control.Size()
}

// Pack assembles the Search Request structure in the given buffer.
func (req *SearchReq) Pack(buffer []byte) {
	req.Control.Pack(buffer)
}

// Unpack parses the given service payload in order to initialize the Search Request structure.
func (req *SearchReq) Unpack(data []byte) (uint, error) {
	return req.Control.Unpack(data)
}

// A SearchRes is a Search Response from a KNXnet/IP server.
type SearchRes struct {
	Control HostInfo
	DescriptionBlock
}

// Service returns the service identifier for the Search Response.
func (SearchRes) Service() ServiceID {
	return SearchResService
}

// Size returns the packed size.
func (res *SearchRes) Size() uint {
	return res.Control.Size() + res.DescriptionBlock.Size()
}

// Pack assembles the Search Response structure in the given buffer.
func (res *SearchRes) Pack(buffer []byte) {
	res.Control.Pack(buffer)
	res.DescriptionBlock.Pack(buffer[res.Control.Size():])
}

// Unpack parses the given service payload in order to initialize the Search Response structure.
func (res *SearchRes) Unpack(data []byte) (uint, error) {
	return util.UnpackSome(data, &res.Control, &res.DescriptionBlock)
}

// NewSearchReqExt creates a new SearchReqExt, addr defines where KNXnet/IP server should send the
// response to, and params are the optional SRP blocks. A nil addr requests the answer on the
// channel the request is sent on.
func NewSearchReqExt(addr net.Addr, params ...SRPBlock) (*SearchReqExt, error) {
	req := &SearchReqExt{Control: NullHostInfo(UDP4)}

	if addr != nil {
		hostinfo, err := HostInfoFromAddress(addr)
		if err != nil {
			return nil, err
		}
		req.Control = hostinfo
	}

	if len(params) > 0 {
		req.Parameters = append([]SRPBlock(nil), params...)
	}

	return req, nil
}

// A SearchReqExt may be used to request a discovery from all KNXnet/IP servers via multicast
// or be directed to a specific KNXnet/IP server.
type SearchReqExt struct {
	Control    HostInfo
	Parameters []SRPBlock
}

// Service returns the service identifier for Search Request Extended.
func (SearchReqExt) Service() ServiceID {
	return SearchReqExtService
}

// Size returns the packed size.
func (req *SearchReqExt) Size() uint {
	size := req.Control.Size()
	for _, param := range req.Parameters {
		size += param.Size()
	}
	return size
}

// Pack assembles the Search Request Extended structure in the given buffer.
func (req *SearchReqExt) Pack(buffer []byte) {
	req.Control.Pack(buffer)
	offset := req.Control.Size()

	for _, param := range req.Parameters {
		param.Pack(buffer[offset:])
		offset += param.Size()
	}
}

// Unpack parses the given service payload in order to initialize the Search Request Extended
// structure. Unsupported SRPs are skipped.
func (req *SearchReqExt) Unpack(data []byte) (uint, error) {
	n, err := req.Control.Unpack(data)
	if err != nil {
		return 0, err
	}

	req.Parameters = nil
	for n < uint(len(data)) {
		if err := util.CheckLength("search request parameter", data[n:], 2); err != nil {
			return 0, err
		}

		var param SRPBlock
		switch ParameterType(data[n+1] & 0x7f) {
		case ParameterTypeSelectProgMode:
			param = &SelectProgMode{}
		case ParameterTypeSelectMACAddr:
			param = &SelectMACAddr{}
		case ParameterTypeSelectSrvSRP:
			param = &SelectSrvSRP{}
		case ParameterTypeRequestDIBs:
			param = &RequestDIBs{}
		default:
			util.Log(req, "Found unsupported parameter type: %d", data[n+1]&0x7f)
			if data[n] < 2 {
				return 0, &util.InvalidFieldError{Field: "search request parameter length", Value: data[n]}
			}
			n += uint(data[n])
			continue
		}

		m, err := param.Unpack(data[n:])
		if err != nil {
			return 0, err
		}
		n += m

		req.Parameters = append(req.Parameters, param)
	}

	return n, nil
}

// SRPBlock represents a Search Request Parameter (SRP) Block used to transfer
// additional information regarding the search.
type SRPBlock interface {
	util.Packable
	util.Unpackable
}

// ParameterType represents the type of the Search Request Parameter.
type ParameterType uint8

// Currently supported Search Request Parameter Type values.
const (
	ParameterTypeInvalid        ParameterType = 0x00
	ParameterTypeSelectProgMode ParameterType = 0x01
	ParameterTypeSelectMACAddr  ParameterType = 0x02
	ParameterTypeSelectSrvSRP   ParameterType = 0x03
	ParameterTypeRequestDIBs    ParameterType = 0x04
)

const srpMandatory = 0x80

func packSRPHeader(buffer []byte, size uint, ty ParameterType, mandatory bool) {
	pld := uint8(ty)
	if mandatory {
		pld |= srpMandatory
	}
	util.PackSome(buffer, uint8(size), pld)
}

// unpackSRPHeader checks the length and type octets of an SRP and returns its body.
func unpackSRPHeader(data []byte, ty ParameterType, mandatory *bool) ([]byte, error) {
	if err := util.CheckLength("search request parameter", data, 2); err != nil {
		return nil, err
	}

	length := data[0]
	if length < 2 {
		return nil, &util.InvalidFieldError{Field: "search request parameter length", Value: length}
	}

	if err := util.CheckLength("search request parameter", data, int(length)); err != nil {
		return nil, err
	}

	if ParameterType(data[1]&0x7f) != ty {
		return nil, &util.InvalidFieldError{Field: "search request parameter type", Value: data[1]}
	}

	*mandatory = data[1]&srpMandatory != 0
	return data[2:length], nil
}

// SelectProgMode represents the Select By Programming Mode SRP.
type SelectProgMode struct {
	Mandatory bool
}

// NewSelectProgMode creates a new Select By Programming Mode SRP.
func NewSelectProgMode(mandatory bool) *SelectProgMode {
	return &SelectProgMode{Mandatory: mandatory}
}

// Size returns the packed size.
func (SelectProgMode) Size() uint {
	return 2
}

// Pack assembles the Select By Programming Mode SRP in the given buffer.
func (srp *SelectProgMode) Pack(buffer []byte) {
	packSRPHeader(buffer, srp.Size(), ParameterTypeSelectProgMode, srp.Mandatory)
}

// Unpack parses the given data in order to initialize the Select By Programming Mode SRP.
func (srp *SelectProgMode) Unpack(data []byte) (uint, error) {
	body, err := unpackSRPHeader(data, ParameterTypeSelectProgMode, &srp.Mandatory)
	if err != nil {
		return 0, err
	}

	if len(body) != 0 {
		return 0, &util.InvalidFieldError{Field: "select programming mode length", Value: len(body) + 2}
	}

	return srp.Size(), nil
}

// SelectMACAddr represents the Select By MAC Address SRP.
type SelectMACAddr struct {
	Mandatory    bool
	HardwareAddr [6]byte
}

// NewSelectMACAddr creates a new Select By MAC Address SRP.
func NewSelectMACAddr(mandatory bool, addr [6]byte) *SelectMACAddr {
	return &SelectMACAddr{Mandatory: mandatory, HardwareAddr: addr}
}

// Size returns the packed size.
func (SelectMACAddr) Size() uint {
	return 8
}

// Pack assembles the Select By MAC Address SRP in the given buffer.
func (srp *SelectMACAddr) Pack(buffer []byte) {
	packSRPHeader(buffer, srp.Size(), ParameterTypeSelectMACAddr, srp.Mandatory)
	copy(buffer[2:], srp.HardwareAddr[:])
}

// Unpack parses the given data in order to initialize the Select By MAC Address SRP.
func (srp *SelectMACAddr) Unpack(data []byte) (uint, error) {
	body, err := unpackSRPHeader(data, ParameterTypeSelectMACAddr, &srp.Mandatory)
	if err != nil {
		return 0, err
	}

	if len(body) != 6 {
		return 0, &util.InvalidFieldError{Field: "select MAC address length", Value: len(body) + 2}
	}

	copy(srp.HardwareAddr[:], body)
	return srp.Size(), nil
}

// SelectSrvSRP represents the Select By Service SRP.
type SelectSrvSRP struct {
	Mandatory bool
	Service   ServiceFamilyType
	Version   uint8
}

// NewSelectSrvSRP creates a new Select By Service SRP.
func NewSelectSrvSRP(mandatory bool, service ServiceFamilyType, version uint8) *SelectSrvSRP {
	return &SelectSrvSRP{Mandatory: mandatory, Service: service, Version: version}
}

// Size returns the packed size.
func (SelectSrvSRP) Size() uint {
	return 4
}

// Pack assembles the Select By Service SRP in the given buffer.
func (srp *SelectSrvSRP) Pack(buffer []byte) {
	packSRPHeader(buffer, srp.Size(), ParameterTypeSelectSrvSRP, srp.Mandatory)
	util.PackSome(buffer[2:], uint8(srp.Service), srp.Version)
}

// Unpack parses the given data in order to initialize the Select By Service SRP.
func (srp *SelectSrvSRP) Unpack(data []byte) (uint, error) {
	body, err := unpackSRPHeader(data, ParameterTypeSelectSrvSRP, &srp.Mandatory)
	if err != nil {
		return 0, err
	}

	if len(body) != 2 {
		return 0, &util.InvalidFieldError{Field: "select service length", Value: len(body) + 2}
	}

	srp.Service, srp.Version = ServiceFamilyType(body[0]), body[1]
	return srp.Size(), nil
}

// RequestDIBs represents the Request DIBs SRP.
type RequestDIBs struct {
	Mandatory bool
	DescTypes []DescriptionType
}

// NewRequestDIBs creates a new Request DIBs SRP.
func NewRequestDIBs(mandatory bool, descTypes ...DescriptionType) *RequestDIBs {
	return &RequestDIBs{Mandatory: mandatory, DescTypes: descTypes}
}

// Size returns the packed size. An odd number of description types is padded with 0x00.
func (srp RequestDIBs) Size() uint {
	n := uint(len(srp.DescTypes))
	return 2 + n + n%2
}

// Pack assembles the Request DIBs SRP in the given buffer.
func (srp *RequestDIBs) Pack(buffer []byte) {
	packSRPHeader(buffer, srp.Size(), ParameterTypeRequestDIBs, srp.Mandatory)

	for i, ty := range srp.DescTypes {
		buffer[2+i] = byte(ty)
	}
	if len(srp.DescTypes)%2 != 0 {
		buffer[2+len(srp.DescTypes)] = 0
	}
}

// Unpack parses the given data in order to initialize the Request DIBs SRP.
func (srp *RequestDIBs) Unpack(data []byte) (uint, error) {
	body, err := unpackSRPHeader(data, ParameterTypeRequestDIBs, &srp.Mandatory)
	if err != nil {
		return 0, err
	}

	if len(body) == 0 || len(body)%2 != 0 {
		return 0, &util.InvalidFieldError{Field: "request DIBs length", Value: len(body) + 2}
	}

	srp.DescTypes = nil
	for _, b := range body {
		if b != 0 {
			srp.DescTypes = append(srp.DescTypes, DescriptionType(b))
		}
	}

	return uint(len(body) + 2), nil
}

// A SearchResExt is a Search Response Extended from a KNXnet/IP server.
type SearchResExt struct {
	Control HostInfo
	DIBs    []DIB
}

// Service returns the service identifier for the Search Response Extended.
func (SearchResExt) Service() ServiceID {
	return SearchResExtService
}

// Size returns the packed size.
func (res *SearchResExt) Size() uint {
	size := res.Control.Size()
	for _, dib := range res.DIBs {
		size += dib.Size()
	}
	return size
}

// Pack assembles the Search Response Extended structure in the given buffer.
func (res *SearchResExt) Pack(buffer []byte) {
	res.Control.Pack(buffer)
	offset := res.Control.Size()

	for _, dib := range res.DIBs {
		dib.Pack(buffer[offset:])
		offset += dib.Size()
	}
}

// Unpack parses the given service payload in order to initialize the Search Response Extended structure.
func (res *SearchResExt) Unpack(data []byte) (uint, error) {
	n, err := res.Control.Unpack(data)
	if err != nil {
		return 0, err
	}

	if res.DIBs, err = unpackDIBs(data[n:]); err != nil {
		return 0, err
	}

	return uint(len(data)), nil
}
