// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package cemi

import (
	"fmt"

	"github.com/LB-00/knx-secure/knx/util"
)

// LData is the body of the link layer data services (L_Data.req, L_Data.con, L_Data.ind).
type LData struct {
	Info        AdditionalInfo
	Control     ControlField
	Source      IndividualAddr
	Destination uint16
	Data        TransportUnit
}

// NewGroupWrite creates the body of a group value write telegram from src to dst.
func NewGroupWrite(src IndividualAddr, dst GroupAddr, value []byte) LData {
	return LData{
		Control:     NewGroupControl(),
		Source:      src,
		Destination: uint16(dst),
		Data:        &AppData{Command: GroupValueWrite, Data: value},
	}
}

// NewGroupRead creates the body of a group value read telegram from src to dst.
func NewGroupRead(src IndividualAddr, dst GroupAddr) LData {
	return LData{
		Control:     NewGroupControl(),
		Source:      src,
		Destination: uint16(dst),
		Data:        &AppData{Command: GroupValueRead},
	}
}

// NewGroupResponse creates the body of a group value response telegram from src to dst.
func NewGroupResponse(src IndividualAddr, dst GroupAddr, value []byte) LData {
	return LData{
		Control:     NewGroupControl(),
		Source:      src,
		Destination: uint16(dst),
		Data:        &AppData{Command: GroupValueResponse, Data: value},
	}
}

// GroupDestination returns the destination as group address. The second result is false if
// the destination is an individual address.
func (ldata *LData) GroupDestination() (GroupAddr, bool) {
	return GroupAddr(ldata.Destination), ldata.Control.AddressType == AddressTypeGroup
}

// Size returns the packed size.
func (ldata *LData) Size() uint {
	dataLength := uint(2)
	if ldata.Data != nil {
		dataLength = ldata.Data.Size()
	}

	return ldata.Info.Size() + 6 + dataLength
}

// Pack assembles the data structure in the buffer.
func (ldata *LData) Pack(buffer []byte) {
	ldata.Info.Pack(buffer)
	offset := ldata.Info.Size()

	util.PackSome(
		buffer[offset:],
		&ldata.Control,
		uint16(ldata.Source),
		ldata.Destination,
	)
	offset += 6

	if ldata.Data != nil {
		ldata.Data.Pack(buffer[offset:])
	} else {
		buffer[offset] = 0
		buffer[offset+1] = 0
	}
}

// Unpack initializes the structure by parsing the given data.
func (ldata *LData) Unpack(data []byte) (n uint, err error) {
	if n, err = util.UnpackSome(
		data,
		&ldata.Info,
		&ldata.Control,
		(*uint16)(&ldata.Source),
		&ldata.Destination,
	); err != nil {
		return
	}

	m, err := unpackTransportUnit(data[n:], &ldata.Data)
	if err != nil {
		return n, err
	}

	return n + m, nil
}

// String describes the telegram.
func (ldata *LData) String() string {
	dst := IndividualAddr(ldata.Destination).String()
	if ldata.Control.AddressType == AddressTypeGroup {
		dst = GroupAddr(ldata.Destination).String()
	}

	if app, ok := ldata.Data.(*AppData); ok {
		return fmt.Sprintf("%s -> %s: %#03x % x", ldata.Source, dst, uint16(app.Command), app.Data)
	}

	return fmt.Sprintf("%s -> %s: %T", ldata.Source, dst, ldata.Data)
}

// An LDataReq represents a L_Data.req message body.
type LDataReq struct {
	LData
}

// MessageCode returns the message code for L_Data.req.
func (LDataReq) MessageCode() MessageCode {
	return LDataReqCode
}

// An LDataCon represents a L_Data.con message body.
type LDataCon struct {
	LData
}

// MessageCode returns the message code for L_Data.con.
func (LDataCon) MessageCode() MessageCode {
	return LDataConCode
}

// An LDataInd represents a L_Data.ind message body.
type LDataInd struct {
	LData
}

// MessageCode returns the message code for L_Data.ind.
func (LDataInd) MessageCode() MessageCode {
	return LDataIndCode
}
