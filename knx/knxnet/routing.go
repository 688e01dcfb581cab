// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"time"

	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/util"
)

// A RoutingInd is a routing indication.
type RoutingInd struct {
	// Data to be routed
	Payload cemi.Message
}

// Service returns the service identifier for Routing Indication.
func (RoutingInd) Service() ServiceID {
	return RoutingIndService
}

// Size returns the packed size.
func (ind *RoutingInd) Size() uint {
	return cemi.Size(ind.Payload)
}

// Pack assembles the service payload in the given buffer.
func (ind *RoutingInd) Pack(buffer []byte) {
	cemi.Pack(buffer, ind.Payload)
}

// Unpack parses the given service payload in order to initialize the structure.
func (ind *RoutingInd) Unpack(data []byte) (uint, error) {
	return cemi.Unpack(data, &ind.Payload)
}

// A RoutingLost indicates that a router has dropped frames.
type RoutingLost struct {
	Status uint8
	Count  uint16
}

// Service returns the service identifier for Routing Lost.
func (RoutingLost) Service() ServiceID {
	return RoutingLostService
}

// Size returns the packed size.
func (RoutingLost) Size() uint {
	return 4
}

// Pack assembles the service payload in the given buffer.
func (lost *RoutingLost) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(4), lost.Status, lost.Count)
}

// Unpack parses the given service payload in order to initialize the structure.
func (lost *RoutingLost) Unpack(data []byte) (n uint, err error) {
	var length uint8
	if n, err = util.UnpackSome(data, &length, &lost.Status, &lost.Count); err != nil {
		return
	}

	if length != 4 {
		return n, &util.InvalidFieldError{Field: "routing lost length", Value: length}
	}

	return
}

// A RoutingBusy asks routers to pause sending.
type RoutingBusy struct {
	Status   uint8
	WaitTime time.Duration
	Control  uint16
}

// Service returns the service identifier for Routing Busy.
func (RoutingBusy) Service() ServiceID {
	return RoutingBusyService
}

// Size returns the packed size.
func (RoutingBusy) Size() uint {
	return 6
}

// Pack assembles the service payload in the given buffer.
func (busy *RoutingBusy) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(6), busy.Status, uint16(busy.WaitTime/time.Millisecond), busy.Control)
}

// Unpack parses the given service payload in order to initialize the structure.
func (busy *RoutingBusy) Unpack(data []byte) (n uint, err error) {
	var length uint8
	var waitTime uint16
	if n, err = util.UnpackSome(data, &length, &busy.Status, &waitTime, &busy.Control); err != nil {
		return
	}

	if length != 6 {
		return n, &util.InvalidFieldError{Field: "routing busy length", Value: length}
	}

	busy.WaitTime = time.Duration(waitTime) * time.Millisecond

	return
}
