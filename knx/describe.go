// Copyright (c) 2022 mobilarte.
// Licensed under the MIT license which can be found in the LICENSE file.

package knx

import (
	"time"

	"github.com/LB-00/knx-secure/knx/knxnet"
)

// DefaultMulticastAddress is the KNXnet/IP system setup multicast address.
const DefaultMulticastAddress = "224.0.23.12:3671"

// request sends the service over the socket and waits for the first inbound service accepted
// by match.
func request(socket knxnet.Socket, req knxnet.ServicePackable, timeout time.Duration, match func(knxnet.Service) bool) (knxnet.Service, error) {
	if err := socket.Send(req); err != nil {
		return nil, err
	}

	deadline := time.After(timeout)

	for {
		select {
		case msg, open := <-socket.Inbound():
			if !open {
				return nil, ErrTunnelClosed
			}

			if match(msg) {
				return msg, nil
			}

		case <-deadline:
			return nil, ErrResponseTimeout
		}
	}
}

// Describe a single KNXnet/IP server. Uses unicast UDP, address format is "ip:port".
func DescribeTunnel(address string, searchTimeout time.Duration) (*knxnet.DescriptionRes, error) {
	socket, err := knxnet.DialTunnelUDP(address)
	if err != nil {
		return nil, err
	}
	defer socket.Close()

	req, err := knxnet.NewDescriptionReq(socket.LocalAddr())
	if err != nil {
		return nil, err
	}

	msg, err := request(socket, req, searchTimeout, func(msg knxnet.Service) bool {
		_, ok := msg.(*knxnet.DescriptionRes)
		return ok
	})
	if err != nil {
		return nil, err
	}

	return msg.(*knxnet.DescriptionRes), nil
}

// Describe a single KNXnet/IP server. Sends a Search Request Extended configured with
// the given parameters over unicast UDP to the given address. The address format is
// "ip:port".
func DescribeTunnelExt(address string, searchTimeout time.Duration, params ...knxnet.SRPBlock) (*knxnet.SearchResExt, error) {
	socket, err := knxnet.DialTunnelUDP(address)
	if err != nil {
		return nil, err
	}
	defer socket.Close()

	req, err := knxnet.NewSearchReqExt(socket.LocalAddr(), params...)
	if err != nil {
		return nil, err
	}

	msg, err := request(socket, req, searchTimeout, func(msg knxnet.Service) bool {
		_, ok := msg.(*knxnet.SearchResExt)
		return ok
	})
	if err != nil {
		return nil, err
	}

	return msg.(*knxnet.SearchResExt), nil
}

// Discover sends a Search Request to the multicast group and collects the responses that
// arrive within searchTimeout. Servers answering more than once are reported once.
func Discover(multicastAddress string, searchTimeout time.Duration) ([]*knxnet.SearchRes, error) {
	socket, err := knxnet.DialDiscovery(multicastAddress)
	if err != nil {
		return nil, err
	}
	defer socket.Close()

	return discover(socket, searchTimeout)
}

func discover(socket knxnet.Socket, searchTimeout time.Duration) ([]*knxnet.SearchRes, error) {
	req, err := knxnet.NewSearchReq(socket.LocalAddr())
	if err != nil {
		return nil, err
	}

	if err := socket.Send(req); err != nil {
		return nil, err
	}

	var results []*knxnet.SearchRes
	seen := make(map[knxnet.HostInfo]bool)

	deadline := time.After(searchTimeout)

	for {
		select {
		case msg, open := <-socket.Inbound():
			if !open {
				return results, nil
			}

			res, ok := msg.(*knxnet.SearchRes)
			if !ok || seen[res.Control] {
				continue
			}

			seen[res.Control] = true
			results = append(results, res)

		case <-deadline:
			return results, nil
		}
	}
}
