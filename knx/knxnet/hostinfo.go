// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"fmt"
	"net"

	"github.com/LB-00/knx-secure/knx/util"
)

// Protocol specifies a host protocol to use.
type Protocol uint8

const (
	// UDP4 indicates a communication using UDP over IPv4.
	UDP4 Protocol = 0x01

	// TCP4 indicates a communication using TCP over IPv4.
	TCP4 Protocol = 0x02
)

// String returns the name of the protocol.
func (protocol Protocol) String() string {
	switch protocol {
	case UDP4:
		return "UDP4"
	case TCP4:
		return "TCP4"
	}
	return fmt.Sprintf("Protocol(%#02x)", uint8(protocol))
}

// Address is an IPv4 address.
type Address [4]byte

// String formats the address.
func (addr Address) String() string {
	return net.IP(addr[:]).String()
}

// Port is a port number.
type Port uint16

// HostInfoSize is the packed size of a HostInfo.
const HostInfoSize = 8

// HostInfo contains the information about a host.
type HostInfo struct {
	Protocol Protocol
	Address  Address
	Port     Port
}

// NullHostInfo returns the 0.0.0.0:0 endpoint. Servers answer such requests on the channel the
// request arrived on, which is what TCP connections and NAT traversal use.
func NullHostInfo(protocol Protocol) HostInfo {
	return HostInfo{Protocol: protocol}
}

// HostInfoFromAddress returns the HostInfo for a UDP or TCP IPv4 address.
func HostInfoFromAddress(address net.Addr) (HostInfo, error) {
	hostinfo := HostInfo{}

	var ip net.IP
	var port int

	switch addr := address.(type) {
	case *net.UDPAddr:
		hostinfo.Protocol = UDP4
		ip, port = addr.IP, addr.Port

	case *net.TCPAddr:
		hostinfo.Protocol = TCP4
		ip, port = addr.IP, addr.Port

	default:
		return hostinfo, &util.InvalidFieldError{Field: "host address", Value: address}
	}

	if ip == nil || ip.IsUnspecified() {
		ip = net.IPv4zero
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return hostinfo, &util.InvalidFieldError{Field: "IPv4 address", Value: ip}
	}

	if port < 0 || port > 0xffff {
		return hostinfo, &util.InvalidFieldError{Field: "port", Value: port}
	}

	copy(hostinfo.Address[:], ip4)
	hostinfo.Port = Port(port)

	return hostinfo, nil
}

// IsNull reports whether the endpoint is 0.0.0.0:0.
func (info HostInfo) IsNull() bool {
	return info.Address == Address{} && info.Port == 0
}

// UDPAddr converts the endpoint into a UDP address.
func (info HostInfo) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IP(info.Address[:]), Port: int(info.Port)}
}

// String formats the endpoint as "ip:port".
func (info HostInfo) String() string {
	return fmt.Sprintf("%s:%d", info.Address, info.Port)
}

// Size returns the packed size.
func (HostInfo) Size() uint {
	return HostInfoSize
}

// Pack assembles the host info structure in the given buffer.
func (info HostInfo) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(HostInfoSize), uint8(info.Protocol), info.Address[:], uint16(info.Port))
}

// Unpack parses the given data in order to initialize the structure.
func (info *HostInfo) Unpack(data []byte) (n uint, err error) {
	if err = util.CheckLength("host info", data, 1); err != nil {
		return
	}

	length := data[0]
	if length != HostInfoSize {
		return 0, &util.InvalidFieldError{Field: "host info length", Value: length}
	}

	if err = util.CheckLength("host info", data, HostInfoSize); err != nil {
		return
	}

	var protocol uint8
	n, err = util.UnpackSome(data[1:HostInfoSize], &protocol, info.Address[:], (*uint16)(&info.Port))
	if err != nil {
		return
	}

	switch Protocol(protocol) {
	case UDP4, TCP4:
		info.Protocol = Protocol(protocol)
	default:
		return 0, &util.InvalidFieldError{Field: "host protocol", Value: protocol}
	}

	return n + 1, nil
}
