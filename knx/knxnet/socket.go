// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/LB-00/knx-secure/knx/util"
)

// A Socket is a socket, duh.
type Socket interface {
	Send(payload ServicePackable) error
	Inbound() <-chan Service
	Close() error
	LocalAddr() net.Addr
}

const (
	inboundBufferSize = 64
	maxFrameSize      = 0xffff
)

// sock holds the parts shared by all socket flavours. The reader goroutine decodes frames and
// forwards them until the connection is closed.
type sock struct {
	inbound   chan Service
	done      chan struct{}
	closeOnce sync.Once
	wait      sync.WaitGroup
}

func newSock() sock {
	return sock{
		inbound: make(chan Service, inboundBufferSize),
		done:    make(chan struct{}),
	}
}

// Inbound provides a channel from which you can retrieve incoming packets.
func (s *sock) Inbound() <-chan Service {
	return s.inbound
}

// deliver decodes the frame and hands it to the inbound channel. It returns false once the
// socket is closed.
func (s *sock) deliver(source interface{}, frame []byte) bool {
	var srv Service
	if _, err := Unpack(frame, &srv); err != nil {
		util.Log(source, "Dropping frame: %v", err)
		return true
	}

	select {
	case s.inbound <- srv:
		return true
	case <-s.done:
		return false
	}
}

// shutdown stops the reader and waits for it.
func (s *sock) shutdown(closer io.Closer) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = closer.Close()
	})
	s.wait.Wait()
	return err
}

// udpSocket is a UDP socket. A nil remote means the socket is connected, otherwise frames are
// sent to remote.
type udpSocket struct {
	sock
	conn   *net.UDPConn
	remote *net.UDPAddr
}

func newUDPSocket(conn *net.UDPConn, remote *net.UDPAddr) *udpSocket {
	s := &udpSocket{sock: newSock(), conn: conn, remote: remote}

	s.wait.Add(1)
	go s.serve()

	return s
}

// DialTunnelUDP creates a new Socket which can be used to communicate with a KNXnet/IP gateway
// over unicast UDP. Address format is "ip:port".
func DialTunnelUDP(address string) (Socket, error) {
	addr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}

	return newUDPSocket(conn, nil), nil
}

// ListenRouter creates a new Socket which can be used to exchange KNXnet/IP packets with
// multiple endpoints on the given multicast group.
func ListenRouter(multicastAddress string) (Socket, error) {
	return ListenRouterOnInterface(nil, multicastAddress)
}

// ListenRouterOnInterface is ListenRouter on a specific network interface. A nil interface
// selects the system default.
func ListenRouterOnInterface(ifi *net.Interface, multicastAddress string) (Socket, error) {
	addr, err := net.ResolveUDPAddr("udp4", multicastAddress)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: addr.Port})
	if err != nil {
		return nil, err
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.JoinGroup(ifi, &net.UDPAddr{IP: addr.IP}); err != nil {
		conn.Close()
		return nil, err
	}

	if err := pconn.SetMulticastLoopback(true); err != nil {
		util.Log(conn, "Unable to enable multicast loopback: %v", err)
	}

	return newUDPSocket(conn, addr), nil
}

// DialDiscovery creates a Socket that sends to the given multicast group and receives the
// unicast answers. Its local address is a concrete endpoint usable in a Search Request.
func DialDiscovery(multicastAddress string) (Socket, error) {
	addr, err := net.ResolveUDPAddr("udp4", multicastAddress)
	if err != nil {
		return nil, err
	}

	// Connecting a UDP socket sends nothing but reveals the outgoing interface address.
	probe, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}
	local := probe.LocalAddr().(*net.UDPAddr)
	probe.Close()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: local.IP})
	if err != nil {
		return nil, err
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastTTL(16); err != nil {
		util.Log(conn, "Unable to set multicast TTL: %v", err)
	}

	return newUDPSocket(conn, addr), nil
}

// Send transmits a KNXnet/IP packet.
func (s *udpSocket) Send(payload ServicePackable) error {
	buffer := AllocAndPack(payload)

	var err error
	if s.remote != nil {
		_, err = s.conn.WriteToUDP(buffer, s.remote)
	} else {
		_, err = s.conn.Write(buffer)
	}
	return err
}

// Close shuts the socket down. This will indirectly terminate the associated workers.
func (s *udpSocket) Close() error {
	return s.shutdown(s.conn)
}

// LocalAddr returns the local address of the socket.
func (s *udpSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *udpSocket) serve() {
	defer s.wait.Done()
	defer close(s.inbound)

	util.Log(s.conn, "Started worker")
	defer util.Log(s.conn, "Worker exited")

	buffer := make([]byte, maxFrameSize)
	for {
		n, _, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			util.Log(s.conn, "Error during ReadFromUDP: %v", err)
			return
		}

		frame := append([]byte(nil), buffer[:n]...)
		if !s.deliver(s.conn, frame) {
			return
		}
	}
}

// tcpSocket carries KNXnet/IP frames over a TCP stream. Frames are delimited by the total
// length of their header.
type tcpSocket struct {
	sock
	conn    net.Conn
	writeMu sync.Mutex
}

// DialTunnelTCP creates a new Socket which can be used to communicate with a KNXnet/IP gateway
// over TCP. Address format is "ip:port".
func DialTunnelTCP(address string) (Socket, error) {
	conn, err := net.Dial("tcp4", address)
	if err != nil {
		return nil, err
	}

	return NewStreamSocket(conn), nil
}

// NewStreamSocket wraps an established stream connection.
func NewStreamSocket(conn net.Conn) Socket {
	s := &tcpSocket{sock: newSock(), conn: conn}

	s.wait.Add(1)
	go s.serve()

	return s
}

// Send transmits a KNXnet/IP packet.
func (s *tcpSocket) Send(payload ServicePackable) error {
	buffer := AllocAndPack(payload)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.conn.Write(buffer)
	return err
}

// Close shuts the socket down.
func (s *tcpSocket) Close() error {
	return s.shutdown(s.conn)
}

// LocalAddr returns the local address of the socket.
func (s *tcpSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *tcpSocket) serve() {
	defer s.wait.Done()
	defer close(s.inbound)

	util.Log(s.conn, "Started worker")
	defer util.Log(s.conn, "Worker exited")

	header := make([]byte, HeaderSize)
	for {
		if _, err := io.ReadFull(s.conn, header); err != nil {
			util.Log(s.conn, "Error reading header: %v", err)
			return
		}

		total := int(binary.BigEndian.Uint16(header[4:]))
		if total < HeaderSize {
			util.Log(s.conn, "Invalid total length %d, closing stream", total)
			return
		}

		frame := make([]byte, total)
		copy(frame, header)
		if _, err := io.ReadFull(s.conn, frame[HeaderSize:]); err != nil {
			util.Log(s.conn, "Error reading frame: %v", err)
			return
		}

		if !s.deliver(s.conn, frame) {
			return
		}
	}
}
