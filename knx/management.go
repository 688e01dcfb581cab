// Structs P2PConnection and Management add connection-oriented management on top of a
// tunnel. See KNX Standard 03_05_02 Management Procedures.

package knx

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/util"
)

// GroupTunnel is a tunnel that relays cEMI frames to and from the bus. SecureTunnel
// satisfies it.
type GroupTunnel interface {
	Send(msg cemi.Message) error
	Inbound() <-chan cemi.Message
	SourceAddr() cemi.IndividualAddr
}

var (
	errAlreadyConnected = errors.New("knx: already connected to device")
	errConnectionClosed = errors.New("knx: connection was closed")
	errUnknownDevice    = errors.New("knx: connection not found")
)

// P2PConnection represents a point-to-point connection to a bus device.
type P2PConnection struct {
	tunnel     GroupTunnel         // Underlying tunnelling connection
	timeout    time.Duration       // Time to wait for confirmations and acknowledgements
	inbound    chan cemi.Message   // Messages of the target device
	targetAddr cemi.IndividualAddr // Individual Address of the target bus device
	seqNumber  uint8               // Sequence number (4 bits)
	rateLimit  uint                // Rate limit for sending messages
	lastSend   time.Time           // Time of last sent message
	connected  bool                // Whether the connection is established
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.Mutex
}

func newP2PConnection(tunnel GroupTunnel, addr cemi.IndividualAddr, timeout time.Duration) *P2PConnection {
	return &P2PConnection{
		tunnel:     tunnel,
		timeout:    timeout,
		targetAddr: addr,
		seqNumber:  15, // Start with the maximum so the first increment will be 0.
		rateLimit:  20,
		lastSend:   time.Now().Add(-time.Second),
		done:       make(chan struct{}),
		inbound:    make(chan cemi.Message, 10),
	}
}

// Target returns the individual address of the device.
func (conn *P2PConnection) Target() cemi.IndividualAddr {
	return conn.targetAddr
}

// Connected reports whether the connection is established.
func (conn *P2PConnection) Connected() bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	return conn.connected
}

// Send sends a cEMI telegram over the point-to-point connection to the device
// and waits for a response matching the expected command.
func (conn *P2PConnection) Send(req cemi.Message, exp cemi.APCI, t time.Duration) (cemi.Message, error) {
	if !conn.Connected() {
		return nil, ErrNotConnected
	}

	// Set the sequence number in the request.
	seq := conn.nextSeqNum()
	if err := setSeqNum(req, seq); err != nil {
		return nil, err
	}

	conn.applyRateLimit()

	if err := conn.tunnel.Send(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if err := conn.awaitAck(seq); err != nil {
		return nil, err
	}

	// Wait for a response from the device.
	timeout := time.After(t)

	for {
		select {
		case <-timeout:
			return nil, ErrResponseTimeout

		case <-conn.done:
			return nil, errConnectionClosed

		case res := <-conn.inbound:
			// Messages other than Indication primitives can be ignored.
			ind, ok := res.(*cemi.LDataInd)
			if !ok {
				continue
			}

			app, ok := ind.LData.Data.(*cemi.AppData)
			if !ok || app.Command != exp {
				continue
			}

			conn.applyRateLimit()

			// Acknowledge the numbered response.
			ack := cemi.NewAck(conn.tunnel.SourceAddr(), ind.LData.Source, app.SeqNumber)
			if err := conn.tunnel.Send(ack); err != nil {
				return nil, fmt.Errorf("failed to send ACK: %w", err)
			}

			return ind, nil
		}
	}
}

// Disconnect closes the point-to-point connection to the device.
func (conn *P2PConnection) Disconnect() error {
	conn.mu.Lock()
	connected := conn.connected
	conn.connected = false
	conn.mu.Unlock()

	var err error
	if connected {
		conn.applyRateLimit()
		err = conn.tunnel.Send(cemi.NewDiscReq(conn.tunnel.SourceAddr(), conn.targetAddr))
	}

	conn.close()
	return err
}

// Inbound returns the channel for receiving messages from the device.
func (conn *P2PConnection) Inbound() <-chan cemi.Message {
	return conn.inbound
}

func (conn *P2PConnection) close() {
	conn.closeOnce.Do(func() {
		close(conn.done)
	})
}

// requestConn establishes the connection to the device.
func (conn *P2PConnection) requestConn() error {
	if conn.Connected() {
		return errAlreadyConnected
	}

	req := cemi.NewConnReq(conn.tunnel.SourceAddr(), conn.targetAddr)
	if err := conn.tunnel.Send(req); err != nil {
		return err
	}

	timeout := time.After(conn.timeout)

	// Cycle until a confirmation is received.
	for {
		select {
		case <-timeout:
			return ErrResponseTimeout

		case <-conn.done:
			return errConnectionClosed

		case msg := <-conn.inbound:
			// We're only interested in a L_Data.con wrapping a T_CONNECT.
			con, ok := msg.(*cemi.LDataCon)
			if !ok {
				continue
			}

			if _, ok := con.LData.Data.(*cemi.ControlConn); !ok {
				continue
			}

			if con.LData.Control.Error {
				return fmt.Errorf("knx: device %v did not confirm the connection", conn.targetAddr)
			}

			conn.mu.Lock()
			conn.connected = true
			conn.mu.Unlock()

			return nil
		}
	}
}

// deliver hands a message of the target device to the connection. A T_DISCONNECT from the
// device closes the connection.
func (conn *P2PConnection) deliver(msg cemi.Message) {
	if ind, ok := msg.(*cemi.LDataInd); ok {
		if _, ok := ind.LData.Data.(*cemi.ControlDisc); ok {
			util.Log(conn, "Device %v disconnected", conn.targetAddr)

			conn.mu.Lock()
			conn.connected = false
			conn.mu.Unlock()

			conn.close()
			return
		}
	}

	select {
	case conn.inbound <- msg:
	default:
		util.Warn(conn, "Inbound channel for %v is full, discarding %T", conn.targetAddr, msg)
	}
}

// nextSeqNum increments the sequence number for the connection.
func (conn *P2PConnection) nextSeqNum() uint8 {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	// Enforce the 4-bit sequence number limit.
	conn.seqNumber = (conn.seqNumber + 1) % 16
	return conn.seqNumber
}

// awaitAck waits for a T_Ack from the device after sending a request.
func (conn *P2PConnection) awaitAck(seq uint8) error {
	timeout := time.After(conn.timeout)

	for {
		select {
		case <-timeout:
			return fmt.Errorf("waiting for ACK: %w", ErrResponseTimeout)

		case <-conn.done:
			return errConnectionClosed

		case res := <-conn.inbound:
			// The Ack must be encapsulated in an indication primitive.
			ind, ok := res.(*cemi.LDataInd)
			if !ok {
				continue
			}

			if _, ok := ind.LData.Data.(*cemi.ControlNak); ok {
				return fmt.Errorf("knx: device %v rejected sequence number %d", conn.targetAddr, seq)
			}

			ack, ok := ind.LData.Data.(*cemi.ControlAck)
			if !ok {
				continue
			}

			if ack.SeqNumber != seq {
				return fmt.Errorf(
					"ack sequence number %d must match request sequence number %d",
					ack.SeqNumber, seq,
				)
			}

			return nil
		}
	}
}

// setSeqNum sets the sequence number in the request, effectively turning it into a
// T_DATA_CONNECTED telegram.
func setSeqNum(req cemi.Message, seq uint8) error {
	ldata, ok := req.(*cemi.LDataReq)
	if !ok {
		return fmt.Errorf("expected LDataReq, got %T", req)
	}

	app, ok := ldata.LData.Data.(*cemi.AppData)
	if !ok {
		return fmt.Errorf("expected AppData, got %T", ldata.LData.Data)
	}

	app.Numbered = true
	app.SeqNumber = seq

	return nil
}

// applyRateLimit ensures the connections rate limit is respected.
func (conn *P2PConnection) applyRateLimit() {
	conn.mu.Lock()
	interval := time.Second / time.Duration(conn.rateLimit)
	elapsed := time.Since(conn.lastSend)
	if elapsed < interval {
		wait := interval - elapsed
		conn.mu.Unlock()
		time.Sleep(wait)
		conn.mu.Lock()
	}
	conn.lastSend = time.Now()
	conn.mu.Unlock()
}

// Management handles point-to-point connections to individual devices. It reads the tunnel's
// inbound channel and routes the messages to the connection of their device.
type Management struct {
	tunnel      GroupTunnel
	timeout     time.Duration
	connections map[cemi.IndividualAddr]*P2PConnection
	mu          sync.Mutex
	done        chan struct{}
	closeOnce   sync.Once
	wait        sync.WaitGroup
}

// NewManagement creates a new Management instance with the given tunnel. Confirmations and
// acknowledgements are awaited for at most timeout.
func NewManagement(tunnel GroupTunnel, timeout time.Duration) *Management {
	if timeout <= 0 {
		timeout = DefaultSecureTunnelConfig().ResponseTimeout
	}

	m := &Management{
		tunnel:      tunnel,
		timeout:     timeout,
		connections: make(map[cemi.IndividualAddr]*P2PConnection),
		done:        make(chan struct{}),
	}

	m.wait.Add(1)
	go m.serve()

	return m
}

// serve routes messages from the tunnel to the connections.
func (m *Management) serve() {
	defer m.wait.Done()

	for {
		select {
		case <-m.done:
			return

		case msg, open := <-m.tunnel.Inbound():
			if !open {
				m.closeAll()
				return
			}

			if conn := m.route(msg); conn != nil {
				conn.deliver(msg)
			}
		}
	}
}

// route finds the connection a message belongs to. Confirmations carry the device as
// destination, indications as source.
func (m *Management) route(msg cemi.Message) *P2PConnection {
	var device cemi.IndividualAddr

	switch msg := msg.(type) {
	case *cemi.LDataCon:
		device = cemi.IndividualAddr(msg.LData.Destination)
	case *cemi.LDataInd:
		if msg.LData.Destination != uint16(m.tunnel.SourceAddr()) {
			return nil
		}
		device = msg.LData.Source
	default:
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connections[device]
}

func (m *Management) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for addr, conn := range m.connections {
		conn.mu.Lock()
		conn.connected = false
		conn.mu.Unlock()

		conn.close()
		delete(m.connections, addr)
	}
}

// Close disconnects all devices and stops routing.
func (m *Management) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		conns := make([]*P2PConnection, 0, len(m.connections))
		for _, conn := range m.connections {
			conns = append(conns, conn)
		}
		m.connections = make(map[cemi.IndividualAddr]*P2PConnection)
		m.mu.Unlock()

		for _, conn := range conns {
			if err := conn.Disconnect(); err != nil {
				util.Log(m, "Error while disconnecting %v: %v", conn.targetAddr, err)
			}
		}

		close(m.done)
	})

	m.wait.Wait()
}

// Connect establishes a new point-to-point connection to a device.
func (m *Management) Connect(addr cemi.IndividualAddr) (*P2PConnection, error) {
	m.mu.Lock()

	// Return the connection if it already exists.
	if conn, exists := m.connections[addr]; exists {
		if conn.Connected() {
			m.mu.Unlock()
			return conn, nil
		}
		delete(m.connections, addr)
	}

	// The connection is registered first so that the confirmation can be routed to it.
	conn := newP2PConnection(m.tunnel, addr, m.timeout)
	m.connections[addr] = conn
	m.mu.Unlock()

	if err := conn.requestConn(); err != nil {
		m.mu.Lock()
		if m.connections[addr] == conn {
			delete(m.connections, addr)
		}
		m.mu.Unlock()

		conn.close()
		return nil, err
	}

	return conn, nil
}

// Disconnect closes the point-to-point connection to a device if it exists.
func (m *Management) Disconnect(addr cemi.IndividualAddr) error {
	m.mu.Lock()
	conn, exists := m.connections[addr]
	if exists {
		delete(m.connections, addr)
	}
	m.mu.Unlock()

	if !exists {
		return errUnknownDevice
	}

	return conn.Disconnect()
}

// GetConnection returns an existing point-to-point connection if it exists,
// or nil if it does not.
func (m *Management) GetConnection(addr cemi.IndividualAddr) *P2PConnection {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connections[addr]
}
