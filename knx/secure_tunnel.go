// Licensed under the MIT license which can be found in the LICENSE file.

// Package knx connects to KNXnet/IP gateways: secure tunnelling, server discovery and
// point-to-point device management.
package knx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/knxnet"
	"github.com/LB-00/knx-secure/knx/secure"
	"github.com/LB-00/knx-secure/knx/util"
)

var (
	// ErrResponseTimeout is returned when the gateway does not answer in time.
	ErrResponseTimeout = errors.New("knx: response timeout reached")

	// ErrNotConnected is returned when sending on a tunnel without a channel.
	ErrNotConnected = errors.New("knx: tunnel is not connected")

	// ErrTunnelClosed is returned once the tunnel or its socket has been closed.
	ErrTunnelClosed = errors.New("knx: tunnel closed")

	// ErrSessionClosed is returned when the secure session ends while connecting.
	ErrSessionClosed = errors.New("knx: secure session closed")
)

// SecureTunnelConfig allows you to configure the secure tunnel client behavior.
type SecureTunnelConfig struct {
	// UserID, UserPassword and DeviceAuthenticationPassword authenticate the session. An empty
	// device authentication password skips the verification of the gateway.
	UserID                       uint8
	UserPassword                 string
	DeviceAuthenticationPassword string

	// Serial number of this client, stamped into every Secure Wrapper.
	Serial [knxnet.SerialSize]byte

	// ResponseTimeout specifies how long to wait for a response.
	ResponseTimeout time.Duration

	// HeartbeatInterval specifies the time interval between connection state requests.
	// Zero disables the heartbeat.
	HeartbeatInterval time.Duration

	// IndividualAddr asks the gateway for a specific tunnelling address when it is not 0.
	IndividualAddr cemi.IndividualAddr

	// InboundBuffer is the capacity of the Inbound channel.
	InboundBuffer int
}

// DefaultSecureTunnelConfig is a good default configuration for a secure tunnel client.
func DefaultSecureTunnelConfig() SecureTunnelConfig {
	return SecureTunnelConfig{
		UserID:            2,
		ResponseTimeout:   10 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		InboundBuffer:     32,
	}
}

// checkSecureTunnelConfig makes sure that the configuration is actually usable.
func checkSecureTunnelConfig(config SecureTunnelConfig) SecureTunnelConfig {
	defaults := DefaultSecureTunnelConfig()

	if config.UserID == 0 {
		config.UserID = defaults.UserID
	}

	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = defaults.ResponseTimeout
	}

	if config.HeartbeatInterval < 0 {
		config.HeartbeatInterval = 0
	}

	if config.InboundBuffer <= 0 {
		config.InboundBuffer = defaults.InboundBuffer
	}

	return config
}

// SecureTunnel is a tunnel connection through a KNX IP Secure session.
type SecureTunnel struct {
	sock    knxnet.Socket
	config  SecureTunnelConfig
	session *secure.Session
	control knxnet.HostInfo

	mu         sync.Mutex
	channel    uint8
	hasChannel bool
	addr       cemi.IndividualAddr
	seqNumber  uint8
	lastRecv   int
	serving    bool
	stopped    bool

	sendMu  sync.Mutex
	ack     chan *knxnet.TunnelRes
	inbound chan cemi.Message

	done      chan struct{}
	closeOnce sync.Once
	wait      sync.WaitGroup
}

// NewSecureTunnel prepares a secure tunnel on an established socket. Call Connect to run the
// handshake.
func NewSecureTunnel(sock knxnet.Socket, config SecureTunnelConfig) *SecureTunnel {
	config = checkSecureTunnelConfig(config)

	control := knxnet.NullHostInfo(knxnet.TCP4)
	if addr, ok := sock.LocalAddr().(*net.UDPAddr); ok {
		if info, err := knxnet.HostInfoFromAddress(addr); err == nil {
			control = info
		}
	}

	sessionConfig := secure.DefaultSessionConfig()
	sessionConfig.UserID = config.UserID
	sessionConfig.UserPassword = config.UserPassword
	sessionConfig.DeviceAuthenticationPassword = config.DeviceAuthenticationPassword
	sessionConfig.Serial = config.Serial
	sessionConfig.Control = control

	return &SecureTunnel{
		sock:     sock,
		config:   config,
		session:  secure.NewSession(sessionConfig),
		control:  control,
		lastRecv: -1,
		ack:      make(chan *knxnet.TunnelRes, 1),
		inbound:  make(chan cemi.Message, config.InboundBuffer),
		done:     make(chan struct{}),
	}
}

// DialSecureTunnel opens a TCP connection to the gateway and connects a secure tunnel over it.
func DialSecureTunnel(ctx context.Context, address string, config SecureTunnelConfig) (*SecureTunnel, error) {
	sock, err := knxnet.DialTunnelTCP(address)
	if err != nil {
		return nil, err
	}

	tunnel := NewSecureTunnel(sock, config)
	if err := tunnel.Connect(ctx); err != nil {
		tunnel.Close("connect failed")
		return nil, err
	}

	return tunnel, nil
}

// sendWrapped encrypts the service and sends it.
func (tunnel *SecureTunnel) sendWrapped(srv knxnet.ServicePackable) error {
	w, err := tunnel.session.WrapService(srv)
	if err != nil {
		return err
	}
	return tunnel.sock.Send(w)
}

// Connect authenticates the session and requests the tunnel connection. It returns once the
// gateway has assigned a channel.
func (tunnel *SecureTunnel) Connect(ctx context.Context) error {
	req, err := tunnel.session.Start()
	if err != nil {
		return err
	}

	if err := tunnel.sock.Send(req); err != nil {
		tunnel.session.Close("send failed")
		return err
	}

	connReqSent := false

	for {
		select {
		case <-ctx.Done():
			tunnel.session.Close("connect cancelled")
			return ctx.Err()

		case <-tunnel.session.Done():
			return ErrSessionClosed

		case msg, open := <-tunnel.sock.Inbound():
			if !open {
				tunnel.session.Close("socket closed")
				return ErrTunnelClosed
			}

			switch msg := msg.(type) {
			case *knxnet.SessionRes:
				w, err := tunnel.session.HandleSessionResponse(msg)
				if err != nil {
					tunnel.session.Close("session response rejected")
					return err
				}

				if err := tunnel.sock.Send(w); err != nil {
					tunnel.session.Close("send failed")
					return err
				}

			case *knxnet.SecureWrapper:
				srv, err := tunnel.session.UnwrapService(msg)
				if err != nil {
					util.Log(tunnel, "Dropping secure wrapper: %v", err)
					continue
				}

				switch srv := srv.(type) {
				case *knxnet.SessionStatus:
					if err := tunnel.session.HandleSessionStatus(srv.Status); err != nil {
						return err
					}

					if tunnel.session.State() == secure.StateAuthenticated && !connReqSent {
						if err := tunnel.requestConn(); err != nil {
							tunnel.session.Close("send failed")
							return err
						}
						connReqSent = true
					}

				case *knxnet.ConnRes:
					if srv.Status != knxnet.NoError {
						tunnel.session.Close("connection refused")
						return fmt.Errorf("connect: %w", srv.Status)
					}

					tunnel.mu.Lock()
					if tunnel.stopped {
						tunnel.mu.Unlock()
						return ErrTunnelClosed
					}

					tunnel.channel = srv.Channel
					tunnel.hasChannel = true
					tunnel.addr = srv.Data.Addr
					tunnel.serving = true

					tunnel.wait.Add(1)
					go tunnel.serve()
					tunnel.mu.Unlock()

					util.Log(tunnel, "Connected on channel %d as %v", srv.Channel, srv.Data.Addr)

					return nil

				default:
					util.Log(tunnel, "Ignoring %v while connecting", srv.Service())
				}

			default:
				util.Log(tunnel, "Ignoring unencrypted %v while connecting", msg.Service())
			}
		}
	}
}

// requestConn sends the secure Connection Request.
func (tunnel *SecureTunnel) requestConn() error {
	req := knxnet.NewConnReq(tunnel.control, tunnel.control)

	if tunnel.config.IndividualAddr != 0 {
		req.Info.Extended = true
		req.Info.Addr = tunnel.config.IndividualAddr
	}

	return tunnel.sendWrapped(req)
}

// Send relays a cEMI message through the tunnel and waits for the gateway's acknowledgement.
func (tunnel *SecureTunnel) Send(msg cemi.Message) error {
	tunnel.sendMu.Lock()
	defer tunnel.sendMu.Unlock()

	tunnel.mu.Lock()
	if !tunnel.hasChannel {
		tunnel.mu.Unlock()
		return ErrNotConnected
	}

	req := &knxnet.TunnelReq{
		Channel:   tunnel.channel,
		SeqNumber: tunnel.seqNumber,
		Payload:   msg,
	}
	tunnel.seqNumber++
	tunnel.mu.Unlock()

	// Drop a stale acknowledgement of an earlier request.
	select {
	case <-tunnel.ack:
	default:
	}

	// The request is repeated once if the gateway does not acknowledge it.
	for attempt := 0; attempt < 2; attempt++ {
		if err := tunnel.sendWrapped(req); err != nil {
			return err
		}

		err := tunnel.awaitAck(req.SeqNumber)
		if !errors.Is(err, ErrResponseTimeout) {
			return err
		}

		util.Log(tunnel, "No acknowledgement for sequence number %d", req.SeqNumber)
	}

	return ErrResponseTimeout
}

func (tunnel *SecureTunnel) awaitAck(seqNumber uint8) error {
	timeout := time.After(tunnel.config.ResponseTimeout)

	for {
		select {
		case <-timeout:
			return ErrResponseTimeout

		case <-tunnel.done:
			return ErrTunnelClosed

		case res := <-tunnel.ack:
			if res.SeqNumber != seqNumber {
				util.Log(tunnel, "Ignoring acknowledgement for sequence number %d", res.SeqNumber)
				continue
			}

			if res.Status != knxnet.NoError {
				return fmt.Errorf("tunnel request: %w", res.Status)
			}

			return nil
		}
	}
}

// Inbound returns the channel which transmits incoming data. It is closed when the tunnel
// shuts down.
func (tunnel *SecureTunnel) Inbound() <-chan cemi.Message {
	return tunnel.inbound
}

// SourceAddr returns the individual address assigned by the gateway.
func (tunnel *SecureTunnel) SourceAddr() cemi.IndividualAddr {
	tunnel.mu.Lock()
	defer tunnel.mu.Unlock()

	return tunnel.addr
}

// State returns the state of the underlying secure session.
func (tunnel *SecureTunnel) State() secure.State {
	return tunnel.session.State()
}

// HandleSecureWrapper processes a Secure Wrapper received from the gateway.
func (tunnel *SecureTunnel) HandleSecureWrapper(w *knxnet.SecureWrapper) error {
	srv, err := tunnel.session.UnwrapService(w)
	if err != nil {
		return err
	}

	switch srv := srv.(type) {
	case *knxnet.TunnelReq:
		return tunnel.handleTunnelReq(srv)

	case *knxnet.TunnelRes:
		select {
		case tunnel.ack <- srv:
		default:
			util.Log(tunnel, "Dropping unexpected acknowledgement %d", srv.SeqNumber)
		}

	case *knxnet.DiscReq:
		tunnel.handleDiscReq(srv)

	case *knxnet.DiscRes:
		util.Log(tunnel, "Gateway confirmed disconnect of channel %d", srv.Channel)

	case *knxnet.ConnStateRes:
		if srv.Status != knxnet.NoError {
			util.Log(tunnel, "Connection state: %v", srv.Status)
			tunnel.shutdown("connection state "+srv.Status.String(), false)
		}

	case *knxnet.ConnRes:
		util.Log(tunnel, "Ignoring connection response for channel %d", srv.Channel)

	case *knxnet.SessionStatus:
		if err := tunnel.session.HandleSessionStatus(srv.Status); err != nil {
			return err
		}

	default:
		util.Log(tunnel, "Ignoring %v", srv.Service())
	}

	return nil
}

func (tunnel *SecureTunnel) handleTunnelReq(req *knxnet.TunnelReq) error {
	tunnel.mu.Lock()
	channel := tunnel.channel
	duplicate := tunnel.lastRecv == int(req.SeqNumber)
	tunnel.lastRecv = int(req.SeqNumber)
	tunnel.mu.Unlock()

	if req.Channel != channel {
		util.Log(tunnel, "Ignoring tunnel request for channel %d", req.Channel)
		return nil
	}

	if err := tunnel.sendWrapped(&knxnet.TunnelRes{
		Channel:   channel,
		SeqNumber: req.SeqNumber,
		Status:    knxnet.NoError,
	}); err != nil {
		return err
	}

	if duplicate {
		util.Log(tunnel, "Dropping repeated tunnel request %d", req.SeqNumber)
		return nil
	}

	select {
	case tunnel.inbound <- req.Payload:
	case <-tunnel.done:
	}

	return nil
}

func (tunnel *SecureTunnel) handleDiscReq(req *knxnet.DiscReq) {
	tunnel.mu.Lock()
	channel := tunnel.channel
	tunnel.mu.Unlock()

	if req.Channel != channel {
		util.Log(tunnel, "Ignoring disconnect request for channel %d", req.Channel)
		return
	}

	if err := tunnel.sendWrapped(&knxnet.DiscRes{Channel: channel, Status: knxnet.NoError}); err != nil {
		util.Log(tunnel, "Error while sending disconnect response: %v", err)
	}

	tunnel.shutdown("disconnected by gateway", false)
}

// heartbeat sends a connection state request.
func (tunnel *SecureTunnel) heartbeat() error {
	tunnel.mu.Lock()
	channel := tunnel.channel
	tunnel.mu.Unlock()

	return tunnel.sendWrapped(&knxnet.ConnStateReq{
		Channel: channel,
		Status:  0,
		Control: tunnel.control,
	})
}

// serve processes incoming packets until the tunnel is closed.
func (tunnel *SecureTunnel) serve() {
	util.Log(tunnel, "Started worker")
	defer util.Log(tunnel, "Worker exited")

	defer tunnel.wait.Done()
	defer close(tunnel.inbound)

	var heartbeat <-chan time.Time
	if tunnel.config.HeartbeatInterval > 0 {
		ticker := time.NewTicker(tunnel.config.HeartbeatInterval)
		defer ticker.Stop()

		heartbeat = ticker.C
	}

	for {
		select {
		case <-tunnel.done:
			return

		case <-tunnel.session.Done():
			tunnel.shutdown("session closed", false)
			return

		case <-heartbeat:
			if err := tunnel.heartbeat(); err != nil {
				util.Log(tunnel, "Error while sending heartbeat: %v", err)
			}

		case msg, open := <-tunnel.sock.Inbound():
			if !open {
				tunnel.shutdown("socket closed", false)
				return
			}

			w, ok := msg.(*knxnet.SecureWrapper)
			if !ok {
				util.Log(tunnel, "Dropping unencrypted %v", msg.Service())
				continue
			}

			if err := tunnel.HandleSecureWrapper(w); err != nil {
				util.Log(tunnel, "Error while handling secure wrapper: %v", err)
			}
		}
	}
}

// disconnect tells the gateway that the tunnel and the session end.
func (tunnel *SecureTunnel) disconnect() {
	tunnel.mu.Lock()
	channel, hasChannel := tunnel.channel, tunnel.hasChannel
	tunnel.mu.Unlock()

	if tunnel.session.State() != secure.StateAuthenticated {
		return
	}

	if hasChannel {
		if err := tunnel.sendWrapped(&knxnet.DiscReq{
			Channel: channel,
			Status:  0,
			Control: tunnel.control,
		}); err != nil {
			util.Log(tunnel, "Error while sending disconnect request: %v", err)
		}
	}

	if err := tunnel.sendWrapped(&knxnet.SessionStatus{Status: knxnet.SessionClose}); err != nil {
		util.Log(tunnel, "Error while sending session close: %v", err)
	}
}

func (tunnel *SecureTunnel) shutdown(reason string, disconnect bool) {
	tunnel.closeOnce.Do(func() {
		if disconnect {
			tunnel.disconnect()
		}

		tunnel.mu.Lock()
		tunnel.hasChannel = false
		tunnel.stopped = true
		serving := tunnel.serving
		tunnel.mu.Unlock()

		tunnel.session.Close(reason)
		close(tunnel.done)

		// The worker closes inbound once it exits.
		if !serving {
			close(tunnel.inbound)
		}
	})
}

// Close disconnects the tunnel, closes the session and the socket.
func (tunnel *SecureTunnel) Close(reason string) error {
	tunnel.shutdown(reason, true)
	tunnel.wait.Wait()

	return tunnel.sock.Close()
}
