// Licensed under the MIT license which can be found in the LICENSE file.

package knx

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LB-00/knx-secure/knx/cemi"
	"github.com/LB-00/knx-secure/knx/knxnet"
	"github.com/LB-00/knx-secure/knx/secure"
)

const (
	testDevicePassword = "trustme"
	testUserPassword   = "secret"
	testChannel        = 7
)

var testTunnelAddr = cemi.NewIndividualAddr3(1, 1, 250)

// fakeSocket passes every service through the codec, like a real transport would.
type fakeSocket struct {
	inbound   chan knxnet.Service
	outbound  chan knxnet.Service
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound:  make(chan knxnet.Service, 16),
		outbound: make(chan knxnet.Service, 16),
		closed:   make(chan struct{}),
	}
}

func recode(srv knxnet.ServicePackable) knxnet.Service {
	var out knxnet.Service
	if _, err := knxnet.Unpack(knxnet.AllocAndPack(srv), &out); err != nil {
		panic(err)
	}
	return out
}

func (sock *fakeSocket) Send(srv knxnet.ServicePackable) error {
	select {
	case sock.outbound <- recode(srv):
		return nil
	case <-sock.closed:
		return net.ErrClosed
	}
}

func (sock *fakeSocket) Inbound() <-chan knxnet.Service {
	return sock.inbound
}

func (sock *fakeSocket) Close() error {
	sock.closeOnce.Do(func() { close(sock.closed) })
	return nil
}

func (sock *fakeSocket) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
}

// fakeGateway is the server half of a secure tunnel.
type fakeGateway struct {
	t    *testing.T
	sock *fakeSocket

	private    [secure.PublicKeySize]byte
	public     [secure.PublicKeySize]byte
	client     [secure.PublicKeySize]byte
	key        [secure.KeySize]byte
	seq        uint64
	deviceCode [secure.KeySize]byte
	userHash   [secure.KeySize]byte

	connStatus knxnet.ErrCode
	silent     bool
	tunnelSeq  uint8

	inject   chan knxnet.ServicePackable
	received chan knxnet.Service
}

func newFakeGateway(t *testing.T, sock *fakeSocket) *fakeGateway {
	private, public, err := secure.GenerateKeyPair()
	require.NoError(t, err)

	return &fakeGateway{
		t:          t,
		sock:       sock,
		private:    private,
		public:     public,
		deviceCode: secure.DeviceAuthenticationCode(testDevicePassword),
		userHash:   secure.UserPasswordHash(testUserPassword),
		inject:     make(chan knxnet.ServicePackable, 4),
		received:   make(chan knxnet.Service, 64),
	}
}

func (g *fakeGateway) send(srv knxnet.ServicePackable) {
	w, err := secure.Wrap(knxnet.AllocAndPack(srv), 1, g.seq, [6]byte{0x00, 0xfa}, 0, g.key)
	if err != nil {
		panic(err)
	}
	g.seq++

	select {
	case g.sock.inbound <- recode(w):
	case <-g.sock.closed:
	}
}

func (g *fakeGateway) run() {
	for {
		select {
		case <-g.sock.closed:
			// Frames sent right before closing are still recorded.
			for {
				select {
				case msg := <-g.sock.outbound:
					g.process(msg)
				default:
					return
				}
			}

		case srv := <-g.inject:
			g.send(srv)

		case msg := <-g.sock.outbound:
			g.process(msg)
		}
	}
}

func (g *fakeGateway) process(msg knxnet.Service) {
	if g.silent {
		return
	}

	switch msg := msg.(type) {
	case *knxnet.SessionReq:
		key, err := secure.SessionKey(g.private, msg.PublicKey)
		if err != nil {
			panic(err)
		}
		g.client = msg.PublicKey
		g.key = key

		g.sock.inbound <- recode(&knxnet.SessionRes{
			SessionID: 1,
			PublicKey: g.public,
			MAC:       secure.ResponseMAC(g.deviceCode, 1, msg.PublicKey, g.public),
		})

	case *knxnet.SecureWrapper:
		frame, err := secure.Unwrap(msg, g.key)
		if err != nil {
			panic(err)
		}

		var inner knxnet.Service
		if _, err := knxnet.Unpack(frame, &inner); err != nil {
			panic(err)
		}

		g.received <- inner
		g.handle(inner)
	}
}

func (g *fakeGateway) handle(srv knxnet.Service) {
	switch srv := srv.(type) {
	case *knxnet.SessionAuth:
		status := knxnet.SessionAuthSuccess
		if srv.MAC != secure.AuthenticateMAC(g.userHash, srv.UserID, g.client, g.public) {
			status = knxnet.SessionAuthFailed
		}
		g.send(&knxnet.SessionStatus{Status: status})

	case *knxnet.ConnReq:
		g.send(&knxnet.ConnRes{
			Channel: testChannel,
			Status:  g.connStatus,
			Control: knxnet.NullHostInfo(knxnet.TCP4),
			Data:    knxnet.ConnResData{Type: knxnet.TunnelConnection, Addr: testTunnelAddr},
		})

	case *knxnet.TunnelReq:
		g.send(&knxnet.TunnelRes{Channel: srv.Channel, SeqNumber: srv.SeqNumber})

	case *knxnet.ConnStateReq:
		g.send(&knxnet.ConnStateRes{Channel: srv.Channel})

	case *knxnet.DiscReq:
		g.send(&knxnet.DiscRes{Channel: srv.Channel})
	}
}

// next returns the next decrypted service of the given type the gateway received.
func next[T knxnet.Service](t *testing.T, g *fakeGateway) T {
	t.Helper()

	for {
		select {
		case srv := <-g.received:
			if typed, ok := srv.(T); ok {
				return typed
			}
		case <-time.After(2 * time.Second):
			var zero T
			t.Fatalf("gateway did not receive %T", zero)
			return zero
		}
	}
}

func testTunnelConfig() SecureTunnelConfig {
	config := DefaultSecureTunnelConfig()
	config.UserPassword = testUserPassword
	config.DeviceAuthenticationPassword = testDevicePassword
	config.Serial = [6]byte{0x00, 0xfa, 0x01, 0x02, 0x03, 0x04}
	config.ResponseTimeout = time.Second
	config.HeartbeatInterval = 0
	return config
}

func startTunnel(t *testing.T, config SecureTunnelConfig, prepare func(*fakeGateway)) (*SecureTunnel, *fakeGateway, error) {
	sock := newFakeSocket()
	gateway := newFakeGateway(t, sock)
	if prepare != nil {
		prepare(gateway)
	}
	go gateway.run()

	tunnel := NewSecureTunnel(sock, config)
	t.Cleanup(func() { tunnel.Close("test done") })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	return tunnel, gateway, tunnel.Connect(ctx)
}

func testGroupWrite() *cemi.LDataReq {
	return &cemi.LDataReq{LData: cemi.NewGroupWrite(0, cemi.NewGroupAddr3(1, 1, 1), []byte{0x01})}
}

func TestSecureTunnelConnect(t *testing.T) {
	tunnel, gateway, err := startTunnel(t, testTunnelConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, secure.StateAuthenticated, tunnel.State())
	assert.Equal(t, testTunnelAddr, tunnel.SourceAddr())

	auth := next[*knxnet.SessionAuth](t, gateway)
	assert.Equal(t, uint8(2), auth.UserID)

	req := next[*knxnet.ConnReq](t, gateway)
	assert.Equal(t, knxnet.TunnelConnection, req.Info.Type)
	assert.Equal(t, knxnet.TunnelLayerData, req.Info.Layer)
	assert.Equal(t, knxnet.NullHostInfo(knxnet.TCP4), req.Control)
}

func TestSecureTunnelSend(t *testing.T) {
	tunnel, gateway, err := startTunnel(t, testTunnelConfig(), nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, tunnel.Send(testGroupWrite()))

		req := next[*knxnet.TunnelReq](t, gateway)
		assert.Equal(t, uint8(testChannel), req.Channel)
		assert.Equal(t, uint8(i), req.SeqNumber)
		assert.Equal(t, testGroupWrite(), req.Payload)
	}
}

func TestSecureTunnelSequenceWraps(t *testing.T) {
	tunnel, gateway, err := startTunnel(t, testTunnelConfig(), nil)
	require.NoError(t, err)

	tunnel.mu.Lock()
	tunnel.seqNumber = 255
	tunnel.mu.Unlock()

	require.NoError(t, tunnel.Send(testGroupWrite()))
	assert.Equal(t, uint8(255), next[*knxnet.TunnelReq](t, gateway).SeqNumber)

	require.NoError(t, tunnel.Send(testGroupWrite()))
	assert.Equal(t, uint8(0), next[*knxnet.TunnelReq](t, gateway).SeqNumber)
}

func TestSecureTunnelInbound(t *testing.T) {
	tunnel, gateway, err := startTunnel(t, testTunnelConfig(), nil)
	require.NoError(t, err)

	ind := &cemi.LDataInd{LData: cemi.NewGroupWrite(cemi.NewIndividualAddr3(1, 1, 5), cemi.NewGroupAddr3(1, 2, 3), []byte{0x00})}
	req := &knxnet.TunnelReq{Channel: testChannel, SeqNumber: 4, Payload: ind}

	gateway.inject <- req

	select {
	case msg := <-tunnel.Inbound():
		assert.Equal(t, ind, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}

	ack := next[*knxnet.TunnelRes](t, gateway)
	assert.Equal(t, uint8(testChannel), ack.Channel)
	assert.Equal(t, uint8(4), ack.SeqNumber)
	assert.Equal(t, knxnet.NoError, ack.Status)

	// A repeated request is acknowledged again but not delivered twice.
	gateway.inject <- req
	assert.Equal(t, uint8(4), next[*knxnet.TunnelRes](t, gateway).SeqNumber)

	select {
	case msg := <-tunnel.Inbound():
		t.Fatalf("unexpected message %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSecureTunnelWrongPassword(t *testing.T) {
	config := testTunnelConfig()
	config.UserPassword = "wrong"

	tunnel, _, err := startTunnel(t, config, nil)

	var statusErr *secure.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, knxnet.SessionAuthFailed, statusErr.Status)
	assert.Equal(t, secure.StateClosed, tunnel.State())
}

func TestSecureTunnelWrongDeviceCode(t *testing.T) {
	config := testTunnelConfig()
	config.DeviceAuthenticationPassword = "wrong"

	_, _, err := startTunnel(t, config, nil)
	assert.ErrorIs(t, err, secure.ErrMACVerification)
}

func TestSecureTunnelConnectionRefused(t *testing.T) {
	_, _, err := startTunnel(t, testTunnelConfig(), func(g *fakeGateway) {
		g.connStatus = knxnet.ErrNoMoreConnections
	})
	assert.ErrorIs(t, err, knxnet.ErrNoMoreConnections)
}

func TestSecureTunnelConnectCancelled(t *testing.T) {
	sock := newFakeSocket()
	gateway := newFakeGateway(t, sock)
	gateway.silent = true
	go gateway.run()

	tunnel := NewSecureTunnel(sock, testTunnelConfig())
	defer tunnel.Close("test done")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tunnel.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, secure.StateClosed, tunnel.State())

	assert.ErrorIs(t, tunnel.Send(testGroupWrite()), ErrNotConnected)

	// Inbound closes even though the tunnel never connected.
	require.NoError(t, tunnel.Close("test done"))
	select {
	case _, open := <-tunnel.Inbound():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("inbound not closed")
	}
}

func TestSecureTunnelClose(t *testing.T) {
	tunnel, gateway, err := startTunnel(t, testTunnelConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, tunnel.Close("bye"))

	disc := next[*knxnet.DiscReq](t, gateway)
	assert.Equal(t, uint8(testChannel), disc.Channel)

	status := next[*knxnet.SessionStatus](t, gateway)
	assert.Equal(t, knxnet.SessionClose, status.Status)

	assert.Equal(t, secure.StateClosed, tunnel.State())

	_, open := <-tunnel.Inbound()
	assert.False(t, open)
}

func TestSecureTunnelCloseWithoutChannel(t *testing.T) {
	sock := newFakeSocket()
	tunnel := NewSecureTunnel(sock, testTunnelConfig())

	require.NoError(t, tunnel.Close("never connected"))

	select {
	case srv := <-sock.outbound:
		t.Fatalf("unexpected %v", srv.Service())
	default:
	}
}

func TestSecureTunnelDisconnectedByGateway(t *testing.T) {
	tunnel, gateway, err := startTunnel(t, testTunnelConfig(), nil)
	require.NoError(t, err)

	gateway.inject <- &knxnet.DiscReq{Channel: testChannel, Control: knxnet.NullHostInfo(knxnet.TCP4)}

	res := next[*knxnet.DiscRes](t, gateway)
	assert.Equal(t, uint8(testChannel), res.Channel)

	select {
	case _, open := <-tunnel.Inbound():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound channel not closed")
	}

	assert.ErrorIs(t, tunnel.Send(testGroupWrite()), ErrNotConnected)
}

func TestSecureTunnelHeartbeat(t *testing.T) {
	config := testTunnelConfig()
	config.HeartbeatInterval = 20 * time.Millisecond

	_, gateway, err := startTunnel(t, config, nil)
	require.NoError(t, err)

	req := next[*knxnet.ConnStateReq](t, gateway)
	assert.Equal(t, uint8(testChannel), req.Channel)
}

func TestSecureTunnelSessionClosedByGateway(t *testing.T) {
	tunnel, gateway, err := startTunnel(t, testTunnelConfig(), nil)
	require.NoError(t, err)

	gateway.inject <- &knxnet.SessionStatus{Status: knxnet.SessionClose}

	select {
	case _, open := <-tunnel.Inbound():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound channel not closed")
	}

	assert.Equal(t, secure.StateClosed, tunnel.State())
}
