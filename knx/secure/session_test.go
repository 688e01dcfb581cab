// Licensed under the MIT license which can be found in the LICENSE file.

package secure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LB-00/knx-secure/knx/knxnet"
)

const (
	testDevicePassword = "trustme"
	testUserPassword   = "secret"
)

// testGateway computes the gateway half of the handshake.
type testGateway struct {
	t *testing.T

	private   [PublicKeySize]byte
	public    [PublicKeySize]byte
	client    [PublicKeySize]byte
	sessionID uint16
	key       [KeySize]byte
	seq       uint64
	serial    [knxnet.SerialSize]byte

	deviceCode [KeySize]byte
	userHash   [KeySize]byte
}

func newTestGateway(t *testing.T) *testGateway {
	private, public, err := GenerateKeyPair()
	require.NoError(t, err)

	return &testGateway{
		t:          t,
		private:    private,
		public:     public,
		sessionID:  0x0021,
		serial:     [knxnet.SerialSize]byte{0x00, 0xfa, 0x00, 0x00, 0x00, 0x01},
		deviceCode: DeviceAuthenticationCode(testDevicePassword),
		userHash:   UserPasswordHash(testUserPassword),
	}
}

func (g *testGateway) respond(req *knxnet.SessionReq) *knxnet.SessionRes {
	key, err := SessionKey(g.private, req.PublicKey)
	require.NoError(g.t, err)

	g.client = req.PublicKey
	g.key = key

	return &knxnet.SessionRes{
		SessionID: g.sessionID,
		PublicKey: g.public,
		MAC:       ResponseMAC(g.deviceCode, g.sessionID, req.PublicKey, g.public),
	}
}

func (g *testGateway) unwrap(w *knxnet.SecureWrapper) knxnet.Service {
	frame, err := Unwrap(w, g.key)
	require.NoError(g.t, err)

	var srv knxnet.Service
	_, err = knxnet.Unpack(frame, &srv)
	require.NoError(g.t, err)

	return srv
}

func (g *testGateway) checkAuth(w *knxnet.SecureWrapper) {
	auth, ok := g.unwrap(w).(*knxnet.SessionAuth)
	require.True(g.t, ok)
	require.Equal(g.t, AuthenticateMAC(g.userHash, auth.UserID, g.client, g.public), auth.MAC)
}

func (g *testGateway) wrap(srv knxnet.ServicePackable) *knxnet.SecureWrapper {
	w, err := Wrap(knxnet.AllocAndPack(srv), g.sessionID, g.seq, g.serial, 0, g.key)
	require.NoError(g.t, err)

	g.seq++
	return w
}

func (g *testGateway) status(code knxnet.SessionStatusCode) *knxnet.SecureWrapper {
	return g.wrap(&knxnet.SessionStatus{Status: code})
}

func testSessionConfig() SessionConfig {
	config := DefaultSessionConfig()
	config.UserPassword = testUserPassword
	config.DeviceAuthenticationPassword = testDevicePassword
	config.Serial = [knxnet.SerialSize]byte{0x00, 0xfa, 0xaa, 0xbb, 0xcc, 0xdd}
	return config
}

// receiveStatus unwraps a Session Status on the session and applies it.
func receiveStatus(t *testing.T, s *Session, w *knxnet.SecureWrapper) error {
	srv, err := s.UnwrapService(w)
	require.NoError(t, err)

	status, ok := srv.(*knxnet.SessionStatus)
	require.True(t, ok)

	return s.HandleSessionStatus(status.Status)
}

func authenticate(t *testing.T, s *Session, g *testGateway) {
	req, err := s.Start()
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticating, s.State())

	w, err := s.HandleSessionResponse(g.respond(req))
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticating, s.State())
	g.checkAuth(w)

	require.NoError(t, receiveStatus(t, s, g.status(knxnet.SessionAuthSuccess)))
	require.Equal(t, StateAuthenticated, s.State())
}

func nextEvent(t *testing.T, s *Session) Event {
	select {
	case event := <-s.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no session event")
	}
	return Event{}
}

func TestSessionHandshake(t *testing.T) {
	s := NewSession(testSessionConfig())
	defer s.Close("test done")

	assert.Equal(t, StateInitial, s.State())

	g := newTestGateway(t)
	authenticate(t, s, g)

	assert.Equal(t, g.sessionID, s.SessionID())
	assert.Equal(t, EventAuthenticated, nextEvent(t, s).Type)

	frame := testTunnelFrame()
	w, err := s.Wrap(frame)
	require.NoError(t, err)

	// Sequence 0 was used by the Session Authenticate.
	assert.Equal(t, uint64(1), SequenceValue(w.Sequence))
	assert.IsType(t, &knxnet.TunnelReq{}, g.unwrap(w))

	inbound := g.wrap(&knxnet.TunnelRes{Channel: 1})
	srv, err := s.UnwrapService(inbound)
	require.NoError(t, err)
	assert.Equal(t, &knxnet.TunnelRes{Channel: 1}, srv)

	keepAlive, err := s.KeepAlive()
	require.NoError(t, err)
	assert.Equal(t, &knxnet.SessionStatus{Status: knxnet.SessionKeepAlive}, g.unwrap(keepAlive))
}

func TestSessionStartTwice(t *testing.T) {
	s := NewSession(testSessionConfig())
	defer s.Close("test done")

	_, err := s.Start()
	require.NoError(t, err)

	_, err = s.Start()
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	s.Close("test")

	_, err = s.Start()
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestSessionWrapBeforeAuthentication(t *testing.T) {
	s := NewSession(testSessionConfig())
	defer s.Close("test done")

	_, err := s.Wrap(testTunnelFrame())

	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StateInitial, stateErr.State)

	_, err = s.Start()
	require.NoError(t, err)

	_, err = s.Wrap(testTunnelFrame())
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StateAuthenticating, stateErr.State)

	_, err = s.Unwrap(&knxnet.SecureWrapper{})
	assert.ErrorAs(t, err, &stateErr)
}

func TestSessionResponseBeforeStart(t *testing.T) {
	s := NewSession(testSessionConfig())
	defer s.Close("test done")

	_, err := s.HandleSessionResponse(&knxnet.SessionRes{})

	var stateErr *StateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestSessionResponseBadMAC(t *testing.T) {
	config := testSessionConfig()
	config.DeviceAuthenticationPassword = "wrong"

	s := NewSession(config)
	defer s.Close("test done")

	req, err := s.Start()
	require.NoError(t, err)

	_, err = s.HandleSessionResponse(newTestGateway(t).respond(req))
	assert.ErrorIs(t, err, ErrMACVerification)
	assert.Equal(t, StateAuthenticating, s.State())

	event := nextEvent(t, s)
	assert.Equal(t, EventError, event.Type)
	assert.ErrorIs(t, event.Err, ErrMACVerification)
}

func TestSessionResponseWithoutDeviceCode(t *testing.T) {
	config := testSessionConfig()
	config.DeviceAuthenticationPassword = ""

	s := NewSession(config)
	defer s.Close("test done")

	req, err := s.Start()
	require.NoError(t, err)

	g := newTestGateway(t)
	res := g.respond(req)
	res.MAC = [MACSize]byte{}

	w, err := s.HandleSessionResponse(res)
	require.NoError(t, err)
	g.checkAuth(w)
}

func TestSessionUnwrapWhileAuthenticating(t *testing.T) {
	s := NewSession(testSessionConfig())
	defer s.Close("test done")

	req, err := s.Start()
	require.NoError(t, err)

	g := newTestGateway(t)
	_, err = s.HandleSessionResponse(g.respond(req))
	require.NoError(t, err)

	_, err = s.Unwrap(g.wrap(&knxnet.TunnelRes{Channel: 1}))

	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)

	require.NoError(t, receiveStatus(t, s, g.status(knxnet.SessionAuthSuccess)))
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestSessionSequence(t *testing.T) {
	s := NewSession(testSessionConfig())
	defer s.Close("test done")

	g := newTestGateway(t)
	authenticate(t, s, g)

	first := g.wrap(&knxnet.TunnelRes{Channel: 1, SeqNumber: 1})
	second := g.wrap(&knxnet.TunnelRes{Channel: 1, SeqNumber: 2})

	_, err := s.Unwrap(second)
	require.NoError(t, err)

	var seqErr *SequenceViolationError

	_, err = s.Unwrap(second)
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, SequenceValue(second.Sequence), seqErr.Received)
	assert.Equal(t, SequenceValue(second.Sequence), seqErr.Last)

	_, err = s.Unwrap(first)
	assert.ErrorAs(t, err, &seqErr)

	// The session survives the rejected frames.
	_, err = s.Unwrap(g.wrap(&knxnet.TunnelRes{Channel: 1, SeqNumber: 3}))
	assert.NoError(t, err)
	assert.Equal(t, StateAuthenticated, s.State())

	assert.NoError(t, s.ValidateSequence(SequenceValue(second.Sequence)+2))
	assert.Error(t, s.ValidateSequence(0))
}

func TestSessionTamperedFrameNotCommitted(t *testing.T) {
	s := NewSession(testSessionConfig())
	defer s.Close("test done")

	g := newTestGateway(t)
	authenticate(t, s, g)

	w := g.wrap(&knxnet.TunnelRes{Channel: 1})
	tampered := *w
	tampered.MAC[0] ^= 1

	_, err := s.Unwrap(&tampered)
	require.ErrorIs(t, err, ErrMACVerification)

	// A forged frame must not advance the replay window.
	_, err = s.Unwrap(w)
	assert.NoError(t, err)
}

func TestSessionIDMismatch(t *testing.T) {
	s := NewSession(testSessionConfig())
	defer s.Close("test done")

	g := newTestGateway(t)
	authenticate(t, s, g)

	g.sessionID++
	_, err := s.Unwrap(g.wrap(&knxnet.TunnelRes{Channel: 1}))
	assert.ErrorIs(t, err, ErrSessionMismatch)
}

func TestSessionStatusFailure(t *testing.T) {
	for _, code := range []knxnet.SessionStatusCode{
		knxnet.SessionAuthFailed,
		knxnet.SessionUnauthenticated,
		knxnet.SessionTimeout,
	} {
		t.Run(code.String(), func(t *testing.T) {
			s := NewSession(testSessionConfig())

			req, err := s.Start()
			require.NoError(t, err)

			g := newTestGateway(t)
			_, err = s.HandleSessionResponse(g.respond(req))
			require.NoError(t, err)

			err = receiveStatus(t, s, g.status(code))

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, code, statusErr.Status)
			assert.Equal(t, StateClosed, s.State())

			assert.Equal(t, EventError, nextEvent(t, s).Type)
			assert.Equal(t, EventClosed, nextEvent(t, s).Type)

			select {
			case <-s.Done():
			default:
				t.Fatal("Done not closed")
			}
		})
	}
}

func TestSessionClosedByServer(t *testing.T) {
	s := NewSession(testSessionConfig())

	g := newTestGateway(t)
	authenticate(t, s, g)
	assert.Equal(t, EventAuthenticated, nextEvent(t, s).Type)

	require.NoError(t, receiveStatus(t, s, g.status(knxnet.SessionClose)))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, EventClosed, nextEvent(t, s).Type)

	err := s.HandleSessionStatus(knxnet.SessionKeepAlive)

	var stateErr *StateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestSessionCloseOnce(t *testing.T) {
	s := NewSession(testSessionConfig())

	_, err := s.Start()
	require.NoError(t, err)

	s.Close("first")
	s.Close("second")

	event := nextEvent(t, s)
	assert.Equal(t, EventClosed, event.Type)
	assert.Equal(t, "first", event.Reason)

	select {
	case event := <-s.Events():
		t.Fatalf("unexpected event %v", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionAuthTimeout(t *testing.T) {
	config := testSessionConfig()
	config.AuthTimeout = 20 * time.Millisecond

	s := NewSession(config)

	_, err := s.Start()
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not time out")
	}

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, EventTimeout, nextEvent(t, s).Type)
	assert.Equal(t, EventClosed, nextEvent(t, s).Type)
}

func TestSessionAuthTimerCleared(t *testing.T) {
	config := testSessionConfig()
	config.AuthTimeout = 100 * time.Millisecond

	s := NewSession(config)
	defer s.Close("test done")

	g := newTestGateway(t)
	authenticate(t, s, g)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestSessionIdleTimeout(t *testing.T) {
	config := testSessionConfig()
	config.IdleTimeout = 150 * time.Millisecond

	s := NewSession(config)

	g := newTestGateway(t)
	authenticate(t, s, g)

	// Keep alives arriving within the idle window hold the session open.
	for i := 0; i < 4; i++ {
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, receiveStatus(t, s, g.status(knxnet.SessionKeepAlive)))
	}
	assert.Equal(t, StateAuthenticated, s.State())

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not expire")
	}

	var events []EventType
	for len(events) < 3 {
		events = append(events, nextEvent(t, s).Type)
	}
	assert.Equal(t, []EventType{EventAuthenticated, EventTimeout, EventClosed}, events)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "closed", EventClosed.String())
	assert.Contains(t, (&StateError{Op: "wrap", State: StateInitial}).Error(), "initial")
	assert.Contains(t, (&StatusError{Status: knxnet.SessionAuthFailed}).Error(), "authentication failed")
}
