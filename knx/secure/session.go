// Licensed under the MIT license which can be found in the LICENSE file.

package secure

import (
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/LB-00/knx-secure/knx/knxnet"
	"github.com/LB-00/knx-secure/knx/util"
)

// State is the state of a secure session.
type State uint8

// These are the session states.
const (
	StateInitial State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

// String describes the state.
func (state State) String() string {
	switch state {
	case StateInitial:
		return "initial"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", uint8(state))
}

// EventType identifies a session notification.
type EventType uint8

// These are the session notifications.
const (
	EventAuthenticated EventType = iota + 1
	EventTimeout
	EventError
	EventClosed
)

// String describes the event type.
func (ty EventType) String() string {
	switch ty {
	case EventAuthenticated:
		return "authenticated"
	case EventTimeout:
		return "timeout"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	}
	return fmt.Sprintf("EventType(%d)", uint8(ty))
}

// Event is a notification emitted by a Session.
type Event struct {
	Type   EventType
	Reason string
	Err    error
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// User to authenticate as. User 1 is the management user.
	UserID uint8

	// Password of the user.
	UserPassword string

	// Device authentication password of the gateway. The Session Response is not verified
	// when this is empty.
	DeviceAuthenticationPassword string

	// Serial number and message tag stamped into outgoing Secure Wrappers.
	Serial [knxnet.SerialSize]byte
	Tag    uint16

	// Control endpoint announced in the Session Request.
	Control knxnet.HostInfo

	// Time allowed between the Session Request and the successful Session Status.
	AuthTimeout time.Duration

	// Time after which an authenticated session without inbound traffic is closed.
	IdleTimeout time.Duration

	// Capacity of the event channel.
	EventBuffer int
}

// DefaultSessionConfig is a good default configuration for a session.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		UserID:      2,
		Control:     knxnet.NullHostInfo(knxnet.TCP4),
		AuthTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		EventBuffer: 16,
	}
}

// checkSessionConfig replaces bogus values with defaults.
func checkSessionConfig(config SessionConfig) SessionConfig {
	defaults := DefaultSessionConfig()

	if config.UserID == 0 {
		config.UserID = defaults.UserID
	}

	if config.Control.Protocol == 0 {
		config.Control = defaults.Control
	}

	if config.AuthTimeout <= 0 {
		config.AuthTimeout = defaults.AuthTimeout
	}

	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}

	if config.EventBuffer <= 0 {
		config.EventBuffer = defaults.EventBuffer
	}

	return config
}

// Session is the client side of a KNX IP Secure session. All methods are safe for concurrent
// use.
type Session struct {
	config       SessionConfig
	userHash     [KeySize]byte
	deviceCode   [KeySize]byte
	verifyDevice bool

	mu    sync.Mutex
	state State

	private [PublicKeySize]byte
	public  [PublicKeySize]byte

	sessionID uint16
	key       [KeySize]byte
	hasKey    bool

	sendSeq  uint64
	recvSeq  uint64
	received bool

	authTimer *time.Timer
	authGen   uint64
	idleTimer *time.Timer
	idleGen   uint64

	events chan Event
	done   chan struct{}
}

// NewSession creates a session in its initial state. The passwords are hashed up front.
func NewSession(config SessionConfig) *Session {
	config = checkSessionConfig(config)

	s := &Session{
		config:   config,
		userHash: UserPasswordHash(config.UserPassword),
		events:   make(chan Event, config.EventBuffer),
		done:     make(chan struct{}),
	}

	if config.DeviceAuthenticationPassword != "" {
		s.deviceCode = DeviceAuthenticationCode(config.DeviceAuthenticationPassword)
		s.verifyDevice = true
	} else {
		util.Warn(s, "No device authentication password, the gateway will not be verified")
	}

	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// SessionID returns the id assigned by the gateway, or 0 before the Session Response.
func (s *Session) SessionID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessionID
}

// Events returns the notification channel. Notifications are dropped when nobody drains it.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start generates the key pair and returns the Session Request to send.
func (s *Session) Start() (*knxnet.SessionReq, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitial {
		return nil, ErrAlreadyStarted
	}

	private, public, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	s.private = private
	s.public = public
	s.state = StateAuthenticating
	s.armAuthTimer()

	return &knxnet.SessionReq{Control: s.config.Control, PublicKey: public}, nil
}

// HandleSessionResponse processes the gateway's Session Response. On success it returns the
// Secure Wrapper carrying the Session Authenticate that must be sent next.
func (s *Session) HandleSessionResponse(res *knxnet.SessionRes) (*knxnet.SecureWrapper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticating || s.hasKey {
		return nil, &StateError{Op: "session response", State: s.state}
	}

	if s.verifyDevice {
		expected := ResponseMAC(s.deviceCode, res.SessionID, s.public, res.PublicKey)
		if subtle.ConstantTimeCompare(expected[:], res.MAC[:]) != 1 {
			s.emit(Event{Type: EventError, Reason: "session response", Err: ErrMACVerification})
			return nil, ErrMACVerification
		}
	}

	key, err := SessionKey(s.private, res.PublicKey)
	if err != nil {
		return nil, err
	}

	s.sessionID = res.SessionID
	s.key = key
	s.hasKey = true

	auth := &knxnet.SessionAuth{
		UserID: s.config.UserID,
		MAC:    AuthenticateMAC(s.userHash, s.config.UserID, s.public, res.PublicKey),
	}

	return s.wrap(knxnet.AllocAndPack(auth))
}

// HandleSessionStatus processes a Session Status received from the gateway. Failure statuses
// close the session and are returned as a StatusError.
func (s *Session) HandleSessionStatus(status knxnet.SessionStatusCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return &StateError{Op: "session status", State: s.state}
	}

	switch status {
	case knxnet.SessionAuthSuccess:
		if s.state != StateAuthenticating || !s.hasKey {
			return &StateError{Op: "authentication success", State: s.state}
		}

		s.stopAuthTimer()
		s.state = StateAuthenticated
		s.armIdleTimer()
		s.emit(Event{Type: EventAuthenticated})

	case knxnet.SessionKeepAlive:
		if s.state == StateAuthenticated {
			s.armIdleTimer()
		}

	case knxnet.SessionClose:
		s.close("closed by server", nil)

	case knxnet.SessionAuthFailed, knxnet.SessionUnauthenticated, knxnet.SessionTimeout:
		err := &StatusError{Status: status}
		s.emit(Event{Type: EventError, Reason: status.String(), Err: err})
		s.close(status.String(), err)
		return err

	default:
		util.Log(s, "Ignoring unknown session status %v", status)
	}

	return nil
}

// Wrap encrypts a packed KNXnet/IP frame for the authenticated session.
func (s *Session) Wrap(frame []byte) (*knxnet.SecureWrapper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticated {
		return nil, &StateError{Op: "wrap", State: s.state}
	}

	return s.wrap(frame)
}

// WrapService packs and encrypts a service for the authenticated session.
func (s *Session) WrapService(srv knxnet.ServicePackable) (*knxnet.SecureWrapper, error) {
	return s.Wrap(knxnet.AllocAndPack(srv))
}

// KeepAlive returns a wrapped Session Status that keeps the session open.
func (s *Session) KeepAlive() (*knxnet.SecureWrapper, error) {
	return s.WrapService(&knxnet.SessionStatus{Status: knxnet.SessionKeepAlive})
}

func (s *Session) wrap(frame []byte) (*knxnet.SecureWrapper, error) {
	if s.sendSeq > MaxSequence {
		return nil, ErrSequenceOverflow
	}

	w, err := Wrap(frame, s.sessionID, s.sendSeq, s.config.Serial, s.config.Tag, s.key)
	if err != nil {
		return nil, err
	}

	s.sendSeq++
	return w, nil
}

// ValidateSequence checks that seq is strictly greater than the last accepted sequence number.
func (s *Session) ValidateSequence(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.validateSequence(seq)
}

func (s *Session) validateSequence(seq uint64) error {
	if s.received && seq <= s.recvSeq {
		return &SequenceViolationError{Received: seq, Last: s.recvSeq}
	}
	return nil
}

// Unwrap verifies and decrypts a Secure Wrapper received from the gateway. While the session
// is authenticating only a wrapped Session Status is accepted.
func (s *Session) Unwrap(w *knxnet.SecureWrapper) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticated && (s.state != StateAuthenticating || !s.hasKey) {
		return nil, &StateError{Op: "unwrap", State: s.state}
	}

	if w.SessionID != s.sessionID {
		return nil, ErrSessionMismatch
	}

	seq := SequenceValue(w.Sequence)
	if err := s.validateSequence(seq); err != nil {
		return nil, err
	}

	frame, err := Unwrap(w, s.key)
	if err != nil {
		s.emit(Event{Type: EventError, Reason: "unwrap", Err: err})
		return nil, err
	}

	if s.state == StateAuthenticating {
		var header knxnet.Header
		if _, err := header.Unpack(frame); err != nil {
			return nil, err
		}

		if header.Service != knxnet.SessionStatusService {
			return nil, &StateError{Op: fmt.Sprintf("unwrap %v", header.Service), State: s.state}
		}
	}

	s.recvSeq = seq
	s.received = true

	if s.state == StateAuthenticated {
		s.armIdleTimer()
	}

	return frame, nil
}

// UnwrapService unwraps a Secure Wrapper and decodes the inner service.
func (s *Session) UnwrapService(w *knxnet.SecureWrapper) (knxnet.Service, error) {
	frame, err := s.Unwrap(w)
	if err != nil {
		return nil, err
	}

	var srv knxnet.Service
	if _, err := knxnet.Unpack(frame, &srv); err != nil {
		return nil, err
	}

	return srv, nil
}

// Close closes the session. Only the first call has an effect.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.close(reason, nil)
}

func (s *Session) close(reason string, err error) {
	if s.state == StateClosed {
		return
	}

	s.stopAuthTimer()
	s.stopIdleTimer()

	s.state = StateClosed
	s.key = [KeySize]byte{}
	s.hasKey = false

	util.Log(s, "Session %d closed: %s", s.sessionID, reason)

	s.emit(Event{Type: EventClosed, Reason: reason, Err: err})
	close(s.done)
}

func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	default:
		util.Log(s, "Dropping %v event, nobody is listening", event.Type)
	}
}

func (s *Session) armAuthTimer() {
	s.stopAuthTimer()

	gen := s.authGen
	s.authTimer = time.AfterFunc(s.config.AuthTimeout, func() {
		s.expire(&s.authGen, gen, "authentication timeout")
	})
}

func (s *Session) stopAuthTimer() {
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
	s.authGen++
}

func (s *Session) armIdleTimer() {
	s.stopIdleTimer()

	gen := s.idleGen
	s.idleTimer = time.AfterFunc(s.config.IdleTimeout, func() {
		s.expire(&s.idleGen, gen, "session idle timeout")
	})
}

func (s *Session) stopIdleTimer() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.idleGen++
}

// expire runs when a timer fires. Timers that were stopped or re-armed in the meantime carry
// an outdated generation and are ignored.
func (s *Session) expire(gen *uint64, want uint64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed || *gen != want {
		return
	}

	s.emit(Event{Type: EventTimeout, Reason: reason})
	s.close(reason, nil)
}
