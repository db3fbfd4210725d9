// Package rcon implements a remote console session: one TCP connection to a
// game server, the authentication handshake and synchronous request/response
// exchanges over it.
//
// A Session carries at most one outstanding request. It is not safe for
// concurrent use; callers sharing a session must serialize access
// themselves (see the console package). Authenticate must be the first
// call on a new session.
//
// The handshake follows the Minecraft flavour of the protocol: the server
// answers an Auth packet with exactly one packet. Source engine servers
// send an empty response value first, which this client does not expect.
//
// Once a request has been written, any failure before its response is
// fully read leaves the stream in an unknown position. The session then
// marks itself broken and refuses further exchanges with ErrBroken; the
// owner must close it and dial a new one.
package rcon

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconctl/internal/protocol"
)

// Transport is the byte stream a Session talks over. Write must write the
// whole buffer or fail. *net.TCPConn and net.Pipe ends satisfy it.
type Transport interface {
	io.ReadWriteCloser
}

// deadliner is implemented by transports that support I/O deadlines.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// State is the handshake state of a Session.
type State int

const (
	StateCreated State = iota
	StateAuthenticating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Options tune a Session. The zero value applies no timeouts and performs
// no client-side checks beyond what the protocol requires.
type Options struct {
	// DialTimeout bounds connection establishment in Dial.
	DialTimeout time.Duration
	// IOTimeout bounds each exchange (write plus read) when the transport
	// supports deadlines.
	IOTimeout time.Duration
	// VerifyIDs makes an exchange fail when the response id differs from
	// the request id.
	VerifyIDs bool
	// RequireAuth makes Send fail before a successful Authenticate.
	RequireAuth bool
}

// DefaultOptions returns the options used by rconctl.
func DefaultOptions() Options {
	return Options{
		DialTimeout: 10 * time.Second,
		IOTimeout:   30 * time.Second,
		VerifyIDs:   true,
		RequireAuth: true,
	}
}

// Session is one stateful binding to a remote console endpoint. It owns
// its transport exclusively.
type Session struct {
	conn   Transport
	opts   Options
	logger zerolog.Logger

	nextID        int32
	authenticated bool
	state         State
	broken        bool
}

// Dial connects to host:port over TCP and returns a Session bound to the
// new connection.
func Dial(ctx context.Context, host, port string, opts Options) (*Session, error) {
	addr := net.JoinHostPort(host, port)

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	s := New(conn, opts)
	s.logger = s.logger.With().Str("addr", addr).Logger()
	s.logger.Debug().Msg("connected")
	return s, nil
}

// New binds a Session to an already connected transport.
func New(conn Transport, opts Options) *Session {
	return &Session{
		conn:   conn,
		opts:   opts,
		logger: log.With().Str("component", "rcon").Logger(),
	}
}

// Authenticate performs the handshake by sending password in an Auth
// packet and reading exactly one response. Any failure is returned as
// *AuthError. A failed first handshake leaves the session unauthenticated;
// a failed repeat handshake on a ready session clears the authentication
// and returns the session to the authenticating state.
func (s *Session) Authenticate(ctx context.Context, password string) error {
	if s.broken {
		return &AuthError{Op: "state", Err: ErrBroken}
	}
	s.state = StateAuthenticating
	s.authenticated = false

	resp, id, op, err := s.exchange(ctx, protocol.TypeAuth, password)
	if err != nil {
		return &AuthError{Op: op, Err: err}
	}

	if resp.ID == -1 {
		s.logger.Debug().Int32("id", id).Msg("authentication rejected")
		return &AuthError{Err: ErrAuthRejected}
	}
	if s.opts.VerifyIDs && resp.ID != id {
		s.broken = true
		return &AuthError{Op: "verify", Err: &ProtocolError{Want: id, Got: resp.ID}}
	}

	s.authenticated = true
	s.state = StateReady
	s.logger.Debug().Int32("id", id).Msg("authenticated")
	return nil
}

// Execute sends command as a Command packet and returns the response body.
func (s *Session) Execute(ctx context.Context, command string) (string, error) {
	return s.Send(ctx, protocol.TypeCommand, command)
}

// Send performs one exchange with an explicit packet type and returns the
// response body. Failures are returned as *SendError; the request id is
// consumed even when the exchange fails, except for "state" failures which
// never reach the wire.
func (s *Session) Send(ctx context.Context, typ protocol.PacketType, body string) (string, error) {
	if s.broken {
		return "", &SendError{Op: "state", Err: ErrBroken}
	}
	if s.opts.RequireAuth && !s.authenticated {
		return "", &SendError{Op: "state", Err: ErrNotAuthenticated}
	}

	resp, id, op, err := s.exchange(ctx, typ, body)
	if err != nil {
		return "", &SendError{Op: op, ID: id, Err: err}
	}

	if s.opts.VerifyIDs && resp.ID != id {
		s.broken = true
		return "", &SendError{Op: "verify", ID: id, Err: &ProtocolError{Want: id, Got: resp.ID}}
	}

	s.logger.Trace().
		Int32("id", id).
		Int("response_len", len(resp.Body)).
		Msg("exchange complete")

	return resp.Body, nil
}

// exchange writes one packet and reads one packet back. On failure it
// returns the step that failed ("write", "read" or "decode") with the bare
// cause; callers wrap it in their own error kind.
func (s *Session) exchange(ctx context.Context, typ protocol.PacketType, body string) (protocol.Message, int32, string, error) {
	id := s.allocID()
	req := protocol.NewMessage(id, typ, body)

	if err := ctx.Err(); err != nil {
		return protocol.Message{}, id, "write", err
	}

	if d, ok := s.conn.(deadliner); ok {
		s.setDeadline(d)
		defer d.SetDeadline(time.Time{})

		// Unblock pending I/O when ctx ends.
		stop := context.AfterFunc(ctx, func() {
			d.SetDeadline(time.Unix(1, 0))
		})
		defer stop()
	}

	s.logger.Debug().
		Int32("id", id).
		Stringer("type", typ).
		Int("body_len", len(body)).
		Msg("sending packet")

	if err := protocol.WriteMessage(s.conn, req); err != nil {
		s.markBroken(id, "write")
		return protocol.Message{}, id, "write", ctxErr(ctx, err)
	}

	raw, err := protocol.ReadMessage(s.conn)
	if err != nil {
		s.markBroken(id, "read")
		return protocol.Message{}, id, "read", ctxErr(ctx, err)
	}

	resp, err := protocol.Decode(raw)
	if err != nil {
		s.markBroken(id, "decode")
		return protocol.Message{}, id, "decode", err
	}

	return resp, id, "", nil
}

func (s *Session) markBroken(id int32, op string) {
	s.broken = true
	s.logger.Debug().Int32("id", id).Str("op", op).Msg("exchange interrupted, session out of sync")
}

func (s *Session) setDeadline(d deadliner) {
	var deadline time.Time
	if s.opts.IOTimeout > 0 {
		deadline = time.Now().Add(s.opts.IOTimeout)
	}
	d.SetDeadline(deadline)
}

// allocID pre-increments the counter: the first id is 1.
func (s *Session) allocID() int32 {
	s.nextID++
	return s.nextID
}

// ctxErr prefers the context's error when the context ended, since the
// I/O error is then only a consequence of the forced deadline.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

// NextID returns the last id assigned, 0 before any exchange.
func (s *Session) NextID() int32 {
	return s.nextID
}

// Authenticated reports whether a handshake has succeeded.
func (s *Session) Authenticated() bool {
	return s.authenticated
}

// Broken reports whether an interrupted exchange left the stream out of
// sync. A broken session only accepts Close.
func (s *Session) Broken() bool {
	return s.broken
}

// State returns the handshake state.
func (s *Session) State() State {
	return s.state
}

// Close closes the transport. The session cannot be used afterwards.
func (s *Session) Close() error {
	s.logger.Debug().Msg("closing session")
	return s.conn.Close()
}
