// Package console serializes access to a single RCON session so the
// interactive CLI and the REST API can share one connection. Every
// exchange is published on the event bus.
//
// A command that is interrupted after its request was written leaves the
// session out of sync. The console closes such a session at once and, when
// it was created by Connect, dials and authenticates a replacement before
// the next command. The interrupted command itself is never retried.
package console

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/rcon"
	"github.com/energizer-project/rconctl/internal/util"
)

// ErrClosed is returned for calls on a closed console.
var ErrClosed = errors.New("console is closed")

// Session is the part of *rcon.Session the console drives.
type Session interface {
	Authenticate(ctx context.Context, password string) error
	Execute(ctx context.Context, command string) (string, error)
	NextID() int32
	State() rcon.State
	Broken() bool
	Close() error
}

// DialFunc opens a new, unauthenticated session.
type DialFunc func(ctx context.Context) (Session, error)

// Result is the outcome of one successful command.
type Result struct {
	ID       int32         `json:"id"`
	Response string        `json:"response"`
	Duration time.Duration `json:"duration_ns"`
}

// Status is a point-in-time view of the console.
type Status struct {
	Addr          string    `json:"addr"`
	State         string    `json:"state"`
	LastID        int32     `json:"last_id"`
	Executed      int       `json:"executed"`
	Failed        int       `json:"failed"`
	LastCommandAt time.Time `json:"last_command_at,omitempty"`
	Reconnects    int       `json:"reconnects"`
	Closed        bool      `json:"closed"`
}

// Console owns one session and runs one exchange at a time.
type Console struct {
	mu     sync.Mutex
	sess   Session
	addr   string
	bus    *events.EventBus
	logger zerolog.Logger

	// dial and password replace an out-of-sync session; dial is nil for
	// consoles built with New.
	dial     DialFunc
	password string

	executed      int
	failed        int
	reconnects    int
	lastCommandAt time.Time
	closed        bool
}

// New wraps an existing session. bus may be nil.
func New(sess Session, addr string, bus *events.EventBus) *Console {
	return &Console{
		sess:   sess,
		addr:   addr,
		bus:    bus,
		logger: util.ComponentLogger("console").With().Str("addr", addr).Logger(),
	}
}

// Connect dials the configured server and authenticates. The console
// redials with the same settings when a session goes out of sync.
func Connect(ctx context.Context, cfg config.RCONConfig, bus *events.EventBus) (*Console, error) {
	opts := rcon.Options{
		DialTimeout: cfg.DialTimeout(),
		IOTimeout:   cfg.IOTimeout(),
		VerifyIDs:   cfg.VerifyIDs,
		RequireAuth: cfg.RequireAuth,
	}

	port := strconv.Itoa(cfg.Port)
	dial := func(ctx context.Context) (Session, error) {
		sess, err := rcon.Dial(ctx, cfg.Host, port, opts)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}

	sess, err := dial(ctx)
	if err != nil {
		return nil, err
	}

	c := New(sess, net.JoinHostPort(cfg.Host, port), bus)
	c.dial = dial
	c.emit(ctx, events.EventConnected, events.SessionPayload{Addr: c.addr})

	if err := c.Authenticate(ctx, cfg.Password); err != nil {
		sess.Close()
		return nil, err
	}
	return c, nil
}

// Authenticate runs the handshake on the underlying session.
func (c *Console) Authenticate(ctx context.Context, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.authenticate(ctx, c.sess, password); err != nil {
		return err
	}
	c.password = password
	return nil
}

func (c *Console) authenticate(ctx context.Context, sess Session, password string) error {
	if err := sess.Authenticate(ctx, password); err != nil {
		c.logger.Warn().Err(err).Msg("authentication failed")
		c.emit(ctx, events.EventAuthFailed, events.SessionPayload{Addr: c.addr, Error: err.Error()})
		return err
	}

	c.logger.Info().Msg("authenticated")
	c.emit(ctx, events.EventAuthenticated, events.SessionPayload{Addr: c.addr})
	return nil
}

// Exec runs one command. source names the caller ("cli", "api", ...) for
// history and telemetry.
func (c *Console) Exec(ctx context.Context, source, command string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Result{}, ErrClosed
	}

	start := time.Now()
	var response string
	err := c.replaceBroken(ctx)
	if err == nil {
		wasBroken := c.sess.Broken()
		response, err = c.sess.Execute(ctx, command)
		if err != nil && !wasBroken && c.sess.Broken() {
			c.logger.Warn().Err(err).Msg("session out of sync, closing it")
			c.sess.Close()
		}
	}
	duration := time.Since(start)
	id := c.sess.NextID()
	c.lastCommandAt = start

	payload := events.CommandPayload{
		ID:       id,
		Source:   source,
		Command:  command,
		Response: response,
		Duration: duration,
	}

	if err != nil {
		c.failed++
		payload.Error = err.Error()
		c.logger.Warn().Err(err).Str("source", source).Int32("id", id).Msg("command failed")
		c.emit(ctx, events.EventCommandFailed, payload)
		return Result{}, err
	}

	c.executed++
	c.logger.Info().
		Str("source", source).
		Int32("id", id).
		Str("command", command).
		Dur("duration", duration).
		Msg("command executed")
	c.emit(ctx, events.EventCommandExecuted, payload)

	return Result{ID: id, Response: response, Duration: duration}, nil
}

// replaceBroken swaps an out-of-sync session for a freshly dialed and
// authenticated one. Without a dial func the broken session is kept and
// reports rcon.ErrBroken itself. Callers hold c.mu.
func (c *Console) replaceBroken(ctx context.Context) error {
	if c.dial == nil || !c.sess.Broken() {
		return nil
	}

	c.logger.Info().Msg("reconnecting")
	sess, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("reconnect failed: %w", err)
	}
	c.emit(ctx, events.EventConnected, events.SessionPayload{Addr: c.addr})

	if err := c.authenticate(ctx, sess, c.password); err != nil {
		sess.Close()
		return err
	}

	c.sess = sess
	c.reconnects++
	return nil
}

// Status reports the console state.
func (c *Console) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Addr:          c.addr,
		State:         c.sess.State().String(),
		LastID:        c.sess.NextID(),
		Executed:      c.executed,
		Failed:        c.failed,
		LastCommandAt: c.lastCommandAt,
		Reconnects:    c.reconnects,
		Closed:        c.closed,
	}
}

// Close closes the session. Further calls fail with ErrClosed.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info().Msg("closing console")
	if c.sess.Broken() {
		// Already closed when it went out of sync.
		return nil
	}
	return c.sess.Close()
}

// emit publishes on the bus. Observers must not be cut short by a caller's
// cancelled request context.
func (c *Console) emit(ctx context.Context, typ events.EventType, payload interface{}) {
	if c.bus == nil {
		return
	}
	c.bus.Emit(context.WithoutCancel(ctx), events.Event{
		Type:    typ,
		Source:  "console",
		Payload: payload,
	})
}
