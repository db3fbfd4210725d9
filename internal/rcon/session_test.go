package rcon

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/energizer-project/rconctl/internal/protocol"
)

// fakeServer answers packets read from conn with reply until reply returns
// nil bytes, recording every request it saw.
type fakeServer struct {
	conn     net.Conn
	requests chan protocol.Message
}

func newFakeServer(t *testing.T, reply func(req protocol.Message) []byte) (*Session, *fakeServer) {
	t.Helper()
	client, server := net.Pipe()
	fs := &fakeServer{conn: server, requests: make(chan protocol.Message, 16)}

	go func() {
		defer server.Close()
		for {
			raw, err := protocol.ReadMessage(server)
			if err != nil {
				return
			}
			req, err := protocol.Decode(raw)
			if err != nil {
				return
			}
			fs.requests <- req
			out := reply(req)
			if out == nil {
				return
			}
			if _, err := server.Write(out); err != nil {
				return
			}
		}
	}()

	opts := DefaultOptions()
	opts.IOTimeout = 2 * time.Second
	s := New(client, opts)
	t.Cleanup(func() { s.Close() })
	return s, fs
}

func echo(req protocol.Message) []byte {
	switch req.Type {
	case protocol.TypeAuth:
		if req.Body != "secret" {
			return protocol.Encode(protocol.NewMessage(-1, protocol.TypeAuthResponse, ""))
		}
		return protocol.Encode(protocol.NewMessage(req.ID, protocol.TypeAuthResponse, ""))
	default:
		return protocol.Encode(protocol.NewMessage(req.ID, protocol.TypeResponse, "ok: "+req.Body))
	}
}

func TestAuthenticateThenExecute(t *testing.T) {
	s, fs := newFakeServer(t, echo)
	ctx := context.Background()

	if s.State() != StateCreated || s.Authenticated() {
		t.Fatalf("fresh session: state=%s authenticated=%v", s.State(), s.Authenticated())
	}

	if err := s.Authenticate(ctx, "secret"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !s.Authenticated() || s.State() != StateReady {
		t.Fatalf("after auth: state=%s authenticated=%v", s.State(), s.Authenticated())
	}

	auth := <-fs.requests
	if auth.Type != protocol.TypeAuth || auth.Body != "secret" || auth.ID != 1 {
		t.Fatalf("auth request: %v", auth)
	}

	out, err := s.Execute(ctx, "list")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "ok: list" {
		t.Fatalf("response: %q", out)
	}

	cmd := <-fs.requests
	if cmd.Type != protocol.TypeCommand || cmd.ID != 2 || cmd.Length != int32(protocol.HeaderSize+len("list")) {
		t.Fatalf("command request: %v", cmd)
	}
}

func TestIDsIncreaseFromOne(t *testing.T) {
	s, fs := newFakeServer(t, echo)
	ctx := context.Background()

	if err := s.Authenticate(ctx, "secret"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Execute(ctx, "cmd"+strconv.Itoa(i)); err != nil {
			t.Fatal(err)
		}
	}

	for want := int32(1); want <= 6; want++ {
		req := <-fs.requests
		if req.ID != want {
			t.Fatalf("request %d has id %d", want, req.ID)
		}
	}
	if s.NextID() != 6 {
		t.Fatalf("NextID: got %d, want 6", s.NextID())
	}
}

func TestSendExplicitType(t *testing.T) {
	s, fs := newFakeServer(t, echo)
	ctx := context.Background()
	if err := s.Authenticate(ctx, "secret"); err != nil {
		t.Fatal(err)
	}
	<-fs.requests

	if _, err := s.Send(ctx, protocol.TypeResponse, ""); err != nil {
		t.Fatal(err)
	}
	if req := <-fs.requests; req.Type != protocol.TypeResponse {
		t.Fatalf("type: got %s", req.Type)
	}
}

func TestAuthenticateRejected(t *testing.T) {
	s, _ := newFakeServer(t, echo)

	err := s.Authenticate(context.Background(), "wrong")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
	if s.Authenticated() {
		t.Fatal("session authenticated after rejection")
	}
}

func TestAuthenticateDecodeFailure(t *testing.T) {
	s, _ := newFakeServer(t, func(req protocol.Message) []byte {
		bad := protocol.Encode(protocol.NewMessage(req.ID, protocol.TypeAuthResponse, "ab"))
		bad[12] = 0xff
		return bad
	})

	err := s.Authenticate(context.Background(), "secret")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if !errors.Is(err, protocol.ErrInvalidUTF8) {
		t.Fatalf("expected decode cause, got %v", err)
	}
	if s.Authenticated() {
		t.Fatal("session authenticated after decode failure")
	}
}

func TestAuthenticateConnectionClosed(t *testing.T) {
	s, _ := newFakeServer(t, func(protocol.Message) []byte { return nil })

	err := s.Authenticate(context.Background(), "secret")
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Op != "read" {
		t.Fatalf("expected read AuthError, got %v", err)
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		t.Fatalf("handshake failure also matched *SendError: %v", err)
	}
}

func TestReauthenticateFailureClearsAuthentication(t *testing.T) {
	s, _ := newFakeServer(t, echo)
	ctx := context.Background()

	if err := s.Authenticate(ctx, "secret"); err != nil {
		t.Fatal(err)
	}
	if err := s.Authenticate(ctx, "wrong"); !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
	if s.Authenticated() || s.State() != StateAuthenticating {
		t.Fatalf("after failed re-auth: state=%s authenticated=%v", s.State(), s.Authenticated())
	}
	if _, err := s.Execute(ctx, "list"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	if err := s.Authenticate(ctx, "secret"); err != nil {
		t.Fatal(err)
	}
	if !s.Authenticated() || s.State() != StateReady {
		t.Fatalf("after re-auth: state=%s authenticated=%v", s.State(), s.Authenticated())
	}
}

func TestExecuteRequiresAuthentication(t *testing.T) {
	s, _ := newFakeServer(t, echo)

	_, err := s.Execute(context.Background(), "list")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if s.NextID() != 0 {
		t.Fatalf("rejected call consumed id %d", s.NextID())
	}
}

func TestExecuteWithoutRequireAuth(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go func() {
		raw, err := protocol.ReadMessage(server)
		if err != nil {
			return
		}
		req, _ := protocol.Decode(raw)
		server.Write(protocol.Encode(protocol.NewMessage(req.ID, protocol.TypeResponse, "unauthorized")))
	}()

	s := New(client, Options{})
	defer s.Close()

	out, err := s.Execute(context.Background(), "list")
	if err != nil {
		t.Fatal(err)
	}
	if out != "unauthorized" {
		t.Fatalf("response: %q", out)
	}
}

func TestExecuteIDMismatch(t *testing.T) {
	s, _ := newFakeServer(t, func(req protocol.Message) []byte {
		if req.Type == protocol.TypeAuth {
			return echo(req)
		}
		return protocol.Encode(protocol.NewMessage(req.ID+100, protocol.TypeResponse, "late"))
	})
	ctx := context.Background()
	if err := s.Authenticate(ctx, "secret"); err != nil {
		t.Fatal(err)
	}

	_, err := s.Execute(ctx, "list")
	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.Op != "verify" || sendErr.ID != 2 {
		t.Fatalf("expected verify SendError, got %v", err)
	}
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Want != 2 || protoErr.Got != 102 {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if !s.Broken() {
		t.Fatal("session usable after mismatched response")
	}
}

func TestExecuteDecodeFailureConsumesID(t *testing.T) {
	s, _ := newFakeServer(t, func(req protocol.Message) []byte {
		if req.Type == protocol.TypeAuth {
			return echo(req)
		}
		bad := protocol.Encode(protocol.NewMessage(req.ID, protocol.TypeResponse, "xy"))
		bad[13] = 0xfe
		return bad
	})
	ctx := context.Background()
	if err := s.Authenticate(ctx, "secret"); err != nil {
		t.Fatal(err)
	}

	_, err := s.Execute(ctx, "list")
	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.Op != "decode" {
		t.Fatalf("expected decode SendError, got %v", err)
	}
	if s.NextID() != 2 {
		t.Fatalf("NextID: got %d, want 2", s.NextID())
	}
}

func TestExecuteContextCancelled(t *testing.T) {
	s, _ := newFakeServer(t, func(req protocol.Message) []byte {
		if req.Type == protocol.TypeAuth {
			return echo(req)
		}
		time.Sleep(time.Second)
		return echo(req)
	})
	if err := s.Authenticate(context.Background(), "secret"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Execute(ctx, "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !s.Broken() {
		t.Fatal("session not marked broken after interrupted read")
	}

	_, err = s.Execute(context.Background(), "next")
	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.Op != "state" || !errors.Is(err, ErrBroken) {
		t.Fatalf("expected ErrBroken state error, got %v", err)
	}
	if s.NextID() != 2 {
		t.Fatalf("refused call consumed an id: NextID %d", s.NextID())
	}
	var authErr *AuthError
	if err := s.Authenticate(context.Background(), "secret"); !errors.As(err, &authErr) || !errors.Is(err, ErrBroken) {
		t.Fatalf("expected ErrBroken AuthError, got %v", err)
	}
}

func TestCancelledBeforeWriteKeepsSessionUsable(t *testing.T) {
	s, _ := newFakeServer(t, echo)
	if err := s.Authenticate(context.Background(), "secret"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Execute(ctx, "list"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Broken() {
		t.Fatal("session broken although nothing was written")
	}

	out, err := s.Execute(context.Background(), "list")
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok: list" {
		t.Fatalf("response: %q", out)
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen unavailable: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	_, err = Dial(context.Background(), "127.0.0.1", strconv.Itoa(addr.Port), DefaultOptions())
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestDialAndAuthenticateOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen unavailable: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			raw, err := protocol.ReadMessage(conn)
			if err != nil {
				return
			}
			req, err := protocol.Decode(raw)
			if err != nil {
				return
			}
			if _, err := conn.Write(echo(req)); err != nil {
				return
			}
		}
	}()

	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	s, err := Dial(context.Background(), "127.0.0.1", port, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Authenticate(context.Background(), "secret"); err != nil {
		t.Fatal(err)
	}
	out, err := s.Execute(context.Background(), "time query daytime")
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok: time query daytime" {
		t.Fatalf("response: %q", out)
	}
}
