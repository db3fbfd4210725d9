package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/db"
)

type fakeConsole struct {
	commands []string
	fail     map[string]error
}

func (f *fakeConsole) Exec(ctx context.Context, source, command string) (console.Result, error) {
	f.commands = append(f.commands, command)
	if err := f.fail[command]; err != nil {
		return console.Result{}, err
	}
	return console.Result{ID: int32(len(f.commands) + 1), Response: "reply to " + command}, nil
}

func (f *fakeConsole) Status() console.Status {
	return console.Status{Addr: "10.0.0.5:25575", State: "ready", LastID: 7, Executed: 6, Failed: 1}
}

type fakeHistory struct {
	entries []db.HistoryEntry
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]db.HistoryEntry, error) {
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func run(t *testing.T, con Console, hist History, input string) string {
	t.Helper()
	var out bytes.Buffer
	if err := NewCLI(con, hist, strings.NewReader(input), &out).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	return out.String()
}

func TestRunSendsCommands(t *testing.T) {
	con := &fakeConsole{}
	out := run(t, con, nil, "list\n\n  say hello  \n")

	if len(con.commands) != 2 || con.commands[0] != "list" || con.commands[1] != "say hello" {
		t.Fatalf("commands: %q", con.commands)
	}
	if !strings.Contains(out, "reply to list\n") || !strings.Contains(out, "reply to say hello\n") {
		t.Fatalf("output: %s", out)
	}
	if !strings.Contains(out, "10.0.0.5:25575") {
		t.Fatalf("banner missing address: %s", out)
	}
}

func TestQuitStopsReading(t *testing.T) {
	con := &fakeConsole{}
	run(t, con, nil, "list\n.quit\nstop\n")

	if len(con.commands) != 1 {
		t.Fatalf("commands after quit: %q", con.commands)
	}
}

func TestCommandErrorsAreReported(t *testing.T) {
	con := &fakeConsole{fail: map[string]error{"stop": errors.New("rcon read (id 2): EOF")}}
	out := run(t, con, nil, "stop\nlist\n")

	if !strings.Contains(out, "Error: rcon read (id 2): EOF") {
		t.Fatalf("output: %s", out)
	}
	if len(con.commands) != 2 {
		t.Fatalf("REPL stopped after error: %q", con.commands)
	}
}

func TestClosedConsoleEndsRun(t *testing.T) {
	con := &fakeConsole{fail: map[string]error{"list": console.ErrClosed}}
	var out bytes.Buffer
	err := NewCLI(con, nil, strings.NewReader("list\nsay hi\n"), &out).Run(context.Background())
	if !errors.Is(err, console.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if len(con.commands) != 1 {
		t.Fatalf("commands: %q", con.commands)
	}
}

func TestBuiltins(t *testing.T) {
	hist := &fakeHistory{entries: []db.HistoryEntry{
		{RequestID: 3, Source: "api", Command: "stop", Error: "rcon read: EOF", CreatedAt: time.Now()},
		{RequestID: 2, Source: "cli", Command: "list", Response: "There are 0 players", Success: true, CreatedAt: time.Now()},
	}}
	con := &fakeConsole{}
	out := run(t, con, hist, ".help\n.status\n.history 5\n.bogus\n")

	for _, want := range []string{".history [n]", "READY", "10.0.0.5:25575", "There are 0 players", "ERR rcon read: EOF", "unknown built-in"} {
		if !strings.Contains(strings.ToUpper(out), strings.ToUpper(want)) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if len(con.commands) != 0 {
		t.Fatalf("built-ins reached the server: %q", con.commands)
	}
	if strings.Index(out, "There are 0 players") > strings.Index(out, "ERR rcon read") {
		t.Fatal("history not printed oldest first")
	}
}

func TestHistoryDisabledAndBadCount(t *testing.T) {
	out := run(t, &fakeConsole{}, nil, ".history\n")
	if !strings.Contains(out, "history is disabled") {
		t.Fatalf("output: %s", out)
	}

	out = run(t, &fakeConsole{}, &fakeHistory{}, ".history zero\n.history\n")
	if !strings.Contains(out, `invalid count "zero"`) || !strings.Contains(out, "No commands recorded.") {
		t.Fatalf("output: %s", out)
	}
}

func TestRunOnceRejectsOversizedCommand(t *testing.T) {
	con := &fakeConsole{}
	c := NewCLI(con, nil, strings.NewReader(""), &bytes.Buffer{})
	if err := c.RunOnce(context.Background(), strings.Repeat("x", 5000)); err == nil {
		t.Fatal("expected error")
	}
	if len(con.commands) != 0 {
		t.Fatal("oversized command was sent")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("a\nb  c"); got != "a b c" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("é", 50)
	if got := []rune(truncate(long)); len(got) != cellWidth || string(got[cellWidth-3:]) != "..." {
		t.Fatalf("got %q", string(got))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w := io.Pipe()
	defer w.Close()

	if err := NewCLI(&fakeConsole{}, nil, r, &bytes.Buffer{}).Run(ctx); err != nil {
		t.Fatal(err)
	}
}
