// Package cli implements the interactive console. Every line that is not a
// built-in is sent to the server as a command.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/protocol"
)

const (
	prompt         = "rcon> "
	defaultHistory = 10
	cellWidth      = 40
)

// Console is the part of console.Console the CLI drives.
type Console interface {
	Exec(ctx context.Context, source, command string) (console.Result, error)
	Status() console.Status
}

// History lists recorded commands.
type History interface {
	Recent(ctx context.Context, limit int) ([]db.HistoryEntry, error)
}

// CLI is a line-oriented REPL over a console.
type CLI struct {
	console Console
	history History
	in      io.Reader
	out     io.Writer
}

// NewCLI creates a CLI reading from in and writing to out. history may be nil.
func NewCLI(con Console, history History, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		console: con,
		history: history,
		in:      in,
		out:     out,
	}
}

// Run reads lines until EOF, ".quit" or ctx is done.
func (c *CLI) Run(ctx context.Context) error {
	fmt.Fprintf(c.out, "Connected to %s. Type '.help' for built-in commands.\n", c.console.Status().Addr)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 4096), 64*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(c.out, prompt)

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case err := <-readErr:
			fmt.Fprintln(c.out)
			return err
		case line = <-lines:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			quit, err := c.builtin(ctx, line)
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := c.RunOnce(ctx, line); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			if errors.Is(err, console.ErrClosed) {
				return err
			}
		}
	}
}

// RunOnce sends a single command and prints the response.
func (c *CLI) RunOnce(ctx context.Context, command string) error {
	if len(command) > protocol.MaxPayloadSize {
		return fmt.Errorf("command exceeds %d bytes", protocol.MaxPayloadSize)
	}

	res, err := c.console.Exec(ctx, "cli", command)
	if err != nil {
		return err
	}

	if res.Response != "" {
		fmt.Fprint(c.out, res.Response)
		if !strings.HasSuffix(res.Response, "\n") {
			fmt.Fprintln(c.out)
		}
	}
	return nil
}

// builtin runs a dot command. It reports whether the REPL should stop.
func (c *CLI) builtin(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	args := parts[1:]

	switch strings.ToLower(parts[0]) {
	case ".help", ".h", ".?":
		c.printHelp()
	case ".status", ".s":
		c.printStatus()
	case ".history":
		return false, c.printHistory(ctx, args)
	case ".quit", ".exit", ".q":
		return true, nil
	default:
		return false, fmt.Errorf("unknown built-in %q, type '.help'", parts[0])
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "Built-in commands:")
	fmt.Fprintln(c.out, "  .status         Show connection status")
	fmt.Fprintln(c.out, "  .history [n]    Show the last n commands (default 10)")
	fmt.Fprintln(c.out, "  .quit           Leave the console")
	fmt.Fprintln(c.out, "  .help           Show this help message")
	fmt.Fprintln(c.out, "Anything else is sent to the server.")
}

func (c *CLI) printStatus() {
	st := c.console.Status()

	last := "-"
	if !st.LastCommandAt.IsZero() {
		last = st.LastCommandAt.Format(time.RFC3339)
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Server", "State", "Last ID", "Executed", "Failed", "Last Command"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.Append([]string{
		st.Addr,
		st.State,
		strconv.Itoa(int(st.LastID)),
		strconv.Itoa(st.Executed),
		strconv.Itoa(st.Failed),
		last,
	})
	tw.Render()
}

func (c *CLI) printHistory(ctx context.Context, args []string) error {
	if c.history == nil {
		return errors.New("history is disabled")
	}

	limit := defaultHistory
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		limit = n
	}

	entries, err := c.history.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No commands recorded.")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Time", "Source", "Command", "Result", "Duration"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	// Oldest first so the newest ends up next to the prompt.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		result := truncate(e.Response)
		if !e.Success {
			result = "ERR " + truncate(e.Error)
		}
		tw.Append([]string{
			strconv.Itoa(int(e.RequestID)),
			e.CreatedAt.Format("15:04:05"),
			e.Source,
			truncate(e.Command),
			result,
			e.Duration.Round(time.Millisecond).String(),
		})
	}
	tw.Render()
	return nil
}

// truncate shortens s to one line of at most cellWidth runes.
func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= cellWidth {
		return s
	}
	return string(r[:cellWidth-3]) + "..."
}
