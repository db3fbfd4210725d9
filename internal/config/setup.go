package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrSetupAborted is returned when input ends before the wizard completes.
var ErrSetupAborted = errors.New("setup aborted: input closed")

// RunSetupWizard guides the user through first-time configuration, reading
// answers from in and writing prompts to out. The configuration is saved
// when it validates.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	p := &prompter{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║            rconctl - First Run Setup         ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")

	for {
		r := cfg.GetRCON()

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── Game Server ──")
		r.Host = p.String("RCON host", r.Host)
		r.Port = p.Int("RCON port", r.Port)
		r.Password = p.Password("RCON password")

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── Integrations ──")
		cfg.mu.Lock()
		cfg.RCON = r
		cfg.API.Enabled = p.Bool("Enable REST API", cfg.API.Enabled)
		cfg.MQTT.Enabled = p.Bool("Enable MQTT telemetry", cfg.MQTT.Enabled)
		if cfg.MQTT.Enabled {
			cfg.MQTT.BrokerURL = p.String("MQTT broker host", cfg.MQTT.BrokerURL)
		}
		cfg.History.Enabled = p.Bool("Keep command history", cfg.History.Enabled)
		cfg.mu.Unlock()

		if p.eof {
			return ErrSetupAborted
		}

		result := Validate(cfg)
		if result.IsValid() {
			for _, w := range result.Warnings {
				log.Warn().Str("field", w.Field).Msg(w.Message)
			}
			break
		}

		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if !p.Bool("Would you like to try again?", true) || p.eof {
			return fmt.Errorf("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved to", cfg.Path())
	fmt.Fprintln(out)
	return nil
}

type prompter struct {
	reader *bufio.Reader
	out    io.Writer
	eof    bool
}

func (p *prompter) readLine() string {
	input, err := p.reader.ReadString('\n')
	if err == io.EOF && input == "" {
		p.eof = true
	}
	return strings.TrimSpace(input)
}

func (p *prompter) String(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.out, "  %s: ", prompt)
	}

	if input := p.readLine(); input != "" {
		return input
	}
	return defaultVal
}

func (p *prompter) Password(prompt string) string {
	fmt.Fprintf(p.out, "  %s: ", prompt)
	return p.readLine()
}

func (p *prompter) Int(prompt string, defaultVal int) int {
	fmt.Fprintf(p.out, "  %s [%d]: ", prompt, defaultVal)

	input := p.readLine()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (p *prompter) Bool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(p.readLine())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
