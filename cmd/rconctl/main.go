// rconctl is a Minecraft-style RCON client. It runs one command and exits,
// or opens an interactive console, optionally sharing the connection with a
// REST API and publishing activity over MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconctl/internal/api"
	"github.com/energizer-project/rconctl/internal/cli"
	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/scheduler"
	"github.com/energizer-project/rconctl/internal/telemetry"
	"github.com/energizer-project/rconctl/internal/util"
)

const (
	AppName    = "rconctl"
	AppVersion = "1.0.0"
)

// options are the command-line settings. Host, port and password override
// the configuration file for this run only.
type options struct {
	configDir string
	host      string
	port      int
	password  string
	serve     bool
	verbose   bool
	version   bool
	command   string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options

	fs := flag.NewFlagSet(AppName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configDir, "config", config.DefaultConfigDir, "configuration directory")
	fs.StringVar(&o.host, "H", "", "server host (overrides config)")
	fs.IntVar(&o.port, "P", 0, "server port (overrides config)")
	fs.StringVar(&o.password, "p", "", "RCON password (overrides config and "+config.PasswordEnv+")")
	fs.BoolVar(&o.serve, "serve", false, "run the API and MQTT bridges without the interactive console")
	fs.BoolVar(&o.verbose, "v", false, "log to stderr at debug level")
	fs.BoolVar(&o.version, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [flags] [command ...]\n\n", AppName)
		fmt.Fprintln(stderr, "With a command, runs it once and prints the response.")
		fmt.Fprintln(stderr, "Without one, opens an interactive console.")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.port < 0 || o.port > 65535 {
		return o, fmt.Errorf("invalid port %d", o.port)
	}
	o.command = strings.Join(fs.Args(), " ")
	if o.serve && o.command != "" {
		return o, errors.New("-serve cannot be combined with a command")
	}
	return o, nil
}

// apply copies the overrides into cfg without persisting them.
func (o options) apply(cfg *config.Config) {
	r := cfg.GetRCON()
	if o.host != "" {
		r.Host = o.host
	}
	if o.port != 0 {
		r.Port = o.port
	}
	if o.password != "" {
		r.Password = o.password
	}
	cfg.SetRCON(r)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.version {
		fmt.Printf("%s %s (%s/%s)\n", AppName, AppVersion, runtime.GOOS, runtime.GOARCH)
		return 0
	}

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	logging := cfg.GetLogging()
	logCfg := util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    logging.Console,
	}
	if opts.verbose {
		logCfg.Level = "debug"
		logCfg.Console = true
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting rconctl")

	opts.apply(cfg)

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	if !checkConfig(cfg, interactive) {
		return 1
	}
	// The wizard may have replaced the password; flags still win.
	opts.apply(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := events.NewEventBus()

	var history *db.HistoryStore
	if hc := cfg.GetHistory(); hc.Enabled {
		history, err = db.OpenHistory(hc.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open history database, history disabled")
		} else {
			defer history.Close()
			history.Attach(eventBus)
		}
	}
	// Drain handlers before the history store closes.
	defer eventBus.Stop()

	con, err := console.Connect(ctx, cfg.GetRCON(), eventBus)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect")
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		return 1
	}
	defer con.Close()

	// Keep typed nils out of the interfaces.
	var hist cli.History
	var apiHist api.HistoryReader
	if history != nil {
		hist = history
		apiHist = history
	}

	if opts.command != "" {
		c := cli.NewCLI(con, hist, os.Stdin, os.Stdout)
		if err := c.RunOnce(ctx, opts.command); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
			return 1
		}
		return 0
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	if history != nil {
		hc := cfg.GetHistory()
		sched := scheduler.NewScheduler(history, hc.MaxEntries, hc.PruneAt)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Start(ctx)
		}()
	}

	if mc := cfg.GetMQTT(); mc.Enabled {
		telemetry.AppVersion = AppVersion
		mqttHandler, err := telemetry.NewMQTTHandler(mc, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			mqttHandler.SetStatusSource(con)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
			}()
		}
	}

	if ac := cfg.GetAPI(); ac.Enabled {
		apiServer := api.NewServer(ac, logCfg.Level, con, apiHist)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("API server failed")
			}
		}()
	}

	exitCode := 0
	if opts.serve {
		log.Info().Msg("serving until interrupted")
		<-ctx.Done()
	} else {
		if err := cli.NewCLI(con, hist, os.Stdin, os.Stdout).Run(ctx); err != nil {
			log.Error().Err(err).Msg("console stopped")
			exitCode = 1
		}
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds")
	}

	eventBus.EmitSync(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})

	log.Info().Msg("rconctl stopped")
	return exitCode
}

// checkConfig validates cfg, running the setup wizard on a first
// interactive run. It reports whether startup may continue.
func checkConfig(cfg *config.Config, interactive bool) bool {
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if validation.IsValid() {
		return true
	}

	if cfg.IsFirstRun() && interactive {
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Error().Err(err).Msg("setup wizard failed")
			return false
		}
		return true
	}

	for _, e := range validation.Errors {
		log.Error().Str("field", e.Field).Msg(e.Message)
		fmt.Fprintf(os.Stderr, "%s: %s\n", AppName, e.Error())
	}
	return false
}
