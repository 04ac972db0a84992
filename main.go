package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/epalmerini/burrow/internal/config"
	"github.com/epalmerini/burrow/internal/db"
	"github.com/epalmerini/burrow/internal/logging"
	"github.com/epalmerini/burrow/internal/message"
	"github.com/epalmerini/burrow/internal/metrics"
	"github.com/epalmerini/burrow/internal/proto"
	"github.com/epalmerini/burrow/internal/rabbitmq"
	"github.com/epalmerini/burrow/internal/registry"
	"github.com/epalmerini/burrow/internal/scan"
	"github.com/epalmerini/burrow/internal/xdg"
)

var version = "dev"

const usage = `Usage: burrow [flags] <command> [command flags] [args]

Commands:
  serve                         run the HTTP admin API
  queues                        list configured queue ids
  size      [-queue id]         number of ready messages
  list      [-queue id] [-limit n] [-json]
                                show messages without consuming them
  drop      [-queue id] <message-id>
                                remove one message
  drop-all  [-queue id] -yes    purge the queue
  republish [-queue id] <message-id>
                                move one message to its republish target
  audit     [-queue id] [-limit n]
                                recent destructive operations

Flags:
`

func main() {
	dialer := rabbitmq.AMQPDialer{AppName: "burrow"}
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, dialer); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, dialer rabbitmq.Dialer) error {
	fs := flag.NewFlagSet("burrow", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("BURROW_CONFIG"), "path to config.toml (default $XDG_CONFIG_HOME/burrow/config.toml)")
	logLevel := fs.String("log-level", "", "debug|info|warn|error (overrides config)")
	showVersion := fs.Bool("version", false, "show version")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintf(stdout, "burrow %s\n", version)
		return nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger, err := logging.New(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, dialer, logger, stdout)
	if err != nil {
		return err
	}
	a.errOut = stderr
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	return a.dispatch(ctx, fs.Arg(0), fs.Args()[1:])
}

func loadConfig(path string) (config.Config, error) {
	var (
		fc  *config.FileConfig
		err error
	)
	if path != "" {
		fc, err = config.LoadFile(path)
	} else {
		var dir string
		dir, err = xdg.ConfigDir()
		if err != nil {
			return config.Config{}, fmt.Errorf("resolve config directory: %w", err)
		}
		fc, err = config.LoadFileConfig(dir)
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg, err := fc.Resolve()
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app holds everything a command needs.
type app struct {
	cfg      config.Config
	registry *registry.Registry
	engine   *scan.Engine
	dialer   rabbitmq.Dialer
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	store    *db.SQLiteStore
	writer   *db.AsyncWriter
	out      io.Writer
	errOut   io.Writer
}

func newApp(cfg config.Config, dialer rabbitmq.Dialer, logger *slog.Logger, out io.Writer) (*app, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &app{
		cfg:      cfg,
		registry: registry.New(cfg),
		dialer:   dialer,
		logger:   logger,
		out:      out,
		errOut:   io.Discard,
	}

	var decoder message.Decoder
	if cfg.ProtoPath != "" {
		d, err := proto.NewDecoder(cfg.ProtoPath)
		if err != nil {
			logger.Warn("protobuf decoding disabled", "proto_path", cfg.ProtoPath, "error", err)
		} else {
			for _, skipped := range d.Skipped {
				logger.Warn("skipped proto file", "file", skipped)
			}
			decoder = d
		}
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.gatherer = promReg

	opts := []scan.Option{
		scan.WithLogger(logger),
		scan.WithMetrics(metrics.New(promReg)),
	}

	if cfg.AuditEnabled {
		store, err := db.NewStore(cfg.AuditDBPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		a.store = store
		a.writer = db.NewAsyncWriter(store, logger)
		opts = append(opts, scan.WithAuditor(a.writer))
	}

	a.engine = scan.New(a.registry, message.NewConverter(cfg.MaxBodyLen, decoder), opts...)
	return a, nil
}

// Close flushes pending audit records before closing the database.
func (a *app) Close() error {
	if a.writer != nil {
		a.writer.Close()
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
