package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/dukerupert/chefagenda/internal/config"
	"github.com/dukerupert/chefagenda/internal/database"
	"github.com/dukerupert/chefagenda/internal/logging"
	"github.com/dukerupert/chefagenda/internal/server"
)

const usage = `Usage: chefagenda [command] [flags]

Commands:
  serve                  Run the HTTP server (default)
  export --out FILE      Write a backup of the agenda
  restore --in FILE      Replace the agenda with a backup
  bridge --in FILE       Import an assistant-generated JSON event list
  vapid-keys             Generate a key pair for push notifications

Common flags:
  --config FILE          Configuration file (default chefagenda.yaml)
  --db FILE              Database path, overrides the configuration
  --log-level LEVEL      debug, info, warn or error
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv))
}

// env carries the process environment so commands can be tested in-process.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
}

type command func(ctx context.Context, e env, args []string) error

var commands = map[string]command{
	"serve":      cmdServe,
	"export":     cmdExport,
	"restore":    cmdRestore,
	"bridge":     cmdBridge,
	"vapid-keys": cmdVAPIDKeys,
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) int {
	name := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}
	if name == "help" {
		fmt.Fprint(stdout, usage)
		return 0
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "error: unknown command %q\n\n%s", name, usage)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := env{stdin: stdin, stdout: stdout, stderr: stderr, getenv: getenv}
	if err := cmd(ctx, e, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(stdout, usage)
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

// commonFlags are accepted by every command that touches the agenda.
type commonFlags struct {
	configPath string
	dbPath     string
	logLevel   string
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "chefagenda.yaml", "configuration file")
	fs.StringVar(&c.dbPath, "db", "", "database path")
	fs.StringVar(&c.logLevel, "log-level", "", "log level")
	return fs, c
}

// loadConfig applies the file, then the environment, then flags.
func (c *commonFlags) loadConfig(getenv func(string) string) (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(getenv)
	if c.dbPath != "" {
		cfg.DBPath = c.dbPath
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func cmdServe(ctx context.Context, e env, args []string) error {
	fs, common := newFlagSet("serve", e.stderr)
	listen := fs.String("listen", "", "listen address, overrides the configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.loadConfig(e.getenv)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat, e.stderr)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	srv, err := server.New(db, cfg, logger)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Stop()

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chefagenda listening", "addr", cfg.Listen, "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
		return err
	}
	return nil
}
