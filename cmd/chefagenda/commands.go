package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/natefinch/atomic"

	"github.com/dukerupert/chefagenda/internal/agenda"
	"github.com/dukerupert/chefagenda/internal/backup"
	"github.com/dukerupert/chefagenda/internal/bridge"
	"github.com/dukerupert/chefagenda/internal/config"
	"github.com/dukerupert/chefagenda/internal/database"
	"github.com/dukerupert/chefagenda/internal/logging"
	"github.com/dukerupert/chefagenda/internal/notify"
	"github.com/dukerupert/chefagenda/internal/store"
)

var errFileRequired = errors.New("a file is required")

// openAgenda loads the agenda the server would use for cfg. The returned
// function closes the database.
func openAgenda(cfg *config.Config, logger *slog.Logger) (*agenda.Agenda, func(), error) {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	a := agenda.New(store.NewDocumentStore(db), logger.With("component", "agenda"),
		agenda.WithKeys(agenda.KeysWithPrefix(cfg.StoragePrefix)))
	return a, func() { db.Close() }, nil
}

// readInput reads path, or stdin when path is "-".
func readInput(e env, path string) ([]byte, error) {
	if path == "" {
		return nil, errFileRequired
	}
	if path == "-" {
		return io.ReadAll(e.stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func cmdExport(ctx context.Context, e env, args []string) error {
	fs, common := newFlagSet("export", e.stderr)
	out := fs.StringP("out", "o", backup.Filename, `output file, "-" for stdout`)
	passphrase := fs.String("passphrase", "", "encrypt the backup with this passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.loadConfig(e.getenv)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat, e.stderr)

	a, closeDB, err := openAgenda(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	data, err := backup.Export(a.State()).Bytes()
	if err != nil {
		return err
	}
	if *passphrase != "" {
		if data, err = backup.Encrypt(data, *passphrase); err != nil {
			return err
		}
	}

	if *out == "-" {
		_, err := e.stdout.Write(data)
		return err
	}
	if err := atomic.WriteFile(*out, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	logger.Info("backup written", "file", *out, "events", len(a.Events()), "encrypted", *passphrase != "")
	return nil
}

func cmdRestore(ctx context.Context, e env, args []string) error {
	fs, common := newFlagSet("restore", e.stderr)
	in := fs.StringP("in", "i", "", `backup file, "-" for stdin`)
	passphrase := fs.String("passphrase", "", "passphrase of an encrypted backup")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := readInput(e, *in)
	if err != nil {
		return err
	}
	if *passphrase != "" {
		if data, err = backup.Decrypt(data, *passphrase); err != nil {
			return err
		}
	}

	cfg, err := common.loadConfig(e.getenv)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat, e.stderr)

	a, closeDB, err := openAgenda(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	d, err := backup.Restore(a, data)
	if err != nil {
		return err
	}

	parts := 0
	if d.Events != nil {
		parts++
		fmt.Fprintf(e.stdout, "events: %d\n", len(*d.Events))
	}
	if d.Categories != nil {
		parts++
		fmt.Fprintf(e.stdout, "categories: %d\n", len(*d.Categories))
	}
	if d.Settings != nil {
		parts++
		fmt.Fprintln(e.stdout, "settings: restored")
	}
	logger.Info("agenda restored", "file", *in, "parts", parts)
	return nil
}

func cmdBridge(ctx context.Context, e env, args []string) error {
	fs, common := newFlagSet("bridge", e.stderr)
	in := fs.StringP("in", "i", "", `assistant output, "-" for stdin`)
	printPrompt := fs.Bool("prompt", false, "print the extraction prompt and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *printPrompt {
		fmt.Fprintln(e.stdout, bridge.MasterPrompt)
		return nil
	}

	text, err := readInput(e, *in)
	if err != nil {
		return err
	}

	cfg, err := common.loadConfig(e.getenv)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat, e.stderr)

	a, closeDB, err := openAgenda(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	res, err := bridge.Import(a, string(text))
	if err != nil {
		return err
	}
	for _, ev := range res.Created {
		if !ev.IsDependent() {
			fmt.Fprintf(e.stdout, "+ %s %s %s\n", ev.Date, ev.Type, ev.Title)
		}
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(e.stdout, "! item %d %q: %s\n", s.Index, s.Title, s.Err)
	}
	fmt.Fprintf(e.stdout, "%d events created, %d items skipped\n", len(res.Created), len(res.Skipped))
	return nil
}

func cmdVAPIDKeys(ctx context.Context, e env, args []string) error {
	fs, _ := newFlagSet("vapid-keys", e.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	pub, priv, err := notify.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "CHEFAGENDA_VAPID_PUBLIC_KEY=%s\nCHEFAGENDA_VAPID_PRIVATE_KEY=%s\n", pub, priv)
	return nil
}
