package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/tomyedwab/guestdb/migrate"
	"github.com/tomyedwab/guestdb/sqlproxy/driver"
	sqlhost "github.com/tomyedwab/guestdb/sqlproxy/host"
	wasihost "github.com/tomyedwab/guestdb/wasi/host"
)

type options struct {
	Wasm         string `short:"w" long:"wasm" env:"GUESTDB_WASM" description:"guest wasm module" required:"true"`
	DB           string `short:"d" long:"db" env:"GUESTDB_URL" description:"database url, sqlite://path or postgres://..." default:"sqlite://guestdb.db"`
	Entry        string `short:"e" long:"entry" description:"guest export to call after initialization" default:"run"`
	MaxOpenConns int    `long:"max-conns" description:"max open connections per database" default:"4"`
	Dbg          bool   `long:"dbg" description:"debug mode"`
}

var revision = "latest"

func main() {
	fmt.Printf("servicehost %s\n", revision)

	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		os.Exit(1)
	}
	setupLog(opts.Dbg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	wasmBytes, err := os.ReadFile(opts.Wasm)
	if err != nil {
		return fmt.Errorf("failed to read wasm file %s: %w", opts.Wasm, err)
	}

	sqlHost := sqlhost.NewSQLHost(sqlhost.Options{Logger: lgr.Std, MaxOpenConns: opts.MaxOpenConns})
	defer func() {
		if err := sqlHost.Close(); err != nil {
			log.Printf("[WARN] failed to close sql host: %v", err)
		}
	}()

	if err := systemMigrations(ctx, sqlHost, opts.DB); err != nil {
		return err
	}

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	if _, err := wasihost.NewExports(sqlHost, wasihost.Options{Logger: lgr.Std}).Instantiate(ctx, r); err != nil {
		return fmt.Errorf("failed to instantiate host module: %w", err)
	}

	mod, err := r.InstantiateWithConfig(ctx, wasmBytes, wazero.NewModuleConfig().
		WithStartFunctions("_initialize").
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithEnv("GUESTDB_URL", opts.DB).
		WithArgs("guest"))
	if err != nil {
		return fmt.Errorf("failed to instantiate guest: %w", err)
	}
	defer mod.Close(ctx)

	entry := mod.ExportedFunction(opts.Entry)
	if entry == nil {
		log.Printf("[INFO] guest has no %q export, nothing to run", opts.Entry)
		return nil
	}
	res, err := entry.Call(ctx)
	if err != nil {
		return fmt.Errorf("guest %s failed: %w", opts.Entry, err)
	}
	if len(res) > 0 && int32(res[0]) != 0 {
		return fmt.Errorf("guest %s returned %d", opts.Entry, int32(res[0]))
	}
	log.Printf("[INFO] guest %s completed", opts.Entry)
	return nil
}

// systemMigrations brings the bookkeeping and system tables up to date before
// the guest gets a chance to connect.
func systemMigrations(ctx context.Context, h *sqlhost.SQLHost, url string) error {
	conn, err := driver.Establish(url, sqlhost.Loopback{Host: h, Ctx: ctx}, driver.Options{Logger: lgr.Std})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer conn.Close()

	if err := migrate.System(conn, migrate.Options{Logger: lgr.Std}); err != nil {
		return fmt.Errorf("system migrations failed: %w", err)
	}
	return nil
}

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
