package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"library-lending/config"
	"library-lending/handlers"
	"library-lending/library"
)

// app carries the state shared by every subcommand.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	mgr    *library.LibraryManager

	// flag overrides
	dbPath    string
	timeout   time.Duration
	logLevel  string
	logFormat string
}

func main() {
	a := &app{}
	err := a.rootCmd().ExecuteContext(context.Background())
	if a.mgr != nil {
		a.mgr.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Library inventory and lending",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.dbPath, "db", "", "path to the SQLite database (env "+config.EnvDBPath+")")
	pf.DurationVar(&a.timeout, "timeout", 0, "storage timeout per operation (env "+config.EnvStorageTimeout+")")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (env "+config.EnvLogLevel+")")
	pf.StringVar(&a.logFormat, "log-format", "", "text or json (env "+config.EnvLogFormat+")")

	root.AddCommand(
		a.serveCmd(),
		a.bookCmd(),
		a.memberCmd(),
		a.borrowCmd(),
		a.returnCmd(),
		a.historyCmd(),
		a.loansCmd(),
	)
	return root
}

// open resolves configuration (flags win over environment) and opens the
// lending engine.
func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = a.dbPath
	}
	if flags.Changed("timeout") {
		cfg.StorageTimeout = a.timeout
	}
	if flags.Changed("log-level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(a.logLevel)); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = strings.ToLower(a.logFormat)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = cfg.NewLogger(os.Stderr)
	a.mgr, err = library.NewLibraryManager(cfg.DBPath,
		library.WithLogger(a.logger),
		library.WithStorageTimeout(cfg.StorageTimeout),
	)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	return nil
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the lending API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (env "+config.EnvAddr+")")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           handlers.NewHandler(a.mgr, a.logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", slog.String("addr", a.cfg.Addr), slog.String("db", a.cfg.DBPath))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
