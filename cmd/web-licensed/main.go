// Command web-licensed runs the SAKA QMS backend behind the license gate.
//
//	web-licensed [serve]      start the HTTP server (default)
//	web-licensed fingerprint  print this machine's fingerprint and license state
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sistem64-software/SAKA-QMS/internal/app"
	"github.com/sistem64-software/SAKA-QMS/internal/config"
	"github.com/sistem64-software/SAKA-QMS/internal/infrastructure"
	"github.com/sistem64-software/SAKA-QMS/internal/license"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(appOpts ...app.Option) *cobra.Command {
	serve := newServeCommand(appOpts)

	root := &cobra.Command{
		Use:           "web-licensed",
		Short:         "SAKA QMS backend with offline license enforcement",
		Version:       config.AppVersion,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	root.AddCommand(serve, newFingerprintCommand(appOpts))
	return root
}

func newServeCommand(appOpts []app.Option) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger, err := infrastructure.InitializeLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer infrastructure.CloseLogFile()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApplication(ctx, cfg, logger, appOpts...)
			if err != nil {
				logger.Error("Failed to initialize application", slog.String("error", err.Error()))
				return err
			}

			if err := application.Run(ctx); err != nil {
				logger.Error("Application error", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
}

func newFingerprintCommand(appOpts []app.Option) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the hardware fingerprint to send to the license issuer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			// Results go to stdout; only warnings reach the terminal.
			logCfg := cfg.Logging
			logCfg.Level = "warn"
			logCfg.Output = "console"
			logger, err := infrastructure.NewLogger(logCfg, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			diag, err := diagnose(cmd.Context(), cfg, logger, appOpts)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(diag); err != nil {
					return err
				}
			} else {
				printDiagnostics(cmd.OutOrStdout(), diag)
			}

			if diag.CollectError != "" {
				return errors.New(diag.CollectError)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the diagnostics as JSON")
	return cmd
}

func diagnose(ctx context.Context, cfg *config.Config, logger *slog.Logger, appOpts []app.Option) (*license.Diagnostics, error) {
	// Nothing is served; the application only wires the license manager.
	cfg.Metrics.Enabled = false
	cfg.Tracing.Exporter = "none"

	application, err := app.NewApplication(ctx, cfg, logger, appOpts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := application.Telemetry.Shutdown(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	return application.LicenseManager.Diagnostics(ctx)
}

func printDiagnostics(w io.Writer, d *license.Diagnostics) {
	fmt.Fprintf(w, "Platform:      %s\n", d.Platform)
	if d.CollectError != "" {
		fmt.Fprintf(w, "Fingerprint:   unavailable (%s)\n", d.CollectError)
	} else {
		fmt.Fprintf(w, "Fingerprint:   %s\n", d.Fingerprint)
		fmt.Fprintf(w, "Digest:        %s\n", d.Digest)
	}

	if len(d.Sources) > 0 {
		fmt.Fprintln(w, "Sources:")
		for _, s := range d.Sources {
			state := s.Strategy
			if s.Degraded {
				state = "degraded"
			}
			fmt.Fprintf(w, "  %-12s %-40s %s\n", s.Source, s.Value, state)
		}
	}

	presence := "absent"
	if d.RecordExists {
		presence = "present"
	}
	fmt.Fprintf(w, "License file:  %s (%s)\n", d.RecordPath, presence)
	if d.ActivatedAt != nil {
		fmt.Fprintf(w, "Activated at:  %s\n", d.ActivatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if len(d.ChangedComponents) > 0 {
		fmt.Fprintf(w, "Changed since activation: %s\n", strings.Join(d.ChangedComponents, ", "))
	}

	licensed := "yes"
	if !d.Licensed {
		licensed = "no"
		if d.Reason != "" {
			licensed += " (" + d.Reason + ")"
		}
	}
	fmt.Fprintf(w, "Licensed:      %s\n", licensed)
}
