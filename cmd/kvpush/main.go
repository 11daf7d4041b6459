package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"kvpush/internal/app"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "kvpush",
		Short:         "Push newly recommended titles to a Telegram channel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./kvpush.yaml", "Path to config file (YAML or JSON); missing file means defaults + env")

	rootCmd.AddCommand(runCmd(), daemonCmd(), serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kvpush:", err)
		os.Exit(1)
	}
}

// getenv overlays command-line overrides on the process environment.
func getenv(overrides map[string]string) func(string) string {
	return func(k string) string {
		if v, ok := overrides[k]; ok {
			return v
		}
		return os.Getenv(k)
	}
}

func newApp(overrides map[string]string) (*app.App, error) {
	return app.New(app.Options{
		ConfigPath: configFile,
		Version:    version,
		Getenv:     getenv(overrides),
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	var (
		dryRun    bool
		maxPerRun int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pass and print the report (for crontab)",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]string{}
			if dryRun {
				overrides["KVPUSH_DRY_RUN"] = "true"
			}
			if cmd.Flags().Changed("max") {
				overrides["KVPUSH_MAX_PER_RUN"] = strconv.Itoa(maxPerRun)
			}
			a, err := newApp(overrides)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			rep, err := a.RunOnce(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if !rep.Success {
				return errors.New("run failed: " + rep.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Format and log without sending or persisting")
	cmd.Flags().IntVar(&maxPerRun, "max", 0, "Cap successful sends for this run (0 = unbounded)")
	return cmd
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler, HTTP surface and config hot reload",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()
			return a.Daemon(ctx)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the trigger and ad-slot endpoints only",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()
			return a.Serve(ctx)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "kvpush", version)
		},
	}
}
