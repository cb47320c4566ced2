package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// globalFlags are shared by every subcommand and override the config file.
type globalFlags struct {
	configFile string
	logLevel   string
	dryRun     bool
	timeout    time.Duration
	metrics    bool
	tracing    bool
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "infortic",
		Short: "infortic - competition and scholarship listing loader",
		Long: `infortic loads scraped competition, scholarship and internship listings
into their tables. Records are normalised, deduplicated on each table's conflict
key and upserted in batches with retry and backoff, optionally after emptying the
table with its clean procedure.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "Path to YAML configuration file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "Write to an in-memory store instead of the configured one")
	pf.DurationVar(&flags.timeout, "timeout", 30*time.Minute, "Overall command timeout")
	pf.BoolVar(&flags.metrics, "metrics", false, "Serve prometheus metrics while the command runs")
	pf.BoolVar(&flags.tracing, "tracing", false, "Write OpenTelemetry spans to stderr")

	root.AddCommand(
		newVersionCommand(),
		newLoadCommand(flags),
		newReplayCommand(flags),
		newCleanCommand(flags),
		newCountCommand(flags),
		newTablesCommand(flags),
		newConfigCommand(flags),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "infortic v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
