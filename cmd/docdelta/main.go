// cmd/docdelta/main.go
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"docdelta/client"
	"docdelta/internal/config"
	"docdelta/internal/logging"
	"docdelta/internal/metrics"
	"docdelta/internal/pipeline"
	"docdelta/internal/source"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// exitError carries a process exit code other than 1.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type app struct {
	configPath string
	format     string
	out        string
	server     string

	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "docdelta",
		Short: "Plan change-aware, token-bounded documentation updates",
		Long: `docdelta estimates the token size of a repository, works out which
documented abstractions a change affects, decides between a selective update
and a full regeneration, and splits the work into chunks that fit a model's
context window.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "config file (json or yaml); defaults to ./docdelta.{json,yaml} if present")
	f.StringVarP(&a.format, "format", "o", "text", "output format: text, json or yaml")
	f.StringVar(&a.out, "out", "", "write output to this file instead of stdout")
	f.StringVar(&a.server, "server", "", "use a running docdelta server at this URL instead of the local repository")

	f.String("dir", ".", "repository root")
	f.String("model", "gpt-5", "model whose tokenizer and context window apply")
	f.String("log-level", "info", "log level: debug, info, warn or error")
	f.StringSlice("include", source.DefaultInclude, "include glob patterns")
	f.StringSlice("exclude", source.DefaultExclude, "exclude glob patterns")
	f.Int64("max-size", source.DefaultMaxFileSize, "skip files larger than this many bytes")
	f.Float64("overhead-percent", 3.0, "prompt overhead added to the estimated total, in percent")
	f.Int("max-context-tokens", 200000, "context window the estimate is checked against")
	f.Bool("exact", false, "use the model's BPE tokenizer when available")
	f.Int("budget", 140000, "token budget per generation call")
	f.String("strategy", "auto", "lowest chunking level: auto, single, group or pack")
	f.Int("overlap", 0, "tokens reserved per chunk for overlap context")
	f.Bool("force-full", false, "always regenerate fully")
	f.Int("concurrency", 4, "parallel generation calls")
	f.String("failure-policy", "abort", "on a failed chunk: abort or continue")
	f.String("state-backend", "file", "state backend: file or badger")
	f.String("state-path", ".docdelta/state.json", "state location, relative to --dir")

	root.AddCommand(
		a.estimateCmd(),
		a.statusCmd(),
		a.planCmd(),
		a.impactCmd(),
		a.runCmd(),
		a.historyCmd(),
		a.diffCmd(),
		a.watchCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	switch a.format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", a.format)
	}

	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.NewDevelopment(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	// Run from a subdirectory as if from the repository root.
	if cfg.Root == "." {
		if root, err := pipeline.FindRoot("."); err == nil {
			cfg.Root = root
		}
	}

	a.cfg = cfg
	a.logger = logger
	a.metrics = metrics.New()
	return nil
}

func (a *app) pipeline() (*pipeline.Pipeline, error) {
	p, err := pipeline.New(a.cfg, a.logger, pipeline.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("initializing pipeline: %w", err)
	}
	return p, nil
}

func (a *app) client() *client.Client {
	if a.server == "" {
		return nil
	}
	return client.New(a.server)
}

// writer returns the output destination and a close func.
func (a *app) writer(cmd *cobra.Command) (io.Writer, func() error, error) {
	if a.out == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(a.out)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", a.out, err)
	}
	color.NoColor = true
	return f, f.Close, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}

	var exit *exitError
	if stderrors.As(err, &exit) {
		fmt.Fprintln(os.Stderr, color.RedString(exit.msg))
		os.Exit(exit.code)
	}
	fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
	os.Exit(1)
}
