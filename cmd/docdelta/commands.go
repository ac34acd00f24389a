package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"docdelta/internal/api"
	"docdelta/internal/diff"
	"docdelta/internal/errors"
	"docdelta/internal/pipeline"
	"docdelta/internal/state"
	"docdelta/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// local opens a pipeline for the duration of fn.
func (a *app) local(fn func(p *pipeline.Pipeline) error) error {
	p, err := a.pipeline()
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(p)
}

// readPatch loads a unified diff from path, or stdin for "-".
func readPatch(cmd *cobra.Command, path string) ([]byte, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading patch from stdin: %w", err)
		}
		return data, nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading patch: %w", err)
		}
		return data, nil
	}
}

func (a *app) estimateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the token size of the repository",
		Long: `Counts tokens for every included file, adds the prompt overhead and checks
the total against the context window. Exits with status 2 when it does not fit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var est *pipeline.Estimate
			var err error
			if c := a.client(); c != nil {
				est, err = c.Estimate(cmd.Context())
			} else {
				err = a.local(func(p *pipeline.Pipeline) error {
					est, err = p.Estimate(cmd.Context())
					return err
				})
			}
			if err != nil {
				return err
			}

			if err := a.emit(cmd, est, func(w io.Writer) { printEstimate(w, est) }); err != nil {
				return err
			}
			if !est.WithinLimit {
				return &exitError{
					code: 2,
					msg:  fmt.Sprintf("%d tokens exceed the %d token context window", est.Result.TotalTokens, est.MaxContextTokens),
				}
			}
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show files changed since the last documented state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st *pipeline.Status
			var err error
			if c := a.client(); c != nil {
				st, err = c.Status(cmd.Context())
			} else {
				err = a.local(func(p *pipeline.Pipeline) error {
					st, err = p.Status(cmd.Context())
					return err
				})
			}
			if err != nil {
				return err
			}
			return a.emit(cmd, st, func(w io.Writer) { printStatus(w, st) })
		},
	}
}

// plan runs a dry-run plan locally or against the server.
func (a *app) plan(cmd *cobra.Command, patchPath string) (*pipeline.PlanReport, error) {
	patch, err := readPatch(cmd, patchPath)
	if err != nil {
		return nil, err
	}
	if c := a.client(); c != nil {
		return c.Plan(cmd.Context(), patch)
	}
	var plan *pipeline.PlanReport
	err = a.local(func(p *pipeline.Pipeline) error {
		plan, err = p.Plan(cmd.Context(), pipeline.PlanRequest{Patch: patch})
		return err
	})
	return plan, err
}

func (a *app) planCmd() *cobra.Command {
	var patchPath string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a run would regenerate and how it would be chunked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := a.plan(cmd, patchPath)
			if err != nil {
				return err
			}
			return a.emit(cmd, plan, func(w io.Writer) { printPlan(w, plan) })
		},
	}
	cmd.Flags().StringVar(&patchPath, "patch", "", "unified diff to plan against instead of the stored state (- for stdin)")
	return cmd
}

func (a *app) impactCmd() *cobra.Command {
	var patchPath string
	cmd := &cobra.Command{
		Use:   "impact",
		Short: "Report which documented abstractions a change affects",
		Long: `Analyzes a change against the stored state and prints the affected
abstractions, the affected ratio, its scope and the chosen update strategy.
With --patch the change set comes from a unified diff, as for a pull request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := a.plan(cmd, patchPath)
			if err != nil {
				return err
			}
			return a.emit(cmd, plan.Impact, func(w io.Writer) { printImpact(w, plan) })
		},
	}
	cmd.Flags().StringVar(&patchPath, "patch", "", "unified diff to analyze (- for stdin)")
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var (
		patchPath string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Regenerate documentation for what changed and save the new state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := readPatch(cmd, patchPath)
			if err != nil {
				return err
			}

			var rep *pipeline.RunReport
			if c := a.client(); c != nil {
				rep, err = c.Run(cmd.Context(), patch, dryRun)
			} else {
				err = a.local(func(p *pipeline.Pipeline) error {
					rep, err = p.Run(cmd.Context(), pipeline.RunRequest{Patch: patch, DryRun: dryRun})
					return err
				})
			}
			if err != nil {
				return err
			}
			return a.emit(cmd, rep, func(w io.Writer) { printRun(w, rep) })
		},
	}
	cmd.Flags().StringVar(&patchPath, "patch", "", "unified diff to run against instead of the stored state (- for stdin)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only, do not generate or save")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [commit]",
		Short: "List archived documentation states, or show the one saved for a commit",
		Long: `Lists every saved state, newest first. Only the badger state backend keeps
history; the file backend stores the latest state alone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if len(args) == 1 {
				var s *state.DocState
				var err error
				if c := a.client(); c != nil {
					s, err = c.StateAt(ctx, args[0])
				} else {
					err = a.historian(func(h state.Historian) error {
						s, err = h.LoadCommit(ctx, args[0])
						return err
					})
				}
				if err != nil {
					return err
				}
				return a.emit(cmd, s, func(w io.Writer) { printState(w, s) })
			}

			var entries []state.HistoryEntry
			var err error
			if c := a.client(); c != nil {
				entries, err = c.History(ctx)
			} else {
				err = a.historian(func(h state.Historian) error {
					entries, err = h.History(ctx)
					return err
				})
			}
			if err != nil {
				return err
			}
			return a.emit(cmd, entries, func(w io.Writer) { printHistory(w, entries) })
		},
	}
}

func (a *app) diffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <from> [to]",
		Short: "Compare two archived documentation states",
		Long: `Shows which files, abstractions and relationships differ between the state
saved for commit <from> and the one saved for [to], or the current state when
[to] is omitted. Rewritten chapters are shown as line diffs.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := args[0], ""
			if len(args) == 2 {
				to = args[1]
			}

			var d *diff.StateDiff
			var err error
			if c := a.client(); c != nil {
				d, err = c.Diff(cmd.Context(), from, to)
			} else {
				err = a.local(func(p *pipeline.Pipeline) error {
					d, err = diff.NewEngine(3).Between(cmd.Context(), p.Store, from, to)
					return err
				})
			}
			if err != nil {
				return err
			}
			return a.emit(cmd, d, func(w io.Writer) { printDiff(w, d) })
		},
	}
}

func (a *app) historian(fn func(h state.Historian) error) error {
	return a.local(func(p *pipeline.Pipeline) error {
		h, ok := p.Store.(state.Historian)
		if !ok {
			return errors.NotFound(fmt.Sprintf("state backend %q keeps no history; use --state-backend badger", a.cfg.State.Backend))
		}
		return fn(h)
	})
}

func (a *app) watchCmd() *cobra.Command {
	var (
		debounce time.Duration
		run      bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-plan (or re-run) whenever included files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.local(func(p *pipeline.Pipeline) error {
				w, err := watch.New(p.Root, p.Policy, debounce, a.logger)
				if err != nil {
					return err
				}
				defer w.Close()

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Watching %s (Ctrl-C to stop)\n", cyan(p.Root))

				err = w.Run(cmd.Context(), func(ctx context.Context, paths []string) error {
					fmt.Fprintf(out, "\n%s %d file(s) changed\n", cyan(time.Now().Format("15:04:05")), len(paths))
					if run {
						rep, err := p.Run(ctx, pipeline.RunRequest{})
						if err != nil {
							return err
						}
						printRun(out, rep)
						return nil
					}
					plan, err := p.Plan(ctx, pipeline.PlanRequest{})
					if err != nil {
						return err
					}
					printPlan(out, plan)
					return nil
				})
				if stderrors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a batch of changes is processed")
	cmd.Flags().BoolVar(&run, "run", false, "run generation on every batch instead of only planning")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the planning API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.local(func(p *pipeline.Pipeline) error {
				addr := net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port))
				handler := api.Routes(api.NewHandler(p, p.Store, a.logger), a.metrics, a.logger)

				a.logger.Info("starting planning server",
					zap.String("addr", addr),
					zap.String("root", p.Root),
					zap.String("model", a.cfg.Model),
				)
				return api.NewServer(addr, handler, a.logger).Serve(cmd.Context())
			})
		},
	}
	cmd.Flags().String("host", "127.0.0.1", "listen host")
	cmd.Flags().Int("port", 8089, "listen port")
	return cmd
}
