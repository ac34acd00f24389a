package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"docdelta/internal/diff"
	"docdelta/internal/impact"
	"docdelta/internal/pipeline"
	"docdelta/internal/state"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// emit writes v in the selected format; text renders through the given func.
func (a *app) emit(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w, closeOut, err := a.writer(cmd)
	if err != nil {
		return err
	}

	switch a.format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(v)
	case "yaml":
		err = writeYAML(w, v)
	default:
		text(w)
	}

	if cerr := closeOut(); err == nil {
		err = cerr
	}
	return err
}

// writeYAML round-trips through JSON so keys match the JSON tags.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func printEstimate(w io.Writer, est *pipeline.Estimate) {
	res := est.Result
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, f := range res.Files {
		fmt.Fprintf(tw, "  %s\t%d\n", f.Path, f.Tokens)
	}
	tw.Flush()

	if len(res.Skipped) > 0 {
		fmt.Fprintf(w, "\n%s\n", yellow(fmt.Sprintf("Skipped %d file(s):", len(res.Skipped))))
		for _, s := range res.Skipped {
			fmt.Fprintf(w, "  %s (%s)\n", s.Path, s.Reason)
		}
	}

	fmt.Fprintf(w, "\nFiles:     %d\n", len(res.Files))
	fmt.Fprintf(w, "Tokens:    %d + %d overhead (%.1f%%) = %s\n",
		res.SumFileTokens, res.OverheadTokens, res.OverheadPercent, bold(res.TotalTokens))
	fmt.Fprintf(w, "Method:    %s\n", res.Approximation())
	if est.WithinLimit {
		fmt.Fprintf(w, "Context:   %s\n", green(fmt.Sprintf("fits in %d tokens", est.MaxContextTokens)))
	} else {
		fmt.Fprintf(w, "Context:   %s\n", red(fmt.Sprintf("exceeds %d tokens", est.MaxContextTokens)))
	}
}

func printStatus(w io.Writer, st *pipeline.Status) {
	fmt.Fprintf(w, "Commit:    %s\n", orNone(st.Commit))
	fmt.Fprintf(w, "Baseline:  %s (%s)\n", orNone(st.BaselineCommit), st.Changes.Baseline)
	fmt.Fprintf(w, "Tokens:    %d\n\n", st.TotalTokens)

	if st.Changes.Empty() {
		fmt.Fprintln(w, green("Nothing changed since the last run"))
	}
	for _, p := range st.Changes.Added {
		fmt.Fprintf(w, "  %s %s\n", green("added:   "), p)
	}
	for _, p := range st.Changes.Modified {
		fmt.Fprintf(w, "  %s %s\n", yellow("modified:"), p)
	}
	for _, p := range st.Changes.Deleted {
		fmt.Fprintf(w, "  %s %s\n", red("deleted: "), p)
	}
	// Skipped this time; their documentation is kept as is.
	for _, p := range st.Changes.Unknown {
		fmt.Fprintf(w, "  %s %s\n", yellow("unknown: "), p)
	}
}

func strategy(s impact.Strategy) string {
	if s == impact.StrategyFull {
		return red(string(s))
	}
	return green(string(s))
}

func scope(s impact.Scope) string {
	switch s {
	case impact.ScopeLow:
		return green(string(s))
	case impact.ScopeMedium:
		return yellow(string(s))
	default:
		return red(string(s))
	}
}

func printImpact(w io.Writer, plan *pipeline.PlanReport) {
	r := plan.Impact
	fmt.Fprintf(w, "Strategy:  %s (%s)\n", strategy(r.Strategy), r.Reason)
	fmt.Fprintf(w, "Baseline:  %s\n", r.Baseline)
	if r.Live > 0 {
		fmt.Fprintf(w, "Affected:  %d of %d abstractions (%.0f%%, %s)\n",
			len(r.Affected), r.Live, r.Ratio*100, scope(r.Scope))
	}
	if len(r.Direct) > 0 {
		fmt.Fprintf(w, "  direct:    %s\n", ints(r.Direct))
	}
	if len(r.Neighbors) > 0 {
		fmt.Fprintf(w, "  neighbors: %s\n", ints(r.Neighbors))
	}
	if len(r.Refined) > 0 {
		fmt.Fprintf(w, "  refined:   %s\n", ints(r.Refined))
	}
	if len(r.Orphaned) > 0 {
		fmt.Fprintf(w, "  %s  %s\n", red("orphaned:"), ints(r.Orphaned))
	}
}

func printPlan(w io.Writer, plan *pipeline.PlanReport) {
	printImpact(w, plan)
	fmt.Fprintf(w, "Scope:     %d file(s), %d tokens\n", len(plan.Scoped), plan.ScopedTokens)
	fmt.Fprintf(w, "Budget:    %d per call (%d usable)\n", plan.Planner.Budget, plan.Planner.Capacity())

	if plan.NothingToDo() {
		fmt.Fprintf(w, "\n%s\n", green("Documentation is up to date"))
		return
	}

	fmt.Fprintf(w, "\n%s\n", bold(fmt.Sprintf("%d chunk(s):", plan.Summary.Chunks)))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range plan.Chunks {
		mark := ""
		if c.Oversize {
			mark = red(" oversize")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%d file(s)\t%d tokens%s\n",
			cyan(c.ID), c.Level, c.Group, len(c.Paths), c.Tokens, mark)
	}
	tw.Flush()

	if plan.Summary.Oversize > 0 {
		fmt.Fprintf(w, "\n%s\n", red(fmt.Sprintf("%d file(s) exceed the budget on their own and will be reported unresolved", plan.Summary.Oversize)))
	}
}

func printRun(w io.Writer, rep *pipeline.RunReport) {
	if rep.Plan != nil {
		printPlan(w, rep.Plan)
		fmt.Fprintln(w)
	}

	switch rep.Status {
	case pipeline.RunNoChanges:
		fmt.Fprintf(w, "Run %s: %s\n", rep.RunID, green("no changes"))
		return
	case pipeline.RunDryRun:
		fmt.Fprintf(w, "Run %s: %s\n", rep.RunID, yellow("dry run, nothing generated"))
		return
	}

	if d := rep.Dispatch; d != nil {
		calls, escalations := 0, 0
		for _, r := range d.Results {
			calls += r.Calls
			escalations += r.Escalations
		}
		fmt.Fprintf(w, "Generated %d chunk(s) in %d call(s), %d escalation(s)\n", len(d.Results), calls, escalations)
		if len(d.Failed) > 0 {
			fmt.Fprintf(w, "  %s %s\n", red("failed:    "), strings.Join(d.Failed, ", "))
		}
		if len(d.Unresolved) > 0 {
			fmt.Fprintf(w, "  %s %s\n", red("unresolved:"), strings.Join(d.Unresolved, ", "))
		}
	}
	if m := rep.Merge; m != nil {
		fmt.Fprintf(w, "Merged: %d replaced, %d appended, %d dropped, %d stale\n",
			len(m.Replaced), len(m.Appended), len(m.Dropped), len(m.Stale))
	}

	if rep.Saved {
		fmt.Fprintf(w, "Run %s: %s\n", rep.RunID, green("state saved"))
	} else {
		fmt.Fprintf(w, "Run %s: %s\n", rep.RunID, yellow(string(rep.Status)))
	}
}

func printHistory(w io.Writer, entries []state.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No saved states")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %s\n", cyan(e.Commit), e.SavedAt.Local().Format("2006-01-02 15:04:05"))
	}
}

func printState(w io.Writer, s *state.DocState) {
	fmt.Fprintf(w, "Commit:    %s\n", cyan(orNone(s.Commit)))
	fmt.Fprintf(w, "Run:       %s\n", orNone(s.RunID))
	fmt.Fprintf(w, "Saved:     %s\n", s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Files:     %d\n", len(s.Files))
	fmt.Fprintf(w, "Relations: %d\n\n", len(s.Relationships))

	for _, i := range s.Live() {
		a, _ := s.Abstraction(i)
		fmt.Fprintf(w, "  [%d] %s (%d file(s))\n", i, bold(a.Name), len(a.Files))
	}
}

func printDiff(w io.Writer, d *diff.StateDiff) {
	fmt.Fprintf(w, "Comparing %s..%s\n\n", cyan(orNone(d.From)), cyan(orNone(d.To)))
	if d.Empty() {
		fmt.Fprintln(w, green("No differences"))
		return
	}

	for _, p := range d.Files.Added {
		fmt.Fprintf(w, "  %s %s\n", green("added:   "), p)
	}
	for _, p := range d.Files.Modified {
		fmt.Fprintf(w, "  %s %s\n", yellow("modified:"), p)
	}
	for _, p := range d.Files.Deleted {
		fmt.Fprintf(w, "  %s %s\n", red("deleted: "), p)
	}

	for _, c := range d.Abstractions {
		label := fmt.Sprintf("[%d] %s", c.Index, c.Name)
		switch c.Kind {
		case diff.KindAdded:
			fmt.Fprintf(w, "\n%s %s\n", green("+"), bold(label))
		case diff.KindRemoved:
			fmt.Fprintf(w, "\n%s %s\n", red("-"), bold(label))
			continue
		default:
			fmt.Fprintf(w, "\n%s %s\n", yellow("~"), bold(label))
		}
		if c.Renamed != "" {
			fmt.Fprintf(w, "  renamed from %s\n", c.Renamed)
		}
		if c.FilesChanged {
			fmt.Fprintln(w, "  source files changed")
		}
		if c.Chapter == nil {
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(c.Chapter.Format(), "\n"), "\n") {
			switch {
			case strings.HasPrefix(line, "@@"):
				fmt.Fprintf(w, "  %s\n", cyan(line))
			case strings.HasPrefix(line, "+"):
				fmt.Fprintf(w, "  %s\n", green(line))
			case strings.HasPrefix(line, "-"):
				fmt.Fprintf(w, "  %s\n", red(line))
			default:
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
	}

	if n := len(d.RelationshipsAdded) + len(d.RelationshipsRemoved); n > 0 {
		fmt.Fprintf(w, "\nRelationships: %s, %s\n",
			green(fmt.Sprintf("+%d", len(d.RelationshipsAdded))),
			red(fmt.Sprintf("-%d", len(d.RelationshipsRemoved))))
	}
}

func ints(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
