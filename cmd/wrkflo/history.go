package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seanchatmangpt/wrkflo/internal/store"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		status     string
		workflowID string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `Without arguments, list recent runs. With a run id, show the run,
a per-step summary and its event log.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd.Context(), cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer a.close()

			if len(args) == 1 {
				return showRun(cmd, opts, a, args[0])
			}

			filter := store.RunFilter{WorkflowID: workflowID, Limit: limit}
			if status != "" {
				st := schema.RunStatus(status)
				filter.Status = &st
			}
			runs, err := a.svc.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if opts.json {
				if runs == nil {
					runs = []*store.Run{}
				}
				return printJSON(cmd, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tWORKFLOW\tSTATUS\tSTARTED\tDURATION")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					run.ID, run.WorkflowID, run.Status, formatTime(run.StartedAt), runDuration(run))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (pending, running, succeeded, failed, cancelled)")
	cmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "only runs of this workflow")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	return cmd
}

func showRun(cmd *cobra.Command, opts *rootOptions, a *app, runID string) error {
	ctx := cmd.Context()
	run, err := a.svc.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	steps, err := a.svc.StepSummaries(ctx, runID)
	if err != nil {
		return err
	}
	events, err := a.svc.RunEvents(ctx, runID)
	if err != nil {
		return err
	}

	if opts.json {
		return printJSON(cmd, map[string]any{"run": run, "steps": steps, "events": events})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:       %s\n", run.ID)
	fmt.Fprintf(out, "Workflow:  %s\n", run.WorkflowID)
	fmt.Fprintf(out, "Status:    %s (%s)\n", run.Status, run.State)
	fmt.Fprintf(out, "Started:   %s\n", formatTime(run.StartedAt))
	fmt.Fprintf(out, "Duration:  %s\n", runDuration(run))
	if len(run.Error) > 0 {
		fmt.Fprintf(out, "Error:     %s\n", run.Error)
	}

	ids := make([]string, 0, len(steps))
	for id := range steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintln(out, "\nSteps:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  STEP\tSTATE\tEXECUTIONS\tRETRIES\tJUMPS")
	for _, id := range ids {
		s := steps[id]
		fmt.Fprintf(w, "  %s\t%s\t%d\t%d\t%d\n", id, s.State, s.Executions, s.Retries, s.Jumps)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nEvents:")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, ev := range events {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", ev.Sequence, ev.Timestamp.Local().Format("15:04:05.000"), ev.Type, orDash(ev.StepID))
	}
	return w.Flush()
}

func runDuration(run *store.Run) string {
	if run.StartedAt == nil || run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(*run.StartedAt).Round(time.Millisecond).String()
}
