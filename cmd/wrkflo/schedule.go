package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seanchatmangpt/wrkflo/internal/scheduler"
	"github.com/seanchatmangpt/wrkflo/internal/store"
)

func newScheduleCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron-scheduled workflow runs",
		Long: `Scheduled runs are stored in the run history database and executed
by "wrkflo serve" while it is running.`,
	}
	cmd.AddCommand(
		newScheduleAddCommand(opts),
		newScheduleListCommand(opts),
		newScheduleRemoveCommand(opts),
	)
	return cmd
}

// withScheduler wires the app and a scheduler over its history store.
func withScheduler(cmd *cobra.Command, opts *rootOptions, fn func(a *app, sched *scheduler.Scheduler) error) error {
	a, err := opts.setup(cmd.Context(), cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer a.close()
	if a.store == nil {
		return fmt.Errorf("scheduling requires run history; remove --no-history")
	}
	return fn(a, scheduler.NewScheduler(a.store, a.svc, a.logger))
}

func newScheduleAddCommand(opts *rootOptions) *cobra.Command {
	var (
		cronExpr   string
		workflowID string
		inputArgs  []string
		inputFile  string
		disabled   bool
	)

	cmd := &cobra.Command{
		Use:     "add <document>",
		Short:   "Schedule a workflow",
		Example: `  wrkflo schedule add petstore.arazzo.yaml --cron "*/15 * * * *" --input petId=7`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseInputs(inputArgs, inputFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			raw, err := json.Marshal(inputs)
			if err != nil {
				return fmt.Errorf("failed to marshal inputs: %w", err)
			}
			location, err := documentLocation(args[0])
			if err != nil {
				return err
			}

			return withScheduler(cmd, opts, func(a *app, sched *scheduler.Scheduler) error {
				job := &store.ScheduledJob{
					DocumentPath:   location,
					WorkflowID:     workflowID,
					Inputs:         raw,
					CronExpression: cronExpr,
					Enabled:        !disabled,
				}
				if err := sched.Add(cmd.Context(), job); err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %s (next run %s)\n", job.ID, formatTime(job.NextRunAt))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", "five-field cron expression")
	cmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "workflow to run (default: first in document)")
	cmd.Flags().StringArrayVarP(&inputArgs, "input", "i", nil, "workflow input as key=value (repeatable)")
	cmd.Flags().StringVar(&inputFile, "inputs", "", "YAML or JSON file of inputs")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "store the job without enabling it")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func newScheduleListCommand(opts *rootOptions) *cobra.Command {
	var workflowID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd, opts, func(a *app, sched *scheduler.Scheduler) error {
				jobs, err := sched.List(cmd.Context(), store.ScheduledJobFilter{WorkflowID: workflowID})
				if err != nil {
					return err
				}
				if opts.json {
					if jobs == nil {
						jobs = []*store.ScheduledJob{}
					}
					return printJSON(cmd, jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No scheduled workflows.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCRON\tDOCUMENT\tWORKFLOW\tENABLED\tNEXT RUN\tLAST STATUS")
				for _, job := range jobs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
						job.ID, job.CronExpression, job.DocumentPath, orDash(job.WorkflowID),
						job.Enabled, formatTime(job.NextRunAt), orDash(job.LastRunStatus))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "only jobs for this workflow")
	return cmd
}

func newScheduleRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <job-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a scheduled workflow",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd, opts, func(a *app, sched *scheduler.Scheduler) error {
				if err := sched.Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	}
}

// documentLocation makes local paths absolute so the scheduler can resolve
// them from any working directory. URLs pass through.
func documentLocation(loc string) (string, error) {
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		return loc, nil
	}
	abs, err := filepath.Abs(strings.TrimPrefix(loc, "file://"))
	if err != nil {
		return "", fmt.Errorf("resolve document path: %w", err)
	}
	return abs, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
