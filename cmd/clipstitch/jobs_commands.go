package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"clipstitch/internal/api"
	"clipstitch/internal/store"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and retry merge jobs",
	}
	cmd.AddCommand(newJobsListCommand(ctx))
	cmd.AddCommand(newJobsShowCommand(ctx))
	cmd.AddCommand(newJobsRetryCommand(ctx))
	return cmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var challenge string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List merge jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			var jobs []*store.MergeJob
			if challenge != "" {
				jobs, err = st.JobsForChallenge(cmd.Context(), challenge)
			} else {
				filter := make([]store.JobStatus, 0, len(statuses))
				for _, s := range statuses {
					filter = append(filter, store.JobStatus(s))
				}
				jobs, err = st.ListJobs(cmd.Context(), filter...)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.FromJobs(jobs))
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No merge jobs")
				return nil
			}
			colorize := shouldColorize(cmd.OutOrStdout())
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID,
					job.ChallengeID,
					job.Preset,
					statusLabel(string(job.Status), colorize),
					string(job.Stage),
					fmt.Sprintf("%.0f%%", job.Percent),
					strconv.Itoa(job.Attempts),
					valueOrDash(job.ErrorKind),
				})
			}
			headers := []string{"ID", "Challenge", "Preset", "Status", "Stage", "Progress", "Attempts", "Error"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&challenge, "challenge", "", "Only jobs for this challenge")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one merge job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			job, err := st.GetJob(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("merge job %s not found", args[0])
				}
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.FromJob(job))
			}
			colorize := shouldColorize(cmd.OutOrStdout())
			slot := "-"
			if job.FailedSlot != nil {
				slot = strconv.Itoa(*job.FailedSlot)
			}
			heartbeat := "-"
			if job.LastHeartbeat != nil {
				heartbeat = formatTime(*job.LastHeartbeat)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDetails([][2]string{
				{"ID", job.ID},
				{"Challenge", job.ChallengeID},
				{"Preset", job.Preset},
				{"Status", statusLabel(string(job.Status), colorize)},
				{"Stage", string(job.Stage)},
				{"Progress", fmt.Sprintf("%.1f%%", job.Percent)},
				{"Attempts", strconv.Itoa(job.Attempts)},
				{"Asset", valueOrDash(job.AssetID)},
				{"Error kind", valueOrDash(job.ErrorKind)},
				{"Error", valueOrDash(job.ErrorMessage)},
				{"Failed statement", slot},
				{"Heartbeat", heartbeat},
				{"Created", formatTime(job.CreatedAt)},
				{"Updated", formatTime(job.UpdatedAt)},
			}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Return a failed merge job to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			ok, err := st.RetryJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				job, err := st.GetJob(cmd.Context(), args[0])
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("merge job %s not found", args[0])
				}
				if err != nil {
					return err
				}
				return fmt.Errorf("merge job %s is %s; only failed jobs can be retried", job.ID, job.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merge job %s queued for retry\n", args[0])
			return nil
		},
	}
}
