package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"clipstitch/internal/api"
	"clipstitch/internal/chunkstore"
	"clipstitch/internal/store"
	"clipstitch/internal/upload"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and maintain upload sessions",
	}
	cmd.AddCommand(newSessionsListCommand(ctx))
	cmd.AddCommand(newSessionsSweepCommand(ctx))
	return cmd
}

func newSessionsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upload sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			filter := make([]store.SessionStatus, 0, len(statuses))
			for _, s := range statuses {
				filter = append(filter, store.SessionStatus(s))
			}
			sessions, err := st.ListSessions(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			if asJSON {
				out := make([]api.UploadSession, 0, len(sessions))
				for _, sess := range sessions {
					out = append(out, api.FromSession(sess))
				}
				return writeJSON(cmd, out)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No upload sessions")
				return nil
			}
			colorize := shouldColorize(cmd.OutOrStdout())
			rows := make([][]string, 0, len(sessions))
			for _, sess := range sessions {
				rows = append(rows, []string{
					sess.ID,
					sess.Owner,
					sess.ChallengeID,
					strconv.Itoa(sess.StatementIndex),
					formatBytes(sess.TotalSize),
					strconv.Itoa(sess.ChunkCount),
					statusLabel(string(sess.Status), colorize),
					formatTime(sess.ExpiresAt),
				})
			}
			headers := []string{"ID", "Owner", "Challenge", "Slot", "Size", "Chunks", "Status", "Expires"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newSessionsSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale sessions and purge their chunk storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			manager := upload.NewManager(cfg, st, chunkstore.New(cfg.SessionsDir()), nil, ctx.logger())
			result, err := manager.ExpirySweep(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d session(s), removed %d orphaned directories, purged %d record(s)\n",
				result.Expired, result.Orphans, result.Purged)
			return nil
		},
	}
}
