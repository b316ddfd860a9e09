package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"clipstitch/internal/api"
	"clipstitch/internal/segments"
	"clipstitch/internal/store"
)

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Inspect merged assets",
	}
	cmd.AddCommand(newAssetsListCommand(ctx))
	cmd.AddCommand(newAssetsShowCommand(ctx))
	return cmd
}

func newAssetsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List merged assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			filter := make([]store.AssetStatus, 0, len(statuses))
			for _, s := range statuses {
				filter = append(filter, store.AssetStatus(s))
			}
			list, err := st.ListAssets(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			if asJSON {
				out := make([]api.MergedAsset, 0, len(list))
				for _, a := range list {
					out = append(out, api.FromAsset(a))
				}
				return writeJSON(cmd, out)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No merged assets")
				return nil
			}
			colorize := shouldColorize(cmd.OutOrStdout())
			rows := make([][]string, 0, len(list))
			for _, a := range list {
				rows = append(rows, []string{
					a.ID, a.ChallengeID, a.Preset, a.Strategy,
					formatMS(a.TotalDurationMS), formatBytes(a.ByteSize),
					statusLabel(string(a.Status), colorize),
				})
			}
			headers := []string{"ID", "Challenge", "Preset", "Strategy", "Duration", "Size", "Status"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newAssetsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <asset-id>",
		Short: "Show a merged asset and its segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			asset, err := st.GetAsset(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("asset %s not found", args[0])
				}
				return err
			}
			segs, segErr := segments.NewIndex(st, cfg.AssetsDir(), ctx.logger()).Lookup(cmd.Context(), asset.ID)
			if asJSON {
				return writeJSON(cmd, struct {
					Asset    api.MergedAsset `json:"asset"`
					Segments []api.Segment   `json:"segments"`
				}{api.FromAsset(asset), api.FromSegments(segs)})
			}
			colorize := shouldColorize(cmd.OutOrStdout())
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderDetails([][2]string{
				{"ID", asset.ID},
				{"Challenge", asset.ChallengeID},
				{"Job", valueOrDash(asset.JobID)},
				{"Status", statusLabel(string(asset.Status), colorize)},
				{"Moderation", valueOrDash(strings.Join(asset.ModerationReasons, "; "))},
				{"Preset", asset.Preset},
				{"Strategy", asset.Strategy},
				{"Duration", formatMS(asset.TotalDurationMS)},
				{"Size", formatBytes(asset.ByteSize)},
				{"File", asset.FilePath},
				{"Created", formatTime(asset.CreatedAt)},
			}))
			if segErr != nil {
				fmt.Fprintf(out, "Segments unavailable: %v\n", segErr)
				return nil
			}
			fmt.Fprintln(out, renderSegments(segs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func renderSegments(segs []segments.Segment) string {
	rows := make([][]string, 0, len(segs))
	for _, s := range segs {
		rows = append(rows, []string{
			strconv.Itoa(s.StatementIndex),
			strconv.FormatInt(s.StartMS, 10),
			strconv.FormatInt(s.EndMS, 10),
			formatMS(s.DurationMS),
		})
	}
	return renderTable([]string{"Statement", "Start (ms)", "End (ms)", "Duration"}, rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight})
}
