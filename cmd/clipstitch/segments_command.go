package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"clipstitch/internal/api"
	"clipstitch/internal/segments"
)

func newSegmentsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "segments <asset-id>",
		Short: "Print the statement boundaries of a merged asset",
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
			segs, err := segments.NewIndex(st, cfg.AssetsDir(), ctx.logger()).Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.SegmentsResponse{AssetID: args[0], Segments: api.FromSegments(segs)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSegments(segs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}
