package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/narrately/api/pkg/renderclient"
)

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var (
		req     renderclient.PreviewRequest
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "preview <text>",
		Short: "Synthesize a narration sample",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Text = strings.TrimSpace(strings.Join(args, " "))
			if req.Text == "" {
				return errors.New("preview text is empty")
			}
			preview, err := ctx.apiClient().PreviewTTS(cmd.Context(), req)
			if err != nil {
				return describeError(err)
			}
			if jsonOut {
				return writeJSON(cmd, preview)
			}
			source := "synthesized"
			if preview.Cached {
				source = "cached"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%.2fs, %s)\n", preview.URL, preview.DurationSec, source)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Lang, "lang", "", "Language tag")
	cmd.Flags().StringVar(&req.VoiceID, "voice", "", "Voice id")
	cmd.Flags().Float64Var(&req.Pace, "pace", 0, "Speaking pace multiplier")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}
