package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var serverFlag string
	var clientIDFlag string

	ctx := newCommandContext(&serverFlag, &clientIDFlag)

	rootCmd := &cobra.Command{
		Use:           "renderctl",
		Short:         "Render API command line client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Render API base URL (env RENDERCTL_SERVER)")
	rootCmd.PersistentFlags().StringVar(&clientIDFlag, "client-id", "", "Client identity sent as X-Client-ID (env RENDERCTL_CLIENT_ID)")

	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newActivityCommand(ctx))
	rootCmd.AddCommand(newPreviewCommand(ctx))

	return rootCmd
}
