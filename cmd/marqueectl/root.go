package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "marqueectl",
		Short: "marqueectl",
		Long:  "Control plane for a public interactive display.",
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newScheduleCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func Execute() {
	rootCmd := NewRootCmd()
	rootCmd.SetContext(context.Background())
	rootCmd.SetOut(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("marqueectl: command failed")
	}
}
