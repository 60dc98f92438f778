package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/footron/controller/internal/config"
	"github.com/footron/controller/internal/scheduler"
)

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the playlist scheduler against a Controller's operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSchedulerConfig()
			if err != nil {
				return err
			}
			return schedule(cmd.Context(), cfg)
		},
	}
}

// schedule runs the independent playlist/commercial rotation loop, talking
// to a Controller purely over its operator HTTP API rather than sharing
// process state (spec §4.3).
func schedule(ctx context.Context, cfg config.SchedulerConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := scheduler.NewClient(cfg.ControllerURL)
	sched := scheduler.New(client, cfg)

	log.Info().Str("controller_url", cfg.ControllerURL).Msg("schedule: starting")
	sched.Run(ctx)
	return nil
}
