package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kilianp07/bikeflow/app"
	"github.com/kilianp07/bikeflow/infra/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the feed, infer flows periodically and serve the results",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		svc, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := svc.Close(); err != nil {
				logger.New("main").Errorf("service close: %v", err)
			}
		}()
		return svc.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
