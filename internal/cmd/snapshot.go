package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/metrics"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the cluster-wide metrics snapshot as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := cliLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		st, err := connectStore(cmd, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		agg, err := metrics.NewAggregator(st, metrics.WithLogger(logger))
		if err != nil {
			return err
		}
		snap, err := agg.Snapshot(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
