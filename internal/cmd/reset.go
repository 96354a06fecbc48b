package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/metrics"
)

var resetAll bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the shared metric counters",
	Long: `Clear the shared metric counters of the cluster. With --all every key
under the configured prefix is removed, rate-limit windows included.`,
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

		reset := agg.ResetCounters
		if resetAll {
			reset = agg.ResetAll
		}
		n, err := reset(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("reset complete", zap.Int64("keys_deleted", n), zap.Bool("all", resetAll))
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d keys\n", n)
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "also remove rate-limit windows and any other prefixed key")
	rootCmd.AddCommand(resetCmd)
}
