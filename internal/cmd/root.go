// Package cmd implements the clusterflow command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/config"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/logging"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/store"
)

var (
	// v backs every command; flags bound here override the environment.
	v = viper.New()

	versionInfo struct {
		Version string
		Commit  string
	}
)

// SetVersionInfo is called by the main package with linker-provided values.
func SetVersionInfo(version, commit string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
}

var rootCmd = &cobra.Command{
	Use:   "clusterflow",
	Short: "Cluster-coordinated rate limiting and request metrics",
	Long: `clusterflow runs HTTP workers that share rate-limit windows and
request metrics through Redis, so a cluster of processes behaves as one.

Configuration is read from the environment (REDIS_HOST, RATE_LIMIT_MAX_REQUESTS, ...).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().String("redis-host", "", "Redis host (overrides REDIS_HOST)")
	rootCmd.PersistentFlags().Int("redis-port", 0, "Redis port (overrides REDIS_PORT)")
	rootCmd.PersistentFlags().String("key-prefix", "", "key prefix (overrides REDIS_KEY_PREFIX)")

	bindFlag("log_level", "log-level")
	bindFlag("redis_host", "redis-host")
	bindFlag("redis_port", "redis-port")
	bindFlag("redis_key_prefix", "key-prefix")

	rootCmd.Version = "dev"
	rootCmd.SetVersionTemplate("clusterflow {{.Version}}\n")
	cobra.OnInitialize(func() {
		if versionInfo.Version != "" {
			rootCmd.Version = fmt.Sprintf("%s (%s)", versionInfo.Version, versionInfo.Commit)
		}
	})
}

// bindFlag binds a persistent flag to a config key. Unset flags fall through
// to the environment and then to the defaults.
func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		fmt.Fprintf(os.Stderr, "bind flag %s: %v\n", flag, err)
	}
}

// loadConfig resolves the configuration for the running command.
func loadConfig() (*config.Config, error) {
	return config.LoadFrom(v)
}

// connectStore connects to the coordination store for one-shot commands.
// Unlike serve, these fail when the store cannot be reached.
func connectStore(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) (*store.Client, error) {
	sc := cfg.Store()
	sc.Logger = logger
	sc.MaxReconnectAttempts = 1
	st, err := store.New(sc)
	if err != nil {
		return nil, err
	}
	if err := st.Connect(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("connect to %s: %w", sc.Addr(), err)
	}
	return st, nil
}

func cliLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewDevelopment(cfg.LogLevel)
}
