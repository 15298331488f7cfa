// Package cli implements the kestrel command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfgFile string
	debug   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kestrel",
	Short: "Kestrel - insurance claim anomaly and customer risk scoring",
	Long: `Kestrel scores insurance claims for anomalies and segments customers
by risk and value.

It reads four CSV extracts (customers, policies, claims, fraud flags),
writes a claim anomaly report and a customer segmentation report, and
can run as an HTTP service that stores and serves finished runs.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kestrel %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

// envBindings maps config keys to the environment variables that override
// them. Keys not listed here still follow KESTREL_<SECTION>_<KEY>.
var envBindings = map[string]string{
	"repository.postgrespassword": "KESTREL_POSTGRES_PASSWORD",
	"cache.redispassword":         "KESTREL_REDIS_PASSWORD",
	"eventbus.natstoken":          "KESTREL_NATS_TOKEN",
}

// configKeys are the settings viper reads from the environment.
var configKeys = []string{
	"tier",
	"server.host", "server.port", "server.readtimeout", "server.writetimeout",
	"input.dir", "input.customers", "input.policies", "input.claims", "input.fraud",
	"scoring.rulesfile", "scoring.topclaims", "scoring.topcustomers",
	"scoring.claimalertthreshold", "scoring.outputdir",
	"repository.driver", "repository.sqlitepath",
	"repository.postgreshost", "repository.postgresport", "repository.postgresuser",
	"repository.postgresdb", "repository.postgressslmode",
	"cache.type", "cache.localmaxsize", "cache.localttl", "cache.runttl",
	"cache.redisaddr", "cache.redisdb", "cache.enabletwophase",
	"eventbus.type", "eventbus.channelbuffersize", "eventbus.natsurl",
	"eventbus.natsmaxreconnects", "eventbus.natsreconnectwait", "eventbus.queuegroup",
	"logging.level", "logging.format",
	"tracing.enabled",
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.kestrel/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.kestrel")
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match KESTREL_*
	viper.SetEnvPrefix("KESTREL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range configKeys {
		_ = viper.BindEnv(key)
	}
	for key, env := range envBindings {
		_ = viper.BindEnv(key, env)
	}

	if err := viper.ReadInConfig(); err != nil {
		if cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", cfgFile, err)
		}
		return
	}
	slog.Debug("using config file", "path", viper.ConfigFileUsed())
}

// loadConfig returns the effective configuration: tier defaults overlaid
// with the config file and environment.
func loadConfig() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if domain.Tier(viper.GetString("tier")) == domain.TierPro {
		cfg = domain.ProConfig()
	}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the default slog logger. KESTREL_DEBUG=true or
// --debug forces debug level.
func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(viper.GetString("logging.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug || os.Getenv("KESTREL_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if viper.GetString("logging.format") == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
