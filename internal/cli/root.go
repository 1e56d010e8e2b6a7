// Package cli holds the marketplace command tree.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/config"
	"github.com/meanishn/platform/internal/logging"
)

const serviceName = "marketplace"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "marketplace",
	Short:        "Service request matching and assignment",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/server/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./marketplace.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	rootCmd.PersistentFlags().String("store", config.StoreMemory, "storage backend: memory | postgres")
	rootCmd.PersistentFlags().String("postgres-dsn", "", "Postgres DSN (default: built from DB_* variables)")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address (host:port); empty disables cache, queue and leader election")
	bindFlag("log_level", rootCmd.PersistentFlags(), "log-level")
	bindFlag("store", rootCmd.PersistentFlags(), "store")
	bindFlag("postgres_dsn", rootCmd.PersistentFlags(), "postgres-dsn")
	bindFlag("redis_addr", rootCmd.PersistentFlags(), "redis-addr")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(newInitCmd(serviceName, defaultYAML))
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.SetConfigName(serviceName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(home + "/.marketplace")
		viper.AddConfigPath("/etc/marketplace")
	}

	config.SetDefaults(viper.GetViper())
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintln(os.Stderr, "config:", viper.ConfigFileUsed())
	}
}

// loadConfig reads the typed config and builds the logger for a command.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, serviceName)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}
