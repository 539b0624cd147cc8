package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/config"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/logging"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ddlkit",
		Short:         "Snapshot based schema migrations for SQLite and PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newGenerateCommand(),
		newExportCommand(),
		newUpgradeCommand(),
		newDropCommand(),
		newCheckCommand(),
		newPullCommand(),
		newVersionsCommand(),
		newServeCommand(),
		newTokenCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before the configuration")
	cmd.PersistentFlags().String("dialect", defaults.GetString("dialect"), "Target dialect (sqlite, postgresql)")
	cmd.PersistentFlags().String("out", defaults.GetString("out"), "Migration folder")
	cmd.PersistentFlags().Bool("breakpoints", defaults.GetBool("breakpoints"), "Separate statements with breakpoint markers")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (console, json)")

	bindPersistentFlag(cmd, "dialect", "dialect")
	bindPersistentFlag(cmd, "out", "out")
	bindPersistentFlag(cmd, "breakpoints", "breakpoints")
	bindPersistentFlag(cmd, "log.level", "log-level")
	bindPersistentFlag(cmd, "log.format", "log-format")
}

func bindPersistentFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// bindFlags binds key, flag pairs of the running command. Several commands share keys, so the
// binding happens when the command runs rather than when it is built.
func bindFlags(pairs ...string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		for i := 0; i+1 < len(pairs); i += 2 {
			if err := viper.BindPFlag(pairs[i], cmd.Flags().Lookup(pairs[i+1])); err != nil {
				return err
			}
		}
		return nil
	}
}

func initConfig() error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	return config.ReadFile(viper.GetViper(), cfgFile)
}

// app is the loaded configuration plus the logger built from it.
type app struct {
	config config.AppConfig
	logger *zap.Logger
}

func loadRuntime() (*app, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}
	return &app{config: appConfig, logger: logger}, nil
}

func (r *app) close() {
	_ = r.logger.Sync()
}

var errFailed = errors.New("command failed")
