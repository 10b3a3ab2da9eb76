package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/MarcoPoloResearchLab/courtside/internal/app"
	"github.com/MarcoPoloResearchLab/courtside/internal/config"
	"github.com/MarcoPoloResearchLab/courtside/internal/logging"
	"github.com/MarcoPoloResearchLab/courtside/internal/syncer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "courtside",
		Short:        "Local-first basketball stat tracker",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newSyncCommand(),
		newBootstrapCommand(),
		newRunCommand(),
		newNormalizeCommand(),
		newStatsCommand(),
		newGameCommand(),
		newPracticeCommand(),
		newGoalsCommand(),
		newOutboxCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("mirror", defaults.GetString("client.mirror_path"), "Local mirror SQLite path")
	cmd.PersistentFlags().String("remote-url", defaults.GetString("remote.url"), "Remote table service URL")
	cmd.PersistentFlags().String("token", "", "Session token (overrides env)")
	cmd.PersistentFlags().String("athlete", defaults.GetString("profile.athlete_id"), "Active athlete profile")
	cmd.PersistentFlags().String("timezone", defaults.GetString("analytics.timezone"), "Time zone for trend buckets")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Optional rotating log file")

	bindFlag(cmd, "client.mirror_path", "mirror")
	bindFlag(cmd, "remote.url", "remote-url")
	bindFlag(cmd, "remote.token", "token")
	bindFlag(cmd, "profile.athlete_id", "athlete")
	bindFlag(cmd, "analytics.timezone", "timezone")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// withApp builds the client, signs in when a token is configured, runs fn
// and closes the mirror.
func withApp(ctx context.Context, fn func(ctx context.Context, application *app.App) error) error {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: clientConfig.LogLevel, FilePath: clientConfig.LogFile})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	application, err := app.New(app.Config{
		MirrorPath:    clientConfig.MirrorPath,
		RemoteURL:     clientConfig.RemoteURL,
		RemoteTimeout: clientConfig.RemoteTimeout,
		SyncInterval:  clientConfig.SyncInterval,
		Backoff: syncer.Backoff{
			Base: clientConfig.BackoffBase,
			Max:  clientConfig.BackoffMax,
		},
		PullConcurrency: clientConfig.PullConcurrency,
		PageSize:        clientConfig.PageSize,
		Location:        clientConfig.Location,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := application.Close(); closeErr != nil {
			logger.Warn("failed to close mirror", zap.Error(closeErr))
		}
	}()

	if clientConfig.RemoteToken != "" {
		if _, err := application.SignIn(clientConfig.RemoteToken, clientConfig.AthleteID); err != nil {
			return err
		}
	} else if clientConfig.AthleteID != "" {
		application.Session.SelectProfile(clientConfig.AthleteID)
	}

	if err := application.Store.EnsureReady(ctx); err != nil {
		return err
	}
	return fn(ctx, application)
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
