package main

import (
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/balsam/config"
)

// Version is set at build time.
var Version = "dev"

type rootOptions struct {
	envFile string
	cfg     *config.Config
	logger  ectologger.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "balsam",
		Short:         "Reconcile back-office and partner transaction feeds",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var envFiles []string
			if opts.envFile != "" {
				envFiles = append(envFiles, opts.envFile)
			}
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			if cfg.Version == "dev" {
				cfg.Version = Version
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load before reading the environment (default .env)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newReconcileCmd(opts),
		newEnvCmd(),
	)
	return cmd
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid LOG_LEVEL %q", cfg.LogLevel)
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapConfig.Build(zap.Fields(zap.String("service", cfg.AppName), zap.String("version", cfg.Version)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Describe the environment variables balsam reads",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(config.Usage())
		},
	}
}
