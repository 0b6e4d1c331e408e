package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/infrastructure/config"
	"github.com/emmanuelquintana/christmas/infrastructure/di"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configFile string

	v      *viper.Viper
	cfg    *config.Config
	level  zap.AtomicLevel
	logger *zap.Logger
}

func newCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "wishsky",
		Short:         "Serves and drives shared wish skies.",
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVarP(&a.configFile, "config", "c", "", "YAML config file, watched for changes by serve (env: WISHSKY_CONFIG)")
	config.RegisterFlags(pfs)

	cmd.AddCommand(
		newServeCmd(a),
		newSendCmd(a),
		newWatchCmd(a),
		newImportCmd(a),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("wishsky v{{.Version}}\n")

	return cmd
}

func (a *app) load(cmd *cobra.Command) error {
	v, err := config.NewViper(cmd.Flags(), a.configFile)
	if err != nil {
		return err
	}
	if a.configFile == "" {
		if file := v.GetString("config"); file != "" {
			a.configFile = file
			if v, err = config.NewViper(cmd.Flags(), file); err != nil {
				return err
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	level := di.ProvideLogLevel(cfg)
	logger, err := di.ProvideLogger(cfg, level)
	if err != nil {
		return err
	}

	a.v, a.cfg, a.level, a.logger = v, cfg, level, logger
	return nil
}
