package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webingest/internal/config"
	"github.com/JakeFAU/webingest/internal/logging"
)

const defaultEnvFile = ".env"

// cli carries state resolved by the root command to its subcommands.
type cli struct {
	cfgFile  string
	envFile  string
	logLevel string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:           "webingest",
		Short:         "Crawl websites into a document ingestion pipeline.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().StringVar(&c.envFile, "env-file", defaultEnvFile, "dotenv file loaded before reading WEBINGEST_* variables")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(newServeCmd(c), newCrawlCmd(c))
	return cmd
}

func (c *cli) init(cmd *cobra.Command) error {
	if err := loadEnvFile(c.envFile, cmd.Flags().Changed("env-file")); err != nil {
		return err
	}
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	opts := []logging.Option{logging.WithLevel(cfg.Logging.Level)}
	if cmd.Name() == "crawl" {
		// stdout carries the crawl summary.
		opts = append(opts, logging.WithOutput("stderr"))
	}
	logger, err := logging.New(cfg.Logging.Development, opts...)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	c.cfg, c.logger = cfg, logger
	return nil
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
