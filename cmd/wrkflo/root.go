package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string
	noHistory  bool
	json       bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "wrkflo",
		Short: "Run Arazzo API workflows",
		Long: `wrkflo executes the workflows described in Arazzo documents:
it calls each step's API operation, checks success criteria, follows
goto/retry/end actions and records run history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "settings file (default ~/.wrkflo/settings.json)")
	flags.StringVar(&opts.dbPath, "db-path", "", "run history database path")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format (text, json)")
	flags.BoolVar(&opts.noHistory, "no-history", false, "do not record run history")
	flags.BoolVar(&opts.json, "json", false, "print machine-readable JSON")

	cmd.AddCommand(
		newRunCommand(opts),
		newValidateCommand(opts),
		newServeCommand(opts),
		newScheduleCommand(opts),
		newHistoryCommand(opts),
		newVersionCommand(opts),
	)
	return cmd
}

// config loads layered configuration and applies flag overrides.
func (o *rootOptions) config() (Config, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}
	// Layer 4: flags override.
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if o.noHistory {
		cfg.History = false
	}
	return cfg, nil
}
