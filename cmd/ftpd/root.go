package main

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/gonzalop/ftpd/internal/config"
	"github.com/gonzalop/ftpd/server"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "ftpd",
		Short: "A small FTP server",
		Long: `ftpd serves the local file system over FTP (RFC 959).

Accounts come from a YAML file or an SQL table, selected in the
[accounts] section of the configuration file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "configuration file")

	cmd.AddCommand(
		newServeCmd(opts),
		newAccountsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration. A missing file is fine when --config was
// left at its default. Problems that do not stop the load are returned as
// warnings so they can be logged once a logger exists.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, []string, error) {
	cfg, unknown, err := config.Load(o.configPath)
	if err != nil {
		if config.IsNotExist(err) && !cmd.Flags().Changed("config") {
			cfg = config.Default()
			return cfg, []string{fmt.Sprintf("%s not found, using defaults", o.configPath)}, nil
		}
		return nil, nil, err
	}

	var warnings []string
	for _, key := range unknown {
		warnings = append(warnings, fmt.Sprintf("unknown configuration key %q ignored", key))
	}
	if err := cfg.Validate(); err != nil {
		var merr *multierror.Error
		if !errors.As(err, &merr) {
			return nil, nil, err
		}
		for _, e := range merr.Errors {
			warnings = append(warnings, e.Error())
		}
	}
	return cfg, warnings, nil
}

func logWarnings(logger *slog.Logger, warnings []string) {
	for _, w := range warnings {
		logger.Warn("configuration", "problem", w)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s ver. %s (%s %s/%s)\n",
				server.ServerName, server.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
