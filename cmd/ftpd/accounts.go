package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/gonzalop/ftpd/internal/accounts"
	"github.com/gonzalop/ftpd/internal/logging"
	"github.com/gonzalop/ftpd/server"
)

func newAccountsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and edit FTP accounts",
	}
	cmd.AddCommand(newAccountsListCmd(root), newAccountsAddCmd(root))
	return cmd
}

// openStore loads the configuration and opens its account store. Problems
// are logged to stderr at warning level.
func openStore(cmd *cobra.Command, root *rootOptions) (accounts.Store, error) {
	cfg, warnings, err := root.load(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), slog.LevelWarn, "text")
	if err != nil {
		return nil, err
	}
	logWarnings(logger, warnings)

	return accounts.Open(cmd.Context(), cfg.Accounts.Backend, accountSource(cfg), logger)
}

func newAccountsListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd, root)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return renderAccounts(cmd.OutOrStdout(), list)
		},
	}
}

func formatQuota(q int64) string {
	if q == server.Unlimited {
		return "unlimited"
	}
	return humanize.IBytes(uint64(q))
}

func homeStatus(home string) string {
	info, err := os.Stat(home)
	switch {
	case err != nil:
		return color.RedString("missing")
	case !info.IsDir():
		return color.RedString("not a directory")
	}
	return color.GreenString("ok")
}

func renderAccounts(w io.Writer, list []*server.Account) error {
	table := tablewriter.NewWriter(w)
	table.Header("User", "Home", "Home Status", "Quota", "Flags")
	for _, a := range list {
		flags := a.Flags.String()
		if !a.Flags.Has(server.FlagActive) {
			flags = color.YellowString(flags)
		}
		if err := table.Append([]string{
			a.Username,
			a.HomeDir,
			homeStatus(a.HomeDir),
			formatQuota(a.Quota),
			flags,
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d account(s)\n", len(list))
	return err
}

type addOptions struct {
	home       string
	password   string
	quota      string
	anonymous  bool
	noPassword bool
	disabled   bool
	hash       bool
}

func newAccountsAddCmd(root *rootOptions) *cobra.Command {
	opts := &addOptions{}
	cmd := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Create or replace an account in an SQL backend",
		Long: `Create or replace an account in the sqlite or postgres backend.

File backend accounts are edited in the YAML file directly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, root)
			if err != nil {
				return err
			}
			defer store.Close()

			sqlStore, ok := store.(*accounts.SQLStore)
			if !ok {
				return fmt.Errorf("accounts add needs the sqlite or postgres backend")
			}
			acc, err := opts.account(args[0])
			if err != nil {
				return err
			}
			if err := sqlStore.Put(cmd.Context(), acc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s saved (%s, quota %s)\n",
				acc.Username, acc.Flags, formatQuota(acc.Quota))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.home, "home", "", "home directory (required)")
	f.StringVar(&opts.password, "password", "", "password")
	f.StringVar(&opts.quota, "quota", "-1", `quota in bytes or with a unit ("10MiB"), -1 for unlimited`)
	f.BoolVar(&opts.anonymous, "anonymous", false, "mark as the anonymous account")
	f.BoolVar(&opts.noPassword, "no-password", false, "log in on USER alone")
	f.BoolVar(&opts.disabled, "disabled", false, "create the account inactive")
	f.BoolVar(&opts.hash, "hash", true, "store the password as a bcrypt hash")
	_ = cmd.MarkFlagRequired("home")
	return cmd
}

func parseQuota(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid quota %q: %w", s, err)
	}
	return int64(n), nil
}

func (o *addOptions) account(username string) (*server.Account, error) {
	quota, err := parseQuota(o.quota)
	if err != nil {
		return nil, err
	}
	home, err := filepath.Abs(o.home)
	if err != nil {
		return nil, err
	}

	acc := &server.Account{
		Username: username,
		Password: o.password,
		HomeDir:  home,
		Quota:    quota,
	}
	if !o.disabled {
		acc.Flags |= server.FlagActive
	}
	if !o.noPassword {
		acc.Flags |= server.FlagPasswordRequired
	}
	if o.anonymous {
		acc.Flags |= server.FlagAnonymous
	}
	if err := acc.Validate(); err != nil {
		return nil, err
	}

	if o.hash && acc.Password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(acc.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		acc.Password = string(h)
	}
	return acc, nil
}
