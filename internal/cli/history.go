package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var limit int
	var allAccounts bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show messages recorded by earlier process runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			account := ""
			if !allAccounts {
				acct, err := cfg.Account(opts.account)
				if err != nil {
					return err
				}
				account = acct.Name
			}

			store, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), account, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No processed messages recorded.")
				return nil
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries")
	cmd.Flags().BoolVar(&allAccounts, "all-accounts", false, "Show entries for every account")

	return cmd
}
