package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	account string
	verbose bool
}

func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:          "mailproc",
		Short:        "mailproc fetches, filters and files IMAP mail",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.account, "account", "a", "", "Account name (defaults.account or the first configured account)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose logging to stderr")

	cmd.AddCommand(newAuthCmd(opts))
	cmd.AddCommand(newFoldersCmd(opts))
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newUnreadCmd(opts))
	cmd.AddCommand(newReadCmd(opts))
	cmd.AddCommand(newMarkCmd(opts))
	cmd.AddCommand(newMoveCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newAttachmentsCmd(opts))
	cmd.AddCommand(newProcessCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))

	cmd.SetErr(os.Stderr)
	cmd.SetOut(os.Stdout)

	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
