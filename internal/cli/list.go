package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mailproc/internal/config"
	"mailproc/internal/email"
	"mailproc/internal/imap"
)

func newListCmd(opts *globalOptions) *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "list [criteria...]",
		Short: "List messages matching IMAP search criteria (UNSEEN when none)",
		Example: `  mailproc list
  mailproc list ALL
  mailproc list --folder Archive FROM billing@example.com SINCE 1-Jan-2024`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts, func(_ config.Config, c *imap.Client) error {
				msgs, err := c.GetMessages(args, folder)
				return showMessages(cmd, c, msgs, err)
			})
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Folder (account target folder when empty)")

	return cmd
}

func newUnreadCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unread",
		Short: "List unread messages in the account's target folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts, func(_ config.Config, c *imap.Client) error {
				msgs, err := c.GetUnreadMessages()
				return showMessages(cmd, c, msgs, err)
			})
		},
	}
	return cmd
}

// showMessages prints msgs, treating a partial fetch as a warning.
func showMessages(cmd *cobra.Command, c *imap.Client, msgs []*email.Message, err error) error {
	var partial *imap.PartialFetchError
	if err != nil && !errors.As(err, &partial) {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Folder: %s (%d messages)\n", c.Selected(), len(msgs))
	printMessages(cmd.OutOrStdout(), msgs)
	if partial != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", partial)
	}
	return nil
}
