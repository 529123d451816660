package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailproc/internal/config"
	"mailproc/internal/imap"
)

func newMarkCmd(opts *globalOptions) *cobra.Command {
	var folder string
	var unread bool

	cmd := &cobra.Command{
		Use:   "mark <uid>",
		Short: "Mark a message read (or unread with --unread)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}

			return withClient(opts, func(_ config.Config, c *imap.Client) error {
				if _, err := fetchOne(c, folder, uid); err != nil {
					return err
				}
				if unread {
					err = c.MarkAsUnread(uid)
				} else {
					err = c.MarkAsRead(uid)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Flags updated.")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Folder (account target folder when empty)")
	cmd.Flags().BoolVar(&unread, "unread", false, "Mark as unread instead")

	return cmd
}
