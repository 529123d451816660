package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailproc/internal/config"
	"mailproc/internal/imap"
)

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete a message by UID",
		Long:  "Delete a message by UID. The folder is expunged, which also removes any other message already flagged \\Deleted there.",
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
				if err := c.DeleteMessage(uid); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted.")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Folder (account target folder when empty)")

	return cmd
}
