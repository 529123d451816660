package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailproc/internal/config"
	"mailproc/internal/imap"
)

func newMoveCmd(opts *globalOptions) *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "move <uid> <folder>",
		Short: "Move a message to another folder, creating it if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}
			dest := args[1]

			return withClient(opts, func(_ config.Config, c *imap.Client) error {
				if _, err := fetchOne(c, folder, uid); err != nil {
					return err
				}
				if err := c.MoveToFolder(uid, dest); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Moved.")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Source folder (account target folder when empty)")

	return cmd
}
