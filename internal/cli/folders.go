package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailproc/internal/config"
	"mailproc/internal/imap"
)

func newFoldersCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "List folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts, func(_ config.Config, c *imap.Client) error {
				folders, err := c.ListFolders()
				if err != nil {
					return err
				}
				for _, name := range folders {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
	return cmd
}
