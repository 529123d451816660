package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailproc/internal/config"
	"mailproc/internal/imap"
	"mailproc/internal/storage"
)

func newAttachmentsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attachments",
		Short: "Attachment operations",
	}
	cmd.AddCommand(newAttachmentsSaveCmd(opts))
	return cmd
}

func newAttachmentsSaveCmd(opts *globalOptions) *cobra.Command {
	var folder string
	var outputDir string

	cmd := &cobra.Command{
		Use:   "save <uid>",
		Short: "Save a message's attachments; existing files are never overwritten",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}

			return withClient(opts, func(cfg config.Config, c *imap.Client) error {
				msg, err := fetchOne(c, folder, uid)
				if err != nil {
					return err
				}

				dir := outputDir
				if dir == "" {
					dir = cfg.Defaults.AttachmentsDir
				}
				files, err := storage.SaveAll(msg, dir)
				for _, path := range files {
					fmt.Fprintln(cmd.OutOrStdout(), path)
				}
				if err != nil {
					return err
				}
				if len(files) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No attachments found.")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Folder (account target folder when empty)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (defaults.attachments_dir)")

	return cmd
}
