package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mailproc/internal/config"
	"mailproc/internal/imap"
)

func newReadCmd(opts *globalOptions) *cobra.Command {
	var folder string
	var html bool
	var markRead bool

	cmd := &cobra.Command{
		Use:   "read <uid>",
		Short: "Read a message by UID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}

			return withClient(opts, func(_ config.Config, c *imap.Client) error {
				msg, err := fetchOne(c, folder, uid)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "UID: %d\n", msg.UID)
				if msg.Subject != "" {
					fmt.Fprintf(out, "Subject: %s\n", msg.Subject)
				}
				if msg.From != "" {
					fmt.Fprintf(out, "From: %s\n", msg.From)
				}
				if !msg.Date.IsZero() {
					fmt.Fprintf(out, "Date: %s\n", msg.Date.Format("2006-01-02 15:04:05 -0700"))
				}
				if len(msg.Attachments) > 0 {
					names := make([]string, 0, len(msg.Attachments))
					for _, att := range msg.Attachments {
						names = append(names, att.Filename)
					}
					fmt.Fprintf(out, "Attachments: %s\n", strings.Join(names, ", "))
				}
				for _, w := range msg.Warnings {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
				}

				contentType := "text/plain"
				if html {
					contentType = "text/html"
				}
				body, ok := msg.Body(contentType)
				fmt.Fprintln(out, "")
				if ok {
					fmt.Fprintln(out, body)
				} else {
					fmt.Fprintf(out, "(no %s part)\n", contentType)
				}

				if markRead {
					return c.MarkAsRead(uid)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Folder (account target folder when empty)")
	cmd.Flags().BoolVar(&html, "html", false, "Print the text/html part instead of text/plain")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "Mark the message read after printing it")

	return cmd
}
