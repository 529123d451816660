package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"mailproc/internal/email"
	"mailproc/internal/ledger"
)

func printMessages(out io.Writer, messages []*email.Message) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tDATE\tFROM\tSUBJECT\tATTACHMENTS")
	for _, msg := range messages {
		date := ""
		if !msg.Date.IsZero() {
			date = msg.Date.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", msg.UID, date, msg.From, msg.Subject, len(msg.Attachments))
	}
	_ = tw.Flush()
}

func printEntries(out io.Writer, entries []ledger.Entry) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "PROCESSED\tACCOUNT\tFOLDER\tUID\tSUBJECT\tRUN")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ProcessedAt.Local().Format(time.RFC3339), e.Account, e.Folder, e.UID, e.Subject, shortRunID(e.RunID))
	}
	_ = tw.Flush()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
