package cli

import (
	"fmt"
	"strconv"

	"mailproc/internal/email"
	"mailproc/internal/imap"
)

func parseUID(value string) (uint32, error) {
	uid, err := strconv.ParseUint(value, 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("invalid uid: %s", value)
	}
	return uint32(uid), nil
}

// fetchOne selects folder and returns the message with uid. Later
// mutations on the client apply to the same folder.
func fetchOne(c *imap.Client, folder string, uid uint32) (*email.Message, error) {
	msgs, err := c.GetMessages([]string{"UID", strconv.FormatUint(uint64(uid), 10)}, folder)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if msg.UID == uid {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("uid %d in %q: %w", uid, c.Selected(), imap.ErrMessageNotFound)
}

// filterCriteria builds SEARCH tokens for the process command. Unread
// messages are the base set; extra holds raw tokens from the command line.
func filterCriteria(subject, from string, all bool, extra []string) []string {
	var criteria []string
	if !all {
		criteria = append(criteria, "UNSEEN")
	} else {
		criteria = append(criteria, "ALL")
	}
	if subject != "" {
		criteria = append(criteria, "SUBJECT", subject)
	}
	if from != "" {
		criteria = append(criteria, "FROM", from)
	}
	return append(criteria, extra...)
}
