package imap

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
)

// searchArgs is the number of arguments taken by SEARCH keys that have any.
var searchArgs = map[string]int{
	"BCC": 1, "BEFORE": 1, "BODY": 1, "CC": 1, "FROM": 1, "KEYWORD": 1,
	"LARGER": 1, "ON": 1, "SENTBEFORE": 1, "SENTON": 1, "SENTSINCE": 1,
	"SINCE": 1, "SMALLER": 1, "SUBJECT": 1, "TEXT": 1, "TO": 1, "UID": 1,
	"UNKEYWORD": 1, "HEADER": 2,
}

// parseCriteria converts SEARCH tokens into go-imap criteria. IMAP has no
// AND keyword (keys are conjunctive), so a bare AND in key position is
// dropped.
func parseCriteria(tokens []string) (*imap.SearchCriteria, error) {
	fields := make([]interface{}, 0, len(tokens))
	pending := 0
	for _, tok := range tokens {
		if pending > 0 {
			pending--
			fields = append(fields, tok)
			continue
		}
		key := strings.ToUpper(tok)
		if key == "AND" {
			continue
		}
		pending = searchArgs[key]
		fields = append(fields, tok)
	}
	if len(fields) == 0 {
		fields = append(fields, "ALL")
	}

	criteria := imap.NewSearchCriteria()
	if err := criteria.ParseWithCharset(fields, nil); err != nil {
		return nil, fmt.Errorf("invalid search criteria %q: %w", tokens, err)
	}
	return criteria, nil
}
