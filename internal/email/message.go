package email

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
)

// Message is a parsed RFC 5322 message. It is never mutated after Parse
// returns; Body re-reads Raw on every call.
type Message struct {
	UID         uint32
	MessageID   string
	From        string
	Subject     string
	Date        time.Time
	Attachments []Attachment
	Raw         []byte
	Warnings    []ParseWarning
}

type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Inline      bool
	Data        []byte
}

// ParseWarning records a section of the message that could not be decoded.
type ParseWarning struct {
	Section string
	Detail  string
}

func (w ParseWarning) String() string {
	return fmt.Sprintf("%s: %s", w.Section, w.Detail)
}

func (m *Message) HasWarnings() bool {
	return len(m.Warnings) > 0
}

func (m *Message) warn(section string, err error) {
	m.Warnings = append(m.Warnings, ParseWarning{Section: section, Detail: err.Error()})
}

// Body returns the decoded content of the first non-empty, non-attachment
// part whose media type equals contentType (text/plain when empty). There
// is no fallback between text/plain and text/html.
func (m *Message) Body(contentType string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(contentType))
	if want == "" {
		want = "text/plain"
	}

	entity, err := message.Read(bytes.NewReader(m.Raw))
	if err != nil && !tolerable(err) {
		return "", false
	}

	var (
		body  string
		found bool
	)
	_ = walk(entity, nil, func(e *message.Entity) (bool, error) {
		info := inspect(e.Header)
		if info.attachment || info.mediaType != want {
			return false, nil
		}
		data, _ := io.ReadAll(e.Body)
		if len(data) == 0 {
			return false, nil
		}
		body = strings.ToValidUTF8(string(data), "\uFFFD")
		found = true
		return true, nil
	})
	return body, found
}

// Key identifies the message independently of its UID: the Message-ID
// header when present, otherwise a digest of the raw bytes.
func (m *Message) Key() string {
	if m.MessageID != "" {
		return "mid:" + m.MessageID
	}
	sum := sha256.Sum256(m.Raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}
