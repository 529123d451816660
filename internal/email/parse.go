package email

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/jhillyerd/enmime"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Parse turns raw message bytes into a Message. It never fails: anything
// that cannot be decoded is recorded in Message.Warnings.
func Parse(uid uint32, raw []byte) *Message {
	msg := &Message{UID: uid, Raw: raw}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		msg.warn("header", err)
		recoverHeaders(msg, raw)
		return msg
	}
	if err != nil {
		msg.warn("charset", err)
	}

	readHeaders(msg, entity.Header)

	var attachments []Attachment
	err = walk(entity, func(err error) { msg.warn("part", err) }, func(e *message.Entity) (bool, error) {
		info := inspect(e.Header)
		if !info.attachment {
			return false, nil
		}
		data, err := io.ReadAll(e.Body)
		if err != nil {
			return false, err
		}
		attachments = append(attachments, info.toAttachment(len(attachments)+1, data))
		return false, nil
	})
	if err != nil {
		msg.warn("body", err)
		return msg
	}
	msg.Attachments = attachments
	return msg
}

func readHeaders(msg *Message, h message.Header) {
	mh := mail.Header{Header: h}

	msg.Subject = decodeHeader(msg, "subject", h.Get("Subject"))
	msg.From = decodeHeader(msg, "from", h.Get("From"))

	if id, err := mh.MessageID(); err == nil {
		msg.MessageID = id
	} else {
		msg.MessageID = strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>")
	}

	if h.Get("Date") != "" {
		date, err := mh.Date()
		if err != nil {
			msg.warn("date", err)
		} else {
			msg.Date = date
		}
	}
}

// decodeHeader decodes RFC 2047 encoded-words, keeping the raw value when
// decoding fails.
func decodeHeader(msg *Message, section, raw string) string {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		msg.warn(section, err)
		return raw
	}
	return decoded
}

// recoverHeaders is used when go-message rejects the header block.
// enmime tolerates malformed header lines and reports them as errors.
func recoverHeaders(msg *Message, raw []byte) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		msg.warn("envelope", err)
		return
	}

	msg.Subject = env.GetHeader("Subject")
	msg.From = env.GetHeader("From")
	msg.MessageID = strings.Trim(strings.TrimSpace(env.GetHeader("Message-Id")), "<>")
	if value := env.GetHeader("Date"); value != "" {
		var h mail.Header
		h.Set("Date", value)
		if date, err := h.Date(); err == nil {
			msg.Date = date
		}
	}
	for _, perr := range env.Errors {
		msg.warn("envelope", perr)
	}
}

func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// walk visits leaf entities depth-first in document order until visit
// returns true or an error. Unknown charsets and encodings are reported
// through warn and the part is still visited with its raw body.
func walk(e *message.Entity, warn func(error), visit func(*message.Entity) (bool, error)) error {
	_, err := walkEntity(e, warn, visit)
	return err
}

func walkEntity(e *message.Entity, warn func(error), visit func(*message.Entity) (bool, error)) (bool, error) {
	mr := e.MultipartReader()
	if mr == nil {
		return visit(e)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			if part == nil || !tolerable(err) {
				return false, err
			}
			if warn != nil {
				warn(err)
			}
		}
		stop, err := walkEntity(part, warn, visit)
		if err != nil || stop {
			return stop, err
		}
	}
}

type partInfo struct {
	mediaType  string
	filename   string
	contentID  string
	inline     bool
	attachment bool
}

func inspect(h message.Header) partInfo {
	info := partInfo{mediaType: "text/plain"}

	mediaType, ctParams, _ := h.ContentType()
	if mediaType != "" {
		info.mediaType = strings.ToLower(mediaType)
	}

	disp, dispParams, _ := h.ContentDisposition()
	disp = strings.ToLower(disp)

	filename := dispParams["filename"]
	if filename == "" {
		filename = ctParams["name"]
	}
	if strings.Contains(filename, "=?") {
		if decoded, err := wordDecoder.DecodeHeader(filename); err == nil {
			filename = decoded
		}
	}
	info.filename = filename
	info.contentID = strings.Trim(strings.TrimSpace(h.Get("Content-Id")), "<>")

	isText := strings.HasPrefix(info.mediaType, "text/")
	info.attachment = disp == "attachment" ||
		filename != "" ||
		(info.contentID != "" && !isText && !strings.HasPrefix(info.mediaType, "multipart/"))
	info.inline = info.attachment && (disp == "inline" || (disp == "" && info.contentID != ""))
	return info
}

func (p partInfo) toAttachment(n int, data []byte) Attachment {
	name := p.filename
	if name == "" {
		if p.inline {
			subtype := "bin"
			if i := strings.IndexByte(p.mediaType, '/'); i >= 0 && i+1 < len(p.mediaType) {
				subtype = p.mediaType[i+1:]
			}
			name = fmt.Sprintf("inline-%d.%s", n, subtype)
		} else {
			name = fmt.Sprintf("attachment-%d", n)
		}
	}
	return Attachment{
		Filename:    name,
		ContentType: p.mediaType,
		ContentID:   p.contentID,
		Inline:      p.inline,
		Data:        data,
	}
}
