package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"testing"
)

type fixture struct {
	From        string
	Subject     string
	MessageID   string
	Date        string
	Text        string
	HTML        string
	Attachments []fixtureAttachment
}

type fixtureAttachment struct {
	Filename    string
	ContentType string
	Disposition string
	ContentID   string
	Data        []byte
}

// buildMessage renders a fixture as RFC 5322 bytes: a single text/plain
// part when there is nothing else, otherwise multipart/mixed with an
// optional multipart/alternative body.
func buildMessage(t *testing.T, in fixture) []byte {
	t.Helper()

	var buf bytes.Buffer
	writeHeader(&buf, "From", in.From)
	writeHeader(&buf, "Subject", in.Subject)
	if in.MessageID != "" {
		writeHeader(&buf, "Message-ID", "<"+in.MessageID+">")
	}
	writeHeader(&buf, "Date", in.Date)
	writeHeader(&buf, "MIME-Version", "1.0")

	if in.HTML == "" && len(in.Attachments) == 0 {
		writeHeader(&buf, "Content-Type", "text/plain; charset=\"utf-8\"")
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		mustWriteQP(t, &buf, in.Text)
		return buf.Bytes()
	}

	writer := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", writer.Boundary()))
	buf.WriteString("\r\n")

	if in.HTML != "" {
		var alt bytes.Buffer
		altWriter := multipart.NewWriter(&alt)
		addTextPart(t, altWriter, "text/plain", in.Text)
		addTextPart(t, altWriter, "text/html", in.HTML)
		if err := altWriter.Close(); err != nil {
			t.Fatalf("close alternative: %v", err)
		}
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", altWriter.Boundary()))
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create alternative: %v", err)
		}
		if _, err := part.Write(alt.Bytes()); err != nil {
			t.Fatalf("write alternative: %v", err)
		}
	} else if in.Text != "" {
		addTextPart(t, writer, "text/plain", in.Text)
	}

	for _, att := range in.Attachments {
		header := textproto.MIMEHeader{}
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		if att.Disposition != "" {
			header.Set("Content-Disposition", att.Disposition)
		}
		if att.ContentID != "" {
			header.Set("Content-ID", "<"+att.ContentID+">")
		}
		header.Set("Content-Transfer-Encoding", "base64")
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create attachment: %v", err)
		}
		if err := writeBase64(part, att.Data); err != nil {
			t.Fatalf("write attachment: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return buf.Bytes()
}

func addTextPart(t *testing.T, w *multipart.Writer, contentType, body string) {
	t.Helper()
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType+"; charset=\"utf-8\"")
	header.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := w.CreatePart(header)
	if err != nil {
		t.Fatalf("create %s part: %v", contentType, err)
	}
	mustWriteQP(t, part, body)
}

func mustWriteQP(t *testing.T, w io.Writer, body string) {
	t.Helper()
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(body)); err != nil {
		t.Fatalf("write body: %v", err)
	}
	if err := qp.Close(); err != nil {
		t.Fatalf("close body: %v", err)
	}
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	if value == "" {
		return
	}
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func writeBase64(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := w.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	if len(encoded) > 0 {
		if _, err := w.Write([]byte(encoded + "\r\n")); err != nil {
			return err
		}
	}
	return nil
}
