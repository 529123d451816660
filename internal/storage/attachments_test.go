package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailproc/internal/email"
)

func TestSaveAttachmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	data := []byte{0x00, 0xff, 0x10, 'p', 'd', 'f'}

	path, err := SaveAttachment(email.Attachment{Filename: "report.pdf", Data: data}, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.pdf"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSaveAttachmentNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	att := email.Attachment{Filename: "report.pdf", Data: []byte("one")}

	first, err := SaveAttachment(att, dir)
	require.NoError(t, err)

	att.Data = []byte("two")
	second, err := SaveAttachment(att, dir)
	require.NoError(t, err)

	att.Data = []byte("three")
	third, err := SaveAttachment(att, dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "report.pdf"), first)
	assert.Equal(t, filepath.Join(dir, "report-1.pdf"), second)
	assert.Equal(t, filepath.Join(dir, "report-2.pdf"), third)

	got, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))
}

func TestSaveAttachmentCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")

	path, err := SaveAttachment(email.Attachment{Filename: "a.txt", Data: []byte("a")}, dir)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestSaveAttachmentSanitizesNames(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"../../etc/passwd": "_.._etc_passwd",
		`dir\evil.exe`:     "dir_evil.exe",
		"":                 "attachment",
		"...":              "attachment",
		"tab\tname.txt":    "tabname.txt",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeFilename(in), "input %q", in)
	}

	path, err := SaveAttachment(email.Attachment{Filename: "../escape.txt", Data: []byte("x")}, dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
}

func TestSaveAttachmentReportsWriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := SaveAttachment(email.Attachment{Filename: "a.txt"}, filepath.Join(blocker, "sub"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrite))
}

func TestSaveAll(t *testing.T) {
	dir := t.TempDir()
	msg := &email.Message{Attachments: []email.Attachment{
		{Filename: "a.txt", Data: []byte("a")},
		{Filename: "a.txt", Data: []byte("b")},
	}}

	paths, err := SaveAll(msg, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "a-1.txt")}, paths)
}
