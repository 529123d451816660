package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"mailproc/internal/email"
)

var ErrWrite = errors.New("attachment write failed")

// maxSuffix bounds the name-N search.
const maxSuffix = 10000

// SaveAttachment writes att into dir and returns the path written. An
// existing file is never overwritten; the name gets a -1, -2, ... suffix
// before the extension instead.
func SaveAttachment(att email.Attachment, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(ErrWrite, "create %s: %v", dir, err)
	}

	name := sanitizeFilename(att.Filename)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for i := 0; i < maxSuffix; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		target := filepath.Join(dir, candidate)

		file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", errors.Wrapf(ErrWrite, "open %s: %v", target, err)
		}

		if _, err := file.Write(att.Data); err != nil {
			_ = file.Close()
			_ = os.Remove(target)
			return "", errors.Wrapf(ErrWrite, "write %s: %v", target, err)
		}
		if err := file.Close(); err != nil {
			_ = os.Remove(target)
			return "", errors.Wrapf(ErrWrite, "close %s: %v", target, err)
		}
		return target, nil
	}

	return "", errors.Wrapf(ErrWrite, "no free name for %s in %s", name, dir)
}

// SaveAll saves every attachment of msg and returns the written paths in
// attachment order. It stops at the first failure.
func SaveAll(msg *email.Message, dir string) ([]string, error) {
	saved := make([]string, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		path, err := SaveAttachment(att, dir)
		if err != nil {
			return saved, err
		}
		saved = append(saved, path)
	}
	return saved, nil
}

func sanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "attachment"
	}
	return name
}
