package imap

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/pkg/errors"

	"mailproc/internal/email"
)

var (
	ErrConnection       = errors.New("imap connection failed")
	ErrTimeout          = errors.New("imap operation timed out")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrNoFolderSelected = errors.New("no folder selected")
	ErrFolderNotFound   = errors.New("folder not found")
	ErrSearch           = errors.New("search failed")
	ErrMessageNotFound  = errors.New("message not found")
	ErrMoveUnsupported  = errors.New("server does not support MOVE")
)

// PartialFetchError is returned when some UIDs matched by a search could not
// be fetched. Messages holds everything that was fetched and parsed.
type PartialFetchError struct {
	Folder   string
	Failed   []uint32
	Messages []*email.Message
}

func (e *PartialFetchError) Error() string {
	return fmt.Sprintf("fetched %d of %d messages in %q; failed uids %v",
		len(e.Messages), len(e.Messages)+len(e.Failed), e.Folder, e.Failed)
}

// CallbackError aborts a processing batch. Side effects applied to earlier
// messages are kept.
type CallbackError struct {
	UID   uint32
	Index int
	Err   error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback failed on message %d (uid %d): %v", e.Index+1, e.UID, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Move stages, in the order the copy-based move runs them.
const (
	StageMove    = "move"
	StageCopy    = "copy"
	StageFlag    = "flag"
	StageExpunge = "expunge"
)

// MoveError reports a failed move. When RollbackErr is nil the message is
// only in the source folder.
type MoveError struct {
	UID         uint32
	Folder      string
	Stage       string
	Err         error
	RollbackErr error
}

func (e *MoveError) Error() string {
	msg := fmt.Sprintf("move uid %d to %q failed at %s: %v", e.UID, e.Folder, e.Stage, e.Err)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf("; rollback failed: %v", e.RollbackErr)
	}
	return msg
}

func (e *MoveError) Unwrap() error {
	return e.Err
}

// transportFailure classifies err as ErrTimeout or ErrConnection when the
// session can no longer be used, and returns nil otherwise.
func transportFailure(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) {
		return ErrTimeout
	}
	if errors.Is(err, ErrConnection) {
		return ErrConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return ErrConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "i/o timeout"):
		return ErrTimeout
	case strings.Contains(msg, "connection closed"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"):
		return ErrConnection
	}
	return nil
}

// fatal reports whether err means the session is gone.
func fatal(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotConnected)
}
