package imap

import (
	"github.com/emersion/go-imap"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mailproc/internal/email"
)

// MoveToFolder moves uid out of the selected folder into folder, creating
// folder first when it does not exist. An empty folder, or the selected
// folder itself, is a no-op.
//
// Without native MOVE the message is copied, flagged \Deleted and the
// source expunged. If flagging or expunging fails the copy is removed again
// and a *MoveError describes what is left where.
func (c *Client) MoveToFolder(uid uint32, folder string) error {
	if folder == "" {
		return nil
	}
	t, err := c.selectedTransport()
	if err != nil {
		return err
	}
	if sameFolder(folder, c.selected) {
		return nil
	}
	if err := c.ensureExists(t, uid); err != nil {
		return err
	}
	if err := c.ensureFolder(t, folder); err != nil {
		return err
	}

	log := c.log.With(zap.Uint32("uid", uid), zap.String("from", c.selected), zap.String("to", folder))

	err = t.Move(uid, folder)
	switch {
	case err == nil:
		log.Info("message moved")
		return nil
	case errors.Is(err, ErrMoveUnsupported):
		log.Debug("no native MOVE, copying")
		return c.copyMove(t, uid, folder, log)
	}
	if lerr := c.lost(err, "move uid %d", uid); lerr != nil {
		return &MoveError{UID: uid, Folder: folder, Stage: StageMove, Err: lerr}
	}
	return &MoveError{UID: uid, Folder: folder, Stage: StageMove, Err: err}
}

func (c *Client) copyMove(t Transport, uid uint32, folder string, log *zap.Logger) error {
	source := c.selected

	// The copy is found again by Message-ID if it has to be removed.
	var messageID string
	if raw, err := t.Fetch(uid); err != nil {
		if lerr := c.lost(err, "fetch uid %d", uid); lerr != nil {
			return &MoveError{UID: uid, Folder: folder, Stage: StageCopy, Err: lerr}
		}
		log.Warn("could not read Message-ID before copy", zap.Error(err))
	} else {
		messageID = email.Parse(uid, raw).MessageID
	}

	fail := func(stage string, err error, rollback func() error) error {
		if lerr := c.lost(err, "%s uid %d", stage, uid); lerr != nil {
			return &MoveError{
				UID: uid, Folder: folder, Stage: stage, Err: lerr,
				RollbackErr: errors.Wrap(ErrNotConnected, "rollback skipped"),
			}
		}
		merr := &MoveError{UID: uid, Folder: folder, Stage: stage, Err: err}
		if rollback != nil {
			merr.RollbackErr = rollback()
		}
		if merr.RollbackErr != nil {
			log.Error("move rollback failed", zap.String("stage", stage), zap.Error(merr.RollbackErr))
		} else {
			log.Warn("move rolled back", zap.String("stage", stage), zap.Error(err))
		}
		return merr
	}

	if err := t.Copy(uid, folder); err != nil {
		return fail(StageCopy, err, nil)
	}

	if err := t.Store(uid, imap.DeletedFlag, true); err != nil {
		return fail(StageFlag, err, func() error {
			return c.removeCopy(t, source, folder, messageID)
		})
	}

	if err := t.Expunge(); err != nil {
		return fail(StageExpunge, err, func() error {
			var rerr error
			if err := t.Store(uid, imap.DeletedFlag, false); err != nil {
				if lerr := c.lost(err, "clear \\Deleted on uid %d", uid); lerr != nil {
					return lerr
				}
				rerr = multierr.Append(rerr, errors.Wrapf(err, "clear \\Deleted on uid %d", uid))
			}
			return multierr.Append(rerr, c.removeCopy(t, source, folder, messageID))
		})
	}

	log.Info("message moved by copy")
	return nil
}

// removeCopy deletes the newest message carrying messageID from folder and
// reselects source. Expunging folder also removes anything else already
// flagged \Deleted there.
func (c *Client) removeCopy(t Transport, source, folder, messageID string) (err error) {
	if messageID == "" {
		return errors.Errorf("copy in %q has no Message-ID to locate it by", folder)
	}

	// wrap drops the session on transport failures.
	wrap := func(err error, format string, args ...interface{}) error {
		if lerr := c.lost(err, format, args...); lerr != nil {
			return lerr
		}
		return errors.Wrapf(err, format, args...)
	}

	defer func() {
		if c.session == nil {
			return
		}
		if serr := t.Select(source); serr != nil {
			c.selected = ""
			err = multierr.Append(err, wrap(serr, "reselect %q", source))
			return
		}
		c.selected = source
	}()

	if err := t.Select(folder); err != nil {
		c.selected = ""
		return wrap(err, "select %q", folder)
	}
	c.selected = folder

	uids, err := t.Search([]string{"HEADER", "Message-ID", messageID})
	if err != nil {
		return wrap(err, "search %q for %s", folder, messageID)
	}
	if len(uids) == 0 {
		return errors.Errorf("copy of %s not found in %q", messageID, folder)
	}
	newest := uids[0]
	for _, u := range uids[1:] {
		if u > newest {
			newest = u
		}
	}

	if err := t.Store(newest, imap.DeletedFlag, true); err != nil {
		return wrap(err, "flag copy uid %d", newest)
	}
	if err := t.Expunge(); err != nil {
		return wrap(err, "expunge %q", folder)
	}
	return nil
}
