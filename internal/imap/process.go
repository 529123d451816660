package imap

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mailproc/internal/email"
	"mailproc/internal/ledger"
)

// ProcessMessages fetches the messages matching opts and hands them to cb
// one at a time, in server order. Messages cb accepts are counted and then
// marked read and moved as opts ask. A failing mark skips the move for that
// message; mutation failures are collected and returned with the count.
//
// A callback error or panic stops the batch with *CallbackError. Lost
// connections and timeouts stop it too. Side effects already applied stay.
//
// With a journal, messages recorded by an earlier run are skipped untouched:
// cb is not called and opts are not applied to them.
//
// When the client is not connected it connects for the run and disconnects
// afterwards; an open session is reused and left open.
func (c *Client) ProcessMessages(ctx context.Context, cb Callback, opts ProcessOptions) (count int, err error) {
	if cb == nil {
		return 0, errors.New("nil callback")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if !c.Connected() {
		if err := c.Connect(); err != nil {
			return 0, err
		}
		defer func() {
			if derr := c.Disconnect(); derr != nil {
				c.log.Debug("disconnect after processing failed", zap.Error(derr))
			}
		}()
	}

	runID := uuid.NewString()
	folder := opts.Folder
	if folder == "" {
		folder = c.account.Folder()
	}
	log := c.log.With(zap.String("run_id", runID), zap.String("folder", folder))

	var errs error
	messages, ferr := c.GetMessages(opts.Criteria, folder)
	if ferr != nil {
		var partial *PartialFetchError
		if !errors.As(ferr, &partial) {
			return 0, ferr
		}
		errs = multierr.Append(errs, ferr)
	}
	log.Info("processing messages", zap.Int("messages", len(messages)))

	for i, msg := range messages {
		if err := ctx.Err(); err != nil {
			log.Info("processing cancelled", zap.Int("processed", count), zap.Int("remaining", len(messages)-i))
			return count, multierr.Append(errs, err)
		}

		key := msg.Key()
		if c.journal != nil {
			seen, err := c.journal.Processed(ctx, c.account.Name, key)
			if err != nil {
				return count, multierr.Append(errs, errors.Wrapf(err, "journal lookup for uid %d", msg.UID))
			}
			if seen {
				log.Debug("already processed", zap.Uint32("uid", msg.UID), zap.String("key", key))
				continue
			}
		}

		ok, err := invoke(cb, msg)
		if err != nil {
			log.Warn("callback failed", zap.Uint32("uid", msg.UID), zap.Error(err))
			return count, multierr.Append(errs, &CallbackError{UID: msg.UID, Index: i, Err: err})
		}
		if !ok {
			continue
		}
		count++

		if c.journal != nil {
			entry := ledger.Entry{
				Account: c.account.Name,
				Key:     key,
				RunID:   runID,
				Folder:  folder,
				UID:     msg.UID,
				Subject: msg.Subject,
			}
			if err := c.journal.Record(ctx, entry); err != nil {
				log.Warn("journal record failed", zap.Uint32("uid", msg.UID), zap.Error(err))
				errs = multierr.Append(errs, errors.Wrapf(err, "journal record for uid %d", msg.UID))
			}
		}

		if err := c.applySideEffects(msg.UID, opts); err != nil {
			errs = multierr.Append(errs, err)
			if fatal(err) {
				return count, errs
			}
		}
	}

	log.Info("processing complete", zap.Int("processed", count), zap.Int("messages", len(messages)))
	return count, errs
}

func (c *Client) applySideEffects(uid uint32, opts ProcessOptions) error {
	if opts.MarkAsRead {
		if err := c.MarkAsRead(uid); err != nil {
			c.log.Warn("mark as read failed, move skipped", zap.Uint32("uid", uid), zap.Error(err))
			return errors.Wrapf(err, "mark uid %d read", uid)
		}
	}
	if opts.MoveTo != "" {
		if err := c.MoveToFolder(uid, opts.MoveTo); err != nil {
			c.log.Warn("move failed", zap.Uint32("uid", uid), zap.Error(err))
			return err
		}
	}
	return nil
}

func invoke(cb Callback, msg *email.Message) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return cb(msg)
}
