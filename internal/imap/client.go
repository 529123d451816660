// Package imap implements the mailbox client: session lifecycle, search,
// fetch and parse, flag and folder mutations, and callback-driven batch
// processing on top of go-imap.
package imap

import (
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mailproc/internal/config"
	"mailproc/internal/email"
)

// Client owns at most one session. It is not safe for concurrent use; run
// one Client per account instead.
type Client struct {
	account config.Account
	dial    Dialer
	log     *zap.Logger
	journal Journal

	session  Transport
	selected string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger; nil keeps the no-op default.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDialer replaces Dial, mostly for tests.
func WithDialer(dial Dialer) Option {
	return func(c *Client) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithJournal records consumed messages so later runs skip them.
func WithJournal(j Journal) Option {
	return func(c *Client) {
		c.journal = j
	}
}

// NewClient returns a disconnected client for acct.
func NewClient(acct AccountProvider, opts ...Option) *Client {
	c := &Client{
		account: acct.IMAPAccount(),
		dial:    Dial,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("account", c.account.Name))
	return c
}

// Account returns the account the client was built from.
func (c *Client) Account() config.Account {
	return c.account
}

// Connected reports whether a session is open.
func (c *Client) Connected() bool {
	return c.session != nil
}

// Selected returns the folder UIDs currently refer to, or "".
func (c *Client) Selected() string {
	return c.selected
}

// Connect dials and logs in. No folder is selected afterwards.
func (c *Client) Connect() error {
	if c.session != nil {
		return ErrAlreadyConnected
	}

	addr := c.account.Address()
	t, err := c.dial(c.account)
	if err != nil {
		kind := transportFailure(err)
		if kind != ErrTimeout {
			kind = ErrConnection
		}
		c.log.Warn("connect failed", zap.String("server", addr), zap.Error(err))
		return errors.Wrapf(kind, "connect %s: %v", addr, err)
	}

	c.session = t
	c.selected = ""
	c.log.Info("connected", zap.String("server", addr), zap.Bool("ssl", c.account.UseSSL))
	return nil
}

// Disconnect logs out and releases the session. It is a no-op when not
// connected; the session is released even if logout fails.
func (c *Client) Disconnect() error {
	if c.session == nil {
		return nil
	}
	t := c.session
	c.session = nil
	c.selected = ""

	if err := t.Logout(); err != nil {
		c.log.Debug("logout failed", zap.Error(err))
		return errors.Wrap(err, "logout")
	}
	c.log.Info("disconnected")
	return nil
}

func (c *Client) transport() (Transport, error) {
	if c.session == nil {
		return nil, ErrNotConnected
	}
	return c.session, nil
}

func (c *Client) selectedTransport() (Transport, error) {
	t, err := c.transport()
	if err != nil {
		return nil, err
	}
	if c.selected == "" {
		return nil, ErrNoFolderSelected
	}
	return t, nil
}

// lost checks err for a dead connection. If the session is gone it is
// dropped and the classified error returned; otherwise lost returns nil.
func (c *Client) lost(err error, format string, args ...interface{}) error {
	kind := transportFailure(err)
	if kind == nil {
		return nil
	}
	c.log.Warn("session lost", zap.Error(err))
	if t := c.session; t != nil {
		c.session = nil
		c.selected = ""
		_ = t.Logout()
	}
	return errors.Wrapf(kind, format+": %v", append(args, err)...)
}

func (c *Client) selectFolder(t Transport, folder string) error {
	if err := t.Select(folder); err != nil {
		c.selected = ""
		if lerr := c.lost(err, "select %q", folder); lerr != nil {
			return lerr
		}
		return errors.Wrapf(ErrFolderNotFound, "select %q: %v", folder, err)
	}
	c.selected = folder
	return nil
}

// GetMessages selects folder (the account default when empty), runs the
// search and fetches every match in server order. Empty criteria mean
// UNSEEN. Messages that cannot be fetched are skipped and reported through
// *PartialFetchError, which is returned together with the fetched messages.
func (c *Client) GetMessages(criteria []string, folder string) ([]*email.Message, error) {
	t, err := c.transport()
	if err != nil {
		return nil, err
	}
	if folder == "" {
		folder = c.account.Folder()
	}
	if len(criteria) == 0 {
		criteria = []string{"UNSEEN"}
	}
	log := c.log.With(zap.String("folder", folder))

	if err := c.selectFolder(t, folder); err != nil {
		return nil, err
	}

	uids, err := t.Search(criteria)
	if err != nil {
		if lerr := c.lost(err, "search %q", folder); lerr != nil {
			return nil, lerr
		}
		return nil, errors.Wrapf(ErrSearch, "search %v in %q: %v", criteria, folder, err)
	}
	log.Debug("search complete", zap.Strings("criteria", criteria), zap.Int("matches", len(uids)))

	messages := make([]*email.Message, 0, len(uids))
	var partial *PartialFetchError
	for _, uid := range uids {
		raw, err := t.Fetch(uid)
		if err != nil {
			if lerr := c.lost(err, "fetch uid %d", uid); lerr != nil {
				return messages, lerr
			}
			log.Warn("fetch failed", zap.Uint32("uid", uid), zap.Error(err))
			if partial == nil {
				partial = &PartialFetchError{Folder: folder}
			}
			partial.Failed = append(partial.Failed, uid)
			continue
		}

		msg := email.Parse(uid, raw)
		for _, w := range msg.Warnings {
			log.Debug("parse warning", zap.Uint32("uid", uid), zap.Stringer("warning", w))
		}
		messages = append(messages, msg)
	}

	if partial != nil {
		partial.Messages = messages
		return messages, partial
	}
	return messages, nil
}

func (c *Client) GetUnreadMessages() ([]*email.Message, error) {
	return c.GetMessages([]string{"UNSEEN"}, "")
}

func (c *Client) MarkAsRead(uid uint32) error {
	return c.setFlag(uid, imap.SeenFlag, true)
}

func (c *Client) MarkAsUnread(uid uint32) error {
	return c.setFlag(uid, imap.SeenFlag, false)
}

func (c *Client) setFlag(uid uint32, flag string, add bool) error {
	t, err := c.selectedTransport()
	if err != nil {
		return err
	}
	if err := c.ensureExists(t, uid); err != nil {
		return err
	}
	if err := t.Store(uid, flag, add); err != nil {
		if lerr := c.lost(err, "store %s on uid %d", flag, uid); lerr != nil {
			return lerr
		}
		return errors.Wrapf(err, "store %s on uid %d", flag, uid)
	}
	c.log.Debug("flag updated", zap.Uint32("uid", uid), zap.String("flag", flag), zap.Bool("set", add))
	return nil
}

// DeleteMessage flags uid \Deleted and expunges the selected folder.
func (c *Client) DeleteMessage(uid uint32) error {
	t, err := c.selectedTransport()
	if err != nil {
		return err
	}
	if err := c.ensureExists(t, uid); err != nil {
		return err
	}

	if err := t.Store(uid, imap.DeletedFlag, true); err != nil {
		if lerr := c.lost(err, "flag uid %d deleted", uid); lerr != nil {
			return lerr
		}
		return errors.Wrapf(err, "flag uid %d deleted", uid)
	}
	if err := t.Expunge(); err != nil {
		if lerr := c.lost(err, "expunge %q", c.selected); lerr != nil {
			return lerr
		}
		if uerr := t.Store(uid, imap.DeletedFlag, false); uerr != nil {
			c.log.Warn("could not clear deleted flag", zap.Uint32("uid", uid), zap.Error(uerr))
		}
		return errors.Wrapf(err, "expunge %q", c.selected)
	}
	c.log.Info("message deleted", zap.Uint32("uid", uid), zap.String("folder", c.selected))
	return nil
}

func (c *Client) ListFolders() ([]string, error) {
	t, err := c.transport()
	if err != nil {
		return nil, err
	}
	folders, err := t.ListFolders()
	if err != nil {
		if lerr := c.lost(err, "list folders"); lerr != nil {
			return nil, lerr
		}
		return nil, errors.Wrap(err, "list folders")
	}
	return folders, nil
}

// ensureExists fails with ErrMessageNotFound unless uid is in the selected
// folder.
func (c *Client) ensureExists(t Transport, uid uint32) error {
	uids, err := t.Search([]string{"UID", strconv.FormatUint(uint64(uid), 10)})
	if err != nil {
		if lerr := c.lost(err, "look up uid %d", uid); lerr != nil {
			return lerr
		}
		return errors.Wrapf(ErrSearch, "look up uid %d: %v", uid, err)
	}
	for _, found := range uids {
		if found == uid {
			return nil
		}
	}
	return errors.Wrapf(ErrMessageNotFound, "uid %d in %q", uid, c.selected)
}

func (c *Client) ensureFolder(t Transport, folder string) error {
	folders, err := t.ListFolders()
	if err != nil {
		if lerr := c.lost(err, "list folders"); lerr != nil {
			return lerr
		}
		return errors.Wrap(err, "list folders")
	}
	for _, name := range folders {
		if sameFolder(name, folder) {
			return nil
		}
	}
	if err := t.CreateFolder(folder); err != nil {
		if lerr := c.lost(err, "create %q", folder); lerr != nil {
			return lerr
		}
		return errors.Wrapf(err, "create %q", folder)
	}
	c.log.Info("folder created", zap.String("folder", folder))
	return nil
}

// sameFolder compares mailbox names; INBOX is case-insensitive.
func sameFolder(a, b string) bool {
	if strings.EqualFold(a, "INBOX") && strings.EqualFold(b, "INBOX") {
		return true
	}
	return a == b
}
