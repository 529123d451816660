package imap

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"mailproc/internal/config"
)

// Conn is the subset of go-imap's client used by Session.
type Conn interface {
	Logout() error
	Support(cap string) (bool, error)
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Create(name string) error
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	UidMove(seqset *imap.SeqSet, mailbox string) error
	UidCopy(seqset *imap.SeqSet, mailbox string) error
	Expunge(ch chan uint32) error
}

// Session implements Transport on top of a go-imap connection.
type Session struct {
	conn Conn
}

func NewSession(conn Conn) *Session {
	return &Session{conn: conn}
}

// Dial connects and logs in. The account timeout bounds the dial and every
// command issued afterwards.
func Dial(acct config.Account) (Transport, error) {
	dialer := &net.Dialer{Timeout: acct.Timeout}
	tlsConfig := &tls.Config{
		ServerName:         acct.Server,
		InsecureSkipVerify: acct.InsecureSkipVerify,
	}

	var c *imapclient.Client
	var err error
	if acct.UseSSL {
		c, err = imapclient.DialWithDialerTLS(dialer, acct.Address(), tlsConfig)
	} else {
		c, err = imapclient.DialWithDialer(dialer, acct.Address())
		if err == nil && acct.StartTLS {
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
				return nil, err
			}
		}
	}
	if err != nil {
		return nil, err
	}
	c.Timeout = acct.Timeout

	if err := c.Login(acct.Username, acct.Password); err != nil {
		_ = c.Logout()
		return nil, err
	}

	return NewSession(c), nil
}

func (s *Session) Select(folder string) error {
	_, err := s.conn.Select(folder, false)
	return err
}

func (s *Session) Search(criteria []string) ([]uint32, error) {
	parsed, err := parseCriteria(criteria)
	if err != nil {
		return nil, err
	}
	return s.conn.UidSearch(parsed)
}

// Fetch downloads the full message with BODY.PEEK[] so \Seen is left alone.
func (s *Session) Fetch(uid uint32) ([]byte, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.conn.UidFetch(uidSet(uid), items, ch)
	}()

	var raw []byte
	var readErr error
	found := false
	for msg := range ch {
		if msg == nil || found {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
		found = readErr == nil
	}
	if err := <-done; err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	if !found {
		return nil, fmt.Errorf("uid %d: no message body returned", uid)
	}
	return raw, nil
}

func (s *Session) Store(uid uint32, flag string, add bool) error {
	op := imap.RemoveFlags
	if add {
		op = imap.AddFlags
	}
	item := imap.FormatFlagsOp(op, true)
	return s.conn.UidStore(uidSet(uid), item, []interface{}{flag}, nil)
}

func (s *Session) Copy(uid uint32, folder string) error {
	return s.conn.UidCopy(uidSet(uid), folder)
}

func (s *Session) Move(uid uint32, folder string) error {
	ok, err := s.conn.Support("MOVE")
	if err != nil {
		return err
	}
	if !ok {
		return ErrMoveUnsupported
	}
	return s.conn.UidMove(uidSet(uid), folder)
}

func (s *Session) Expunge() error {
	expunged := make(chan uint32)
	done := make(chan error, 1)
	go func() {
		done <- s.conn.Expunge(expunged)
	}()
	for range expunged {
	}
	return <-done
}

func (s *Session) ListFolders() ([]string, error) {
	folders := []string{}
	ch := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.conn.List("", "*", ch)
	}()
	for mbox := range ch {
		folders = append(folders, mbox.Name)
	}
	return folders, <-done
}

func (s *Session) CreateFolder(name string) error {
	return s.conn.Create(name)
}

func (s *Session) Logout() error {
	return s.conn.Logout()
}

func uidSet(uid uint32) *imap.SeqSet {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	return seqset
}
