package imap

import (
	"bytes"
	"errors"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	listNames []string
	bodies    map[uint32]string
	moveCap   bool
	loggedOut bool

	searched  *imap.SearchCriteria
	fetched   []imap.FetchItem
	storeItem imap.StoreItem
	storeVals interface{}
	storeCh   chan *imap.Message
	moved     string
	copied    string
	created   string
	expunged  bool
}

func (m *mockConn) Logout() error {
	m.loggedOut = true
	return nil
}

func (m *mockConn) Support(cap string) (bool, error) {
	return cap == "MOVE" && m.moveCap, nil
}

func (m *mockConn) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	return &imap.MailboxStatus{Name: name, ReadOnly: readOnly}, nil
}

func (m *mockConn) List(ref, name string, ch chan *imap.MailboxInfo) error {
	for _, mailbox := range m.listNames {
		ch <- &imap.MailboxInfo{Name: mailbox}
	}
	close(ch)
	return nil
}

func (m *mockConn) Create(name string) error {
	m.created = name
	return nil
}

func (m *mockConn) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	m.searched = criteria
	return []uint32{3, 7}, nil
}

func (m *mockConn) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	m.fetched = items
	for uid, body := range m.bodies {
		if !seqset.Contains(uid) {
			continue
		}
		ch <- &imap.Message{
			Uid: uid,
			Body: map[*imap.BodySectionName]imap.Literal{
				{}: bytes.NewBufferString(body),
			},
		}
	}
	return nil
}

func (m *mockConn) UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	m.storeItem = item
	m.storeVals = value
	m.storeCh = ch
	return nil
}

func (m *mockConn) UidMove(seqset *imap.SeqSet, mailbox string) error {
	m.moved = mailbox
	return nil
}

func (m *mockConn) UidCopy(seqset *imap.SeqSet, mailbox string) error {
	m.copied = mailbox
	return nil
}

func (m *mockConn) Expunge(ch chan uint32) error {
	m.expunged = true
	if ch != nil {
		ch <- 4
		close(ch)
	}
	return nil
}

func TestSessionListFolders(t *testing.T) {
	mock := &mockConn{listNames: []string{"INBOX", "Archive"}}
	s := NewSession(mock)

	folders, err := s.ListFolders()
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX", "Archive"}, folders)

	require.NoError(t, s.Logout())
	assert.True(t, mock.loggedOut)
}

func TestSessionFetchPeeksBody(t *testing.T) {
	mock := &mockConn{bodies: map[uint32]string{7: "Subject: hi\r\n\r\nbody\r\n"}}
	s := NewSession(mock)

	raw, err := s.Fetch(7)
	require.NoError(t, err)
	assert.Equal(t, "Subject: hi\r\n\r\nbody\r\n", string(raw))
	assert.Contains(t, mock.fetched, imap.FetchItem("BODY.PEEK[]"))

	_, err = s.Fetch(8)
	assert.Error(t, err)
}

func TestSessionStoreIsSilent(t *testing.T) {
	mock := &mockConn{}
	s := NewSession(mock)

	require.NoError(t, s.Store(3, imap.SeenFlag, true))
	assert.Equal(t, imap.StoreItem("+FLAGS.SILENT"), mock.storeItem)
	assert.Equal(t, []interface{}{imap.SeenFlag}, mock.storeVals)
	assert.Nil(t, mock.storeCh)

	require.NoError(t, s.Store(3, imap.SeenFlag, false))
	assert.Equal(t, imap.StoreItem("-FLAGS.SILENT"), mock.storeItem)
}

func TestSessionMoveRequiresCapability(t *testing.T) {
	mock := &mockConn{}
	s := NewSession(mock)

	err := s.Move(3, "Archive")
	assert.True(t, errors.Is(err, ErrMoveUnsupported))
	assert.Empty(t, mock.moved)

	mock.moveCap = true
	require.NoError(t, s.Move(3, "Archive"))
	assert.Equal(t, "Archive", mock.moved)
}

func TestSessionExpungeDrainsUpdates(t *testing.T) {
	mock := &mockConn{}
	require.NoError(t, NewSession(mock).Expunge())
	assert.True(t, mock.expunged)
}

func TestSessionSearchParsesCriteria(t *testing.T) {
	mock := &mockConn{}
	s := NewSession(mock)

	uids, err := s.Search([]string{"UNSEEN", "AND", "FROM", "alerts@example.com", "HEADER", "Message-ID", "abc@x"})
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 7}, uids)

	require.NotNil(t, mock.searched)
	assert.Contains(t, mock.searched.WithoutFlags, imap.SeenFlag)
	assert.Equal(t, "alerts@example.com", mock.searched.Header.Get("From"))
	assert.Equal(t, "abc@x", mock.searched.Header.Get("Message-Id"))
}

func TestParseCriteria(t *testing.T) {
	c, err := parseCriteria(nil)
	require.NoError(t, err)
	assert.Empty(t, c.WithoutFlags)
	assert.Empty(t, c.WithFlags)

	c, err = parseCriteria([]string{"SUBJECT", "and", "SEEN"})
	require.NoError(t, err)
	assert.Equal(t, "and", c.Header.Get("Subject"), "AND as an argument is kept")
	assert.Contains(t, c.WithFlags, imap.SeenFlag)

	c, err = parseCriteria([]string{"UID", "42"})
	require.NoError(t, err)
	require.NotNil(t, c.Uid)
	assert.True(t, c.Uid.Contains(42))

	_, err = parseCriteria([]string{"NONSENSE"})
	assert.Error(t, err)
}
