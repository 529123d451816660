package imap

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"go.uber.org/zap/zaptest"

	"mailproc/internal/config"
	"mailproc/internal/email"
)

type fakeMessage struct {
	uid   uint32
	raw   []byte
	flags map[string]bool
}

type fakeFolder struct {
	next     uint32
	messages []*fakeMessage
}

func (f *fakeFolder) add(raw []byte, flags ...string) uint32 {
	f.next++
	m := &fakeMessage{uid: f.next, raw: raw, flags: map[string]bool{}}
	for _, flag := range flags {
		m.flags[flag] = true
	}
	f.messages = append(f.messages, m)
	return m.uid
}

func (f *fakeFolder) find(uid uint32) *fakeMessage {
	for _, m := range f.messages {
		if m.uid == uid {
			return m
		}
	}
	return nil
}

// fakeServer holds mailbox state shared by every connection dialed to it.
type fakeServer struct {
	folders  map[string]*fakeFolder
	noMove   bool
	failures map[string]error
	dialErr  error
	dials    int
	sessions []*fakeTransport
}

func newFakeServer(folders ...string) *fakeServer {
	s := &fakeServer{folders: map[string]*fakeFolder{}, failures: map[string]error{}}
	for _, name := range append([]string{"INBOX"}, folders...) {
		s.folders[name] = &fakeFolder{}
	}
	return s
}

// deliver appends a message to folder and returns its uid.
func (s *fakeServer) deliver(folder string, raw []byte, flags ...string) uint32 {
	f, ok := s.folders[folder]
	if !ok {
		f = &fakeFolder{}
		s.folders[folder] = f
	}
	return f.add(raw, flags...)
}

// failOn makes op fail with err. arg narrows the failure to one uid or
// folder; leave it empty to fail every call.
func (s *fakeServer) failOn(op, arg string, err error) {
	key := op
	if arg != "" {
		key += ":" + arg
	}
	s.failures[key] = err
}

func (s *fakeServer) failure(op, arg string) error {
	if err, ok := s.failures[op+":"+arg]; ok {
		return err
	}
	return s.failures[op]
}

func (s *fakeServer) flagged(folder string, uid uint32, flag string) bool {
	m := s.folders[folder].find(uid)
	return m != nil && m.flags[flag]
}

func (s *fakeServer) uids(folder string) []uint32 {
	var out []uint32
	for _, m := range s.folders[folder].messages {
		out = append(out, m.uid)
	}
	return out
}

func (s *fakeServer) dial(config.Account) (Transport, error) {
	s.dials++
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	t := &fakeTransport{server: s}
	s.sessions = append(s.sessions, t)
	return t, nil
}

func (s *fakeServer) client(t *testing.T, acct config.Account, opts ...Option) *Client {
	opts = append([]Option{WithDialer(s.dial), WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewClient(acct, opts...)
}

type fakeTransport struct {
	server   *fakeServer
	selected string
	closed   bool
	calls    []string
}

func (t *fakeTransport) begin(op, arg string) error {
	t.calls = append(t.calls, strings.TrimSuffix(op+" "+arg, " "))
	if t.closed {
		return io.EOF
	}
	return t.server.failure(op, arg)
}

func (t *fakeTransport) folder() (*fakeFolder, error) {
	f, ok := t.server.folders[t.selected]
	if !ok {
		return nil, fmt.Errorf("no mailbox selected")
	}
	return f, nil
}

func (t *fakeTransport) Select(folder string) error {
	if err := t.begin("select", folder); err != nil {
		return err
	}
	if _, ok := t.server.folders[folder]; !ok {
		t.selected = ""
		return fmt.Errorf("NO [NONEXISTENT] Unknown Mailbox: %s", folder)
	}
	t.selected = folder
	return nil
}

func (t *fakeTransport) Search(criteria []string) ([]uint32, error) {
	if err := t.begin("search", strings.Join(criteria, " ")); err != nil {
		return nil, err
	}
	f, err := t.folder()
	if err != nil {
		return nil, err
	}
	var out []uint32
	for _, m := range f.messages {
		ok, err := matches(m, criteria)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m.uid)
		}
	}
	return out, nil
}

func matches(m *fakeMessage, criteria []string) (bool, error) {
	var header message.Header
	if e, err := message.Read(bytes.NewReader(m.raw)); e != nil {
		header = e.Header
	} else if err != nil {
		return false, err
	}
	contains := func(field, want string) bool {
		return strings.Contains(strings.ToLower(header.Get(field)), strings.ToLower(want))
	}

	ok := true
	for i := 0; i < len(criteria); i++ {
		arg := func() (string, error) {
			i++
			if i >= len(criteria) {
				return "", fmt.Errorf("BAD missing argument for %s", criteria[i-1])
			}
			return criteria[i], nil
		}
		switch key := strings.ToUpper(criteria[i]); key {
		case "ALL", "AND":
		case "SEEN":
			ok = ok && m.flags[imap.SeenFlag]
		case "UNSEEN":
			ok = ok && !m.flags[imap.SeenFlag]
		case "UID":
			v, err := arg()
			if err != nil {
				return false, err
			}
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return false, fmt.Errorf("BAD invalid uid %q", v)
			}
			ok = ok && uint32(n) == m.uid
		case "FROM", "SUBJECT":
			v, err := arg()
			if err != nil {
				return false, err
			}
			ok = ok && contains(key, v)
		case "HEADER":
			name, err := arg()
			if err != nil {
				return false, err
			}
			v, err := arg()
			if err != nil {
				return false, err
			}
			ok = ok && contains(name, v)
		default:
			return false, fmt.Errorf("BAD unsupported search key %s", key)
		}
	}
	return ok, nil
}

func (t *fakeTransport) Fetch(uid uint32) ([]byte, error) {
	if err := t.begin("fetch", fmt.Sprint(uid)); err != nil {
		return nil, err
	}
	f, err := t.folder()
	if err != nil {
		return nil, err
	}
	m := f.find(uid)
	if m == nil {
		return nil, fmt.Errorf("uid %d: no message body returned", uid)
	}
	return append([]byte(nil), m.raw...), nil
}

func (t *fakeTransport) Store(uid uint32, flag string, add bool) error {
	if err := t.begin("store", fmt.Sprint(uid)); err != nil {
		return err
	}
	f, err := t.folder()
	if err != nil {
		return err
	}
	if m := f.find(uid); m != nil {
		if add {
			m.flags[flag] = true
		} else {
			delete(m.flags, flag)
		}
	}
	return nil
}

func (t *fakeTransport) Copy(uid uint32, folder string) error {
	if err := t.begin("copy", fmt.Sprint(uid)); err != nil {
		return err
	}
	f, err := t.folder()
	if err != nil {
		return err
	}
	dest, ok := t.server.folders[folder]
	if !ok {
		return fmt.Errorf("NO [TRYCREATE] %s", folder)
	}
	if m := f.find(uid); m != nil {
		var flags []string
		for flag := range m.flags {
			flags = append(flags, flag)
		}
		dest.add(m.raw, flags...)
	}
	return nil
}

func (t *fakeTransport) Move(uid uint32, folder string) error {
	if err := t.begin("move", fmt.Sprint(uid)); err != nil {
		return err
	}
	if t.server.noMove {
		return ErrMoveUnsupported
	}
	if err := t.Copy(uid, folder); err != nil {
		return err
	}
	f, _ := t.folder()
	kept := f.messages[:0]
	for _, m := range f.messages {
		if m.uid != uid {
			kept = append(kept, m)
		}
	}
	f.messages = kept
	return nil
}

func (t *fakeTransport) Expunge() error {
	if err := t.begin("expunge", t.selected); err != nil {
		return err
	}
	f, err := t.folder()
	if err != nil {
		return err
	}
	kept := f.messages[:0]
	for _, m := range f.messages {
		if !m.flags[imap.DeletedFlag] {
			kept = append(kept, m)
		}
	}
	f.messages = kept
	return nil
}

func (t *fakeTransport) ListFolders() ([]string, error) {
	if err := t.begin("list", ""); err != nil {
		return nil, err
	}
	var names []string
	for name := range t.server.folders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (t *fakeTransport) CreateFolder(name string) error {
	if err := t.begin("create", name); err != nil {
		return err
	}
	if _, ok := t.server.folders[name]; ok {
		return fmt.Errorf("NO [ALREADYEXISTS] %s", name)
	}
	t.server.folders[name] = &fakeFolder{}
	return nil
}

func (t *fakeTransport) Logout() error {
	if t.closed {
		return io.EOF
	}
	t.closed = true
	return t.server.failure("logout", "")
}

func testAccount() config.Account {
	acct := config.DefaultAccount()
	acct.Name = "work"
	acct.Server = "imap.example.com"
	acct.Username = "me@example.com"
	acct.Password = "secret"
	return acct
}

func rawMessage(id, from, subject, body string) []byte {
	var b strings.Builder
	if id != "" {
		fmt.Fprintf(&b, "Message-ID: <%s>\r\n", id)
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: me@example.com\r\n")
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n")
	fmt.Fprintf(&b, "Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func subjects(msgs []*email.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Subject)
	}
	return out
}
