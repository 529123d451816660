package imap

import (
	"context"

	"mailproc/internal/config"
	"mailproc/internal/email"
	"mailproc/internal/ledger"
)

// AccountProvider is anything that can describe an IMAP login.
// config.Account implements it, and so does any struct embedding one.
type AccountProvider interface {
	IMAPAccount() config.Account
}

// Transport is the set of IMAP primitives the client is built on. UIDs are
// only meaningful in the folder selected last.
type Transport interface {
	Select(folder string) error
	Search(criteria []string) ([]uint32, error)
	Fetch(uid uint32) ([]byte, error)
	Store(uid uint32, flag string, add bool) error
	Copy(uid uint32, folder string) error
	// Move returns ErrMoveUnsupported when the server has no native MOVE.
	Move(uid uint32, folder string) error
	Expunge() error
	ListFolders() ([]string, error)
	CreateFolder(name string) error
	Logout() error
}

// Dialer opens an authenticated Transport for an account.
type Dialer func(acct config.Account) (Transport, error)

// Callback decides whether a message was consumed. Returning an error
// aborts the batch.
type Callback func(msg *email.Message) (bool, error)

// ProcessOptions selects the messages for ProcessMessages and the side
// effects applied to the ones the callback accepts.
type ProcessOptions struct {
	Criteria   []string
	Folder     string
	MarkAsRead bool
	MoveTo     string
}

// Journal remembers consumed messages across runs.
type Journal interface {
	Processed(ctx context.Context, account, key string) (bool, error)
	Record(ctx context.Context, entry ledger.Entry) error
}
