package secrets

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/term"

	"mailproc/internal/config"
)

const (
	keyringPasswordEnv = "MAILPROC_KEYRING_PASSWORD" //nolint:gosec // env var name, not a credential
	keyringBackendEnv  = "MAILPROC_KEYRING_BACKEND"  //nolint:gosec // env var name, not a credential

	keyringBackendAuto = "auto"
)

var (
	ErrSecretNotFound        = errors.New("secret not found")
	errMissingAccount        = errors.New("missing account")
	errMissingPassword       = errors.New("missing password")
	errNoTTY                 = errors.New("no TTY available for keyring file backend password prompt")
	errInvalidKeyringBackend = errors.New("invalid keyring backend")
	errKeyringTimeout        = errors.New("keyring connection timed out")
	keyringOpenFunc          = keyring.Open
)

// Store reads and writes account passwords in the OS keyring, falling back
// to an encrypted file on headless Linux.
type Store struct {
	backend string
	open    func() (keyring.Keyring, error)
}

// NewStore resolves the backend from MAILPROC_KEYRING_BACKEND, then the
// configured keyring_backend, then auto.
func NewStore(configured string) *Store {
	backend := normalizeBackend(os.Getenv(keyringBackendEnv))
	if backend == "" {
		backend = normalizeBackend(configured)
	}
	if backend == "" {
		backend = keyringBackendAuto
	}
	s := &Store{backend: backend}
	s.open = s.openKeyring
	return s
}

func (s *Store) Backend() string {
	return s.backend
}

func allowedBackends(backend string) ([]keyring.BackendType, error) {
	switch backend {
	case "", keyringBackendAuto:
		return nil, nil
	case "keychain":
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case "secret-service":
		return []keyring.BackendType{keyring.SecretServiceBackend}, nil
	case "file":
		return []keyring.BackendType{keyring.FileBackend}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected %s, keychain, secret-service, or file)", errInvalidKeyringBackend, backend, keyringBackendAuto)
	}
}

func filePasswordFunc(password string, passwordSet bool, isTTY bool) keyring.PromptFunc {
	// Treat "set to empty string" as intentional; empty passphrase is valid.
	if passwordSet {
		return keyring.FixedStringPrompt(password)
	}

	if isTTY {
		return keyring.TerminalPrompt
	}

	return func(_ string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

func normalizeBackend(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// On headless Linux, D-Bus SecretService can hang indefinitely if
// gnome-keyring is installed but not running.
const keyringOpenTimeout = 5 * time.Second

func forceFileBackend(goos, backend, dbusAddr string) bool {
	return goos == "linux" && backend == keyringBackendAuto && dbusAddr == ""
}

func (s *Store) openKeyring() (keyring.Keyring, error) {
	keyringDir, err := config.EnsureKeyringDir()
	if err != nil {
		return nil, err
	}

	backends, err := allowedBackends(s.backend)
	if err != nil {
		return nil, err
	}

	dbusAddr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if forceFileBackend(runtime.GOOS, s.backend, dbusAddr) {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	password, passwordSet := os.LookupEnv(keyringPasswordEnv)
	cfg := keyring.Config{
		ServiceName:              config.AppName,
		KeychainTrustApplication: false,
		AllowedBackends:          backends,
		FileDir:                  keyringDir,
		FilePasswordFunc:         filePasswordFunc(password, passwordSet, term.IsTerminal(int(os.Stdin.Fd()))),
	}

	if runtime.GOOS == "linux" && s.backend == keyringBackendAuto && dbusAddr != "" {
		return openWithTimeout(cfg, keyringOpenTimeout)
	}

	ring, err := keyringOpenFunc(cfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return ring, nil
}

type openResult struct {
	ring keyring.Keyring
	err  error
}

func openWithTimeout(cfg keyring.Config, timeout time.Duration) (keyring.Keyring, error) {
	ch := make(chan openResult, 1)

	go func() {
		ring, err := keyringOpenFunc(cfg)
		ch <- openResult{ring, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("open keyring: %w", res.err)
		}
		return res.ring, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v; set %s=file and %s=<password> to use encrypted file storage instead",
			errKeyringTimeout, timeout, keyringBackendEnv, keyringPasswordEnv)
	}
}

// SetPassword stores the password for an account.
func (s *Store) SetPassword(acct config.Account, password string) error {
	key, err := passwordKey(acct)
	if err != nil {
		return err
	}
	if password == "" {
		return errMissingPassword
	}

	ring, err := s.open()
	if err != nil {
		return err
	}

	item := keyring.Item{
		Key:   key,
		Data:  []byte(password),
		Label: fmt.Sprintf("%s (%s)", config.AppName, acct.Name),
	}
	if err := ring.Set(item); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	return nil
}

// GetPassword returns ErrSecretNotFound when nothing is stored for acct.
func (s *Store) GetPassword(acct config.Account) (string, error) {
	key, err := passwordKey(acct)
	if err != nil {
		return "", err
	}

	ring, err := s.open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(item.Data), nil
}

func passwordKey(acct config.Account) (string, error) {
	user := normalize(acct.Username)
	server := normalize(acct.Server)
	if user == "" || server == "" {
		return "", errMissingAccount
	}
	return fmt.Sprintf("imap:password:%s@%s", user, server), nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
