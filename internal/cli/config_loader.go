package cli

import (
	"errors"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mailproc/internal/config"
	"mailproc/internal/imap"
	"mailproc/internal/ledger"
	"mailproc/internal/secrets"
)

const passwordEnvPrefix = "MAILPROC_PASSWORD_"

type passwordSource interface {
	GetPassword(acct config.Account) (string, error)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	store := secrets.NewStore(cfg.KeyringBackend)
	for i := range cfg.Accounts {
		acct, err := resolvePassword(cfg.Accounts[i], store)
		if err != nil {
			return cfg, err
		}
		cfg.Accounts[i] = acct
	}
	return cfg, nil
}

// resolvePassword fills the account password from, in order, the
// MAILPROC_PASSWORD_<NAME> environment variable, the config file and the
// keyring.
func resolvePassword(acct config.Account, store passwordSource) (config.Account, error) {
	if password, ok := os.LookupEnv(passwordEnvKey(acct.Name)); ok {
		acct.Password = password
		acct.PasswordSource = "env"
		return acct, nil
	}

	if acct.Password != "" {
		acct.PasswordSource = "config"
		return acct, nil
	}

	if acct.Username == "" || acct.Server == "" {
		return acct, nil
	}

	password, err := store.GetPassword(acct)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return acct, nil
		}
		return acct, err
	}

	acct.Password = password
	acct.PasswordSource = "keyring"
	return acct, nil
}

func passwordEnvKey(name string) string {
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return passwordEnvPrefix + key
}

func loadAccount(opts *globalOptions) (config.Config, config.Account, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, config.Account{}, err
	}
	acct, err := cfg.Account(opts.account)
	if err != nil {
		return cfg, acct, err
	}
	if err := config.Validate(acct); err != nil {
		return cfg, acct, err
	}
	return cfg, acct, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

func openLedger(cfg config.Config) (*ledger.Store, error) {
	path, err := config.LedgerPath(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	return ledger.Open(path)
}

// withClient connects acct, runs fn and disconnects.
func withClient(opts *globalOptions, fn func(cfg config.Config, c *imap.Client) error) error {
	cfg, acct, err := loadAccount(opts)
	if err != nil {
		return err
	}
	log, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	c := imap.NewClient(acct, imap.WithLogger(log))
	if err := c.Connect(); err != nil {
		return err
	}
	defer func() {
		if err := c.Disconnect(); err != nil {
			log.Debug("disconnect failed", zap.Error(err))
		}
	}()

	return fn(cfg, c)
}
