package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTLSPort   = 993
	DefaultPlainPort = 143
	DefaultTimeout   = 30 * time.Second
	DefaultFolder    = "INBOX"
)

type Config struct {
	Accounts       []Account      `mapstructure:"-" yaml:"accounts"`
	Defaults       DefaultsConfig `mapstructure:"defaults" yaml:"defaults"`
	Ledger         LedgerConfig   `mapstructure:"ledger" yaml:"ledger"`
	KeyringBackend string         `mapstructure:"keyring_backend" yaml:"keyring_backend,omitempty"`
}

// Account describes one IMAP login. It is a value type; nothing in the
// client mutates it after construction.
type Account struct {
	Name               string        `mapstructure:"name" yaml:"name"`
	Server             string        `mapstructure:"server" yaml:"server"`
	Port               int           `mapstructure:"port" yaml:"port"`
	UseSSL             bool          `mapstructure:"use_ssl" yaml:"use_ssl"`
	StartTLS           bool          `mapstructure:"starttls" yaml:"starttls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Username           string        `mapstructure:"username" yaml:"username"`
	Password           string        `mapstructure:"password" yaml:"password,omitempty"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	TargetFolder       string        `mapstructure:"target_folder" yaml:"target_folder,omitempty"`
	MoveFolder         string        `mapstructure:"move_folder" yaml:"move_folder,omitempty"`

	PasswordSource string `mapstructure:"-" yaml:"-"`
}

// IMAPAccount lets Account, and any struct embedding it, be handed to the
// mailbox client directly.
func (a Account) IMAPAccount() Account {
	return a
}

// Address returns host:port.
func (a Account) Address() string {
	return fmt.Sprintf("%s:%d", a.Server, a.Port)
}

// Folder returns the folder operations default to.
func (a Account) Folder() string {
	if a.TargetFolder != "" {
		return a.TargetFolder
	}
	return DefaultFolder
}

type DefaultsConfig struct {
	Account        string `mapstructure:"account" yaml:"account"`
	AttachmentsDir string `mapstructure:"attachments_dir" yaml:"attachments_dir"`
}

type LedgerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Defaults: DefaultsConfig{
			AttachmentsDir: "attachments",
		},
	}
}

func DefaultAccount() Account {
	return Account{
		UseSSL:  true,
		Timeout: DefaultTimeout,
	}
}

func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILPROC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	var raw []map[string]interface{}
	if err := v.UnmarshalKey("accounts", &raw); err != nil {
		return cfg, err
	}
	for i, entry := range raw {
		acct, err := DecodeAccount(entry)
		if err != nil {
			return cfg, fmt.Errorf("accounts[%d]: %w", i, err)
		}
		cfg.Accounts = append(cfg.Accounts, acct)
	}

	return cfg, nil
}

// DecodeAccount decodes a loosely typed account entry on top of
// DefaultAccount and fills in the port implied by use_ssl.
func DecodeAccount(entry map[string]interface{}) (Account, error) {
	acct := DefaultAccount()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &acct,
	})
	if err != nil {
		return acct, err
	}
	if err := decoder.Decode(entry); err != nil {
		return acct, err
	}
	return Normalize(acct), nil
}

// Normalize fills zero-valued port and timeout.
func Normalize(acct Account) Account {
	if acct.Port == 0 {
		if acct.UseSSL {
			acct.Port = DefaultTLSPort
		} else {
			acct.Port = DefaultPlainPort
		}
	}
	if acct.Timeout == 0 {
		acct.Timeout = DefaultTimeout
	}
	if acct.Name == "" {
		acct.Name = acct.Username
	}
	return acct
}

func Save(cfg Config) (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

// Account picks an account by name. An empty name selects
// defaults.account, then the first configured account.
func (c Config) Account(name string) (Account, error) {
	if name == "" {
		name = c.Defaults.Account
	}
	if name == "" {
		if len(c.Accounts) == 0 {
			return Account{}, fmt.Errorf("no accounts configured; run `mailproc auth login`")
		}
		return c.Accounts[0], nil
	}
	for _, acct := range c.Accounts {
		if strings.EqualFold(acct.Name, name) {
			return acct, nil
		}
	}
	return Account{}, fmt.Errorf("account %q not found", name)
}

// Upsert replaces the account with the same name or appends it.
func (c *Config) Upsert(acct Account) {
	for i := range c.Accounts {
		if strings.EqualFold(c.Accounts[i].Name, acct.Name) {
			c.Accounts[i] = acct
			return
		}
	}
	c.Accounts = append(c.Accounts, acct)
}

func Redact(cfg Config) Config {
	masked := cfg
	masked.Accounts = make([]Account, len(cfg.Accounts))
	for i, acct := range cfg.Accounts {
		if acct.Password != "" {
			acct.Password = "****"
		}
		masked.Accounts[i] = acct
	}
	return masked
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("defaults.account", cfg.Defaults.Account)
	v.SetDefault("defaults.attachments_dir", cfg.Defaults.AttachmentsDir)
	v.SetDefault("ledger.enabled", cfg.Ledger.Enabled)
	v.SetDefault("ledger.path", cfg.Ledger.Path)
	v.SetDefault("keyring_backend", "")
}

func Validate(acct Account) error {
	if acct.Server == "" {
		return fmt.Errorf("account %q: server is required", acct.Name)
	}
	if acct.Username == "" {
		return fmt.Errorf("account %q: username is required", acct.Name)
	}
	if acct.Password == "" {
		return fmt.Errorf("account %q: password is required", acct.Name)
	}
	if acct.Port <= 0 || acct.Port > 65535 {
		return fmt.Errorf("account %q: invalid port %d", acct.Name, acct.Port)
	}
	if acct.UseSSL && acct.StartTLS {
		return fmt.Errorf("account %q: use_ssl and starttls are mutually exclusive", acct.Name)
	}
	return nil
}
