package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mailproc/internal/config"
	"mailproc/internal/secrets"
)

func newAuthCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Account and credential setup",
	}
	cmd.AddCommand(newAuthLoginCmd(opts))
	return cmd
}

func newAuthLoginCmd(opts *globalOptions) *cobra.Command {
	var (
		server       string
		port         int
		useSSL       bool
		startTLS     bool
		insecure     bool
		username     string
		password     string
		timeout      time.Duration
		targetFolder string
		moveFolder   string
		inConfig     bool
		makeDefault  bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Add or update an account and store its password in the keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			name := opts.account
			if name == "" {
				name = username
			}
			acct, err := cfg.Account(name)
			if err != nil {
				acct = config.DefaultAccount()
				acct.Name = name
			}

			if cmd.Flags().Changed("server") {
				acct.Server = server
			}
			if cmd.Flags().Changed("ssl") {
				acct.UseSSL = useSSL
				if !useSSL && !cmd.Flags().Changed("port") && acct.Port == config.DefaultTLSPort {
					acct.Port = 0
				}
			}
			if cmd.Flags().Changed("port") {
				acct.Port = port
			}
			if cmd.Flags().Changed("starttls") {
				acct.StartTLS = startTLS
			}
			if cmd.Flags().Changed("insecure") {
				acct.InsecureSkipVerify = insecure
			}
			if cmd.Flags().Changed("username") {
				acct.Username = username
			}
			if cmd.Flags().Changed("timeout") {
				acct.Timeout = timeout
			}
			if cmd.Flags().Changed("target-folder") {
				acct.TargetFolder = targetFolder
			}
			if cmd.Flags().Changed("move-folder") {
				acct.MoveFolder = moveFolder
			}
			acct = config.Normalize(acct)

			if !cmd.Flags().Changed("password") {
				password, err = promptPassword(cmd, acct)
				if err != nil {
					return err
				}
			}
			acct.Password = password

			if err := config.Validate(acct); err != nil {
				return err
			}

			stored := acct
			if !inConfig {
				store := secrets.NewStore(cfg.KeyringBackend)
				if err := store.SetPassword(acct, password); err != nil {
					return fmt.Errorf("store password (use --in-config to keep it in the config file): %w", err)
				}
				stored.Password = ""
				fmt.Fprintf(cmd.OutOrStdout(), "Password stored in keyring (%s)\n", store.Backend())
			}

			cfg.Upsert(stored)
			if makeDefault || cfg.Defaults.Account == "" {
				cfg.Defaults.Account = stored.Name
			}

			path, err := config.Save(cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Account %q saved to %s\n", stored.Name, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "IMAP server host")
	cmd.Flags().IntVar(&port, "port", 0, "IMAP port (993 with SSL, 143 without)")
	cmd.Flags().BoolVar(&useSSL, "ssl", true, "Use implicit TLS")
	cmd.Flags().BoolVar(&startTLS, "starttls", false, "Upgrade a plaintext connection with STARTTLS")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	cmd.Flags().StringVar(&username, "username", "", "Login username")
	cmd.Flags().StringVar(&password, "password", "", "Password or app password (prompted when omitted)")
	cmd.Flags().DurationVar(&timeout, "timeout", config.DefaultTimeout, "Dial and command timeout")
	cmd.Flags().StringVar(&targetFolder, "target-folder", "", "Folder read by default (INBOX when empty)")
	cmd.Flags().StringVar(&moveFolder, "move-folder", "", "Folder processed messages are moved to")
	cmd.Flags().BoolVar(&inConfig, "in-config", false, "Keep the password in the config file instead of the keyring")
	cmd.Flags().BoolVar(&makeDefault, "default", false, "Make this the default account")

	return cmd
}

func promptPassword(cmd *cobra.Command, acct config.Account) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--password is required when stdin is not a terminal")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s@%s: ", acct.Username, acct.Server)
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
