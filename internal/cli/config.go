package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mailproc/internal/config"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config management",
	}
	cmd.AddCommand(newConfigShowCmd(opts))
	cmd.AddCommand(newConfigEditCmd())
	return cmd
}

func newConfigShowCmd(opts *globalOptions) *cobra.Command {
	var showPassword bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if opts.account != "" {
				acct, err := cfg.Account(opts.account)
				if err != nil {
					return err
				}
				cfg.Accounts = []config.Account{acct}
			}
			if !showPassword {
				cfg = config.Redact(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			for _, acct := range cfg.Accounts {
				source := acct.PasswordSource
				if source == "" {
					source = "none"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "# %s: password from %s\n", acct.Name, source)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showPassword, "show-password", false, "Show passwords in output")

	return cmd
}

func newConfigEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Open config file in $EDITOR",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			editor := os.Getenv("EDITOR")
			if editor == "" {
				return fmt.Errorf("EDITOR not set; config file is %s", path)
			}
			editCmd := exec.Command(editor, path)
			editCmd.Stdout = os.Stdout
			editCmd.Stderr = os.Stderr
			editCmd.Stdin = os.Stdin
			return editCmd.Run()
		},
	}

	return cmd
}
