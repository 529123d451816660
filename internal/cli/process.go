package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailproc/internal/config"
	"mailproc/internal/email"
	"mailproc/internal/imap"
	"mailproc/internal/storage"
)

const maxParallelAccounts = 4

type processFlags struct {
	folder          string
	subject         string
	from            string
	all             bool
	withAttachments bool
	saveDir         string
	markRead        bool
	moveTo          string
	schedule        string
	allAccounts     bool
}

func newProcessCmd(opts *globalOptions) *cobra.Command {
	flags := &processFlags{}

	cmd := &cobra.Command{
		Use:   "process [criteria...]",
		Short: "Run matching messages through the processing pipeline",
		Long: `Fetch unread messages (or --all), optionally filter them, save their
attachments, and mark or move the ones that were handled.

With --schedule the run repeats on a cron schedule until interrupted.`,
		Example: `  mailproc process --subject invoice --with-attachments --save-attachments ./invoices --mark-read
  mailproc process --all-accounts --move-to Processed --schedule "*/15 * * * *"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			accounts, err := selectAccounts(cfg, opts.account, flags.allAccounts)
			if err != nil {
				return err
			}

			log, err := newLogger(opts.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			var journal imap.Journal
			if cfg.Ledger.Enabled {
				store, err := openLedger(cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				journal = store
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := &processor{
				flags:    flags,
				criteria: filterCriteria(flags.subject, flags.from, flags.all, args),
				journal:  journal,
				log:      log,
				out:      &syncWriter{w: cmd.OutOrStdout()},
			}

			if flags.schedule == "" {
				return p.runAll(ctx, accounts)
			}
			return p.schedule(ctx, accounts)
		},
	}

	cmd.Flags().StringVar(&flags.folder, "folder", "", "Folder (account target folder when empty)")
	cmd.Flags().StringVar(&flags.subject, "subject", "", "Only messages whose subject contains this text")
	cmd.Flags().StringVar(&flags.from, "from", "", "Only messages whose sender contains this text")
	cmd.Flags().BoolVar(&flags.all, "all", false, "Include messages already read")
	cmd.Flags().BoolVar(&flags.withAttachments, "with-attachments", false, "Only handle messages that have attachments")
	cmd.Flags().StringVar(&flags.saveDir, "save-attachments", "", "Save attachments of handled messages into this directory")
	cmd.Flags().BoolVar(&flags.markRead, "mark-read", false, "Mark handled messages read")
	cmd.Flags().StringVar(&flags.moveTo, "move-to", "", "Move handled messages to this folder (account move_folder when empty)")
	cmd.Flags().StringVar(&flags.schedule, "schedule", "", "Repeat on a cron schedule, e.g. \"@every 10m\"")
	cmd.Flags().BoolVar(&flags.allAccounts, "all-accounts", false, "Process every configured account in parallel")

	return cmd
}

func selectAccounts(cfg config.Config, name string, all bool) ([]config.Account, error) {
	if !all {
		acct, err := cfg.Account(name)
		if err != nil {
			return nil, err
		}
		if err := config.Validate(acct); err != nil {
			return nil, err
		}
		return []config.Account{acct}, nil
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured; run `mailproc auth login`")
	}
	for _, acct := range cfg.Accounts {
		if err := config.Validate(acct); err != nil {
			return nil, err
		}
	}
	return cfg.Accounts, nil
}

type processor struct {
	flags    *processFlags
	criteria []string
	journal  imap.Journal
	log      *zap.Logger
	out      io.Writer
}

// runAll processes each account on its own client, a few at a time.
func (p *processor) runAll(ctx context.Context, accounts []config.Account) error {
	var g errgroup.Group
	g.SetLimit(maxParallelAccounts)

	for _, acct := range accounts {
		g.Go(func() error {
			if err := p.run(ctx, acct); err != nil {
				p.log.Error("processing failed", zap.String("account", acct.Name), zap.Error(err))
				return fmt.Errorf("account %s: %w", acct.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *processor) run(ctx context.Context, acct config.Account) error {
	opts := imap.ProcessOptions{
		Criteria:   p.criteria,
		Folder:     p.flags.folder,
		MarkAsRead: p.flags.markRead,
		MoveTo:     p.flags.moveTo,
	}
	if opts.MoveTo == "" {
		opts.MoveTo = acct.MoveFolder
	}

	c := imap.NewClient(acct, imap.WithLogger(p.log), imap.WithJournal(p.journal))
	count, err := c.ProcessMessages(ctx, p.callback(acct), opts)
	fmt.Fprintf(p.out, "%s: %d message(s) processed\n", acct.Name, count)
	return err
}

func (p *processor) callback(acct config.Account) imap.Callback {
	return func(msg *email.Message) (bool, error) {
		if p.flags.withAttachments && len(msg.Attachments) == 0 {
			return false, nil
		}

		var saved []string
		if p.flags.saveDir != "" && len(msg.Attachments) > 0 {
			var err error
			saved, err = storage.SaveAll(msg, p.flags.saveDir)
			if err != nil {
				return false, err
			}
		}

		fmt.Fprintf(p.out, "%s\t%d\t%s\t%s\n", acct.Name, msg.UID, msg.From, msg.Subject)
		for _, path := range saved {
			fmt.Fprintf(p.out, "\tsaved %s\n", path)
		}
		return true, nil
	}
}

// schedule runs every account on the cron schedule until ctx is cancelled. A run still in
// progress when the next one is due is not overlapped.
func (p *processor) schedule(ctx context.Context, accounts []config.Account) error {
	cronLog := cron.VerbosePrintfLogger(zap.NewStdLog(p.log.Named("cron")))
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	_, err := c.AddFunc(p.flags.schedule, func() {
		if err := p.runAll(ctx, accounts); err != nil {
			p.log.Warn("scheduled run finished with errors", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", p.flags.schedule, err)
	}

	p.log.Info("scheduler started", zap.String("schedule", p.flags.schedule), zap.Int("accounts", len(accounts)))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(b)
}
