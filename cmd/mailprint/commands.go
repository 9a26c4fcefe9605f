package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gabriel-vasile/mimetype"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/nhle/mailprint/internal/convert"
	"github.com/nhle/mailprint/internal/credential"
	"github.com/nhle/mailprint/internal/job"
	"github.com/nhle/mailprint/internal/keys"
	"github.com/nhle/mailprint/internal/logger"
	"github.com/nhle/mailprint/internal/metrics"
	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/notify"
	"github.com/nhle/mailprint/internal/printer"
	"github.com/nhle/mailprint/internal/source"
	"github.com/nhle/mailprint/internal/source/email"
	"github.com/nhle/mailprint/internal/store"
	"github.com/nhle/mailprint/internal/supervise"
	"github.com/nhle/mailprint/internal/ui/history"
	"github.com/nhle/mailprint/internal/ui/setup"
)

func loadConfig(path string) (*model.AppConfig, string, error) {
	if path == "" {
		path = model.DefaultConfigPath()
	}
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// --- run ---

func runCommand(args []string, stderr io.Writer) error {
	var (
		configPath string
		watch      time.Duration
	)
	fs := newFlagSet("run", stderr, &configPath)
	fs.DurationVar(&watch, "watch", 0, "keep running and poll the mailbox at this interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := resolveSecrets(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	journal, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer journal.Close()

	mailbox := email.NewAdapter(cfg.Mailbox, log)
	defer mailbox.Close()

	runner, err := newRunner(cfg, mailbox, journal, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watch > 0 {
		log.Info("watching mailbox", zap.Duration("interval", watch))
		return runner.Poll(ctx, watch, nil)
	}

	_, err = runner.RunOnce(ctx)
	return err
}

// resolveSecrets fills passwords missing from the config and environment
// from the keyring.
func resolveSecrets(cfg *model.AppConfig) error {
	pw, err := credential.Resolve(cfg.Mailbox.Password, credential.MailboxKey(cfg.Mailbox.Username))
	if err != nil {
		return err
	}
	cfg.Mailbox.Password = pw

	if cfg.Notify.Enabled() && cfg.Notify.Username != "" {
		pw, err := credential.Resolve(cfg.Notify.Password, credential.SMTPKey(cfg.Notify.Username))
		if err != nil {
			return err
		}
		cfg.Notify.Password = pw
	}
	return nil
}

func openJournal(cfg model.JournalConfig) (store.Journal, error) {
	if cfg.Path == "" {
		return store.Discard, nil
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}
	return store.NewSQLiteStore(cfg.Path)
}

func converterConfig(c model.ConvertersConfig) convert.Config {
	tool := func(t model.ToolConfig) convert.Tool {
		return convert.Tool{Binary: t.Binary, Timeout: time.Duration(t.TimeoutSec) * time.Second}
	}
	return convert.Config{
		Office:         tool(c.Office),
		Image:          tool(c.Image),
		Document:       tool(c.Document),
		PDFEngine:      c.PDFEngine,
		MaxImagePixels: c.MaxImagePixels,
	}
}

func newRunner(
	cfg *model.AppConfig,
	mailbox source.Mailbox,
	journal store.Journal,
	log *zap.Logger,
) (*job.Runner, error) {
	table, err := convert.LoadTable(cfg.Converters.FormatsFile)
	if err != nil {
		return nil, err
	}

	sup := supervise.New(time.Duration(cfg.Converters.PollIntervalMs)*time.Millisecond, log)
	m := metrics.New()

	deps := job.Deps{
		Mailbox:   mailbox,
		Formats:   table,
		Converter: convert.New(converterConfig(cfg.Converters), table, sup, log.Named("convert")),
		Printer:   printer.NewLP(cfg.Printer, sup, log),
		Journal:   journal,
		Metrics:   m,
		Pusher:    metrics.NewPusher(cfg.Metrics, m),
		Log:       log,
	}
	if n := notify.New(cfg.Notify, log); n != nil {
		deps.Reporter = n
	}
	return job.New(cfg.DownloadFolder, deps), nil
}

// --- setup ---

func setupCommand(args []string, stderr io.Writer) error {
	var configPath string
	fs := newFlagSet("setup", stderr, &configPath)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	validate := func(ctx context.Context, mc model.MailboxConfig) (string, error) {
		return email.NewAdapter(mc, zap.NewNop()).ValidateConnection(ctx)
	}

	final, err := tea.NewProgram(setup.New(path, *cfg, validate)).Run()
	if err != nil {
		return err
	}
	if m, ok := final.(*setup.Model); ok {
		return m.Err()
	}
	return nil
}

// --- history ---

func historyCommand(args []string, stdout, stderr io.Writer) error {
	var (
		configPath string
		limit      int
		runID      string
		plain      bool
	)
	fs := newFlagSet("history", stderr, &configPath)
	fs.IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	fs.StringVar(&runID, "run", "", "show the attachments of one run")
	fs.BoolVar(&plain, "plain", false, "print a static table instead of the interactive view")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Journal.Path == "" {
		return errors.New("journal is disabled (journal.path is empty)")
	}

	journal, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer journal.Close()

	ctx := context.Background()

	if runID != "" {
		convs, err := journal.RunConversions(ctx, runID)
		if err != nil {
			return err
		}
		prints, err := journal.RunPrints(ctx, runID)
		if err != nil {
			return err
		}
		return history.RenderAttachments(stdout, convs, prints)
	}

	if plain || !isTerminal(stdout) {
		runs, err := journal.RecentRuns(ctx, limit)
		if err != nil {
			return err
		}
		return history.RenderRuns(stdout, runs)
	}

	_, err = tea.NewProgram(
		history.New(journal, keys.DefaultKeyMap(), limit),
		tea.WithAltScreen(),
	).Run()
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// --- classify ---

func classifyCommand(args []string, stdout, stderr io.Writer) error {
	var configPath string
	fs := newFlagSet("classify", stderr, &configPath)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("no files given")
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	table, err := convert.LoadTable(cfg.Converters.FormatsFile)
	if err != nil {
		return err
	}

	for _, path := range fs.Args() {
		fmt.Fprintf(stdout, "%s\t%s\n", path, classify(table, path))
	}
	return nil
}

// classify describes what the pipeline would do with a file of this name.
// Files without an extension are sniffed.
func classify(table *convert.Table, path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		if mt, err := mimetype.DetectFile(path); err == nil {
			ext = mt.Extension()
		}
	}

	switch {
	case table.IsExcluded(ext):
		return "excluded"
	case table.IsPrintable(ext):
		return "print as-is"
	default:
		return string(table.Classify(ext))
	}
}
