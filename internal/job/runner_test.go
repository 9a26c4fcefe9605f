package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nhle/mailprint/internal/convert"
	"github.com/nhle/mailprint/internal/metrics"
	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/notify"
	"github.com/nhle/mailprint/internal/source"
	"github.com/nhle/mailprint/internal/store"
	storetest "github.com/nhle/mailprint/tests/testutil"
)

type part struct {
	contentType string
	disposition string
	filename    string
	data        []byte
}

func (p part) ContentMaintype() string {
	maintype, _, _ := strings.Cut(p.contentType, "/")
	return maintype
}
func (p part) ContentType() string { return p.contentType }
func (p part) ContentDisposition() string { return p.disposition }
func (p part) Filename() string { return p.filename }
func (p part) Decoded() ([]byte, error) { return p.data, nil }

type message struct {
	id      string
	subject string
	parts   []source.Part
}

func (m message) ID() string { return m.id }
func (m message) Subject() string { return m.subject }
func (m message) From() string { return "alice@example.com" }
func (m message) Parts() []source.Part { return m.parts }

func newMessage(id string, attachments ...source.Part) message {
	return message{id: id, subject: "msg " + id, parts: append([]source.Part{
		part{contentType: "multipart/mixed"},
		part{contentType: "text/plain", data: []byte("hello")},
	}, attachments...)}
}

func attachment(filename, body string) part {
	return part{
		contentType: "application/octet-stream",
		disposition: "attachment",
		filename:    filename,
		data:        []byte(body),
	}
}

type mailbox struct {
	messages []source.Message
	err      error
	calls    int
}

func (m *mailbox) FetchUnread(context.Context) ([]source.Message, error) {
	m.calls++
	return m.messages, m.err
}

func (m *mailbox) Close() error { return nil }

// converter writes a PDF for every input except those whose name
// contains "broken".
type converter struct{}

func (converter) Convert(_ context.Context, storedPath, ext, _ string) (string, error) {
	defer os.Remove(storedPath)
	if strings.Contains(filepath.Base(storedPath), "broken") {
		return "", &convert.Error{Kind: convert.KindTool, Strategy: convert.StrategyOffice, Input: storedPath}
	}
	out := strings.TrimSuffix(storedPath, ext) + ".pdf"
	return out, os.WriteFile(out, []byte("%PDF"), 0o644)
}

// fakePrinter deletes what it prints, except paths containing "jam".
type fakePrinter struct {
	printed []string
}

func (p *fakePrinter) Name() string { return "office" }

func (p *fakePrinter) Print(_ context.Context, path string) error {
	if strings.Contains(filepath.Base(path), "jam") {
		return errors.New("printer jammed")
	}
	p.printed = append(p.printed, filepath.Base(path))
	return os.Remove(path)
}

type reporter struct {
	reports []notify.Failure
	err     error
}

func (r *reporter) Report(_ context.Context, f notify.Failure) error {
	r.reports = append(r.reports, f)
	return r.err
}

// unavailableJournal fails to open runs and accepts everything else.
type unavailableJournal struct {
	store.Journal
}

func (unavailableJournal) StartRun(context.Context) (model.RunRecord, error) {
	return model.RunRecord{}, errors.New("disk I/O error")
}

type fixture struct {
	runner   *Runner
	folder   string
	mailbox  *mailbox
	printer  *fakePrinter
	reporter *reporter
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, messages ...source.Message) fixture {
	t.Helper()

	table, err := convert.DefaultTable()
	require.NoError(t, err)

	f := fixture{
		folder:   filepath.Join(t.TempDir(), "spool"),
		mailbox:  &mailbox{messages: messages},
		printer:  &fakePrinter{},
		reporter: &reporter{},
		metrics:  metrics.New(),
	}
	f.runner = New(f.folder, Deps{
		Mailbox:   f.mailbox,
		Formats:   table,
		Converter: converter{},
		Printer:   f.printer,
		Metrics:   f.metrics,
		Reporter:  f.reporter,
		Log:       zap.NewNop(),
	})
	return f
}

func TestRunOnce_PrintsAttachments(t *testing.T) {
	f := newFixture(t, newMessage("1",
		attachment("report.pdf", "%PDF-1.7"),
		attachment("notes.docx", "docx bytes"),
		attachment("signature.asc", "-----BEGIN PGP SIGNATURE-----"),
	))

	summary, err := f.runner.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Messages)
	assert.Equal(t, 2, summary.Printed)
	assert.Equal(t, 0, summary.Dropped)
	assert.Equal(t, 1, summary.Skipped)
	assert.NotEmpty(t, summary.RunID)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))

	require.Len(t, f.printer.printed, 2)
	assert.True(t, strings.HasPrefix(f.printer.printed[0], "report-"))
	assert.True(t, strings.HasPrefix(f.printer.printed[1], "notes-"))

	entries, err := os.ReadDir(f.folder)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, f.reporter.reports)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Messages))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Prints.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LastRunSuccess))
}

func TestRunOnce_ReportsDropsPerMessage(t *testing.T) {
	f := newFixture(t,
		newMessage("1", attachment("broken.docx", "x"), attachment("jam.pdf", "%PDF"), attachment("ok.pdf", "%PDF ok")),
		newMessage("2", attachment("fine.pdf", "%PDF fine")),
	)

	summary, err := f.runner.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Messages)
	assert.Equal(t, 2, summary.Printed)
	assert.Equal(t, 2, summary.Dropped)

	require.Len(t, f.reporter.reports, 1)
	report := f.reporter.reports[0]
	assert.Equal(t, "1", report.MessageID)
	assert.Equal(t, "msg 1", report.Subject)
	assert.Equal(t, "alice@example.com", report.Sender)
	require.Len(t, report.Dropped, 2)
	assert.Equal(t, "broken.docx", report.Dropped[0].Filename)
	assert.Contains(t, report.Dropped[0].Reason, "office conversion")
	assert.True(t, strings.HasPrefix(report.Dropped[1].Filename, "jam-"))
	assert.Equal(t, "printer jammed", report.Dropped[1].Reason)

	// The failed print job stays on disk.
	entries, err := os.ReadDir(f.folder)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "jam-"))
}

func TestRunOnce_ReportErrorIsNotFatal(t *testing.T) {
	f := newFixture(t, newMessage("1", attachment("broken.doc", "x")))
	f.reporter.err = errors.New("smtp down")

	summary, err := f.runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dropped)
	assert.Len(t, f.reporter.reports, 1)
}

func TestRunOnce_ConnectionFailureIsFatal(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := newFixture(t)
	f.mailbox.err = &source.ConnectionError{Addr: "imap.example.com:993", Message: "login failed"}
	f.runner.log = zap.New(core)

	summary, err := f.runner.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, source.IsConnectionError(err))
	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.Messages)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.LastRunSuccess))
	assert.Equal(t, 1, logs.FilterMessage("run aborted").Len())
}

func TestRunOnce_Journal(t *testing.T) {
	journal := storetest.NewTestStore(t)
	f := newFixture(t, newMessage("7",
		attachment("a.pdf", "%PDF a"),
		attachment("broken.xlsx", "x"),
		attachment("b.sig", "sig"),
	))
	f.runner.journal = journal

	summary, err := f.runner.RunOnce(context.Background())
	require.NoError(t, err)

	runs, err := journal.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
	assert.Equal(t, 1, runs[0].Messages)
	assert.Equal(t, 1, runs[0].Printed)
	assert.Equal(t, 1, runs[0].Failed)
	assert.NotNil(t, runs[0].FinishedAt)
	assert.Empty(t, runs[0].FatalError)

	convs, err := journal.RunConversions(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	outcomes := map[string]string{}
	for _, c := range convs {
		outcomes[c.Filename] = c.Outcome
	}
	assert.Equal(t, map[string]string{
		"a.pdf":       model.OutcomePassThrough,
		"broken.xlsx": model.OutcomeFailed,
		"b.sig":       model.OutcomeSkipped,
	}, outcomes)

	prints, err := journal.RunPrints(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, prints, 1)
	assert.True(t, prints[0].Success)
	assert.Equal(t, "office", prints[0].Printer)
}

func TestRunOnce_JournalRecordsFatalError(t *testing.T) {
	journal := storetest.NewTestStore(t)
	f := newFixture(t)
	f.runner.journal = journal
	f.mailbox.err = &source.ConnectionError{Addr: "imap.example.com:993", Message: "dial failed"}

	_, err := f.runner.RunOnce(context.Background())
	require.Error(t, err)

	runs, err := journal.RecentRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].FatalError, "dial failed")
}

func TestRunOnce_JournalUnavailableIsNotFatal(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, newMessage("3", attachment("report.pdf", "%PDF-1.7")))
	f.runner.journal = unavailableJournal{store.Discard}
	f.runner.log = zap.New(core)

	summary, err := f.runner.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.mailbox.calls)
	assert.Equal(t, 1, summary.Printed)
	assert.NotEmpty(t, summary.RunID)
	require.Len(t, f.printer.printed, 1)
	assert.True(t, strings.HasPrefix(f.printer.printed[0], "report-"))
	assert.Equal(t, 1, logs.FilterMessage("journal write failed").Len())
}

func TestRunOnce_CreatesFolder(t *testing.T) {
	f := newFixture(t)

	_, err := f.runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.DirExists(t, f.folder)
}

func TestRunOnce_CancelledContext(t *testing.T) {
	f := newFixture(t, newMessage("1", attachment("a.pdf", "%PDF")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.runner.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Empty(t, f.printer.printed)
}

func TestPoll_RepeatsUntilCancelled(t *testing.T) {
	f := newFixture(t)
	f.mailbox.err = &source.ConnectionError{Addr: "imap.example.com:993", Message: "down"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var runs int
	err := f.runner.Poll(ctx, time.Millisecond, func(_ *Summary, err error) {
		runs++
		assert.True(t, source.IsConnectionError(err))
		if runs == 3 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 3, runs)
	assert.Equal(t, 3, f.mailbox.calls)
}

func TestPoll_RejectsBadInterval(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.runner.Poll(context.Background(), 0, nil))
}
