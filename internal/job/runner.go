// Package job runs passes over the mailbox: fetch unread mail, turn
// attachments into printable files and print them.
package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/mailprint/internal/metrics"
	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/notify"
	"github.com/nhle/mailprint/internal/pipeline"
	"github.com/nhle/mailprint/internal/printer"
	"github.com/nhle/mailprint/internal/source"
	"github.com/nhle/mailprint/internal/store"
)

// pushTimeout bounds the metrics push at the end of a run.
const pushTimeout = 10 * time.Second

// Deps are the collaborators of a Runner. Journal, Metrics, Pusher and
// Reporter are optional.
type Deps struct {
	Mailbox   source.Mailbox
	Formats   pipeline.Formats
	Converter pipeline.Converter
	Printer   printer.Printer
	Journal   store.Journal
	Metrics   *metrics.Metrics
	Pusher    *metrics.Pusher
	Reporter  notify.Reporter
	Log       *zap.Logger
}

// Summary is the result of one run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Messages int
	Printed  int

	// Dropped counts attachments that failed to convert or print.
	Dropped int

	// Skipped counts attachments left out because of their type.
	Skipped int
}

// Runner executes mailbox passes. A Runner is not safe for concurrent
// RunOnce calls.
type Runner struct {
	folder   string
	mailbox  source.Mailbox
	printer  printer.Printer
	journal  store.Journal
	metrics  *metrics.Metrics
	pusher   *metrics.Pusher
	reporter notify.Reporter
	pipeline *pipeline.Pipeline
	log      *zap.Logger
	now      func() time.Time

	// per-run state
	run     model.RunRecord
	summary *Summary
	dropped []notify.Dropped
}

// New creates a Runner that stores files in folder.
func New(folder string, d Deps) *Runner {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	journal := d.Journal
	if journal == nil {
		journal = store.Discard
	}
	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}

	r := &Runner{
		folder:   folder,
		mailbox:  d.Mailbox,
		printer:  d.Printer,
		journal:  journal,
		metrics:  m,
		pusher:   d.Pusher,
		reporter: d.Reporter,
		log:      log.Named("job"),
		now:      time.Now,
	}
	r.pipeline = pipeline.New(d.Formats, d.Converter, r, log.Named("pipeline"))
	return r
}

// RunOnce performs one pass over the mailbox. The returned error is
// non-nil only when the run could not proceed, such as when the mailbox
// is unreachable; failures of single attachments or print jobs are
// logged, journaled and counted instead.
func (r *Runner) RunOnce(ctx context.Context) (*Summary, error) {
	if err := os.MkdirAll(r.folder, 0o755); err != nil {
		return nil, fmt.Errorf("creating download folder %s: %w", r.folder, err)
	}

	run, err := r.journal.StartRun(ctx)
	if err != nil {
		r.log.Warn("journal write failed", zap.Error(err))
		run = model.RunRecord{ID: uuid.NewString(), StartedAt: r.now()}
	}
	r.run = run
	r.summary = &Summary{RunID: run.ID, StartedAt: run.StartedAt}
	defer func() { r.summary = nil }()

	r.log.Info("run started", zap.String("run_id", run.ID), zap.String("folder", r.folder))

	messages, err := r.mailbox.FetchUnread(ctx)
	if err != nil {
		r.run.FatalError = err.Error()
		summary := r.finish(ctx, false)
		return summary, fmt.Errorf("fetching unread messages: %w", err)
	}

	r.metrics.Messages.Add(float64(len(messages)))
	r.summary.Messages = len(messages)

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		r.processMessage(ctx, msg)
	}

	summary := r.finish(ctx, true)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (r *Runner) processMessage(ctx context.Context, msg source.Message) {
	r.dropped = r.dropped[:0]

	log := r.log.With(zap.String("message_id", msg.ID()))
	log.Debug("processing message", zap.String("subject", msg.Subject()))

	for path := range r.pipeline.ExtractAndConvert(ctx, msg, r.folder) {
		r.print(ctx, path)
	}

	if len(r.dropped) == 0 || r.reporter == nil {
		return
	}

	err := r.reporter.Report(ctx, notify.Failure{
		MessageID: msg.ID(),
		Subject:   msg.Subject(),
		Sender:    msg.From(),
		Dropped:   append([]notify.Dropped(nil), r.dropped...),
	})
	if err != nil {
		log.Warn("failure report not sent", zap.Error(err))
	}
}

func (r *Runner) print(ctx context.Context, path string) {
	err := r.printer.Print(ctx, path)

	rec := model.PrintRecord{
		RunID:   r.run.ID,
		Path:    path,
		Printer: r.printer.Name(),
		Success: err == nil,
	}
	if err != nil {
		rec.Reason = err.Error()
		r.summary.Dropped++
		r.dropped = append(r.dropped, notify.Dropped{Filename: filepath.Base(path), Reason: err.Error()})
		r.log.Warn("print failed", zap.String("path", path), zap.Error(err))
	} else {
		r.summary.Printed++
	}

	r.metrics.ObservePrint(err == nil)
	if jerr := r.journal.RecordPrint(ctx, rec); jerr != nil {
		r.log.Warn("journal write failed", zap.Error(jerr))
	}
}

// Record implements pipeline.Recorder.
func (r *Runner) Record(ctx context.Context, o pipeline.Outcome) {
	rec := model.ConversionRecord{
		RunID:     r.run.ID,
		MessageID: o.MessageID,
		Filename:  o.Filename,
		Digest:    o.Digest,
		Strategy:  string(o.Strategy),
		Outcome:   o.Status,
		Output:    o.Output,
		Duration:  o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		rec.Reason = o.Err.Error()
	}

	switch o.Status {
	case model.OutcomeFailed:
		if r.summary != nil {
			r.summary.Dropped++
		}
		r.dropped = append(r.dropped, notify.Dropped{Filename: o.Filename, Reason: rec.Reason})
	case model.OutcomeSkipped:
		if r.summary != nil {
			r.summary.Skipped++
		}
	}

	r.metrics.ObserveAttachment(string(o.Strategy), o.Status, o.Duration)
	if err := r.journal.RecordConversion(ctx, rec); err != nil {
		r.log.Warn("journal write failed", zap.Error(err))
	}
}

func (r *Runner) finish(ctx context.Context, reached bool) *Summary {
	finished := r.now()
	summary := *r.summary
	summary.FinishedAt = finished

	r.run.FinishedAt = &finished
	r.run.Messages = summary.Messages
	r.run.Printed = summary.Printed
	r.run.Failed = summary.Dropped

	// The run record and metrics are written even when ctx was cancelled.
	bg := context.WithoutCancel(ctx)
	if err := r.journal.FinishRun(bg, r.run); err != nil {
		r.log.Warn("journal write failed", zap.Error(err))
	}

	r.metrics.FinishRun(reached, finished)
	pushCtx, cancel := context.WithTimeout(bg, pushTimeout)
	defer cancel()
	if err := r.pusher.Push(pushCtx); err != nil {
		r.log.Warn("metrics push failed", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.Int("messages", summary.Messages),
		zap.Int("printed", summary.Printed),
		zap.Int("dropped", summary.Dropped),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("elapsed", finished.Sub(summary.StartedAt)),
	}
	if r.run.FatalError != "" {
		r.log.Error("run aborted", append(fields, zap.String("error", r.run.FatalError))...)
	} else {
		r.log.Info("run finished", fields...)
	}
	return &summary
}

// Poll runs RunOnce immediately and then every interval until ctx is done.
// A failed run is logged and retried on the next tick. onResult, when
// non-nil, observes every run.
func (r *Runner) Poll(
	ctx context.Context,
	interval time.Duration,
	onResult func(*Summary, error),
) error {
	if interval <= 0 {
		return errors.New("poll interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		summary, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Error("run failed", zap.Error(err))
		}
		if onResult != nil {
			onResult(summary, err)
		}
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
