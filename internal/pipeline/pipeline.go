// Package pipeline turns the attachments of a mail message into printable
// files.
package pipeline

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailprint/internal/convert"
	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/source"
)

// Converter produces a PDF for a stored attachment. *convert.Dispatcher
// satisfies it.
type Converter interface {
	Convert(ctx context.Context, storedPath, ext, folder string) (string, error)
}

// Formats answers the extension questions the pipeline asks.
// *convert.Table satisfies it.
type Formats interface {
	Classify(ext string) convert.Strategy
	IsPrintable(ext string) bool
	IsExcluded(ext string) bool
}

// Recorder receives the outcome of every attachment the pipeline handled.
type Recorder interface {
	Record(ctx context.Context, o Outcome)
}

// Outcome describes what happened to one attachment.
type Outcome struct {
	MessageID string
	Filename  string
	Digest    string

	// Strategy is the converter used, or "" when none ran.
	Strategy convert.Strategy

	// Status is one of the model.Outcome* constants.
	Status string

	// Output is the printable file, set when Status is converted or
	// passthrough.
	Output string

	// Err is the failure, set when Status is failed or skipped.
	Err error

	Duration time.Duration
}

// Printable reports whether the attachment produced a file to print.
func (o Outcome) Printable() bool {
	return o.Status == model.OutcomeConverted || o.Status == model.OutcomePassThrough
}

// ErrExcluded marks attachments dropped because of their extension.
var ErrExcluded = errors.New("excluded attachment type")

// Pipeline extracts, stores and converts message attachments.
type Pipeline struct {
	formats  Formats
	conv     Converter
	recorder Recorder
	log      *zap.Logger
}

// New creates a Pipeline. recorder may be nil.
func New(formats Formats, conv Converter, recorder Recorder, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{formats: formats, conv: conv, recorder: recorder, log: log}
}

// ExtractAndConvert returns the printable files of msg in part order.
//
// Work happens lazily as the sequence is ranged over: each eligible part is
// stored, converted if needed and yielded before the next part is looked
// at. Attachments that fail are reported to the Recorder and left out. The
// sequence can be ranged over once; later ranges yield nothing.
func (p *Pipeline) ExtractAndConvert(
	ctx context.Context,
	msg source.Message,
	folder string,
) iter.Seq[string] {
	var used atomic.Bool

	return func(yield func(string) bool) {
		if used.Swap(true) {
			return
		}

		for _, part := range msg.Parts() {
			if ctx.Err() != nil {
				return
			}

			path, ok := p.handle(ctx, msg, part, folder)
			if !ok {
				continue
			}
			if !yield(path) {
				return
			}
		}
	}
}

func (p *Pipeline) handle(
	ctx context.Context,
	msg source.Message,
	part source.Part,
	folder string,
) (string, bool) {
	if !eligible(part) {
		return "", false
	}

	filename := part.Filename()
	if filename == "" {
		p.log.Debug("skipping attachment without filename",
			zap.String("message_id", msg.ID()),
			zap.String("content_type", part.ContentType()),
		)
		return "", false
	}

	ext := extension(filename)
	if p.formats.IsExcluded(ext) {
		p.record(ctx, Outcome{
			MessageID: msg.ID(),
			Filename:  filename,
			Status:    model.OutcomeSkipped,
			Err:       ErrExcluded,
		})
		return "", false
	}

	data, err := part.Decoded()
	if err != nil {
		p.fail(ctx, Outcome{MessageID: msg.ID(), Filename: filename, Err: err})
		return "", false
	}

	if ext == "" {
		ext = inferExtension(data)
		p.log.Debug("inferred attachment extension",
			zap.String("filename", filename),
			zap.String("ext", ext),
		)
	}

	att := model.NewAttachment(msg.ID(), filename, ext, data, folder)
	base := Outcome{MessageID: att.MessageID, Filename: att.Filename, Digest: att.Digest}

	written, err := persist(att)
	if err != nil {
		base.Err = err
		p.fail(ctx, base)
		return "", false
	}
	if !written {
		p.log.Debug("attachment already stored", zap.String("path", att.StoredPath))
	}

	if p.formats.IsPrintable(att.Ext) {
		base.Status = model.OutcomePassThrough
		base.Output = att.StoredPath
		p.record(ctx, base)
		return att.StoredPath, true
	}

	base.Strategy = p.formats.Classify(att.Ext)

	start := time.Now()
	out, err := p.conv.Convert(ctx, att.StoredPath, att.Ext, folder)
	base.Duration = time.Since(start)
	if err != nil {
		base.Err = err
		p.fail(ctx, base)
		return "", false
	}

	base.Status = model.OutcomeConverted
	base.Output = out
	p.record(ctx, base)
	return out, true
}

func (p *Pipeline) fail(ctx context.Context, o Outcome) {
	o.Status = model.OutcomeFailed
	p.log.Warn("dropping attachment",
		zap.String("message_id", o.MessageID),
		zap.String("filename", o.Filename),
		zap.Error(o.Err),
	)
	p.record(ctx, o)
}

func (p *Pipeline) record(ctx context.Context, o Outcome) {
	if p.recorder != nil {
		p.recorder.Record(ctx, o)
	}
}
