package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailprint/internal/model"
)

// Journal records what each run did. It is an audit trail only; nothing
// reads it back to decide what to process.
type Journal interface {
	// StartRun opens a run record and returns it with its ID and start
	// time filled in.
	StartRun(ctx context.Context) (model.RunRecord, error)

	// FinishRun stamps the finish time and stores the final counters.
	FinishRun(ctx context.Context, run model.RunRecord) error

	RecordConversion(ctx context.Context, rec model.ConversionRecord) error
	RecordPrint(ctx context.Context, rec model.PrintRecord) error

	// RecentRuns returns up to limit runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]model.RunRecord, error)

	// RunConversions returns the conversion outcomes of one run in the
	// order they were recorded.
	RunConversions(ctx context.Context, runID string) ([]model.ConversionRecord, error)

	// RunPrints returns the print outcomes of one run in the order they
	// were recorded.
	RunPrints(ctx context.Context, runID string) ([]model.PrintRecord, error)

	Close() error
}

// Discard is a Journal that records nothing. It is used when the journal
// path is empty.
var Discard Journal = discard{}

type discard struct{}

func (discard) StartRun(context.Context) (model.RunRecord, error) {
	return model.RunRecord{ID: uuid.New().String(), StartedAt: time.Now().UTC()}, nil
}

func (discard) FinishRun(context.Context, model.RunRecord) error { return nil }
func (discard) RecordConversion(context.Context, model.ConversionRecord) error { return nil }
func (discard) RecordPrint(context.Context, model.PrintRecord) error { return nil }

func (discard) RecentRuns(context.Context, int) ([]model.RunRecord, error) { return nil, nil }

func (discard) RunConversions(context.Context, string) ([]model.ConversionRecord, error) {
	return nil, nil
}

func (discard) RunPrints(context.Context, string) ([]model.PrintRecord, error) { return nil, nil }

func (discard) Close() error { return nil }
