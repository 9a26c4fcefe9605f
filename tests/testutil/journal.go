// Package testutil holds helpers shared by tests that need a real journal.
package testutil

import (
	"context"
	"testing"

	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/store"
)

// NewTestStore opens a migrated in-memory journal that is closed when the
// test ends.
func NewTestStore(t testing.TB) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// SeedRun records a finished run with the given outcomes and returns it.
// The run counters are derived from the records.
func SeedRun(
	t testing.TB,
	j store.Journal,
	convs []model.ConversionRecord,
	prints []model.PrintRecord,
) model.RunRecord {
	t.Helper()
	ctx := context.Background()

	run, err := j.StartRun(ctx)
	if err != nil {
		t.Fatalf("starting run: %v", err)
	}

	messages := make(map[string]bool)
	for _, c := range convs {
		c.RunID = run.ID
		messages[c.MessageID] = true
		if c.Outcome == model.OutcomeFailed {
			run.Failed++
		}
		if err := j.RecordConversion(ctx, c); err != nil {
			t.Fatalf("recording conversion: %v", err)
		}
	}
	for _, p := range prints {
		p.RunID = run.ID
		if p.Success {
			run.Printed++
		} else {
			run.Failed++
		}
		if err := j.RecordPrint(ctx, p); err != nil {
			t.Fatalf("recording print: %v", err)
		}
	}
	run.Messages = len(messages)

	if err := j.FinishRun(ctx, run); err != nil {
		t.Fatalf("finishing run: %v", err)
	}
	return run
}
