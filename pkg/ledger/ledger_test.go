package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/store"
	"github.com/nstogner/padawan/pkg/store/sqlite"
)

func newTestLedger(t *testing.T) (*Ledger, *sqlite.Store) {
	t.Helper()
	s, err := sqlite.New(t.TempDir() + "/ledger.db")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateMission(context.Background(), &domain.Mission{ID: "m-1", Label: "test"}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	return New(s), s
}

func TestAppendCompleteHistory(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	args := domain.Args{{Name: "url", Value: "https://github.com/acme/widgets.git"}}
	id, err := l.Append(ctx, "m-1", "git_clone_repository", args)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	history, err := l.History(ctx, "m-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if h := history[0]; h.ID != id || h.Observation != "" || h.Completed() {
		t.Errorf("step before completion: %+v", h)
	}

	if err := l.Complete(ctx, id, "Cloned."); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	history, _ = l.History(ctx, "m-1")
	h := history[0]
	if h.FunctionName != "git_clone_repository" || h.Observation != "Cloned." || !h.Completed() {
		t.Errorf("step after completion: %+v", h)
	}
	if v, _ := h.FunctionArgs.Get("url"); v != "https://github.com/acme/widgets.git" {
		t.Errorf("url arg = %v", v)
	}
	if h.EndDate.Before(h.ExecutionDate) {
		t.Errorf("end %s before start %s", h.EndDate, h.ExecutionDate)
	}
}

func TestHistoryOrderedByExecutionTime(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	l.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, name := range []string{"first", "second", "third"} {
		if _, err := l.Append(ctx, "m-1", name, nil); err != nil {
			t.Fatalf("Append %s: %v", name, err)
		}
	}
	history, err := l.History(ctx, "m-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	for i, want := range []string{"first", "second", "third"} {
		if history[i].FunctionName != want {
			t.Errorf("history[%d] = %s, want %s", i, history[i].FunctionName, want)
		}
	}
}

func TestCompleteUnknownStep(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.Complete(context.Background(), "nope", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
