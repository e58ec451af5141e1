package report_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/report"
	"github.com/nstogner/padawan/pkg/store/sqlite"
)

type fakePublisher struct {
	docs []report.Document
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, doc report.Document) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.docs = append(f.docs, doc)
	return "doc-" + doc.MissionID, nil
}

func TestRender(t *testing.T) {
	got := report.Render(
		domain.Mission{ID: "m1", Label: "acme/widgets#7"},
		[]domain.MissionEvent{
			{Status: domain.StatusRunning, Details: "Mission started."},
			{Status: domain.StatusFinished, Details: "Stopped due to max iterations."},
		},
	)
	want := "Mission: acme/widgets#7\nMission ID: m1\nEvent Log:\n" +
		"- [RUNNING] - Mission started.\n" +
		"- [FINISHED] - Stopped due to max iterations."
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer s.Close()

	if err := s.CreateMission(ctx, &domain.Mission{ID: "m1", Label: "acme/widgets#7"}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	if err := s.AppendEvent(ctx, &domain.MissionEvent{MissionID: "m1", Status: domain.StatusFinished, Details: "done"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	pub := &fakePublisher{}
	ref, err := report.NewGenerator(s, s, pub).Generate(ctx, "m1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if ref != "doc-m1" || len(pub.docs) != 1 {
		t.Fatalf("ref=%q docs=%d", ref, len(pub.docs))
	}

	m, err := s.GetMission(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMission: %v", err)
	}
	if m.ReportID != "doc-m1" {
		t.Errorf("ReportID = %q", m.ReportID)
	}
}

func TestGeneratePublishFailure(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer s.Close()
	if err := s.CreateMission(ctx, &domain.Mission{ID: "m1", Label: "x"}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}

	pub := &fakePublisher{err: errors.New("index down")}
	if _, err := report.NewGenerator(s, s, pub).Generate(ctx, "m1"); err == nil {
		t.Fatal("expected error")
	}
	m, _ := s.GetMission(ctx, "m1")
	if m.ReportID != "" {
		t.Errorf("ReportID = %q, want empty", m.ReportID)
	}
}
