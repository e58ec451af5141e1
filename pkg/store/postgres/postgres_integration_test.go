package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/store"
	"github.com/nstogner/padawan/pkg/store/postgres"
)

func setupStore(t *testing.T) (*postgres.Store, string) {
	t.Helper()
	if os.Getenv("PADAWAN_INTEGRATION") != "1" {
		t.Skip("Skipping: PADAWAN_INTEGRATION not set")
	}
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		tcPostgres.WithDatabase("padawan"),
		tcPostgres.WithUsername("padawan"),
		tcPostgres.WithPassword("padawan"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	s, err := postgres.New(ctx, postgres.Config{DSN: dsn, AutoMigrate: true})
	if err != nil {
		t.Fatalf("postgres.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dsn
}

func TestIntegrationMissionLifecycle(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	if err := s.CreateMission(ctx, &domain.Mission{ID: "m1", Label: "acme/widgets#7"}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}

	// Events with identical timestamps must still come back in insertion order.
	at := time.Now().UTC()
	for _, st := range []domain.Status{domain.StatusRunning, domain.StatusStop, domain.StatusStopped} {
		if err := s.AppendEvent(ctx, &domain.MissionEvent{MissionID: "m1", Status: st, CreatedAt: at}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	latest, err := s.LatestEvent(ctx, "m1")
	if err != nil {
		t.Fatalf("LatestEvent: %v", err)
	}
	if latest.Status != domain.StatusStopped {
		t.Errorf("latest status = %s", latest.Status)
	}

	step := &domain.MissionStep{
		ID:            "s1",
		MissionID:     "m1",
		FunctionName:  "github_issue_get",
		FunctionArgs:  domain.Args{{Name: "repo", Value: "widgets"}, {Name: "owner", Value: "acme"}},
		ExecutionDate: at,
	}
	if err := s.InsertStep(ctx, step); err != nil {
		t.Fatalf("InsertStep: %v", err)
	}
	if err := s.CompleteStep(ctx, "s1", "issue body", at.Add(time.Second)); err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}
	steps, err := s.ListSteps(ctx, "m1")
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 1 || steps[0].FunctionArgs.String() != `{"repo":"widgets","owner":"acme"}` || !steps[0].Completed() {
		t.Fatalf("steps = %+v", steps)
	}

	summaries, err := s.ListMissions(ctx)
	if err != nil {
		t.Fatalf("ListMissions: %v", err)
	}
	if len(summaries) != 1 || summaries[0].StepCount != 1 || summaries[0].Status != domain.StatusStopped {
		t.Errorf("summaries = %+v", summaries)
	}

	if err := s.DeleteMission(ctx, "m1"); err != nil {
		t.Fatalf("DeleteMission: %v", err)
	}
	if _, err := s.GetMission(ctx, "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if steps, _ := s.ListSteps(ctx, "m1"); len(steps) != 0 {
		t.Errorf("steps survived delete: %+v", steps)
	}
}

func TestIntegrationToolsAndTokens(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	tool := &domain.Tool{
		Name:   "GitHub Issue Get",
		API:    "https://api.github.com/repos/{owner}/{repo}/issues/{issue_number}",
		Method: "GET",
		Parameters: []domain.ToolParameter{
			{Name: "owner", Type: domain.ParamString},
			{Name: "repo", Type: domain.ParamString},
			{Name: "issue_number", Type: domain.ParamNumber},
		},
	}
	if err := s.PutTool(ctx, tool); err != nil {
		t.Fatalf("PutTool: %v", err)
	}
	tools, err := s.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "github_issue_get" || len(tools[0].Parameters) != 3 || tools[0].Parameters[2].Name != "issue_number" {
		t.Fatalf("tools = %+v", tools)
	}

	if _, err := s.Token(ctx, "api.github.com"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.PutToken(ctx, "api.github.com", "one"); err != nil {
		t.Fatalf("PutToken: %v", err)
	}
	if err := s.PutToken(ctx, "api.github.com", "two"); err != nil {
		t.Fatalf("PutToken: %v", err)
	}
	if tok, err := s.Token(ctx, "api.github.com"); err != nil || tok != "two" {
		t.Errorf("Token = %q, %v", tok, err)
	}

	if err := s.DeleteTool(ctx, "GitHub Issue Get"); err != nil {
		t.Fatalf("DeleteTool: %v", err)
	}
}

func TestIntegrationMigrateDownUp(t *testing.T) {
	_, dsn := setupStore(t)

	if err := postgres.Migrate(dsn, "down", 1); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	if err := postgres.Migrate(dsn, "up", 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	// Applying again is a no-op.
	if err := postgres.Migrate(dsn, "up", 0); err != nil {
		t.Fatalf("migrate up again: %v", err)
	}
}
