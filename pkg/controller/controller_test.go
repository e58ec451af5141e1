package controller

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nstogner/padawan/pkg/caller"
	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/ledger"
	"github.com/nstogner/padawan/pkg/planner"
	"github.com/nstogner/padawan/pkg/store/sqlite"
)

// scriptedPlanner returns its decisions in order, then Finish.
type scriptedPlanner struct {
	decisions []planner.Decision
	errs      []error
	calls     int
	histories [][]domain.MissionStep
}

func (p *scriptedPlanner) Plan(_ context.Context, _ planner.MissionContext, _ []domain.Tool, history []domain.MissionStep) (planner.Decision, error) {
	i := p.calls
	p.calls++
	p.histories = append(p.histories, history)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.decisions) {
		return p.decisions[i], nil
	}
	return planner.Finish{Text: "done"}, nil
}

// repeatPlanner always returns the same action.
type repeatPlanner struct {
	action planner.Action
	calls  int
}

func (p *repeatPlanner) Plan(context.Context, planner.MissionContext, []domain.Tool, []domain.MissionStep) (planner.Decision, error) {
	p.calls++
	return p.action, nil
}

type fakeInvoker struct {
	calls  int
	err    error
	onCall func()
}

func (f *fakeInvoker) Invoke(_ context.Context, t domain.Tool, missionID string, args domain.Args) (string, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return "", f.err
	}
	return "ok from " + t.Name, nil
}

type fakeReporter struct {
	missions []string
}

func (f *fakeReporter) Generate(_ context.Context, missionID string) (string, error) {
	f.missions = append(f.missions, missionID)
	return "doc-" + missionID, nil
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	err = s.PutTool(context.Background(), &domain.Tool{
		Name:       "FS Read File",
		API:        "{padawan_api}/tools/fs_read_file",
		Method:     "GET",
		Parameters: []domain.ToolParameter{{Name: "filename", Type: domain.ParamString}},
	})
	if err != nil {
		t.Fatalf("PutTool: %v", err)
	}
	return s
}

func readFile(name string) planner.Action {
	return planner.Action{Name: "fs_read_file", Args: domain.Args{{Name: "filename", Value: name}}}
}

type harness struct {
	store    *sqlite.Store
	invoker  *fakeInvoker
	reporter *fakeReporter
}

func newHarness(t *testing.T) *harness {
	return &harness{store: newTestStore(t), invoker: &fakeInvoker{}, reporter: &fakeReporter{}}
}

func (h *harness) controller(p Planner) *Controller {
	return New(h.store, h.store, h.store, ledger.New(h.store), p, h.invoker, h.reporter)
}

func (h *harness) events(t *testing.T, missionID string) []domain.MissionEvent {
	t.Helper()
	evs, err := h.store.ListEvents(context.Background(), missionID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	return evs
}

func (h *harness) steps(t *testing.T, missionID string) []domain.MissionStep {
	t.Helper()
	steps, err := h.store.ListSteps(context.Background(), missionID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	return steps
}

func terminal(t *testing.T, evs []domain.MissionEvent) domain.MissionEvent {
	t.Helper()
	var found []domain.MissionEvent
	for _, ev := range evs {
		if ev.Status.Terminal() {
			found = append(found, ev)
		}
	}
	if len(found) != 1 {
		t.Fatalf("expected exactly one terminal event, got %+v", evs)
	}
	return found[0]
}

func TestRunMaxSteps(t *testing.T) {
	h := newHarness(t)
	p := &repeatPlanner{action: readFile("go.mod")}

	h.controller(p).Run(context.Background(), Request{MissionID: "m1", Owner: "acme", Repo: "widgets", Issue: 7, MaxSteps: 3})

	steps := h.steps(t, "m1")
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(steps))
	}
	for _, s := range steps {
		if !s.Completed() || s.Observation != "ok from fs_read_file" {
			t.Errorf("unexpected step %+v", s)
		}
	}
	if p.calls != 3 || h.invoker.calls != 3 {
		t.Errorf("planner calls=%d invoker calls=%d, want 3/3", p.calls, h.invoker.calls)
	}

	evs := h.events(t, "m1")
	if evs[0].Status != domain.StatusRunning || evs[0].Details != DetailStarted {
		t.Errorf("first event = %+v", evs[0])
	}
	last := terminal(t, evs)
	if last.Status != domain.StatusFinished || last.Details != DetailMaxSteps {
		t.Errorf("terminal event = %+v", last)
	}

	m, err := h.store.GetMission(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMission: %v", err)
	}
	if m.Label != "acme/widgets#7" {
		t.Errorf("label = %q", m.Label)
	}
	if len(h.reporter.missions) != 1 {
		t.Errorf("report generated %d times", len(h.reporter.missions))
	}
}

func TestRunDefaultMaxSteps(t *testing.T) {
	h := newHarness(t)
	p := &repeatPlanner{action: readFile("go.mod")}

	h.controller(p).Run(context.Background(), Request{MissionID: "m1"})

	if got := len(h.steps(t, "m1")); got != DefaultMaxSteps {
		t.Errorf("got %d steps, want %d", got, DefaultMaxSteps)
	}
}

func TestRunUnknownTool(t *testing.T) {
	h := newHarness(t)
	p := &scriptedPlanner{decisions: []planner.Decision{
		planner.Action{Name: "delete_universe"},
	}}

	h.controller(p).Run(context.Background(), Request{MissionID: "m1", MaxSteps: 5})

	steps := h.steps(t, "m1")
	if len(steps) != 1 {
		t.Fatalf("got %d steps, want 1", len(steps))
	}
	if steps[0].FunctionName != "delete_universe" || steps[0].Observation != UnsupportedFunction {
		t.Errorf("step = %+v", steps[0])
	}
	if h.invoker.calls != 0 {
		t.Errorf("invoker called %d times", h.invoker.calls)
	}
	if p.calls != 2 || len(p.histories[1]) != 1 {
		t.Errorf("second plan did not see the unsupported step: calls=%d", p.calls)
	}
	last := terminal(t, h.events(t, "m1"))
	if last.Status != domain.StatusFinished || last.Details != "done" {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestRunStopSignal(t *testing.T) {
	h := newHarness(t)
	p := &repeatPlanner{action: readFile("go.mod")}
	h.invoker.onCall = func() {
		// An external actor requests a stop while the first tool call runs.
		err := h.store.AppendEvent(context.Background(), &domain.MissionEvent{MissionID: "m1", Status: domain.StatusStop})
		if err != nil {
			t.Errorf("AppendEvent: %v", err)
		}
	}

	h.controller(p).Run(context.Background(), Request{MissionID: "m1", MaxSteps: 5})

	if p.calls != 1 || h.invoker.calls != 1 {
		t.Errorf("planner calls=%d invoker calls=%d, want 1/1", p.calls, h.invoker.calls)
	}
	steps := h.steps(t, "m1")
	if len(steps) != 1 || !steps[0].Completed() {
		t.Fatalf("in-flight step was not completed: %+v", steps)
	}
	last := terminal(t, h.events(t, "m1"))
	if last.Status != domain.StatusStopped || last.Details != DetailInterrupted {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestRunStoppedBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.CreateMission(ctx, &domain.Mission{ID: "m1", Label: "x"}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	if err := h.store.AppendEvent(ctx, &domain.MissionEvent{MissionID: "m1", Status: domain.StatusStop}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	p := &repeatPlanner{action: readFile("go.mod")}

	h.controller(p).Run(ctx, Request{MissionID: "m1"})

	if p.calls != 0 {
		t.Errorf("planner called %d times", p.calls)
	}
	if last := terminal(t, h.events(t, "m1")); last.Status != domain.StatusStopped {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestRunToolErrorContinues(t *testing.T) {
	h := newHarness(t)
	h.invoker.err = errors.New("tool responded with status 500: boom")
	p := &scriptedPlanner{decisions: []planner.Decision{readFile("missing.go"), readFile("main.go")}}

	h.controller(p).Run(context.Background(), Request{MissionID: "m1", MaxSteps: 5})

	steps := h.steps(t, "m1")
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	if steps[0].Observation != "Error: tool responded with status 500: boom" {
		t.Errorf("observation = %q", steps[0].Observation)
	}
	if last := terminal(t, h.events(t, "m1")); last.Status != domain.StatusFinished {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestRunPlannerFailure(t *testing.T) {
	h := newHarness(t)
	p := &scriptedPlanner{errs: []error{&caller.Error{Class: caller.Retryable, Attempts: 7, Err: errors.New("overloaded")}}}

	h.controller(p).Run(context.Background(), Request{MissionID: "m1"})

	last := terminal(t, h.events(t, "m1"))
	if last.Status != domain.StatusFailed || !strings.HasPrefix(last.Details, "Planning failed:") || !strings.Contains(last.Details, "overloaded") {
		t.Errorf("terminal event = %+v", last)
	}
	if len(h.reporter.missions) != 1 {
		t.Error("report not generated for failed mission")
	}
}

func TestRunParseFailure(t *testing.T) {
	h := newHarness(t)
	p := &scriptedPlanner{errs: []error{&planner.ParseError{Err: errors.New("bad arguments")}}}

	h.controller(p).Run(context.Background(), Request{MissionID: "m1"})

	last := terminal(t, h.events(t, "m1"))
	if last.Status != domain.StatusFailed || !strings.HasPrefix(last.Details, "Could not parse") {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestRunFinishWithoutText(t *testing.T) {
	h := newHarness(t)
	p := &scriptedPlanner{decisions: []planner.Decision{planner.Finish{}}}

	h.controller(p).Run(context.Background(), Request{MissionID: "m1"})

	last := terminal(t, h.events(t, "m1"))
	if last.Status != domain.StatusFinished || last.Details != DetailFinished {
		t.Errorf("terminal event = %+v", last)
	}
	if len(h.steps(t, "m1")) != 0 {
		t.Error("finish must not record a step")
	}
}

// failingSteps fails to complete steps.
type failingSteps struct {
	*sqlite.Store
}

func (f failingSteps) CompleteStep(context.Context, string, string, time.Time) error {
	return errors.New("disk full")
}

func TestRunLedgerFailure(t *testing.T) {
	h := newHarness(t)
	p := &repeatPlanner{action: readFile("go.mod")}
	c := New(h.store, h.store, h.store, ledger.New(failingSteps{h.store}), p, h.invoker, h.reporter)

	c.Run(context.Background(), Request{MissionID: "m1", MaxSteps: 3})

	if p.calls != 1 || h.invoker.calls != 1 {
		t.Errorf("planner calls=%d invoker calls=%d, want 1/1", p.calls, h.invoker.calls)
	}
	steps := h.steps(t, "m1")
	if len(steps) != 1 || steps[0].Completed() {
		t.Fatalf("expected one incomplete step, got %+v", steps)
	}
	last := terminal(t, h.events(t, "m1"))
	if last.Status != domain.StatusFailed || !strings.Contains(last.Details, steps[0].ID) {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestRunCancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	p := &repeatPlanner{action: readFile("go.mod")}
	h.invoker.onCall = cancel

	h.controller(p).Run(ctx, Request{MissionID: "m1", MaxSteps: 5})

	if p.calls != 1 {
		t.Errorf("planner calls = %d, want 1", p.calls)
	}
	steps := h.steps(t, "m1")
	if len(steps) != 1 || !steps[0].Completed() {
		t.Fatalf("steps = %+v", steps)
	}
	if last := terminal(t, h.events(t, "m1")); last.Status != domain.StatusStopped {
		t.Errorf("terminal event = %+v", last)
	}
}
