package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/ledger"
	"github.com/nstogner/padawan/pkg/planner"
	"github.com/nstogner/padawan/pkg/store"
	"github.com/nstogner/padawan/pkg/telemetry"
)

// DefaultMaxSteps is the step budget used when a request does not set one.
const DefaultMaxSteps = 5

// Event details written by the controller.
const (
	DetailStarted     = "Mission started."
	DetailInterrupted = "Mission stopped due to an interruption signal."
	DetailMaxSteps    = "Stopped due to max iterations."
	DetailFinished    = "Mission finished."
)

// UnsupportedFunction is the observation recorded when the model calls a
// function that is not in the tool catalog.
const UnsupportedFunction = "This is not a supported function. Call one of the declared functions instead."

// Planner chooses the next action of a mission.
type Planner interface {
	Plan(ctx context.Context, mc planner.MissionContext, catalog []domain.Tool, history []domain.MissionStep) (planner.Decision, error)
}

// Invoker executes a tool call.
type Invoker interface {
	Invoke(ctx context.Context, t domain.Tool, missionID string, args domain.Args) (string, error)
}

// Reporter publishes the report of a finished mission.
type Reporter interface {
	Generate(ctx context.Context, missionID string) (string, error)
}

// Request is the entry contract of a mission run.
type Request struct {
	MissionID string
	Owner     string
	Repo      string
	Issue     int
	// Task optionally replaces the default issue-resolution task text.
	Task string
	// Label names a mission created by the run. Defaults to owner/repo#issue.
	Label    string
	MaxSteps int
	Model    string
}

// DisplayLabel is the label of a mission created for the request.
func (r Request) DisplayLabel() string {
	switch {
	case r.Label != "":
		return r.Label
	case r.Owner != "" || r.Repo != "":
		return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Issue)
	default:
		return r.MissionID
	}
}

func (r Request) missionContext() planner.MissionContext {
	return planner.MissionContext{
		MissionID: r.MissionID,
		Owner:     r.Owner,
		Repo:      r.Repo,
		Issue:     r.Issue,
		Task:      r.Task,
		Model:     r.Model,
	}
}

// Controller drives missions through plan, act and observe rounds until they
// reach a terminal status. One Controller serves any number of concurrent
// missions; each Run is sequential.
type Controller struct {
	missions store.MissionStore
	events   store.EventStore
	tools    store.ToolCatalog
	ledger   *ledger.Ledger
	planner  Planner
	invoker  Invoker
	reporter Reporter
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

// Option customizes a Controller.
type Option func(*Controller)

// WithMetrics records step and mission outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a new Controller. reporter may be nil.
func New(
	missions store.MissionStore,
	events store.EventStore,
	tools store.ToolCatalog,
	ledger *ledger.Ledger,
	planner Planner,
	invoker Invoker,
	reporter Reporter,
	opts ...Option,
) *Controller {
	c := &Controller{
		missions: missions,
		events:   events,
		tools:    tools,
		ledger:   ledger,
		planner:  planner,
		invoker:  invoker,
		reporter: reporter,
		tracer:   otel.Tracer("github.com/nstogner/padawan/pkg/controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drives the mission to completion. It never returns an error: the
// outcome is recorded as the mission's terminal event and report.
func (c *Controller) Run(ctx context.Context, req Request) {
	if req.MaxSteps <= 0 {
		req.MaxSteps = DefaultMaxSteps
	}
	ctx, span := c.tracer.Start(ctx, "mission.run", trace.WithAttributes(
		attribute.String("mission.id", req.MissionID),
		attribute.Int("mission.max_steps", req.MaxSteps),
	))
	defer span.End()

	log := slog.With("missionID", req.MissionID)
	log.Info("Starting mission", "label", req.DisplayLabel(), "maxSteps", req.MaxSteps, "model", req.Model)

	if err := c.ensureMission(ctx, req); err != nil {
		// Without a mission record there is nowhere to write events.
		log.Error("Unable to start mission", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.ObserveMission(string(domain.StatusFailed))
		return
	}

	status, detail := c.start(ctx, req)
	if status == domain.StatusRunning {
		status, detail = c.loop(ctx, req)
	}

	span.SetAttributes(attribute.String("mission.status", string(status)))
	if status == domain.StatusFailed {
		span.SetStatus(codes.Error, detail)
	}
	c.finish(ctx, req.MissionID, status, detail)
}

func (c *Controller) ensureMission(ctx context.Context, req Request) error {
	if req.MissionID == "" {
		return errors.New("mission id is required")
	}
	_, err := c.missions.GetMission(ctx, req.MissionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading mission: %w", err)
	}
	if err := c.missions.CreateMission(ctx, &domain.Mission{ID: req.MissionID, Label: req.DisplayLabel()}); err != nil {
		return fmt.Errorf("creating mission: %w", err)
	}
	return nil
}

// start marks the mission as running unless it was stopped before the run
// began.
func (c *Controller) start(ctx context.Context, req Request) (domain.Status, string) {
	if stopped, err := c.interrupted(ctx, req.MissionID); err != nil {
		return domain.StatusFailed, fmt.Sprintf("Failed to read mission status: %v", err)
	} else if stopped {
		return domain.StatusStopped, DetailInterrupted
	}

	err := c.events.AppendEvent(ctx, &domain.MissionEvent{
		MissionID: req.MissionID,
		Status:    domain.StatusRunning,
		Details:   DetailStarted,
	})
	if err != nil {
		return domain.StatusFailed, fmt.Sprintf("Failed to record mission start: %v", err)
	}
	return domain.StatusRunning, ""
}

// finish writes the terminal event and publishes the report. Both happen even
// when ctx has been cancelled.
func (c *Controller) finish(ctx context.Context, missionID string, status domain.Status, detail string) {
	ctx = context.WithoutCancel(ctx)
	log := slog.With("missionID", missionID)

	err := c.events.AppendEvent(ctx, &domain.MissionEvent{
		MissionID: missionID,
		Status:    status,
		Details:   detail,
	})
	if err != nil {
		log.Error("Failed to record terminal event", "status", status, "error", err)
	}
	c.metrics.ObserveMission(string(status))

	if status == domain.StatusFailed {
		log.Error("Mission failed", "detail", detail)
	} else {
		log.Info("Mission ended", "status", status, "detail", detail)
	}

	if c.reporter == nil {
		return
	}
	if _, err := c.reporter.Generate(ctx, missionID); err != nil {
		log.Error("Failed to publish mission report", "error", err)
	}
}
