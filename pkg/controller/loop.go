package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/planner"
	"github.com/nstogner/padawan/pkg/store"
)

// action is a planner decision resolved against the tool catalog.
type action struct {
	name string
	args domain.Args
	// tool is nil when name is not in the catalog.
	tool *domain.Tool
}

// loop runs iterations until a terminal status is reached or the step budget
// is spent.
func (c *Controller) loop(ctx context.Context, req Request) (domain.Status, string) {
	tools, err := c.tools.ListTools(ctx)
	if err != nil {
		return domain.StatusFailed, fmt.Sprintf("Failed to load the tool catalog: %v", err)
	}
	catalog := make(map[string]*domain.Tool, len(tools))
	for i := range tools {
		catalog[domain.NormalizeName(tools[i].Name)] = &tools[i]
	}
	mc := req.missionContext()

	for iteration := 0; iteration < req.MaxSteps; iteration++ {
		if stopped, err := c.interrupted(ctx, req.MissionID); err != nil {
			return domain.StatusFailed, fmt.Sprintf("Failed to read mission status: %v", err)
		} else if stopped {
			return domain.StatusStopped, DetailInterrupted
		}

		history, err := c.ledger.History(ctx, req.MissionID)
		if err != nil {
			return domain.StatusFailed, err.Error()
		}

		decision, err := c.plan(ctx, mc, tools, history)
		if err != nil {
			var pe *planner.ParseError
			if errors.As(err, &pe) {
				return domain.StatusFailed, fmt.Sprintf("Could not parse the model's function call: %v", err)
			}
			if ctx.Err() != nil {
				return domain.StatusStopped, DetailInterrupted
			}
			return domain.StatusFailed, fmt.Sprintf("Planning failed: %v", err)
		}

		switch d := decision.(type) {
		case planner.Finish:
			if d.Text == "" {
				return domain.StatusFinished, DetailFinished
			}
			return domain.StatusFinished, d.Text
		case planner.Action:
			a := action{name: d.Name, args: d.Args, tool: catalog[domain.NormalizeName(d.Name)]}
			if err := c.act(ctx, req.MissionID, a); err != nil {
				return domain.StatusFailed, err.Error()
			}
		default:
			return domain.StatusFailed, fmt.Sprintf("Planner returned an unexpected decision %T", decision)
		}
	}
	return domain.StatusFinished, DetailMaxSteps
}

// interrupted reports whether the latest event asks the mission to stop.
// Cancellation of ctx counts as an interruption.
func (c *Controller) interrupted(ctx context.Context, missionID string) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}
	ev, err := c.events.LatestEvent(ctx, missionID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ev.Status == domain.StatusStop, nil
}

func (c *Controller) plan(ctx context.Context, mc planner.MissionContext, tools []domain.Tool, history []domain.MissionStep) (planner.Decision, error) {
	ctx, span := c.tracer.Start(ctx, "mission.plan", trace.WithAttributes(
		attribute.Int("mission.history", len(history)),
	))
	defer span.End()

	d, err := c.planner.Plan(ctx, mc, tools, history)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return d, err
}

// act records the step, executes it and records the observation. Tool
// failures become the observation; only ledger failures are returned.
func (c *Controller) act(ctx context.Context, missionID string, a action) error {
	log := slog.With("missionID", missionID, "function", a.name)

	stepID, err := c.ledger.Append(ctx, missionID, a.name, a.args)
	if err != nil {
		return err
	}

	var observation, outcome string
	if a.tool == nil {
		log.Warn("Model called an unsupported function")
		observation, outcome = UnsupportedFunction, "unsupported"
	} else {
		out, err := c.invoke(ctx, missionID, a)
		if err != nil {
			observation, outcome = "Error: "+err.Error(), "error"
		} else {
			observation, outcome = out, "ok"
		}
	}
	c.metrics.ObserveStep(outcome)

	// The tool has run; record its result even if ctx was cancelled meanwhile.
	if err := c.ledger.Complete(context.WithoutCancel(ctx), stepID, observation); err != nil {
		return fmt.Errorf("step %s (%s) ran but its observation could not be recorded: %w", stepID, a.name, err)
	}
	return nil
}

func (c *Controller) invoke(ctx context.Context, missionID string, a action) (string, error) {
	ctx, span := c.tracer.Start(ctx, "mission.invoke", trace.WithAttributes(
		attribute.String("tool.name", a.tool.Name),
	))
	defer span.End()

	out, err := c.invoker.Invoke(ctx, *a.tool, missionID, a.args)
	if err != nil {
		slog.Warn("Tool call failed", "missionID", missionID, "function", a.name, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return out, nil
}
