// Package ledger keeps the durable, ordered record of the steps a mission
// has taken. A step is written before its tool runs and completed with the
// observation afterwards, so an interrupted process leaves a visibly
// incomplete step instead of an unrecorded side effect.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/store"
)

// Ledger records mission steps.
type Ledger struct {
	steps store.StepStore
	now   func() time.Time
}

// New creates a Ledger on top of a step store.
func New(steps store.StepStore) *Ledger {
	return &Ledger{
		steps: steps,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Append records a step that is about to execute and returns its ID. The
// observation is empty and the end time unset until Complete is called.
func (l *Ledger) Append(ctx context.Context, missionID, name string, args domain.Args) (string, error) {
	step := &domain.MissionStep{
		ID:            uuid.New().String(),
		MissionID:     missionID,
		FunctionName:  name,
		FunctionArgs:  args,
		ExecutionDate: l.now(),
	}
	if err := l.steps.InsertStep(ctx, step); err != nil {
		return "", fmt.Errorf("appending step %s: %w", name, err)
	}
	return step.ID, nil
}

// Complete stores the observation for a step and marks it finished.
func (l *Ledger) Complete(ctx context.Context, stepID, observation string) error {
	if err := l.steps.CompleteStep(ctx, stepID, observation, l.now()); err != nil {
		return fmt.Errorf("completing step %s: %w", stepID, err)
	}
	return nil
}

// History returns the mission's steps in execution order.
func (l *Ledger) History(ctx context.Context, missionID string) ([]domain.MissionStep, error) {
	steps, err := l.steps.ListSteps(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return steps, nil
}
