package store

import (
	"context"
	"errors"
	"time"

	"github.com/nstogner/padawan/pkg/domain"
)

// ErrNotFound is returned (possibly wrapped) when a record does not exist.
var ErrNotFound = errors.New("not found")

// MissionStore manages mission records.
type MissionStore interface {
	// CreateMission persists a new mission. The ID field must be set by the caller.
	// StartDate defaults to now when zero.
	CreateMission(ctx context.Context, m *domain.Mission) error

	// GetMission retrieves a mission by ID.
	// Returns ErrNotFound if the mission does not exist.
	GetMission(ctx context.Context, id string) (*domain.Mission, error)

	// ListMissions returns all missions with their latest status and step
	// count, newest first.
	ListMissions(ctx context.Context) ([]domain.MissionSummary, error)

	// SetReport records the published report reference on the mission.
	SetReport(ctx context.Context, id, reportID string) error

	// DeleteMission removes a mission along with its steps and events.
	DeleteMission(ctx context.Context, id string) error
}

// EventStore manages the append-only mission event log.
type EventStore interface {
	// AppendEvent adds an event. ID and CreatedAt are filled in when empty.
	AppendEvent(ctx context.Context, ev *domain.MissionEvent) error

	// LatestEvent returns the most recent event for the mission.
	// Returns ErrNotFound if the mission has no events.
	LatestEvent(ctx context.Context, missionID string) (*domain.MissionEvent, error)

	// ListEvents returns all events for the mission in chronological order.
	ListEvents(ctx context.Context, missionID string) ([]domain.MissionEvent, error)
}

// StepStore manages the durable record of mission steps.
type StepStore interface {
	// InsertStep persists a new, not yet completed step.
	InsertStep(ctx context.Context, step *domain.MissionStep) error

	// CompleteStep records the observation and end time of a step.
	// Returns ErrNotFound if the step does not exist.
	CompleteStep(ctx context.Context, stepID, observation string, end time.Time) error

	// ListSteps returns the mission's steps ordered by execution time.
	ListSteps(ctx context.Context, missionID string) ([]domain.MissionStep, error)
}

// ToolCatalog is the registry of tools offered to the planner.
type ToolCatalog interface {
	// ListTools returns all registered tools with their parameters, ordered by name.
	ListTools(ctx context.Context) ([]domain.Tool, error)

	// PutTool creates or replaces a tool (matched by normalized name).
	PutTool(ctx context.Context, t *domain.Tool) error

	// DeleteTool removes a tool by name.
	DeleteTool(ctx context.Context, name string) error
}

// TokenStore maps domains to bearer credentials.
type TokenStore interface {
	// Token returns the credential for the domain.
	// Returns ErrNotFound when there is none.
	Token(ctx context.Context, domain string) (string, error)

	// PutToken creates or replaces the credential for a domain.
	PutToken(ctx context.Context, domain, token string) error
}

// Subscriber notifies listeners about mission activity.
type Subscriber interface {
	// Subscribe returns a channel that emits a mission ID whenever an event or
	// step for that mission is written. Slow consumers miss notifications.
	Subscribe() <-chan string

	// Unsubscribe stops notifications on a channel returned by Subscribe.
	Unsubscribe(ch <-chan string)
}

// Store is the full set of persistence capabilities a backend provides.
type Store interface {
	MissionStore
	EventStore
	StepStore
	ToolCatalog
	TokenStore
	Subscriber
	Close() error
}
