// Package report renders the narrative of a finished mission and publishes
// it to a document index.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/store"
)

// Document is a rendered report ready for indexing.
type Document struct {
	// MissionID is the external key of the document.
	MissionID string
	Label     string
	Text      string
}

// Publisher stores documents in an index and returns a reference to them.
type Publisher interface {
	Publish(ctx context.Context, doc Document) (string, error)
}

// Render produces the plain-text report: the mission label and id followed
// by every event in chronological order.
func Render(m domain.Mission, events []domain.MissionEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mission: %s\nMission ID: %s\nEvent Log:", m.Label, m.ID)
	for _, ev := range events {
		fmt.Fprintf(&b, "\n- [%s] - %s", ev.Status, ev.Details)
	}
	return b.String()
}

// Generator renders and publishes mission reports.
type Generator struct {
	missions  store.MissionStore
	events    store.EventStore
	publisher Publisher
}

// NewGenerator creates a Generator. A nil publisher disables publishing.
func NewGenerator(missions store.MissionStore, events store.EventStore, publisher Publisher) *Generator {
	return &Generator{missions: missions, events: events, publisher: publisher}
}

// Generate renders the report of a mission, publishes it, and records the
// returned reference on the mission. It returns the reference.
func (g *Generator) Generate(ctx context.Context, missionID string) (string, error) {
	if g.publisher == nil {
		slog.Debug("Report publishing disabled", "missionID", missionID)
		return "", nil
	}

	m, err := g.missions.GetMission(ctx, missionID)
	if err != nil {
		return "", fmt.Errorf("loading mission: %w", err)
	}
	events, err := g.events.ListEvents(ctx, missionID)
	if err != nil {
		return "", fmt.Errorf("loading events: %w", err)
	}

	ref, err := g.publisher.Publish(ctx, Document{
		MissionID: m.ID,
		Label:     m.Label,
		Text:      Render(*m, events),
	})
	if err != nil {
		return "", fmt.Errorf("publishing report: %w", err)
	}
	if err := g.missions.SetReport(ctx, missionID, ref); err != nil {
		return ref, fmt.Errorf("recording report reference: %w", err)
	}

	slog.Info("Published mission report", "missionID", missionID, "reportID", ref)
	return ref, nil
}
