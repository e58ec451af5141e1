package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nstogner/padawan/pkg/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS origins are enforced on the REST routes only.
	},
}

// liveMessage is pushed to websocket clients for every new event and for
// every step that was added or completed.
type liveMessage struct {
	Type  string               `json:"type"`
	Event *domain.MissionEvent `json:"event,omitempty"`
	Step  *domain.MissionStep  `json:"step,omitempty"`
	Error string               `json:"error,omitempty"`
}

// clientMessage is read from websocket clients. The only action is "stop".
type clientMessage struct {
	Action string `json:"action"`
}

func (s *Server) handleLive(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()
	if _, err := s.store.GetMission(ctx, id); err != nil {
		return notFoundOr500(err)
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return nil
	}
	defer ws.Close()

	done := make(chan struct{})
	updates := s.store.Subscribe()
	defer s.store.Unsubscribe(updates)

	sent := newSentSet()
	if err := s.syncMission(ctx, ws, id, sent); err != nil {
		slog.Error("Failed initial sync", "missionID", id, "error", err)
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(1)

	// Writer loop
	go func() {
		defer wg.Done()
		defer ws.Close()

		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case missionID := <-updates:
				if missionID != id {
					continue
				}
				if err := s.syncMission(ctx, ws, id, sent); err != nil {
					slog.Debug("Live sync ended", "missionID", id, "error", err)
					return
				}
			case <-ticker.C:
				// Also catches notifications dropped for slow consumers.
				if err := s.syncMission(ctx, ws, id, sent); err != nil {
					return
				}
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read error", "missionID", id, "error", err)
			}
			break
		}
		if msg.Action == "stop" {
			ev := &domain.MissionEvent{MissionID: id, Status: domain.StatusStop}
			if err := s.store.AppendEvent(ctx, ev); err != nil {
				slog.Error("Failed to append stop event", "missionID", id, "error", err)
			}
		}
	}

	close(done)
	wg.Wait()
	return nil
}

// sentSet tracks what a client has already received. Steps are sent twice:
// once when appended and once when completed.
type sentSet struct {
	events    map[string]bool
	steps     map[string]bool
	completed map[string]bool
}

func newSentSet() *sentSet {
	return &sentSet{
		events:    make(map[string]bool),
		steps:     make(map[string]bool),
		completed: make(map[string]bool),
	}
}

func (s *Server) syncMission(ctx context.Context, ws *websocket.Conn, missionID string, sent *sentSet) error {
	events, err := s.store.ListEvents(ctx, missionID)
	if err != nil {
		return err
	}
	steps, err := s.store.ListSteps(ctx, missionID)
	if err != nil {
		return err
	}

	for i := range steps {
		st := steps[i]
		if sent.steps[st.ID] && (sent.completed[st.ID] || !st.Completed()) {
			continue
		}
		if err := ws.WriteJSON(liveMessage{Type: "step", Step: &st}); err != nil {
			return err
		}
		sent.steps[st.ID] = true
		sent.completed[st.ID] = st.Completed()
	}
	for i := range events {
		ev := events[i]
		if sent.events[ev.ID] {
			continue
		}
		if err := ws.WriteJSON(liveMessage{Type: "event", Event: &ev}); err != nil {
			return err
		}
		sent.events[ev.ID] = true
	}
	return nil
}
