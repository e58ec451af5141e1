package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nstogner/padawan/pkg/controller"
	"github.com/nstogner/padawan/pkg/domain"
	reportbleve "github.com/nstogner/padawan/pkg/report/bleve"
	"github.com/nstogner/padawan/pkg/store"
)

// missionRequest is the body of POST /api/develop and POST /api/missions.
type missionRequest struct {
	MissionID string `json:"mission_id"`
	Owner     string `json:"owner"`
	Repo      string `json:"repo"`
	Issue     int    `json:"issue"`
	Task      string `json:"task"`
	Label     string `json:"label"`
	MaxSteps  int    `json:"max_steps"`
	Model     string `json:"model"`
}

func (r missionRequest) validate() error {
	if r.Task != "" {
		return nil
	}
	if strings.TrimSpace(r.Owner) == "" || strings.TrimSpace(r.Repo) == "" {
		return errors.New("owner and repo are required")
	}
	if r.Issue <= 0 {
		return errors.New("issue must be a positive number")
	}
	return nil
}

func (r missionRequest) controllerRequest() controller.Request {
	return controller.Request{
		MissionID: r.MissionID,
		Owner:     r.Owner,
		Repo:      r.Repo,
		Issue:     r.Issue,
		Task:      r.Task,
		Label:     r.Label,
		MaxSteps:  r.MaxSteps,
		Model:     r.Model,
	}
}

func notFoundOr500(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// --- Missions ---

// handleDevelop accepts the entry contract and runs the mission in the
// background. The mission record is created by the run when missing.
func (s *Server) handleDevelop(c echo.Context) error {
	var req missionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MissionID == "" {
		req.MissionID = uuid.NewString()
	}
	if !s.claim(req.MissionID) {
		return echo.NewHTTPError(http.StatusConflict, "mission "+req.MissionID+" is already running")
	}
	// A run started elsewhere, such as `padawan run`, is only visible in the store.
	if err := s.ensureNotRunning(c, req.MissionID); err != nil {
		s.release(req.MissionID)
		return err
	}

	s.start(req.controllerRequest())
	return c.JSON(http.StatusAccepted, map[string]string{"mission_id": req.MissionID})
}

func (s *Server) ensureNotRunning(c echo.Context, missionID string) error {
	ev, err := s.store.LatestEvent(c.Request().Context(), missionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	case !ev.Status.Terminal():
		return echo.NewHTTPError(http.StatusConflict, "mission "+missionID+" is already running")
	}
	return nil
}

// handleCreateMission creates the mission record up front and starts it.
func (s *Server) handleCreateMission(c echo.Context) error {
	var req missionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MissionID == "" {
		req.MissionID = uuid.NewString()
	}
	if !s.claim(req.MissionID) {
		return echo.NewHTTPError(http.StatusConflict, "mission "+req.MissionID+" already exists")
	}
	if _, err := s.store.GetMission(c.Request().Context(), req.MissionID); err == nil {
		s.release(req.MissionID)
		return echo.NewHTTPError(http.StatusConflict, "mission "+req.MissionID+" already exists")
	}

	cr := req.controllerRequest()
	m := &domain.Mission{ID: req.MissionID, Label: cr.DisplayLabel(), StartDate: time.Now().UTC()}
	if err := s.store.CreateMission(c.Request().Context(), m); err != nil {
		s.release(req.MissionID)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.start(cr)
	return c.JSON(http.StatusCreated, m)
}

func (s *Server) handleListMissions(c echo.Context) error {
	missions, err := s.store.ListMissions(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if missions == nil {
		missions = []domain.MissionSummary{}
	}
	return c.JSON(http.StatusOK, missions)
}

type missionDetail struct {
	Mission *domain.Mission       `json:"mission"`
	Status  domain.Status         `json:"status,omitempty"`
	Events  []domain.MissionEvent `json:"events"`
	Steps   []domain.MissionStep  `json:"steps"`
}

func (s *Server) handleGetMission(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	m, err := s.store.GetMission(ctx, id)
	if err != nil {
		return notFoundOr500(err)
	}
	events, err := s.store.ListEvents(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	steps, err := s.store.ListSteps(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	d := missionDetail{Mission: m, Events: events, Steps: steps}
	if d.Events == nil {
		d.Events = []domain.MissionEvent{}
	}
	if d.Steps == nil {
		d.Steps = []domain.MissionStep{}
	}
	if len(events) > 0 {
		d.Status = events[len(events)-1].Status
	}
	return c.JSON(http.StatusOK, d)
}

// handleStopMission appends a STOP event. The mission stops at the top of its
// next iteration.
func (s *Server) handleStopMission(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := s.store.GetMission(ctx, id); err != nil {
		return notFoundOr500(err)
	}
	latest, err := s.store.LatestEvent(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if latest != nil && latest.Status.Terminal() {
		return echo.NewHTTPError(http.StatusConflict, "mission already ended with status "+string(latest.Status))
	}

	ev := &domain.MissionEvent{MissionID: id, Status: domain.StatusStop}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, ev)
}

func (s *Server) handleDeleteMission(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := s.store.GetMission(ctx, id); err != nil {
		return notFoundOr500(err)
	}
	if err := s.store.DeleteMission(ctx, id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if s.index != nil {
		if err := s.index.Delete(id); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// --- Tools ---

func (s *Server) handleListTools(c echo.Context) error {
	tools, err := s.store.ListTools(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if tools == nil {
		tools = []domain.Tool{}
	}
	return c.JSON(http.StatusOK, map[string]any{"tools": tools})
}

// --- Reports ---

func (s *Server) handleSearchReports(c echo.Context) error {
	if s.index == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "report search disabled")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q required")
	}
	limit := 10
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, 100)
	}

	hits, err := s.index.Search(c.Request().Context(), q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []reportbleve.Hit{}
	}
	return c.JSON(http.StatusOK, map[string]any{"query": q, "hits": hits})
}
