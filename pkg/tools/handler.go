package tools

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/invoker"
)

const maxBodyBytes = 1 << 20

// Handler serves the registered tools, one endpoint per tool, scoped to the
// workspace of the mission named in the x-padawan-mission header.
type Handler struct {
	Registry *Registry
	Root     string
}

// Register mounts the tool endpoints on g.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/:name", h.execute)
	g.POST("/:name", h.execute)
}

func (h *Handler) execute(c echo.Context) error {
	t, ok := h.Registry.Get(c.Param("name"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown tool "+c.Param("name"))
	}
	if c.Request().Method != t.Method() {
		return echo.NewHTTPError(http.StatusMethodNotAllowed, t.Name()+" expects "+t.Method())
	}

	ws, err := NewWorkspace(h.Root, c.Request().Header.Get(invoker.MissionHeader))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	args, err := requestArgs(c, t)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := t.Execute(c.Request().Context(), ws, args)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if res["success"] == false {
		slog.Warn("Tool reported failure", "tool", t.Name(), "missionID", ws.MissionID, "result", res)
	}
	return c.JSON(http.StatusOK, res)
}

// requestArgs reads arguments from the query string for GET tools and from a
// JSON object body otherwise.
func requestArgs(c echo.Context, t Tool) (domain.Args, error) {
	if t.Method() == http.MethodGet {
		q := c.QueryParams()
		var args domain.Args
		for _, p := range t.Parameters() {
			if q.Has(p.Name) {
				args = args.Set(p.Name, q.Get(p.Name))
			}
		}
		return args, nil
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return domain.ParseArgs(string(body))
}
