package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/nstogner/padawan/pkg/controller"
	"github.com/nstogner/padawan/pkg/report"
	"github.com/nstogner/padawan/pkg/tools"
)

func runCmd(load loader) *cobra.Command {
	var (
		req       controller.Request
		localAPI  bool
		logFormat string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single mission in the foreground and print its report",
		Example: `  padawan run --owner acme --repo widgets --issue 7
  padawan run --task "Summarize the README of acme/widgets" --max-steps 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Task == "" && (req.Owner == "" || req.Repo == "" || req.Issue <= 0) {
				return errors.New("either --task or all of --owner, --repo and --issue are required")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}
			setupLogging(cfg.Log, os.Stderr)
			ctx := cmd.Context()

			var padawanAPI string
			if localAPI {
				url, shutdown, err := serveLocalTools(cfg.Workspace.Root)
				if err != nil {
					return err
				}
				defer shutdown()
				padawanAPI = url
			}

			rt, err := newRuntime(ctx, cfg, padawanAPI)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := registerBuiltinTools(ctx, rt.store, tools.DefaultRegistry()); err != nil {
				return err
			}

			if req.MissionID == "" {
				req.MissionID = uuid.NewString()
			}
			if req.MaxSteps <= 0 {
				req.MaxSteps = cfg.Mission.DefaultMaxSteps
			}
			if req.Model == "" {
				req.Model = cfg.LLM.Model
			}
			slog.Info("Running mission", "missionID", req.MissionID, "label", req.DisplayLabel())

			// Interrupts stop the mission; the report is still printed.
			rt.controller.Run(ctx, req)

			m, err := rt.store.GetMission(context.WithoutCancel(ctx), req.MissionID)
			if err != nil {
				return fmt.Errorf("loading mission: %w", err)
			}
			events, err := rt.store.ListEvents(context.WithoutCancel(ctx), req.MissionID)
			if err != nil {
				return fmt.Errorf("loading events: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Render(*m, events))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Owner, "owner", "", "repository owner")
	f.StringVar(&req.Repo, "repo", "", "repository name")
	f.IntVar(&req.Issue, "issue", 0, "issue number")
	f.StringVar(&req.Task, "task", "", "free-form task, replaces the issue prompt")
	f.StringVar(&req.Label, "label", "", "mission label")
	f.StringVar(&req.MissionID, "mission", "", "mission ID (default: a new UUID)")
	f.IntVar(&req.MaxSteps, "max-steps", 0, "maximum number of steps (default: mission.default_max_steps)")
	f.StringVar(&req.Model, "model", "", "model name (default: llm.model)")
	f.BoolVar(&localAPI, "local-tools", true, "serve the built-in tools on a loopback port for this run")
	f.StringVar(&logFormat, "log-format", "", "log format: text or json")
	return cmd
}

// serveLocalTools serves the built-in tools on a random loopback port and
// returns the API base URL the invoker should use.
func serveLocalTools(root string) (string, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("listening for local tools: %w", err)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	h := &tools.Handler{Registry: tools.DefaultRegistry(), Root: root}
	h.Register(e.Group("/api/tools"))

	srv := &http.Server{Handler: e, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Local tool server failed", "error", err)
		}
	}()
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return "http://" + ln.Addr().String() + "/api", shutdown, nil
}
