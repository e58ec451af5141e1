package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nstogner/padawan/pkg/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	statusStyles = map[domain.Status]lipgloss.Style{
		domain.StatusRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
		domain.StatusStop:     lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		domain.StatusStopped:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		domain.StatusFinished: lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		domain.StatusFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}

	stepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	footerStyle = dimStyle.Padding(0, 1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
)

// liveMessage mirrors the messages pushed by /api/missions/:id/live.
type liveMessage struct {
	Type  string               `json:"type"`
	Event *domain.MissionEvent `json:"event,omitempty"`
	Step  *domain.MissionStep  `json:"step,omitempty"`
	Error string               `json:"error,omitempty"`
}

type liveMsg liveMessage
type connClosedMsg struct{ err error }
type errMsg struct{ err error }

func watchCmd(load loader) *cobra.Command {
	var (
		serverURL string
		logFile   string
	)
	cmd := &cobra.Command{
		Use:   "watch <mission-id>",
		Short: "Follow a mission live in the terminal",
		Long:  "Connects to a running padawan server and shows steps and status changes as they happen. Press s to stop the mission, q to quit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			// The terminal belongs to the UI, so logs go to a file.
			f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			defer f.Close()
			setupLogging(cfg.Log, f)

			if serverURL == "" {
				serverURL = "http://" + dialAddr(cfg.Server.Addr)
			}
			liveURL, err := liveEndpoint(serverURL, args[0])
			if err != nil {
				return err
			}
			slog.Info("Connecting", "url", liveURL)
			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), liveURL, nil)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", liveURL, err)
			}
			defer conn.Close()

			updates := make(chan tea.Msg, 16)
			go readLive(conn, updates)

			p := tea.NewProgram(newWatchModel(args[0], conn, updates), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = p.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (default derived from server.addr)")
	cmd.Flags().StringVar(&logFile, "log-file", "padawan-watch.log", "file receiving logs while the UI runs")
	return cmd
}

// dialAddr turns a listen address such as ":8080" into one a client can dial.
func dialAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func liveEndpoint(serverURL, missionID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url %q", serverURL)
	}
	base, rawBase := strings.TrimSuffix(u.Path, "/"), strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = base + "/api/missions/" + missionID + "/live"
	u.RawPath = rawBase + "/api/missions/" + url.PathEscape(missionID) + "/live"
	return u.String(), nil
}

func readLive(conn *websocket.Conn, out chan<- tea.Msg) {
	defer close(out)
	for {
		var msg liveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			out <- connClosedMsg{err}
			return
		}
		out <- liveMsg(msg)
	}
}

func waitForLive(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

type watchModel struct {
	missionID string
	conn      *websocket.Conn
	updates   <-chan tea.Msg

	steps     []domain.MissionStep
	stepIndex map[string]int
	events    []domain.MissionEvent
	closed    bool
	err       error

	width    int
	height   int
	viewport viewport.Model
	renderer *glamour.TermRenderer
}

func newWatchModel(missionID string, conn *websocket.Conn, updates <-chan tea.Msg) watchModel {
	vp := viewport.New(80, 20)
	vp.SetContent("Waiting for mission updates...")
	return watchModel{
		missionID: missionID,
		conn:      conn,
		updates:   updates,
		stepIndex: make(map[string]int),
		viewport:  vp,
		renderer:  newRenderer(80),
	}
}

// newRenderer uses a fixed style to avoid terminal queries leaking into input.
func newRenderer(width int) *glamour.TermRenderer {
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		slog.Warn("Markdown renderer unavailable", "error", err)
		return nil
	}
	return r
}

func (m watchModel) Init() tea.Cmd {
	return waitForLive(m.updates)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4 // title, status and footer
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.renderer = newRenderer(msg.Width - 4)
		m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			_ = m.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return m, tea.Quit
		case "s":
			if m.closed || m.status().Terminal() {
				return m, nil
			}
			cmds = append(cmds, m.sendStop())
		}

	case liveMsg:
		if msg.Error != "" {
			m.err = errors.New(msg.Error)
		}
		switch {
		case msg.Step != nil:
			if i, ok := m.stepIndex[msg.Step.ID]; ok {
				m.steps[i] = *msg.Step
			} else {
				m.stepIndex[msg.Step.ID] = len(m.steps)
				m.steps = append(m.steps, *msg.Step)
			}
		case msg.Event != nil:
			m.events = append(m.events, *msg.Event)
		}
		m.refresh()
		cmds = append(cmds, waitForLive(m.updates))

	case connClosedMsg:
		slog.Debug("Live connection closed", "error", msg.err)
		m.closed = true
		if msg.err != nil && !m.status().Terminal() {
			m.err = msg.err
		}

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m watchModel) sendStop() tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		if err := conn.WriteJSON(map[string]string{"action": "stop"}); err != nil {
			return errMsg{fmt.Errorf("sending stop: %w", err)}
		}
		slog.Info("Stop requested")
		return nil
	}
}

func (m watchModel) status() domain.Status {
	if len(m.events) == 0 {
		return ""
	}
	return m.events[len(m.events)-1].Status
}

func (m *watchModel) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.render())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m watchModel) render() string {
	var sb strings.Builder
	ei := 0
	// Events and steps are interleaved by time.
	for i, st := range m.steps {
		for ei < len(m.events) && !m.events[ei].CreatedAt.After(st.ExecutionDate) {
			sb.WriteString(renderEvent(m.events[ei]))
			ei++
		}
		sb.WriteString(m.renderStep(i+1, st))
	}
	for ; ei < len(m.events); ei++ {
		sb.WriteString(renderEvent(m.events[ei]))
	}
	return sb.String()
}

func renderEvent(ev domain.MissionEvent) string {
	style, ok := statusStyles[ev.Status]
	if !ok {
		style = dimStyle
	}
	line := dimStyle.Render(ev.CreatedAt.Local().Format(time.TimeOnly)) + " " + style.Render(string(ev.Status))
	if ev.Details != "" {
		line += " " + ev.Details
	}
	return line + "\n"
}

func (m watchModel) renderStep(n int, st domain.MissionStep) string {
	var sb strings.Builder
	sb.WriteString(stepStyle.Render(fmt.Sprintf("Step %d: %s", n, st.FunctionName)))
	sb.WriteString(" " + dimStyle.Render(st.FunctionArgs.String()) + "\n")
	if !st.Completed() {
		sb.WriteString(dimStyle.Render("  running...") + "\n")
		return sb.String()
	}
	sb.WriteString(m.renderObservation(st.Observation))
	return sb.String()
}

func (m watchModel) renderObservation(obs string) string {
	md := obs
	if json.Valid([]byte(obs)) {
		md = "```json\n" + obs + "\n```"
	}
	if m.renderer == nil {
		return obs + "\n"
	}
	out, err := m.renderer.Render(md)
	if err != nil {
		return obs + "\n"
	}
	return out
}

func (m watchModel) View() string {
	status := m.status()
	statusView := dimStyle.Render("waiting")
	if style, ok := statusStyles[status]; ok {
		statusView = style.Render(string(status))
	}
	header := titleStyle.Render("Mission "+m.missionID) + " " + statusView

	footer := "s: stop mission • q: quit • ↑/↓: scroll"
	if m.closed {
		footer = "connection closed • q: quit"
	}

	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		m.viewport.View(),
		errorView,
		footerStyle.Render(footer),
	)
}
