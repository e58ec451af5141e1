// Package postgres implements store.Store on PostgreSQL, for deployments
// where several padawan processes share state.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/store"
)

// Config configures the connection pool.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	// AutoMigrate applies pending migrations on open.
	AutoMigrate bool
}

// Store implements store.Store using PostgreSQL. Subscribers are notified of
// writes made through this Store only.
type Store struct {
	store.Broadcaster
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// New connects to the database and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.AutoMigrate {
		if err := Migrate(cfg.DSN, "up", 0); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	slog.Info("Postgres connected", "maxOpenConns", cfg.MaxOpenConns)
	return &Store{db: db}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type missionRow struct {
	ID        string    `db:"id"`
	Label     string    `db:"label"`
	StartDate time.Time `db:"start_date"`
	ReportID  string    `db:"report_id"`
	Status    string    `db:"status"`
	StepCount int       `db:"step_count"`
}

func (r missionRow) mission() domain.Mission {
	return domain.Mission{ID: r.ID, Label: r.Label, StartDate: r.StartDate.UTC(), ReportID: r.ReportID}
}

type eventRow struct {
	ID        string    `db:"id"`
	MissionID string    `db:"mission_id"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	Details   string    `db:"details"`
}

func (r eventRow) event() domain.MissionEvent {
	return domain.MissionEvent{
		ID:        r.ID,
		MissionID: r.MissionID,
		Status:    domain.Status(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
		Details:   r.Details,
	}
}

type stepRow struct {
	ID            string       `db:"id"`
	MissionID     string       `db:"mission_id"`
	FunctionName  string       `db:"function_name"`
	FunctionArgs  string       `db:"function_args"`
	Observation   string       `db:"observation"`
	ExecutionDate time.Time    `db:"execution_date"`
	EndDate       sql.NullTime `db:"end_date"`
}

type toolRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	API         string `db:"api"`
	Method      string `db:"method"`
	Format      string `db:"format"`
}

type paramRow struct {
	ToolID      string `db:"tool_id"`
	Name        string `db:"name"`
	Type        string `db:"type"`
	Description string `db:"description"`
}

// --- MissionStore ---

func (s *Store) CreateMission(ctx context.Context, m *domain.Mission) error {
	if m.StartDate.IsZero() {
		m.StartDate = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO missions (id, label, start_date, report_id) VALUES ($1, $2, $3, $4)`,
		m.ID, m.Label, m.StartDate, m.ReportID,
	)
	return err
}

func (s *Store) GetMission(ctx context.Context, id string) (*domain.Mission, error) {
	var row missionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, label, start_date, report_id FROM missions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mission %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m := row.mission()
	return &m, nil
}

func (s *Store) ListMissions(ctx context.Context) ([]domain.MissionSummary, error) {
	var rows []missionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT m.id, m.label, m.start_date, m.report_id,
			COALESCE((SELECT e.status FROM mission_events e WHERE e.mission_id = m.id ORDER BY e.seq DESC LIMIT 1), '') AS status,
			(SELECT COUNT(*) FROM mission_steps st WHERE st.mission_id = m.id) AS step_count
		 FROM missions m ORDER BY m.start_date DESC`)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MissionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.MissionSummary{Mission: r.mission(), Status: domain.Status(r.Status), StepCount: r.StepCount})
	}
	return out, nil
}

func (s *Store) SetReport(ctx context.Context, id, reportID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE missions SET report_id = $1 WHERE id = $2`, reportID, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("mission %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteMission(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mission_steps WHERE mission_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mission_events WHERE mission_id = $1`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM missions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("mission %s: %w", id, store.ErrNotFound)
	}
	return tx.Commit()
}

// --- EventStore ---

func (s *Store) AppendEvent(ctx context.Context, ev *domain.MissionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mission_events (id, mission_id, status, created_at, details) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.MissionID, string(ev.Status), ev.CreatedAt, ev.Details,
	)
	if err != nil {
		return err
	}
	s.Notify(ev.MissionID)
	return nil
}

func (s *Store) LatestEvent(ctx context.Context, missionID string) (*domain.MissionEvent, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, mission_id, status, created_at, details FROM mission_events
		 WHERE mission_id = $1 ORDER BY seq DESC LIMIT 1`, missionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("events for mission %s: %w", missionID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	ev := row.event()
	return &ev, nil
}

func (s *Store) ListEvents(ctx context.Context, missionID string) ([]domain.MissionEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, mission_id, status, created_at, details FROM mission_events
		 WHERE mission_id = $1 ORDER BY seq ASC`, missionID)
	if err != nil {
		return nil, err
	}
	events := make([]domain.MissionEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.event())
	}
	return events, nil
}

// --- StepStore ---

func (s *Store) InsertStep(ctx context.Context, step *domain.MissionStep) error {
	args, err := step.FunctionArgs.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding step args: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mission_steps (id, mission_id, function_name, function_args, observation, execution_date, end_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		step.ID, step.MissionID, step.FunctionName, string(args), step.Observation, step.ExecutionDate, step.EndDate,
	)
	if err != nil {
		return err
	}
	s.Notify(step.MissionID)
	return nil
}

func (s *Store) CompleteStep(ctx context.Context, stepID, observation string, end time.Time) error {
	var missionID string
	err := s.db.GetContext(ctx, &missionID,
		`UPDATE mission_steps SET observation = $1, end_date = $2 WHERE id = $3 RETURNING mission_id`,
		observation, end, stepID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("step %s: %w", stepID, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	s.Notify(missionID)
	return nil
}

func (s *Store) ListSteps(ctx context.Context, missionID string) ([]domain.MissionStep, error) {
	var rows []stepRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, mission_id, function_name, function_args, observation, execution_date, end_date
		 FROM mission_steps WHERE mission_id = $1 ORDER BY execution_date ASC, seq ASC`, missionID)
	if err != nil {
		return nil, err
	}
	steps := make([]domain.MissionStep, 0, len(rows))
	for _, r := range rows {
		st := domain.MissionStep{
			ID:            r.ID,
			MissionID:     r.MissionID,
			FunctionName:  r.FunctionName,
			Observation:   r.Observation,
			ExecutionDate: r.ExecutionDate.UTC(),
		}
		if st.FunctionArgs, err = domain.ParseArgs(r.FunctionArgs); err != nil {
			return nil, fmt.Errorf("decoding args of step %s: %w", r.ID, err)
		}
		if r.EndDate.Valid {
			t := r.EndDate.Time.UTC()
			st.EndDate = &t
		}
		steps = append(steps, st)
	}
	return steps, nil
}

// --- ToolCatalog ---

func (s *Store) ListTools(ctx context.Context) ([]domain.Tool, error) {
	var rows []toolRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, name, description, api, method, format FROM tools ORDER BY name ASC`); err != nil {
		return nil, err
	}
	tools := make([]domain.Tool, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, r := range rows {
		index[r.ID] = len(tools)
		tools = append(tools, domain.Tool{
			ID: r.ID, Name: r.Name, Description: r.Description,
			API: r.API, Method: r.Method, Format: r.Format,
		})
	}

	var params []paramRow
	if err := s.db.SelectContext(ctx, &params,
		`SELECT tool_id, name, type, description FROM tool_parameters ORDER BY tool_id, position ASC`); err != nil {
		return nil, err
	}
	for _, p := range params {
		if i, ok := index[p.ToolID]; ok {
			tools[i].Parameters = append(tools[i].Parameters, domain.ToolParameter{
				Name: p.Name, Type: domain.ParamType(p.Type), Description: p.Description,
			})
		}
	}
	return tools, nil
}

func (s *Store) PutTool(ctx context.Context, t *domain.Tool) error {
	t.Name = domain.NormalizeName(t.Name)
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE name = $1 OR id = $2`, t.Name, t.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tools (id, name, description, api, method, format) VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Name, t.Description, t.API, t.Method, t.Format,
	); err != nil {
		return err
	}
	for i, p := range t.Parameters {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tool_parameters (id, tool_id, name, description, type, position) VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New().String(), t.ID, p.Name, p.Description, string(p.Type), i,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteTool(ctx context.Context, name string) error {
	name = domain.NormalizeName(name)
	result, err := s.db.ExecContext(ctx, `DELETE FROM tools WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("tool %s: %w", name, store.ErrNotFound)
	}
	return nil
}

// --- TokenStore ---

func (s *Store) Token(ctx context.Context, domainName string) (string, error) {
	var token string
	err := s.db.GetContext(ctx, &token, `SELECT token FROM tokens WHERE domain = $1`, domainName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("token for %s: %w", domainName, store.ErrNotFound)
	}
	return token, err
}

func (s *Store) PutToken(ctx context.Context, domainName, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, domain, token) VALUES ($1, $2, $3)
		 ON CONFLICT (domain) DO UPDATE SET token = EXCLUDED.token`,
		uuid.New().String(), domainName, token,
	)
	return err
}
