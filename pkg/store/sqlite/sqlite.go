package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/store"
)

// Store implements store.Store using SQLite. It suits a single padawan process.
type Store struct {
	store.Broadcaster
	db *sql.DB
}

// Verify interface compliance at compile time.
var _ store.Store = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS missions (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		start_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		report_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS mission_events (
		id TEXT PRIMARY KEY,
		mission_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		details TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL,
		FOREIGN KEY (mission_id) REFERENCES missions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_events_mission_seq ON mission_events(mission_id, seq);

	CREATE TABLE IF NOT EXISTS mission_steps (
		id TEXT PRIMARY KEY,
		mission_id TEXT NOT NULL,
		function_name TEXT NOT NULL,
		function_args TEXT NOT NULL DEFAULT '{}',
		observation TEXT NOT NULL DEFAULT '',
		execution_date DATETIME NOT NULL,
		end_date DATETIME,
		seq INTEGER NOT NULL,
		FOREIGN KEY (mission_id) REFERENCES missions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_steps_mission_seq ON mission_steps(mission_id, seq);

	CREATE TABLE IF NOT EXISTS tools (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		api TEXT NOT NULL,
		method TEXT NOT NULL,
		format TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS tool_parameters (
		id TEXT PRIMARY KEY,
		tool_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		position INTEGER NOT NULL,
		UNIQUE (tool_id, name),
		FOREIGN KEY (tool_id) REFERENCES tools(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL UNIQUE,
		token TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- MissionStore ---

func (s *Store) CreateMission(ctx context.Context, m *domain.Mission) error {
	if m.StartDate.IsZero() {
		m.StartDate = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO missions (id, label, start_date, report_id) VALUES (?, ?, ?, ?)`,
		m.ID, m.Label, m.StartDate, m.ReportID,
	)
	return err
}

func (s *Store) GetMission(ctx context.Context, id string) (*domain.Mission, error) {
	m := &domain.Mission{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, start_date, report_id FROM missions WHERE id = ?`, id,
	).Scan(&m.ID, &m.Label, &m.StartDate, &m.ReportID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("mission %s: %w", id, store.ErrNotFound)
	}
	return m, err
}

func (s *Store) ListMissions(ctx context.Context) ([]domain.MissionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.label, m.start_date, m.report_id,
			COALESCE((SELECT e.status FROM mission_events e WHERE e.mission_id = m.id ORDER BY e.seq DESC LIMIT 1), ''),
			(SELECT COUNT(*) FROM mission_steps st WHERE st.mission_id = m.id)
		 FROM missions m ORDER BY m.start_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MissionSummary
	for rows.Next() {
		var ms domain.MissionSummary
		if err := rows.Scan(&ms.ID, &ms.Label, &ms.StartDate, &ms.ReportID, &ms.Status, &ms.StepCount); err != nil {
			return nil, err
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

func (s *Store) SetReport(ctx context.Context, id, reportID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE missions SET report_id=? WHERE id=?`, reportID, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("mission %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteMission(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mission_steps WHERE mission_id=?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mission_events WHERE mission_id=?`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM missions WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
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
		`INSERT INTO mission_events (id, mission_id, status, created_at, details, seq)
		 SELECT ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1 FROM mission_events WHERE mission_id = ?`,
		ev.ID, ev.MissionID, ev.Status, ev.CreatedAt, ev.Details, ev.MissionID,
	)
	if err != nil {
		return err
	}
	s.Notify(ev.MissionID)
	return nil
}

func (s *Store) LatestEvent(ctx context.Context, missionID string) (*domain.MissionEvent, error) {
	ev := &domain.MissionEvent{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, mission_id, status, created_at, details FROM mission_events
		 WHERE mission_id = ? ORDER BY seq DESC LIMIT 1`, missionID,
	).Scan(&ev.ID, &ev.MissionID, &ev.Status, &ev.CreatedAt, &ev.Details)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("events for mission %s: %w", missionID, store.ErrNotFound)
	}
	return ev, err
}

func (s *Store) ListEvents(ctx context.Context, missionID string) ([]domain.MissionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mission_id, status, created_at, details FROM mission_events
		 WHERE mission_id = ? ORDER BY seq ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.MissionEvent
	for rows.Next() {
		var ev domain.MissionEvent
		if err := rows.Scan(&ev.ID, &ev.MissionID, &ev.Status, &ev.CreatedAt, &ev.Details); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- StepStore ---

func (s *Store) InsertStep(ctx context.Context, step *domain.MissionStep) error {
	args, err := step.FunctionArgs.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding step args: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mission_steps (id, mission_id, function_name, function_args, observation, execution_date, end_date, seq)
		 SELECT ?, ?, ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1 FROM mission_steps WHERE mission_id = ?`,
		step.ID, step.MissionID, step.FunctionName, string(args), step.Observation,
		step.ExecutionDate, step.EndDate, step.MissionID,
	)
	if err != nil {
		return err
	}
	s.Notify(step.MissionID)
	return nil
}

func (s *Store) CompleteStep(ctx context.Context, stepID, observation string, end time.Time) error {
	var missionID string
	err := s.db.QueryRowContext(ctx,
		`UPDATE mission_steps SET observation=?, end_date=? WHERE id=? RETURNING mission_id`,
		observation, end, stepID,
	).Scan(&missionID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("step %s: %w", stepID, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	s.Notify(missionID)
	return nil
}

func (s *Store) ListSteps(ctx context.Context, missionID string) ([]domain.MissionStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mission_id, function_name, function_args, observation, execution_date, end_date
		 FROM mission_steps WHERE mission_id = ? ORDER BY execution_date ASC, seq ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.MissionStep
	for rows.Next() {
		var (
			st   domain.MissionStep
			args string
			end  sql.NullTime
		)
		if err := rows.Scan(&st.ID, &st.MissionID, &st.FunctionName, &args, &st.Observation, &st.ExecutionDate, &end); err != nil {
			return nil, err
		}
		if st.FunctionArgs, err = domain.ParseArgs(args); err != nil {
			return nil, fmt.Errorf("decoding args of step %s: %w", st.ID, err)
		}
		if end.Valid {
			t := end.Time
			st.EndDate = &t
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// --- ToolCatalog ---

func (s *Store) ListTools(ctx context.Context) ([]domain.Tool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, api, method, format FROM tools ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []domain.Tool
	index := make(map[string]int)
	for rows.Next() {
		var t domain.Tool
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.API, &t.Method, &t.Format); err != nil {
			return nil, err
		}
		index[t.ID] = len(tools)
		tools = append(tools, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := s.db.QueryContext(ctx,
		`SELECT tool_id, name, type, description FROM tool_parameters ORDER BY tool_id, position ASC`)
	if err != nil {
		return nil, err
	}
	defer prows.Close()

	for prows.Next() {
		var (
			toolID string
			p      domain.ToolParameter
		)
		if err := prows.Scan(&toolID, &p.Name, &p.Type, &p.Description); err != nil {
			return nil, err
		}
		if i, ok := index[toolID]; ok {
			tools[i].Parameters = append(tools[i].Parameters, p)
		}
	}
	return tools, prows.Err()
}

func (s *Store) PutTool(ctx context.Context, t *domain.Tool) error {
	t.Name = domain.NormalizeName(t.Name)
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tool_parameters WHERE tool_id IN (SELECT id FROM tools WHERE name=? OR id=?)`, t.Name, t.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE name=? OR id=?`, t.Name, t.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tools (id, name, description, api, method, format) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.API, t.Method, t.Format,
	); err != nil {
		return err
	}
	for i, p := range t.Parameters {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tool_parameters (id, tool_id, name, description, type, position) VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), t.ID, p.Name, p.Description, p.Type, i,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteTool(ctx context.Context, name string) error {
	name = domain.NormalizeName(name)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tool_parameters WHERE tool_id IN (SELECT id FROM tools WHERE name=?)`, name); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE name=?`, name)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("tool %s: %w", name, store.ErrNotFound)
	}
	return tx.Commit()
}

// --- TokenStore ---

func (s *Store) Token(ctx context.Context, domainName string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM tokens WHERE domain=?`, domainName).Scan(&token)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("token for %s: %w", domainName, store.ErrNotFound)
	}
	return token, err
}

func (s *Store) PutToken(ctx context.Context, domainName, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, domain, token) VALUES (?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET token=excluded.token`,
		uuid.New().String(), domainName, token,
	)
	return err
}
