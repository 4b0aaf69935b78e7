package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/quotekit/quotekit/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Definitions ---

func (s *LibSQLStore) PutDecisionGraph(ctx context.Context, g *schema.DecisionGraph) error {
	def, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal decision graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decision_graphs (id, project_id, version, published, definition)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET published=excluded.published, definition=excluded.definition`,
		g.ID, g.ProjectID, g.Version, boolInt(g.Published), string(def),
	)
	return err
}

func (s *LibSQLStore) GetDecisionGraph(ctx context.Context, id string) (*schema.DecisionGraph, error) {
	var def string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM decision_graphs WHERE id = ?`, id,
	).Scan(&def)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("decision graph", id)
	}
	if err != nil {
		return nil, err
	}
	g := &schema.DecisionGraph{}
	if err := json.Unmarshal([]byte(def), g); err != nil {
		return nil, fmt.Errorf("unmarshal decision graph: %w", err)
	}
	return g, nil
}

func (s *LibSQLStore) PutPricingGraph(ctx context.Context, g *schema.PricingGraph) error {
	def, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal pricing graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pricing_graphs (id, project_id, version, published, definition)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET published=excluded.published, definition=excluded.definition`,
		g.ID, g.ProjectID, g.Version, boolInt(g.Published), string(def),
	)
	return err
}

func (s *LibSQLStore) GetPricingGraph(ctx context.Context, id string) (*schema.PricingGraph, error) {
	var def string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM pricing_graphs WHERE id = ?`, id,
	).Scan(&def)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("pricing graph", id)
	}
	if err != nil {
		return nil, err
	}
	g := &schema.PricingGraph{}
	if err := json.Unmarshal([]byte(def), g); err != nil {
		return nil, fmt.Errorf("unmarshal pricing graph: %w", err)
	}
	return g, nil
}

// PutFacts replaces the project's fact definitions in one transaction.
func (s *LibSQLStore) PutFacts(ctx context.Context, projectID string, defs []*schema.FactDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put facts: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("clear facts: %w", err)
	}
	for _, def := range defs {
		payload, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("marshal fact %q: %w", def.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO facts (project_id, name, definition) VALUES (?, ?, ?)`,
			projectID, def.Name, string(payload),
		); err != nil {
			return fmt.Errorf("insert fact %q: %w", def.Name, err)
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) ListFacts(ctx context.Context, projectID string) ([]*schema.FactDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition FROM facts WHERE project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.FactDefinition
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		def := &schema.FactDefinition{}
		if err := json.Unmarshal([]byte(payload), def); err != nil {
			return nil, fmt.Errorf("unmarshal fact: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// PutVariables replaces the project's variables in one transaction.
func (s *LibSQLStore) PutVariables(ctx context.Context, projectID string, vars []*schema.Variable) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put variables: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM variables WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("clear variables: %w", err)
	}
	for _, v := range vars {
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal variable %q: %w", v.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO variables (project_id, name, definition) VALUES (?, ?, ?)`,
			projectID, v.Name, string(payload),
		); err != nil {
			return fmt.Errorf("insert variable %q: %w", v.Name, err)
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) ListVariables(ctx context.Context, projectID string) ([]*schema.Variable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition FROM variables WHERE project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vars []*schema.Variable
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		v := &schema.Variable{}
		if err := json.Unmarshal([]byte(payload), v); err != nil {
			return nil, fmt.Errorf("unmarshal variable: %w", err)
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, r *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, project_id, graph_id, pricing_id, status, current_node_id, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.GraphID, r.PricingID, string(r.Status), r.CurrentNodeID,
		timeOrNow(r.CreatedAt), timeOrNow(r.UpdatedAt), nullTime(r.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	r := &Run{}
	var status string
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, graph_id, pricing_id, status, current_node_id, created_at, updated_at, completed_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.ProjectID, &r.GraphID, &r.PricingID, &status, &r.CurrentNodeID,
		&r.CreatedAt, &r.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	r.Status = schema.RunStatus(status)
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return r, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentNodeID != nil {
		sets = append(sets, "current_node_id = ?")
		args = append(args, *update.CurrentNodeID)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.IdleSince != nil {
		where = append(where, "updated_at < ?")
		args = append(args, *filter.IdleSince)
	}

	query := `SELECT id, project_id, graph_id, pricing_id, status, current_node_id, created_at, updated_at, completed_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r := &Run{}
		var status string
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.GraphID, &r.PricingID, &status,
			&r.CurrentNodeID, &r.CreatedAt, &r.UpdatedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Status = schema.RunStatus(status)
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Reports ---

func (s *LibSQLStore) PutReport(ctx context.Context, runID string, report *schema.EstimateReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (run_id, report, computed_at) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET report=excluded.report, computed_at=excluded.computed_at`,
		runID, string(payload), report.ComputedAt,
	)
	return err
}

func (s *LibSQLStore) GetReport(ctx context.Context, runID string) (*schema.EstimateReport, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM reports WHERE run_id = ?`, runID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("report", runID)
	}
	if err != nil {
		return nil, err
	}
	report := &schema.EstimateReport{}
	if err := json.Unmarshal([]byte(payload), report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return report, nil
}

func (s *LibSQLStore) DeleteReport(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE run_id = ?`, runID)
	return err
}

// --- Helpers ---

func storeNotFound(kind, id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", kind, id)
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(kind, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*LibSQLStore)(nil)
