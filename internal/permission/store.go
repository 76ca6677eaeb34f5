package permission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/etwicaksono/droid-remote/internal/session/store"
)

// Store persists permission rules and the audit trail of permission asks.
type Store struct {
	db *sqlx.DB
	ro *sqlx.DB
}

// NewStore creates the permission store on shared database connections and
// initializes its tables. The sessions table must already exist.
func NewStore(writer, reader *sqlx.DB) (*Store, error) {
	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize permission schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS permission_requests (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			tool_name TEXT NOT NULL DEFAULT '',
			tool_input TEXT,
			message TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL DEFAULT 'pending',
			decided_by TEXT NOT NULL DEFAULT '',
			external_message_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			decided_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_permission_requests_session
			ON permission_requests(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS permission_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tool_name TEXT NOT NULL,
			pattern TEXT NOT NULL,
			rule_type TEXT NOT NULL,
			scope TEXT NOT NULL,
			session_id TEXT REFERENCES sessions(id) ON DELETE CASCADE,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(tool_name, pattern, scope, session_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateRequest writes the audit row for a new permission ask.
func (s *Store) CreateRequest(ctx context.Context, req *Request) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Decision == "" {
		req.Decision = RequestPending
	}
	var toolInput interface{}
	if len(req.ToolInput) > 0 {
		toolInput = string(req.ToolInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_requests (id, session_id, tool_name, tool_input, message, decision, decided_by, external_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.SessionID, req.ToolName, toolInput, req.Message,
		req.Decision, req.DecidedBy, req.ExternalMessageID, req.CreatedAt)
	return err
}

// GetRequest retrieves an audit row by ID.
func (s *Store) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := s.ro.QueryRowContext(ctx, `
		SELECT id, session_id, tool_name, tool_input, message, decision, decided_by, external_message_id, created_at, decided_at
		FROM permission_requests WHERE id = ?
	`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return req, err
}

// ResolveRequest records the decision on an audit row and reports whether
// this call decided it. The first decision wins: a request that is already
// decided keeps its decision and decider, so a surface racing the timeout
// (or another surface) cannot overwrite the audit trail.
func (s *Store) ResolveRequest(ctx context.Context, id, decision, decidedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE permission_requests SET decision = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND decision = ?
	`, decision, decidedBy, time.Now().UTC(), id, RequestPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	if err := s.ro.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM permission_requests WHERE id = ?`, id).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, store.ErrNotFound
	}
	return false, nil
}

// SetExternalMessageID records the bot message carrying the prompt so it can
// be edited in place on resolution.
func (s *Store) SetExternalMessageID(ctx context.Context, id, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE permission_requests SET external_message_id = ? WHERE id = ?
	`, messageID, id)
	return err
}

// ListRequests returns the permission history, optionally filtered by
// session, newest first.
func (s *Store) ListRequests(ctx context.Context, sessionID string, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, tool_name, tool_input, message, decision, decided_by, external_message_id, created_at, decided_at
		FROM permission_requests`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.ro.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reqs []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func scanRequest(row interface{ Scan(...interface{}) error }) (*Request, error) {
	var req Request
	var toolInput sql.NullString
	var decidedAt sql.NullTime
	err := row.Scan(&req.ID, &req.SessionID, &req.ToolName, &toolInput, &req.Message,
		&req.Decision, &req.DecidedBy, &req.ExternalMessageID, &req.CreatedAt, &decidedAt)
	if err != nil {
		return nil, err
	}
	if toolInput.Valid && toolInput.String != "" {
		req.ToolInput = []byte(toolInput.String)
	}
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.Time
	}
	return &req, nil
}

// AddRule stores a reusable decision. A duplicate rule (same tool, pattern,
// scope and session) replaces the old row so the newest-wins tie-break
// favors it. NULL session_ids are distinct under SQLite UNIQUE, so the
// replacement is explicit rather than ON CONFLICT.
func (s *Store) AddRule(ctx context.Context, rule *Rule) error {
	rule.CreatedAt = time.Now().UTC()
	var sessionID interface{}
	if rule.SessionID != "" {
		sessionID = rule.SessionID
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM permission_rules
		WHERE tool_name = ? AND pattern = ? AND scope = ? AND session_id IS ?
	`, rule.ToolName, rule.Pattern, rule.Scope, sessionID)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO permission_rules (tool_name, pattern, rule_type, scope, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rule.ToolName, rule.Pattern, rule.RuleType, rule.Scope, sessionID, rule.CreatedAt)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		rule.ID = id
	}
	return tx.Commit()
}

// ListRules returns the global rules plus the session-scoped rules for the
// given session. An empty session ID returns global rules only.
func (s *Store) ListRules(ctx context.Context, sessionID string) ([]*Rule, error) {
	query := `
		SELECT id, tool_name, pattern, rule_type, scope, session_id, created_at
		FROM permission_rules
		WHERE scope = 'global' OR (scope = 'session' AND session_id = ?)
		ORDER BY created_at, id
	`
	rows, err := s.ro.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rules []*Rule
	for rows.Next() {
		var r Rule
		var sid sql.NullString
		if err := rows.Scan(&r.ID, &r.ToolName, &r.Pattern, &r.RuleType, &r.Scope, &sid, &r.CreatedAt); err != nil {
			return nil, err
		}
		if sid.Valid {
			r.SessionID = sid.String
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

// ListAllRules returns every stored rule.
func (s *Store) ListAllRules(ctx context.Context) ([]*Rule, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT id, tool_name, pattern, rule_type, scope, session_id, created_at
		FROM permission_rules ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rules []*Rule
	for rows.Next() {
		var r Rule
		var sid sql.NullString
		if err := rows.Scan(&r.ID, &r.ToolName, &r.Pattern, &r.RuleType, &r.Scope, &sid, &r.CreatedAt); err != nil {
			return nil, err
		}
		if sid.Valid {
			r.SessionID = sid.String
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

// DeleteRule removes a stored rule by ID.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM permission_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
