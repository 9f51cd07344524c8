package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	// foreign_keys is a per-connection pragma, so it has to ride the DSN.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS raw_events (
			event_id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL UNIQUE,
			ts_unix_ns INTEGER NOT NULL,
			source TEXT NOT NULL,
			type TEXT NOT NULL,
			pid INTEGER NOT NULL,
			tag TEXT NOT NULL,
			payload TEXT NOT NULL,
			event_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_raw_tag_ts ON raw_events(tag, ts_unix_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_raw_type_ts ON raw_events(type, ts_unix_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_raw_pid ON raw_events(pid);`,
		`CREATE TABLE IF NOT EXISTS rpc_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL REFERENCES raw_events(event_id) ON DELETE CASCADE,
			tag TEXT NOT NULL,
			direction TEXT NOT NULL,
			frame TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rpc_tag ON rpc_events(tag, direction);`,
		`CREATE TABLE IF NOT EXISTS file_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL REFERENCES raw_events(event_id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			operation TEXT NOT NULL,
			dest_path TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_file_path ON file_events(path);`,
		`CREATE TABLE IF NOT EXISTS process_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL REFERENCES raw_events(event_id) ON DELETE CASCADE,
			parent_pid INTEGER NOT NULL,
			command_line TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS findings (
			finding_id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES raw_events(message_id) ON DELETE CASCADE,
			engine TEXT NOT NULL,
			severity TEXT NOT NULL,
			score INTEGER NOT NULL,
			category TEXT,
			detail TEXT,
			tag TEXT,
			pid INTEGER,
			deterministic INTEGER NOT NULL,
			ts_unix_ns INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_findings_engine ON findings(engine, severity);`,
		`CREATE INDEX IF NOT EXISTS idx_findings_message ON findings(message_id);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, ev types.Event, msg types.CanonicalMessage) error {
	if ev.ID == "" {
		return fmt.Errorf("event missing id")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO raw_events (event_id, message_id, ts_unix_ns, source, type, pid, tag, payload, event_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, msg.ID, ev.Timestamp.UnixNano(), string(ev.Source), ev.Type, ev.PID, msg.Tag, msg.Payload, string(b),
	); err != nil {
		return fmt.Errorf("insert raw event: %w", err)
	}

	switch ev.Source {
	case types.SourceRPC:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rpc_events (event_id, tag, direction, frame) VALUES (?, ?, ?, ?)`,
			ev.ID, msg.Tag, string(ev.RPC.Direction), string(ev.RPC.Frame),
		); err != nil {
			return fmt.Errorf("insert rpc event: %w", err)
		}
	case types.SourceFile:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO file_events (event_id, path, operation, dest_path) VALUES (?, ?, ?, ?)`,
			ev.ID, ev.File.Path, ev.File.Operation, ev.File.DestPath,
		); err != nil {
			return fmt.Errorf("insert file event: %w", err)
		}
	case types.SourceProcess:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO process_events (event_id, parent_pid, command_line) VALUES (?, ?, ?)`,
			ev.ID, ev.Process.ParentPID, ev.Process.CommandLine,
		); err != nil {
			return fmt.Errorf("insert process event: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) AppendFinding(ctx context.Context, f types.Finding) error {
	if f.ID == "" {
		return fmt.Errorf("finding missing id")
	}
	det := 0
	if f.Deterministic {
		det = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO findings (finding_id, message_id, engine, severity, score, category, detail, tag, pid, deterministic, ts_unix_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.MessageID, f.Engine, f.Severity.String(), f.Score, f.Category, f.Detail, f.Tag, f.PID, det, f.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

// DeleteEvent removes a raw event; derived rpc/file/process rows and
// findings cascade with it.
func (s *Store) DeleteEvent(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM raw_events WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (s *Store) QueryMessages(ctx context.Context, q types.EventQuery) ([]types.CanonicalMessage, error) {
	var (
		where []string
		args  []any
	)
	if q.Tag != "" {
		where = append(where, "tag = ?")
		args = append(args, q.Tag)
	}
	if len(q.Types) > 0 {
		ph := strings.Repeat("?,", len(q.Types))
		where = append(where, "type IN ("+ph[:len(ph)-1]+")")
		for _, t := range q.Types {
			args = append(args, t)
		}
	}
	if q.Since != nil {
		where = append(where, "ts_unix_ns >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if q.Until != nil {
		where = append(where, "ts_unix_ns <= ?")
		args = append(args, q.Until.UnixNano())
	}

	query := `SELECT message_id, source, ts_unix_ns, pid, tag, payload FROM raw_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts_unix_ns"
	if !q.Asc {
		query += " DESC"
	}
	query += limitClause(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []types.CanonicalMessage
	for rows.Next() {
		var (
			m  types.CanonicalMessage
			ns int64
			src string
		)
		if err := rows.Scan(&m.ID, &src, &ns, &m.PID, &m.Tag, &m.Payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Source = types.Source(src)
		m.Timestamp = time.Unix(0, ns).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) QueryFindings(ctx context.Context, q types.EventQuery) ([]types.Finding, error) {
	var (
		where []string
		args  []any
	)
	if q.Tag != "" {
		where = append(where, "tag = ?")
		args = append(args, q.Tag)
	}
	if q.Severity != nil {
		where = append(where, "severity = ?")
		args = append(args, q.Severity.String())
	}
	if q.Since != nil {
		where = append(where, "ts_unix_ns >= ?")
		args = append(args, q.Since.UnixNano())
	}

	query := `SELECT finding_id, message_id, engine, severity, score, category, detail, tag, pid, deterministic, ts_unix_ns FROM findings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts_unix_ns"
	if !q.Asc {
		query += " DESC"
	}
	query += limitClause(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	var out []types.Finding
	for rows.Next() {
		var (
			f   types.Finding
			sev string
			det int
			ns  int64
		)
		if err := rows.Scan(&f.ID, &f.MessageID, &f.Engine, &sev, &f.Score, &f.Category, &f.Detail, &f.Tag, &f.PID, &det, &ns); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Detected = true
		f.Deterministic = det == 1
		f.Timestamp = time.Unix(0, ns).UTC()
		f.Severity, _ = types.ParseSeverity(sev)
		out = append(out, f)
	}
	return out, rows.Err()
}

func limitClause(q types.EventQuery) string {
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	clause := fmt.Sprintf(" LIMIT %d", limit)
	if q.Offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", q.Offset)
	}
	return clause
}
