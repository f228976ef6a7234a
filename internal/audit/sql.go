package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLSink appends entries to the audit_log table.
type SQLSink struct {
	db *sql.DB
}

// NewSQLSink creates the audit_log table on db if needed.
func NewSQLSink(db *sql.DB) (*SQLSink, error) {
	s := &SQLSink{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL,
		ip_address TEXT,
		details TEXT NOT NULL DEFAULT '{}',
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_log_resource ON audit_log(resource_type, resource_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

func (s *SQLSink) Record(ctx context.Context, e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	var ip *string
	if e.IPAddress != "" {
		ip = &e.IPAddress
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (action, resource_type, resource_id, actor, ip_address, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Action, e.ResourceType, e.ResourceID, e.Actor, ip, string(details), e.Timestamp.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Recent returns the latest n entries, newest first.
func (s *SQLSink) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT action, resource_type, resource_id, actor, ip_address, details, timestamp
		FROM audit_log ORDER BY id DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			ip      sql.NullString
			details string
			ts      string
		)
		if err := rows.Scan(&e.Action, &e.ResourceType, &e.ResourceID, &e.Actor, &ip, &details, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.IPAddress = ip.String
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("failed to decode audit details: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("failed to parse audit timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return entries, nil
}
