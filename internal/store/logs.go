package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LogType tags an automation log entry with the step that produced it.
type LogType string

const (
	LogManual          LogType = "manual"
	LogChat            LogType = "chat"
	LogDetermineSignal LogType = "determine-signal"
	LogExecuteSignal   LogType = "execute-signal"
)

// AutomationLogEntry records one conversation. AutomationFingerprint and
// SignalID are optional (empty / zero map to NULL).
type AutomationLogEntry struct {
	ID                    int64
	CreatedAt             time.Time
	Type                  LogType
	AutomationFingerprint string
	SignalID              int64
	MessageLog            string
}

// InsertAutomationLog appends one entry and returns its id.
func (s *Store) InsertAutomationLog(ctx context.Context, entry AutomationLogEntry) (int64, error) {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var fp, sid any
	if entry.AutomationFingerprint != "" {
		fp = entry.AutomationFingerprint
	}
	if entry.SignalID != 0 {
		sid = entry.SignalID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_logs (created_at, type, automation_fingerprint, signal_id, message_log)
		VALUES (?, ?, ?, ?, ?)`,
		formatTime(createdAt), string(entry.Type), fp, sid, entry.MessageLog)
	if err != nil {
		return 0, fmt.Errorf("insert automation log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert automation log id: %w", err)
	}
	return id, nil
}

// ListAutomationLogsBefore pages newest-first. A zero before means "from the
// latest".
func (s *Store) ListAutomationLogsBefore(ctx context.Context, before time.Time, limit int) ([]AutomationLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	cutoff := before
	if cutoff.IsZero() {
		cutoff = time.Now().Add(time.Hour)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, type, automation_fingerprint, signal_id, message_log
		FROM automation_logs
		WHERE created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, formatTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("list automation logs: %w", err)
	}
	defer rows.Close()

	var out []AutomationLogEntry
	for rows.Next() {
		var (
			entry     AutomationLogEntry
			createdAt string
			typ       string
			fp        sql.NullString
			sid       sql.NullInt64
		)
		if err := rows.Scan(&entry.ID, &createdAt, &typ, &fp, &sid, &entry.MessageLog); err != nil {
			return nil, fmt.Errorf("scan automation log: %w", err)
		}
		entry.CreatedAt = parseTime(createdAt)
		entry.Type = LogType(typ)
		entry.AutomationFingerprint = fp.String
		entry.SignalID = sid.Int64
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list automation logs: %w", err)
	}
	return out, nil
}

// InsertLog appends one application log row. It satisfies the logging
// sink interface, so failures must not recurse into slog.
func (s *Store) InsertLog(ctx context.Context, level, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (level, created_at, message) VALUES (?, ?, ?)`,
		level, formatTime(time.Now()), message)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}
