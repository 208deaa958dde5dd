package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/hearth/internal/signal"
)

// InsertSignal persists sig and returns its row id. CreatedAt is stamped
// here when zero.
func (s *Store) InsertSignal(ctx context.Context, sig signal.Signal) (int64, error) {
	if !signal.ValidType(sig.Type) {
		return 0, fmt.Errorf("insert signal: unknown type %q", sig.Type)
	}
	createdAt := sig.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (automation_fingerprint, type, data, execution_notes, is_dead, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sig.AutomationFingerprint, string(sig.Type), string(sig.Data), sig.ExecutionNotes,
		boolToInt(sig.IsDead), formatTime(createdAt))
	if err != nil {
		return 0, fmt.Errorf("insert signal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert signal id: %w", err)
	}
	s.logger.Debug("signal inserted",
		"id", id, "type", sig.Type, "fingerprint", sig.AutomationFingerprint)
	return id, nil
}

// GetSignal loads one row by id; ErrNotFound when absent.
func (s *Store) GetSignal(ctx context.Context, id int64) (signal.Signal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, automation_fingerprint, type, data, execution_notes, is_dead, created_at
		FROM signals WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return signal.Signal{}, ErrNotFound
	}
	if err != nil {
		return signal.Signal{}, fmt.Errorf("get signal %d: %w", id, err)
	}
	return sig, nil
}

// ListLiveSignals returns every row with is_dead = 0, oldest first.
func (s *Store) ListLiveSignals(ctx context.Context) ([]signal.Signal, error) {
	return s.listSignals(ctx, `
		SELECT id, automation_fingerprint, type, data, execution_notes, is_dead, created_at
		FROM signals WHERE is_dead = 0 ORDER BY id`)
}

// ListSignalsByFingerprint returns every live row for one automation.
func (s *Store) ListSignalsByFingerprint(ctx context.Context, fingerprint string) ([]signal.Signal, error) {
	return s.listSignals(ctx, `
		SELECT id, automation_fingerprint, type, data, execution_notes, is_dead, created_at
		FROM signals WHERE automation_fingerprint = ? AND is_dead = 0 ORDER BY id`, fingerprint)
}

func (s *Store) listSignals(ctx context.Context, query string, args ...any) ([]signal.Signal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []signal.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	return out, nil
}

// CountSignalsByFingerprint counts every row, dead included: a dead row
// still marks the automation as already scheduled.
func (s *Store) CountSignalsByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signals WHERE automation_fingerprint = ?`, fingerprint).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count signals for %s: %w", fingerprint, err)
	}
	return n, nil
}

// HasLiveSignal reports whether an identical live (fingerprint, type, data)
// row already exists. The scheduler uses it to skip duplicate inserts.
func (s *Store) HasLiveSignal(ctx context.Context, fingerprint string, typ signal.Type, data []byte) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM signals
		WHERE automation_fingerprint = ? AND type = ? AND data = ? AND is_dead = 0`,
		fingerprint, string(typ), string(data)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check live signal: %w", err)
	}
	return n > 0, nil
}

// MarkSignalDead flips one row's is_dead flag; the row is kept so log
// entries stay resolvable.
func (s *Store) MarkSignalDead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE signals SET is_dead = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark signal %d dead: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSignalsDeadByFingerprint retires every live signal of an automation
// that is no longer in the catalogue.
func (s *Store) MarkSignalsDeadByFingerprint(ctx context.Context, fingerprint string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signals SET is_dead = 1 WHERE automation_fingerprint = ? AND is_dead = 0`, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("mark signals dead for %s: %w", fingerprint, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark signals dead for %s: %w", fingerprint, err)
	}
	return n, nil
}

// DeleteSignalsByFingerprint removes an automation's signal rows outright.
// Explicit cancellation deletes so the automation can be scheduled again.
func (s *Store) DeleteSignalsByFingerprint(ctx context.Context, fingerprint string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM signals WHERE automation_fingerprint = ?`, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("delete signals for %s: %w", fingerprint, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete signals for %s: %w", fingerprint, err)
	}
	return n, nil
}

// ListFingerprintsWithSignals returns the distinct fingerprints that still
// have live rows; the runtime sweeps these against the catalogue.
func (s *Store) ListFingerprintsWithSignals(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT automation_fingerprint FROM signals WHERE is_dead = 0`)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSignal(sc scanner) (signal.Signal, error) {
	var (
		sig       signal.Signal
		typ       string
		data      string
		isDead    int
		createdAt string
	)
	if err := sc.Scan(&sig.ID, &sig.AutomationFingerprint, &typ, &data, &sig.ExecutionNotes, &isDead, &createdAt); err != nil {
		return signal.Signal{}, err
	}
	sig.Type = signal.Type(typ)
	sig.Data = []byte(data)
	sig.IsDead = isDead != 0
	sig.CreatedAt = parseTime(createdAt)
	return sig, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
