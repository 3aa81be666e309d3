package stocktake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podworks/podworks/internal/platform/db"
)

// Repository persists stock take sessions in PostgreSQL. Scans and
// resolutions live in child tables keyed by session id; the frozen report is
// embedded as JSONB on the session row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

// InsertSession stores a new in-progress session.
func (r *Repository) InsertSession(ctx context.Context, s Session) error {
	if r == nil {
		return errors.New("stocktake repository not initialised")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO stock_take_sessions (id, name, notes, status, started_at)
VALUES ($1,$2,$3,$4,$5)`, s.ID, s.Name, s.Notes, string(s.Status), s.StartedAt)
	return err
}

// GetSession loads a full session including scans and resolutions.
func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	var s Session
	var status string
	var reportJSON []byte
	err := r.pool.QueryRow(ctx, `SELECT id, name, notes, status, started_at, completed_at, report
FROM stock_take_sessions WHERE id=$1`, id).
		Scan(&s.ID, &s.Name, &s.Notes, &status, &s.StartedAt, &s.CompletedAt, &reportJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	s.Status = Status(status)
	if len(reportJSON) > 0 {
		var report Report
		if err := json.Unmarshal(reportJSON, &report); err != nil {
			return Session{}, fmt.Errorf("stocktake: decode report: %w", err)
		}
		s.Report = &report
	}

	scans, err := r.listScans(ctx, id)
	if err != nil {
		return Session{}, err
	}
	s.ScannedItems = scans
	s.ScanCount = len(scans)

	resolutions, err := r.listResolutions(ctx, id)
	if err != nil {
		return Session{}, err
	}
	s.Resolutions = resolutions
	return s, nil
}

// ListSessions returns summary rows for all sessions, newest first.
func (r *Repository) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.name, s.notes, s.status, s.started_at, s.completed_at,
	(SELECT COUNT(*) FROM stock_take_scans sc WHERE sc.session_id = s.id) AS scan_count
FROM stock_take_sessions s
ORDER BY s.started_at DESC, s.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions := []Session{}
	for rows.Next() {
		var s Session
		var status string
		if err := rows.Scan(&s.ID, &s.Name, &s.Notes, &status, &s.StartedAt, &s.CompletedAt, &s.ScanCount); err != nil {
			return nil, err
		}
		s.Status = Status(status)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// InsertScan appends a scan record. The duplicate check and the append are a
// single atomic insert: the unique key on (session_id, barcode) closes the
// check-then-insert race between concurrent scanners.
func (r *Repository) InsertScan(ctx context.Context, sessionID string, rec ScanRecord) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO stock_take_scans (session_id, barcode, scanned_at, found_in_database, status, product_name, generation)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, sessionID, rec.SecurityBarcode, rec.ScannedAt, rec.FoundInDatabase, rec.Status, rec.ProductName, rec.Generation)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateScan
		}
		return err
	}
	return nil
}

// DeleteScan removes the scan for a barcode from a session.
func (r *Repository) DeleteScan(ctx context.Context, sessionID, barcode string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM stock_take_scans WHERE session_id=$1 AND barcode=$2`, sessionID, barcode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrScanNotFound
	}
	return nil
}

// CompleteSession freezes the report and flips the session to completed in a
// single conditional write. A session that is no longer in progress leaves
// zero rows affected and reports ErrInvalidState, so no observable state
// exists where scans are locked but no report is stored.
func (r *Repository) CompleteSession(ctx context.Context, id string, report Report, completedAt time.Time) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("stocktake: encode report: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE stock_take_sessions
SET status=$1, completed_at=$2, report=$3
WHERE id=$4 AND status=$5`, string(StatusCompleted), completedAt, reportJSON, id, string(StatusInProgress))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// DeleteSessionInProgress cancels a session, removing its scans and
// resolutions. Completed sessions are retained as history and cannot be
// deleted through this path.
func (r *Repository) DeleteSessionInProgress(ctx context.Context, id string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM stock_take_scans WHERE session_id=$1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM stock_take_resolutions WHERE session_id=$1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM stock_take_sessions WHERE id=$1 AND status=$2`, id, string(StatusInProgress))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrInvalidState
		}
		return nil
	})
}

// UpsertResolution writes a resolution entry, last write wins.
func (r *Repository) UpsertResolution(ctx context.Context, sessionID string, entry ResolutionEntry) (ResolutionEntry, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO stock_take_resolutions (session_id, barcode, discrepancy_type, resolution_status, notes, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (session_id, barcode) DO UPDATE SET discrepancy_type=EXCLUDED.discrepancy_type, resolution_status=EXCLUDED.resolution_status, notes=EXCLUDED.notes, updated_at=NOW()
RETURNING updated_at`, sessionID, entry.SecurityBarcode, string(entry.DiscrepancyType), string(entry.ResolutionStatus), entry.Notes).
		Scan(&entry.UpdatedAt)
	if err != nil {
		return ResolutionEntry{}, err
	}
	return entry, nil
}

// ListUnresolvedSessions returns completed sessions older than the cutoff
// whose reports still carry discrepancies not yet resolved or written off.
func (r *Repository) ListUnresolvedSessions(ctx context.Context, completedBefore time.Time) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.name, s.status, s.started_at, s.completed_at,
	(s.report->'summary'->>'missing_items_count')::int
	+ (s.report->'summary'->>'unknown_items_count')::int
	+ (s.report->'summary'->>'wrong_status_count')::int AS discrepancies,
	(SELECT COUNT(*) FROM stock_take_resolutions r
	 WHERE r.session_id = s.id AND r.resolution_status IN ($1, $2)) AS settled
FROM stock_take_sessions s
WHERE s.status = $3 AND s.completed_at < $4 AND s.report IS NOT NULL
ORDER BY s.completed_at ASC`, string(ResolutionResolved), string(ResolutionWrittenOff), string(StatusCompleted), completedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions := []Session{}
	for rows.Next() {
		var s Session
		var status string
		var discrepancies, settled int
		if err := rows.Scan(&s.ID, &s.Name, &status, &s.StartedAt, &s.CompletedAt, &discrepancies, &settled); err != nil {
			return nil, err
		}
		if discrepancies == 0 || settled >= discrepancies {
			continue
		}
		s.Status = Status(status)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *Repository) listScans(ctx context.Context, sessionID string) ([]ScanRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT barcode, scanned_at, found_in_database, status, product_name, generation
FROM stock_take_scans WHERE session_id=$1 ORDER BY scanned_at ASC, barcode ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	scans := []ScanRecord{}
	for rows.Next() {
		var rec ScanRecord
		if err := rows.Scan(&rec.SecurityBarcode, &rec.ScannedAt, &rec.FoundInDatabase, &rec.Status, &rec.ProductName, &rec.Generation); err != nil {
			return nil, err
		}
		scans = append(scans, rec)
	}
	return scans, rows.Err()
}

func (r *Repository) listResolutions(ctx context.Context, sessionID string) (map[string]ResolutionEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT barcode, discrepancy_type, resolution_status, notes, updated_at
FROM stock_take_resolutions WHERE session_id=$1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	resolutions := map[string]ResolutionEntry{}
	for rows.Next() {
		var entry ResolutionEntry
		var discrepancyType, resolutionStatus string
		if err := rows.Scan(&entry.SecurityBarcode, &discrepancyType, &resolutionStatus, &entry.Notes, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		entry.DiscrepancyType = DiscrepancyType(discrepancyType)
		entry.ResolutionStatus = ResolutionStatus(resolutionStatus)
		resolutions[entry.SecurityBarcode] = entry
	}
	return resolutions, rows.Err()
}
