package products

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podworks/podworks/internal/platform/db"
)

// Repository persists inventory units in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

// Insert stores a new inventory unit.
func (r *Repository) Insert(ctx context.Context, unit InventoryUnit) (InventoryUnit, error) {
	if r == nil {
		return InventoryUnit{}, errors.New("products repository not initialised")
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO inventory_units (security_barcode, status, product_name, generation, part_type, tracking_number, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		unit.SecurityBarcode, unit.Status, unit.ProductName, unit.Generation, unit.PartType, unit.TrackingNumber).
		Scan(&unit.ID, &unit.CreatedAt, &unit.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return InventoryUnit{}, ErrDuplicateBarcode
		}
		return InventoryUnit{}, err
	}
	return unit, nil
}

// GetByBarcode loads a unit by its security barcode.
func (r *Repository) GetByBarcode(ctx context.Context, barcode string) (InventoryUnit, error) {
	var unit InventoryUnit
	err := r.pool.QueryRow(ctx, `SELECT id, security_barcode, status, product_name, generation, part_type, tracking_number, created_at, updated_at
FROM inventory_units WHERE security_barcode=$1`, barcode).
		Scan(&unit.ID, &unit.SecurityBarcode, &unit.Status, &unit.ProductName, &unit.Generation, &unit.PartType, &unit.TrackingNumber, &unit.CreatedAt, &unit.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InventoryUnit{}, ErrUnitNotFound
		}
		return InventoryUnit{}, err
	}
	return unit, nil
}

// List returns units matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]InventoryUnit, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, security_barcode, status, product_name, generation, part_type, tracking_number, created_at, updated_at
FROM inventory_units
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, filter.Status, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnits(rows)
}

// GetByBarcodes loads units for a batch of barcodes, keyed by barcode.
// Barcodes with no matching unit are simply absent from the result.
func (r *Repository) GetByBarcodes(ctx context.Context, barcodes []string) (map[string]InventoryUnit, error) {
	if len(barcodes) == 0 {
		return map[string]InventoryUnit{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, security_barcode, status, product_name, generation, part_type, tracking_number, created_at, updated_at
FROM inventory_units WHERE security_barcode = ANY($1)`, barcodes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	units, err := scanUnits(rows)
	if err != nil {
		return nil, err
	}
	lookup := make(map[string]InventoryUnit, len(units))
	for _, unit := range units {
		lookup[unit.SecurityBarcode] = unit
	}
	return lookup, nil
}

// ListInStock returns every unit whose status is in the in-stock allowlist.
func (r *Repository) ListInStock(ctx context.Context) ([]InventoryUnit, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, security_barcode, status, product_name, generation, part_type, tracking_number, created_at, updated_at
FROM inventory_units
WHERE status = ANY($1)
ORDER BY security_barcode ASC`, InStockStatuses())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnits(rows)
}

// GetStatusHistory loads the append-only status log for a unit.
func (r *Repository) GetStatusHistory(ctx context.Context, unitID int64) ([]StatusChange, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, unit_id, from_status, to_status, changed_at, reason
FROM inventory_status_history WHERE unit_id=$1 ORDER BY changed_at ASC, id ASC`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	history := []StatusChange{}
	for rows.Next() {
		var change StatusChange
		if err := rows.Scan(&change.ID, &change.UnitID, &change.FromStatus, &change.ToStatus, &change.ChangedAt, &change.Reason); err != nil {
			return nil, err
		}
		history = append(history, change)
	}
	return history, rows.Err()
}

// UpdateStatus transitions a unit and appends a history entry in one transaction.
func (r *Repository) UpdateStatus(ctx context.Context, barcode, newStatus, reason string) (StatusChange, error) {
	var change StatusChange
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var unitID int64
		var fromStatus string
		err := tx.QueryRow(ctx, `SELECT id, status FROM inventory_units WHERE security_barcode=$1 FOR UPDATE`, barcode).
			Scan(&unitID, &fromStatus)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUnitNotFound
			}
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE inventory_units SET status=$1, updated_at=NOW() WHERE id=$2`, newStatus, unitID); err != nil {
			return err
		}

		var changedAt time.Time
		err = tx.QueryRow(ctx, `INSERT INTO inventory_status_history (unit_id, from_status, to_status, changed_at, reason)
VALUES ($1,$2,$3,NOW(),$4) RETURNING id, changed_at`, unitID, fromStatus, newStatus, reason).
			Scan(&change.ID, &changedAt)
		if err != nil {
			return err
		}
		change.UnitID = unitID
		change.FromStatus = fromStatus
		change.ToStatus = newStatus
		change.ChangedAt = changedAt
		change.Reason = reason
		return nil
	})
	if err != nil {
		return StatusChange{}, err
	}
	return change, nil
}

func scanUnits(rows pgx.Rows) ([]InventoryUnit, error) {
	units := []InventoryUnit{}
	for rows.Next() {
		var unit InventoryUnit
		if err := rows.Scan(&unit.ID, &unit.SecurityBarcode, &unit.Status, &unit.ProductName, &unit.Generation, &unit.PartType, &unit.TrackingNumber, &unit.CreatedAt, &unit.UpdatedAt); err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}
