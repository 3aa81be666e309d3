package products

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	units   map[string]InventoryUnit
	history map[int64][]StatusChange
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{units: map[string]InventoryUnit{}, history: map[int64][]StatusChange{}}
}

func (r *memoryRepo) Insert(ctx context.Context, unit InventoryUnit) (InventoryUnit, error) {
	if _, ok := r.units[unit.SecurityBarcode]; ok {
		return InventoryUnit{}, ErrDuplicateBarcode
	}
	r.nextID++
	unit.ID = r.nextID
	unit.CreatedAt = time.Now().UTC()
	unit.UpdatedAt = unit.CreatedAt
	r.units[unit.SecurityBarcode] = unit
	return unit, nil
}

func (r *memoryRepo) GetByBarcode(ctx context.Context, barcode string) (InventoryUnit, error) {
	unit, ok := r.units[barcode]
	if !ok {
		return InventoryUnit{}, ErrUnitNotFound
	}
	return unit, nil
}

func (r *memoryRepo) GetByBarcodes(ctx context.Context, barcodes []string) (map[string]InventoryUnit, error) {
	lookup := map[string]InventoryUnit{}
	for _, barcode := range barcodes {
		if unit, ok := r.units[barcode]; ok {
			lookup[barcode] = unit
		}
	}
	return lookup, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]InventoryUnit, error) {
	units := []InventoryUnit{}
	for _, unit := range r.units {
		if filter.Status == "" || unit.Status == filter.Status {
			units = append(units, unit)
		}
	}
	return units, nil
}

func (r *memoryRepo) ListInStock(ctx context.Context) ([]InventoryUnit, error) {
	units := []InventoryUnit{}
	for _, unit := range r.units {
		if IsInStock(unit.Status) {
			units = append(units, unit)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].SecurityBarcode < units[j].SecurityBarcode })
	return units, nil
}

func (r *memoryRepo) GetStatusHistory(ctx context.Context, unitID int64) ([]StatusChange, error) {
	return append([]StatusChange{}, r.history[unitID]...), nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, barcode, newStatus, reason string) (StatusChange, error) {
	unit, ok := r.units[barcode]
	if !ok {
		return StatusChange{}, ErrUnitNotFound
	}
	change := StatusChange{
		ID:         int64(len(r.history[unit.ID]) + 1),
		UnitID:     unit.ID,
		FromStatus: unit.Status,
		ToStatus:   newStatus,
		ChangedAt:  time.Now().UTC(),
		Reason:     reason,
	}
	unit.Status = newStatus
	r.units[barcode] = unit
	r.history[unit.ID] = append(r.history[unit.ID], change)
	return change, nil
}

func TestCreateNormalizesBarcode(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	unit, err := svc.Create(ctx, CreateInput{
		SecurityBarcode: "  pw-abc-001 ",
		Status:          StatusInStock,
		ProductName:     "AirPods Pro Left Bud",
		Generation:      "2nd",
	})
	require.NoError(t, err)
	require.Equal(t, "PW-ABC-001", unit.SecurityBarcode)

	_, err = svc.Create(ctx, CreateInput{
		SecurityBarcode: "pw-abc-001",
		Status:          StatusInStock,
		ProductName:     "AirPods Pro Left Bud",
	})
	require.ErrorIs(t, err, ErrDuplicateBarcode)

	_, err = svc.Create(ctx, CreateInput{SecurityBarcode: "PW-X", Status: StatusInStock})
	require.ErrorIs(t, err, ErrInvalidInput)

	// Whitespace-only fields are as empty as empty ones.
	_, err = svc.Create(ctx, CreateInput{SecurityBarcode: "PW-X", Status: "   ", ProductName: "part"})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Create(ctx, CreateInput{SecurityBarcode: "PW-X", Status: StatusInStock, ProductName: "   "})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestInStockAllowlist(t *testing.T) {
	require.True(t, IsInStock(StatusInStock))
	require.True(t, IsInStock(StatusActive))
	for _, status := range []string{StatusSold, StatusReturned, StatusScrapped, StatusInRepair, StatusWrittenOff, "", "IN_STOCK"} {
		require.False(t, IsInStock(status), status)
	}
}

func TestListInStockFiltersByAllowlist(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	seed := map[string]string{
		"PW-001": StatusInStock,
		"PW-002": StatusActive,
		"PW-003": StatusSold,
		"PW-004": StatusInRepair,
	}
	for barcode, status := range seed {
		_, err := svc.Create(ctx, CreateInput{SecurityBarcode: barcode, Status: status, ProductName: "part"})
		require.NoError(t, err)
	}

	units, err := svc.ListInStock(ctx)
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.Equal(t, "PW-001", units[0].SecurityBarcode)
	require.Equal(t, "PW-002", units[1].SecurityBarcode)
}

func TestUpdateStatusAppendsHistory(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{SecurityBarcode: "PW-001", Status: StatusInStock, ProductName: "part"})
	require.NoError(t, err)

	change, err := svc.UpdateStatus(ctx, UpdateStatusInput{SecurityBarcode: "pw-001", NewStatus: StatusSold, Reason: "order #1234"})
	require.NoError(t, err)
	require.Equal(t, StatusInStock, change.FromStatus)
	require.Equal(t, StatusSold, change.ToStatus)

	unit, err := svc.GetByBarcode(ctx, "PW-001")
	require.NoError(t, err)
	require.Equal(t, StatusSold, unit.Status)
	require.Len(t, unit.StatusHistory, 1)
	require.Equal(t, "order #1234", unit.StatusHistory[0].Reason)

	_, err = svc.UpdateStatus(ctx, UpdateStatusInput{SecurityBarcode: "PW-001", NewStatus: "  "})
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.UpdateStatus(ctx, UpdateStatusInput{SecurityBarcode: "PW-404", NewStatus: StatusSold})
	require.ErrorIs(t, err, ErrUnitNotFound)
}

func TestLookupSkipsBlankAndUnknownBarcodes(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{SecurityBarcode: "PW-001", Status: StatusInStock, ProductName: "part"})
	require.NoError(t, err)

	lookup, err := svc.Lookup(ctx, []string{" pw-001 ", "", "PW-404"})
	require.NoError(t, err)
	require.Len(t, lookup, 1)
	require.Contains(t, lookup, "PW-001")
}
