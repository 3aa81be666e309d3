package products

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Well-known inventory unit statuses. Status is a free-form string in the
// store; these constants cover the values the rest of the system reasons
// about.
const (
	StatusInStock    = "in_stock"
	StatusActive     = "active"
	StatusSold       = "sold"
	StatusReturned   = "returned"
	StatusScrapped   = "scrapped"
	StatusInRepair   = "in_repair"
	StatusWrittenOff = "written_off"
)

// IsInStock reports whether a unit with the given status is expected to be
// physically present during a stock take. This is the single definition of
// the in-stock allowlist; no other package hardcodes the status set.
func IsInStock(status string) bool {
	switch status {
	case StatusInStock, StatusActive:
		return true
	}
	return false
}

// InStockStatuses returns the allowlist used by snapshot queries.
func InStockStatuses() []string {
	return []string{StatusInStock, StatusActive}
}

// NormalizeBarcode canonicalises a security barcode before lookup or storage.
func NormalizeBarcode(barcode string) string {
	return strings.ToUpper(strings.TrimSpace(barcode))
}

// InventoryUnit is a single sellable refurbished part, keyed by its security
// barcode.
type InventoryUnit struct {
	ID              int64
	SecurityBarcode string
	Status          string
	ProductName     string
	Generation      string
	PartType        string
	TrackingNumber  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StatusHistory   []StatusChange
}

// StatusChange is one entry in a unit's append-only status history.
type StatusChange struct {
	ID         int64
	UnitID     int64
	FromStatus string
	ToStatus   string
	ChangedAt  time.Time
	Reason     string
}

// CreateInput describes intake of a new inventory unit.
type CreateInput struct {
	SecurityBarcode string
	Status          string
	ProductName     string
	Generation      string
	PartType        string
	TrackingNumber  string
	Actor           string
}

// Validate ensures the intake input is coherent.
func (in CreateInput) Validate() error {
	if NormalizeBarcode(in.SecurityBarcode) == "" {
		return fmt.Errorf("%w: security barcode required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Status) == "" {
		return fmt.Errorf("%w: status required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.ProductName) == "" {
		return fmt.Errorf("%w: product name required", ErrInvalidInput)
	}
	return nil
}

// UpdateStatusInput describes an explicit status transition request.
type UpdateStatusInput struct {
	SecurityBarcode string
	NewStatus       string
	Reason          string
	Actor           string
}

// ListFilter narrows unit listings.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// ErrInvalidInput indicates a malformed or missing request field.
var ErrInvalidInput = errors.New("products: invalid input")

// ErrUnitNotFound indicates no unit exists for the given barcode.
var ErrUnitNotFound = errors.New("products: inventory unit not found")

// ErrDuplicateBarcode indicates the barcode is already registered.
var ErrDuplicateBarcode = errors.New("products: security barcode already registered")

// ErrInvalidStatus indicates an empty or unusable target status.
var ErrInvalidStatus = errors.New("products: target status required")
