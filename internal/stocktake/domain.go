package stocktake

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates stock take session lifecycle values. Completed and
// cancelled are terminal; cancelled is not reachable from completed. A
// cancelled session is deleted from the store rather than retained.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// DiscrepancyType classifies a mismatch found during reconciliation.
type DiscrepancyType string

const (
	DiscrepancyMissing     DiscrepancyType = "missing"
	DiscrepancyUnknown     DiscrepancyType = "unknown"
	DiscrepancyWrongStatus DiscrepancyType = "wrong_status"
)

// ResolutionStatus tracks the investigation outcome for a discrepant barcode.
type ResolutionStatus string

const (
	ResolutionPending      ResolutionStatus = "pending"
	ResolutionInvestigated ResolutionStatus = "investigated"
	ResolutionResolved     ResolutionStatus = "resolved"
	ResolutionWrittenOff   ResolutionStatus = "written-off"
)

// Session is a physical stock take audit. Scans accumulate while the session
// is in progress; completing it freezes the report.
type Session struct {
	ID           string
	Name         string
	Notes        string
	Status       Status
	StartedAt    time.Time
	CompletedAt  *time.Time
	ScannedItems []ScanRecord
	Report       *Report
	Resolutions  map[string]ResolutionEntry
	ScanCount    int
}

// ScanRecord is one barcode scan within a session. Product fields are
// snapshotted at scan time so the report stays stable even if the inventory
// record changes later.
type ScanRecord struct {
	SecurityBarcode string    `json:"security_barcode"`
	ScannedAt       time.Time `json:"scanned_at"`
	FoundInDatabase bool      `json:"found_in_database"`
	Status          *string   `json:"status"`
	ProductName     *string   `json:"product_name"`
	Generation      *string   `json:"generation"`
}

// Report is the immutable reconciliation result persisted on completion.
// Resolution entries are layered on top and never mutate the report itself.
type Report struct {
	Summary          Summary       `json:"summary"`
	MissingItems     []MissingItem `json:"missing_items"`
	UnknownItems     []ScanRecord  `json:"unknown_items"`
	WrongStatusItems []ScanRecord  `json:"wrong_status_items"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

// Summary aggregates reconciliation counts.
type Summary struct {
	TotalScanned       int     `json:"total_scanned"`
	ExpectedInStock    int     `json:"expected_in_stock"`
	FoundItems         int     `json:"found_items"`
	MissingItemsCount  int     `json:"missing_items_count"`
	UnknownItemsCount  int     `json:"unknown_items_count"`
	WrongStatusCount   int     `json:"wrong_status_count"`
	AccuracyPercentage float64 `json:"accuracy_percentage"`
}

// MissingItem references an in-stock inventory unit that was never scanned.
type MissingItem struct {
	SecurityBarcode string `json:"security_barcode"`
	Status          string `json:"status"`
	ProductName     string `json:"product_name"`
	Generation      string `json:"generation"`
}

// ResolutionEntry is an operator's investigation outcome for a discrepant
// barcode. One entry per barcode per session, last write wins.
type ResolutionEntry struct {
	SecurityBarcode  string           `json:"security_barcode"`
	DiscrepancyType  DiscrepancyType  `json:"discrepancy_type"`
	ResolutionStatus ResolutionStatus `json:"resolution_status"`
	Notes            string           `json:"notes"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// StartInput describes a new stock take session.
type StartInput struct {
	Name  string
	Notes string
	Actor string
}

// Validate ensures the start input is coherent.
func (in StartInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: session name required", ErrInvalidInput)
	}
	return nil
}

// ResolutionInput captures a resolution upsert request.
type ResolutionInput struct {
	SessionID        string
	SecurityBarcode  string
	DiscrepancyType  DiscrepancyType
	ResolutionStatus ResolutionStatus
	Notes            string
	Actor            string
}

// Validate checks the resolution enums and required fields.
func (in ResolutionInput) Validate() error {
	if strings.TrimSpace(in.SecurityBarcode) == "" {
		return fmt.Errorf("%w: barcode required", ErrInvalidInput)
	}
	switch in.DiscrepancyType {
	case DiscrepancyMissing, DiscrepancyUnknown, DiscrepancyWrongStatus:
	default:
		return fmt.Errorf("%w: unknown discrepancy type %q", ErrInvalidInput, in.DiscrepancyType)
	}
	switch in.ResolutionStatus {
	case ResolutionPending, ResolutionInvestigated, ResolutionResolved, ResolutionWrittenOff:
	default:
		return fmt.Errorf("%w: unknown resolution status %q", ErrInvalidInput, in.ResolutionStatus)
	}
	return nil
}

// UpdateProductStatusInput delegates an explicit unit status change to the
// products module alongside (but independent of) a resolution.
type UpdateProductStatusInput struct {
	SecurityBarcode string
	NewStatus       string
	Reason          string
	Actor           string
}

// ErrInvalidInput indicates a malformed or missing request field.
var ErrInvalidInput = errors.New("stocktake: invalid input")

// ErrSessionNotFound indicates no session exists for the given id.
var ErrSessionNotFound = errors.New("stocktake: session not found")

// ErrInvalidState indicates the operation is not valid for the session's
// current status, e.g. scanning into a completed session.
var ErrInvalidState = errors.New("stocktake: session is not in progress")

// ErrDuplicateScan indicates the barcode was already scanned in this session.
var ErrDuplicateScan = errors.New("stocktake: barcode already scanned in this session")

// ErrEmptyScanSet rejects completing a session with no scans.
var ErrEmptyScanSet = errors.New("stocktake: cannot complete a session with no scanned items")

// ErrScanNotFound indicates no scan exists for the barcode in this session.
var ErrScanNotFound = errors.New("stocktake: scan not found in this session")

// ErrReportNotReady indicates the session has no report yet.
var ErrReportNotReady = errors.New("stocktake: report not available until session is completed")
