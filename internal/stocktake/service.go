package stocktake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/podworks/podworks/internal/products"
	"github.com/podworks/podworks/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	InsertSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	InsertScan(ctx context.Context, sessionID string, rec ScanRecord) error
	DeleteScan(ctx context.Context, sessionID, barcode string) error
	CompleteSession(ctx context.Context, id string, report Report, completedAt time.Time) error
	DeleteSessionInProgress(ctx context.Context, id string) error
	UpsertResolution(ctx context.Context, sessionID string, entry ResolutionEntry) (ResolutionEntry, error)
	ListUnresolvedSessions(ctx context.Context, completedBefore time.Time) ([]Session, error)
}

// ProductsPort is the read-mostly view of the products module this core
// needs. Inventory units are never mutated here except through the explicit
// UpdateStatus delegation.
type ProductsPort interface {
	GetByBarcode(ctx context.Context, barcode string) (products.InventoryUnit, error)
	Lookup(ctx context.Context, barcodes []string) (map[string]products.InventoryUnit, error)
	ListInStock(ctx context.Context) ([]products.InventoryUnit, error)
	UpdateStatus(ctx context.Context, in products.UpdateStatusInput) (products.StatusChange, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier is invoked after a session completes; failures are logged, never
// surfaced to the operator.
type Notifier interface {
	ReportCompleted(ctx context.Context, session Session) error
}

// Service coordinates stock take sessions. Session state is owned entirely by
// the backing store; every operation re-reads the session rather than caching
// it in memory.
type Service struct {
	logger   *slog.Logger
	repo     RepositoryPort
	products ProductsPort
	audit    AuditPort
	notifier Notifier
	now      func() time.Time
}

// NewService builds Service.
func NewService(logger *slog.Logger, repo RepositoryPort, productsPort ProductsPort, audit AuditPort, notifier Notifier) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:   logger,
		repo:     repo,
		products: productsPort,
		audit:    audit,
		notifier: notifier,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Start opens a new in-progress session.
func (s *Service) Start(ctx context.Context, in StartInput) (Session, error) {
	if err := in.Validate(); err != nil {
		return Session{}, err
	}
	session := Session{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Notes:        strings.TrimSpace(in.Notes),
		Status:       StatusInProgress,
		StartedAt:    s.now().UTC(),
		ScannedItems: []ScanRecord{},
		Resolutions:  map[string]ResolutionEntry{},
	}
	if err := s.repo.InsertSession(ctx, session); err != nil {
		return Session{}, err
	}
	s.record(ctx, in.Actor, "stocktake:start", session.ID, map[string]any{"name": session.Name})
	return session, nil
}

// Scan ingests one barcode into an in-progress session. The barcode is
// normalized before lookup and storage; the matching inventory unit, when one
// exists, is snapshotted onto the record.
func (s *Service) Scan(ctx context.Context, sessionID, barcode string) (ScanRecord, error) {
	normalized := products.NormalizeBarcode(barcode)
	if normalized == "" {
		return ScanRecord{}, fmt.Errorf("%w: barcode required", ErrInvalidInput)
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return ScanRecord{}, err
	}
	if session.Status != StatusInProgress {
		return ScanRecord{}, ErrInvalidState
	}

	rec := ScanRecord{
		SecurityBarcode: normalized,
		ScannedAt:       s.now().UTC(),
	}
	unit, err := s.products.GetByBarcode(ctx, normalized)
	switch {
	case err == nil:
		rec.FoundInDatabase = true
		rec.Status = ptr(unit.Status)
		rec.ProductName = ptr(unit.ProductName)
		rec.Generation = ptr(unit.Generation)
	case errors.Is(err, products.ErrUnitNotFound):
		// Unknown barcode, still recorded; classification happens on complete.
	default:
		return ScanRecord{}, err
	}

	if err := s.repo.InsertScan(ctx, session.ID, rec); err != nil {
		return ScanRecord{}, err
	}
	return rec, nil
}

// RemoveScan deletes a scan from an in-progress session.
func (s *Service) RemoveScan(ctx context.Context, sessionID, barcode string) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != StatusInProgress {
		return ErrInvalidState
	}
	return s.repo.DeleteScan(ctx, session.ID, products.NormalizeBarcode(barcode))
}

// Complete snapshots the expected in-stock inventory, classifies
// discrepancies, and freezes the report onto the session. Callable once; a
// second call reports ErrInvalidState.
func (s *Service) Complete(ctx context.Context, sessionID string) (Report, error) {
	var session Session
	var expected []products.InventoryUnit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		session, err = s.repo.GetSession(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		expected, err = s.products.ListInStock(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	if session.Status != StatusInProgress {
		return Report{}, ErrInvalidState
	}
	if len(session.ScannedItems) == 0 {
		return Report{}, ErrEmptyScanSet
	}

	barcodes := make([]string, 0, len(session.ScannedItems))
	for _, scan := range session.ScannedItems {
		barcodes = append(barcodes, scan.SecurityBarcode)
	}
	lookup, err := s.products.Lookup(ctx, barcodes)
	if err != nil {
		return Report{}, err
	}

	completedAt := s.now().UTC()
	report := Classify(expected, lookup, session.ScannedItems, completedAt)
	if err := s.repo.CompleteSession(ctx, session.ID, report, completedAt); err != nil {
		return Report{}, err
	}
	s.record(ctx, "", "stocktake:complete", session.ID, map[string]any{
		"total_scanned": report.Summary.TotalScanned,
		"accuracy":      report.Summary.AccuracyPercentage,
	})

	if s.notifier != nil {
		session.Status = StatusCompleted
		session.CompletedAt = &completedAt
		session.Report = &report
		if err := s.notifier.ReportCompleted(ctx, session); err != nil {
			s.logger.Warn("report notification failed", slog.String("session_id", session.ID), slog.Any("error", err))
		}
	}
	return report, nil
}

// Cancel deletes an in-progress session entirely. Completed sessions are kept
// as history.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSessionInProgress(ctx, session.ID); err != nil {
		return err
	}
	s.record(ctx, "", "stocktake:cancel", session.ID, nil)
	return nil
}

// SetResolution attaches an investigation outcome to a barcode, before or
// after completion. The barcode is not validated against the report's
// discrepancy lists; operators may annotate freely and revise at will.
func (s *Service) SetResolution(ctx context.Context, in ResolutionInput) (ResolutionEntry, error) {
	if err := in.Validate(); err != nil {
		return ResolutionEntry{}, err
	}
	session, err := s.repo.GetSession(ctx, in.SessionID)
	if err != nil {
		return ResolutionEntry{}, err
	}
	entry := ResolutionEntry{
		SecurityBarcode:  products.NormalizeBarcode(in.SecurityBarcode),
		DiscrepancyType:  in.DiscrepancyType,
		ResolutionStatus: in.ResolutionStatus,
		Notes:            strings.TrimSpace(in.Notes),
	}
	saved, err := s.repo.UpsertResolution(ctx, session.ID, entry)
	if err != nil {
		return ResolutionEntry{}, err
	}
	s.record(ctx, in.Actor, "stocktake:resolve", session.ID, map[string]any{
		"barcode":           saved.SecurityBarcode,
		"discrepancy_type":  string(saved.DiscrepancyType),
		"resolution_status": string(saved.ResolutionStatus),
	})
	return saved, nil
}

// UpdateProductStatus delegates an explicit status change to the products
// module. It is deliberately separate from SetResolution: a failure here must
// never roll back a resolution that already saved.
func (s *Service) UpdateProductStatus(ctx context.Context, in UpdateProductStatusInput) (products.StatusChange, error) {
	return s.products.UpdateStatus(ctx, products.UpdateStatusInput{
		SecurityBarcode: in.SecurityBarcode,
		NewStatus:       in.NewStatus,
		Reason:          in.Reason,
		Actor:           in.Actor,
	})
}

// Get loads a full session with scans and resolutions.
func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	return s.repo.GetSession(ctx, id)
}

// List returns session summaries, newest first.
func (s *Service) List(ctx context.Context) ([]Session, error) {
	return s.repo.ListSessions(ctx)
}

// ListUnresolved returns completed sessions older than age whose
// discrepancies are not yet all settled.
func (s *Service) ListUnresolved(ctx context.Context, age time.Duration) ([]Session, error) {
	return s.repo.ListUnresolvedSessions(ctx, s.now().UTC().Add(-age))
}

func (s *Service) record(ctx context.Context, actor, action, sessionID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "stock_take_session",
		EntityID: sessionID,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func ptr(v string) *string {
	return &v
}
