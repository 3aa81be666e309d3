package products

import (
	"context"
	"strings"

	"github.com/podworks/podworks/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Insert(ctx context.Context, unit InventoryUnit) (InventoryUnit, error)
	GetByBarcode(ctx context.Context, barcode string) (InventoryUnit, error)
	GetByBarcodes(ctx context.Context, barcodes []string) (map[string]InventoryUnit, error)
	List(ctx context.Context, filter ListFilter) ([]InventoryUnit, error)
	ListInStock(ctx context.Context) ([]InventoryUnit, error)
	GetStatusHistory(ctx context.Context, unitID int64) ([]StatusChange, error)
	UpdateStatus(ctx context.Context, barcode, newStatus, reason string) (StatusChange, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates inventory unit operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Create registers a refurbished unit during intake.
func (s *Service) Create(ctx context.Context, in CreateInput) (InventoryUnit, error) {
	if err := in.Validate(); err != nil {
		return InventoryUnit{}, err
	}
	unit := InventoryUnit{
		SecurityBarcode: NormalizeBarcode(in.SecurityBarcode),
		Status:          strings.TrimSpace(in.Status),
		ProductName:     strings.TrimSpace(in.ProductName),
		Generation:      strings.TrimSpace(in.Generation),
		PartType:        strings.TrimSpace(in.PartType),
		TrackingNumber:  strings.TrimSpace(in.TrackingNumber),
	}
	created, err := s.repo.Insert(ctx, unit)
	if err != nil {
		return InventoryUnit{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    in.Actor,
			Action:   "products:create",
			Entity:   "inventory_unit",
			EntityID: created.SecurityBarcode,
			Meta: map[string]any{
				"status":       created.Status,
				"product_name": created.ProductName,
			},
		})
	}
	return created, nil
}

// GetByBarcode loads a unit and its status history.
func (s *Service) GetByBarcode(ctx context.Context, barcode string) (InventoryUnit, error) {
	normalized := NormalizeBarcode(barcode)
	if normalized == "" {
		return InventoryUnit{}, ErrUnitNotFound
	}
	unit, err := s.repo.GetByBarcode(ctx, normalized)
	if err != nil {
		return InventoryUnit{}, err
	}
	history, err := s.repo.GetStatusHistory(ctx, unit.ID)
	if err != nil {
		return InventoryUnit{}, err
	}
	unit.StatusHistory = history
	return unit, nil
}

// Lookup resolves a batch of barcodes to their current inventory units.
func (s *Service) Lookup(ctx context.Context, barcodes []string) (map[string]InventoryUnit, error) {
	normalized := make([]string, 0, len(barcodes))
	for _, barcode := range barcodes {
		if b := NormalizeBarcode(barcode); b != "" {
			normalized = append(normalized, b)
		}
	}
	return s.repo.GetByBarcodes(ctx, normalized)
}

// List returns units matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]InventoryUnit, error) {
	return s.repo.List(ctx, filter)
}

// ListInStock returns units expected to be physically present.
func (s *Service) ListInStock(ctx context.Context) ([]InventoryUnit, error) {
	return s.repo.ListInStock(ctx)
}

// UpdateStatus applies an explicit status transition and records it in the
// unit's history.
func (s *Service) UpdateStatus(ctx context.Context, in UpdateStatusInput) (StatusChange, error) {
	normalized := NormalizeBarcode(in.SecurityBarcode)
	if normalized == "" {
		return StatusChange{}, ErrUnitNotFound
	}
	newStatus := strings.TrimSpace(in.NewStatus)
	if newStatus == "" {
		return StatusChange{}, ErrInvalidStatus
	}
	change, err := s.repo.UpdateStatus(ctx, normalized, newStatus, strings.TrimSpace(in.Reason))
	if err != nil {
		return StatusChange{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    in.Actor,
			Action:   "products:update_status",
			Entity:   "inventory_unit",
			EntityID: normalized,
			Meta: map[string]any{
				"from_status": change.FromStatus,
				"to_status":   change.ToStatus,
				"reason":      change.Reason,
			},
		})
	}
	return change, nil
}
