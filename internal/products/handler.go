package products

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/podworks/podworks/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the products module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs products handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers products routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{barcode}", h.handleGet)
	r.Put("/{barcode}/status", h.handleUpdateStatus)
}

type createRequest struct {
	SecurityBarcode string `json:"security_barcode" validate:"required"`
	Status          string `json:"status" validate:"required"`
	ProductName     string `json:"product_name" validate:"required"`
	Generation      string `json:"generation"`
	PartType        string `json:"part_type"`
	TrackingNumber  string `json:"tracking_number"`
	Actor           string `json:"actor"`
}

type updateStatusRequest struct {
	NewStatus string `json:"new_status" validate:"required"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
}

type unitResponse struct {
	SecurityBarcode string                 `json:"security_barcode"`
	Status          string                 `json:"status"`
	ProductName     string                 `json:"product_name"`
	Generation      string                 `json:"generation,omitempty"`
	PartType        string                 `json:"part_type,omitempty"`
	TrackingNumber  string                 `json:"tracking_number,omitempty"`
	CreatedAt       string                 `json:"created_at"`
	UpdatedAt       string                 `json:"updated_at"`
	StatusHistory   []statusChangeResponse `json:"status_history,omitempty"`
}

type statusChangeResponse struct {
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ChangedAt  string `json:"changed_at"`
	Reason     string `json:"reason,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: q.Get("status")}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = offset
	}
	units, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list inventory units", slog.Any("error", err))
		httpx.RespondError(w, mapError(err))
		return
	}
	payload := make([]unitResponse, 0, len(units))
	for _, unit := range units {
		payload = append(payload, toUnitResponse(unit))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": payload})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	unit, err := h.service.GetByBarcode(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product": toUnitResponse(unit)})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unit, err := h.service.Create(r.Context(), CreateInput{
		SecurityBarcode: req.SecurityBarcode,
		Status:          req.Status,
		ProductName:     req.ProductName,
		Generation:      req.Generation,
		PartType:        req.PartType,
		TrackingNumber:  req.TrackingNumber,
		Actor:           req.Actor,
	})
	if err != nil {
		h.logger.Error("create inventory unit", slog.Any("error", err))
		httpx.RespondError(w, mapError(err))
		return
	}
	h.logger.Info("inventory unit created", slog.String("barcode", unit.SecurityBarcode))
	httpx.JSON(w, http.StatusCreated, map[string]any{"product": toUnitResponse(unit)})
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	change, err := h.service.UpdateStatus(r.Context(), UpdateStatusInput{
		SecurityBarcode: chi.URLParam(r, "barcode"),
		NewStatus:       req.NewStatus,
		Reason:          req.Reason,
		Actor:           req.Actor,
	})
	if err != nil {
		h.logger.Error("update unit status", slog.Any("error", err), slog.String("barcode", chi.URLParam(r, "barcode")))
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status_change": toStatusChangeResponse(change)})
}

func toUnitResponse(unit InventoryUnit) unitResponse {
	resp := unitResponse{
		SecurityBarcode: unit.SecurityBarcode,
		Status:          unit.Status,
		ProductName:     unit.ProductName,
		Generation:      unit.Generation,
		PartType:        unit.PartType,
		TrackingNumber:  unit.TrackingNumber,
		CreatedAt:       unit.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:       unit.UpdatedAt.UTC().Format(timeLayout),
	}
	for _, change := range unit.StatusHistory {
		resp.StatusHistory = append(resp.StatusHistory, toStatusChangeResponse(change))
	}
	return resp
}

func toStatusChangeResponse(change StatusChange) statusChangeResponse {
	return statusChangeResponse{
		FromStatus: change.FromStatus,
		ToStatus:   change.ToStatus,
		ChangedAt:  change.ChangedAt.UTC().Format(timeLayout),
		Reason:     change.Reason,
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrUnitNotFound):
		return fmt.Errorf("%w: %s", httpx.ErrNotFound, err)
	case errors.Is(err, ErrDuplicateBarcode):
		return fmt.Errorf("%w: %s", httpx.ErrDuplicate, err)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidStatus):
		return fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	default:
		return err
	}
}
