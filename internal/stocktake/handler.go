package stocktake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/podworks/podworks/internal/platform/httpx"
	"github.com/podworks/podworks/internal/products"
)

const reportCacheTTL = 15 * time.Minute

// Handler wires HTTP endpoints for the stock take module. The optional Redis
// client caches rendered report text; singleflight collapses concurrent
// downloads of the same session into one render.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	cache    *redis.Client
	renders  singleflight.Group
}

// NewHandler constructs stock take handler.
func NewHandler(logger *slog.Logger, service *Service, cache *redis.Client) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New(), cache: cache}
}

// MountRoutes registers stock take routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/start", h.handleStart)
	r.Put("/update-product-status", h.handleUpdateProductStatus)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Delete("/", h.handleCancel)
		r.Post("/scan", h.handleScan)
		r.Delete("/scan/{barcode}", h.handleRemoveScan)
		r.Post("/complete", h.handleComplete)
		r.Get("/report/download", h.handleDownload)
		r.Put("/discrepancy", h.handleSetResolution)
	})
}

type startRequest struct {
	Name  string `json:"name" validate:"required"`
	Notes string `json:"notes"`
	Actor string `json:"actor"`
}

type scanRequest struct {
	Barcode string `json:"barcode" validate:"required"`
}

type discrepancyRequest struct {
	Barcode          string `json:"barcode" validate:"required"`
	ResolutionStatus string `json:"resolution_status" validate:"required"`
	Notes            string `json:"notes"`
	DiscrepancyType  string `json:"discrepancy_type" validate:"required"`
	Actor            string `json:"actor"`
}

type updateProductStatusRequest struct {
	Barcode   string `json:"barcode" validate:"required"`
	NewStatus string `json:"new_status" validate:"required"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
}

type sessionSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Notes       string  `json:"notes,omitempty"`
	Status      string  `json:"status"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
	ScanCount   int     `json:"scan_count"`
}

type sessionDetail struct {
	sessionSummary
	ScannedItems []ScanRecord               `json:"scanned_items"`
	Report       *Report                    `json:"report,omitempty"`
	Resolutions  map[string]ResolutionEntry `json:"discrepancy_resolutions"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	session, err := h.service.Start(r.Context(), StartInput{Name: req.Name, Notes: req.Notes, Actor: req.Actor})
	if err != nil {
		h.logger.Error("start stock take", slog.Any("error", err))
		httpx.RespondError(w, mapError(err))
		return
	}
	h.logger.Info("stock take started", slog.String("session_id", session.ID), slog.String("name", session.Name))
	httpx.JSON(w, http.StatusCreated, map[string]any{"session": toDetail(session)})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list stock takes", slog.Any("error", err))
		httpx.RespondError(w, mapError(err))
		return
	}
	payload := make([]sessionSummary, 0, len(sessions))
	for _, session := range sessions {
		payload = append(payload, toSummary(session))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": payload})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"session": toDetail(session)})
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.Scan(r.Context(), chi.URLParam(r, "id"), req.Barcode)
	if err != nil {
		if !errors.Is(err, ErrDuplicateScan) {
			h.logger.Error("scan barcode", slog.Any("error", err), slog.String("session_id", chi.URLParam(r, "id")))
		}
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"scan_record": rec})
}

func (h *Handler) handleRemoveScan(w http.ResponseWriter, r *http.Request) {
	err := h.service.RemoveScan(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "barcode"))
	if err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	report, err := h.service.Complete(r.Context(), sessionID)
	if err != nil {
		if !errors.Is(err, ErrInvalidState) && !errors.Is(err, ErrEmptyScanSet) {
			h.logger.Error("complete stock take", slog.Any("error", err), slog.String("session_id", sessionID))
		}
		httpx.RespondError(w, mapError(err))
		return
	}
	h.logger.Info("stock take completed",
		slog.String("session_id", sessionID),
		slog.Int("total_scanned", report.Summary.TotalScanned),
		slog.Float64("accuracy", report.Summary.AccuracyPercentage))
	httpx.JSON(w, http.StatusOK, map[string]any{"report": report})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleSetResolution(w http.ResponseWriter, r *http.Request) {
	var req discrepancyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sessionID := chi.URLParam(r, "id")
	entry, err := h.service.SetResolution(r.Context(), ResolutionInput{
		SessionID:        sessionID,
		SecurityBarcode:  req.Barcode,
		DiscrepancyType:  DiscrepancyType(req.DiscrepancyType),
		ResolutionStatus: ResolutionStatus(req.ResolutionStatus),
		Notes:            req.Notes,
		Actor:            req.Actor,
	})
	if err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	h.invalidateReportCache(r.Context(), sessionID)
	httpx.JSON(w, http.StatusOK, map[string]any{"resolution": entry})
}

func (h *Handler) handleUpdateProductStatus(w http.ResponseWriter, r *http.Request) {
	var req updateProductStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	_, err := h.service.UpdateProductStatus(r.Context(), UpdateProductStatusInput{
		SecurityBarcode: req.Barcode,
		NewStatus:       req.NewStatus,
		Reason:          req.Reason,
		Actor:           req.Actor,
	})
	if err != nil {
		h.logger.Error("update product status", slog.Any("error", err), slog.String("barcode", req.Barcode))
		// Status updates run against the products collaborator; anything but a
		// missing unit is reported as an upstream failure so the caller never
		// confuses it with the resolution it may have just saved.
		if errors.Is(err, products.ErrUnitNotFound) {
			httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err))
			return
		}
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrUpstream, err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	text, err := h.reportText(r.Context(), sessionID)
	if err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "stock-take-"+sessionID+".txt"))
	if _, err := w.Write([]byte(text)); err != nil {
		h.logger.Warn("write report download", slog.Any("error", err))
	}
}

// reportText returns the rendered report, cached under a versioned key. The
// version is bumped on every resolution write, so a render that races an
// invalidation writes to a key no reader consults anymore instead of
// re-caching stale text for the full TTL.
func (h *Handler) reportText(ctx context.Context, sessionID string) (string, error) {
	key := sessionID
	if h.cache != nil {
		ver, _ := h.cache.Get(ctx, reportVersionKey(sessionID)).Result()
		key = reportCacheKey(sessionID, ver)
		if text, err := h.cache.Get(ctx, key).Result(); err == nil {
			return text, nil
		}
	}
	v, err, _ := h.renders.Do(key, func() (any, error) {
		session, err := h.service.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		text, err := RenderReportText(session)
		if err != nil {
			return nil, err
		}
		if h.cache != nil {
			if err := h.cache.Set(ctx, key, text, reportCacheTTL).Err(); err != nil {
				h.logger.Warn("cache report text", slog.Any("error", err))
			}
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (h *Handler) invalidateReportCache(ctx context.Context, sessionID string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Incr(ctx, reportVersionKey(sessionID)).Err(); err != nil {
		h.logger.Warn("invalidate report cache", slog.String("session_id", sessionID), slog.Any("error", err))
	}
}

func reportCacheKey(sessionID, version string) string {
	return "stocktake:report:" + sessionID + ":" + version
}

func reportVersionKey(sessionID string) string {
	return "stocktake:report:ver:" + sessionID
}

func toSummary(session Session) sessionSummary {
	summary := sessionSummary{
		ID:        session.ID,
		Name:      session.Name,
		Notes:     session.Notes,
		Status:    string(session.Status),
		StartedAt: session.StartedAt.UTC().Format(time.RFC3339),
		ScanCount: session.ScanCount,
	}
	if session.CompletedAt != nil {
		completed := session.CompletedAt.UTC().Format(time.RFC3339)
		summary.CompletedAt = &completed
	}
	return summary
}

func toDetail(session Session) sessionDetail {
	detail := sessionDetail{
		sessionSummary: toSummary(session),
		ScannedItems:   session.ScannedItems,
		Report:         session.Report,
		Resolutions:    session.Resolutions,
	}
	if detail.ScannedItems == nil {
		detail.ScannedItems = []ScanRecord{}
	}
	if detail.Resolutions == nil {
		detail.Resolutions = map[string]ResolutionEntry{}
	}
	return detail
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrScanNotFound), errors.Is(err, products.ErrUnitNotFound):
		return fmt.Errorf("%w: %s", httpx.ErrNotFound, err)
	case errors.Is(err, ErrDuplicateScan):
		return fmt.Errorf("%w: %s", httpx.ErrDuplicateScan, err)
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrReportNotReady):
		return fmt.Errorf("%w: %s", httpx.ErrInvalidState, err)
	case errors.Is(err, ErrEmptyScanSet), errors.Is(err, ErrInvalidInput), errors.Is(err, products.ErrInvalidStatus):
		return fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	default:
		return err
	}
}
