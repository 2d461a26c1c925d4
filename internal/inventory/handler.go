package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/stockyard-erp/stockyard-erp/internal/platform/httpx"
	"github.com/stockyard-erp/stockyard-erp/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger       *slog.Logger
	engine       *Engine
	repo         *Repository
	cache        *Cache
	validate     *validator.Validate
	expiringDays int
}

// NewHandler constructs the inventory handler. expiringDays is the window
// used by the summary KPI for expiring lots.
func NewHandler(logger *slog.Logger, engine *Engine, repo *Repository, cache *Cache, expiringDays int) *Handler {
	if expiringDays <= 0 {
		expiringDays = 30
	}
	return &Handler{
		logger:       logger,
		engine:       engine,
		repo:         repo,
		cache:        cache,
		validate:     validator.New(),
		expiringDays: expiringDays,
	}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/load", h.handleLoad)
	r.Post("/unload", h.handleUnload)
	r.Post("/adjust", h.handleAdjust)
	r.Post("/transfer", h.handleTransfer)
	r.Get("/stock", h.handleGetStock)
	r.Get("/stock/warehouse/{warehouseID}", h.handleListStock)
	r.Get("/lots", h.handleListLots)
	r.Get("/lots/expiring", h.handleExpiringLots)
	r.Get("/movements", h.handleListMovements)
	r.Get("/summary", h.handleSummary)
}

type movementRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reason      string          `json:"reason" validate:"omitempty,max=255"`
	DocumentRef string          `json:"document_ref" validate:"omitempty,max=100"`
	LotID       *int64          `json:"lot_id,omitempty" validate:"omitempty,gt=0"`
}

type adjustRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
	Reason      string          `json:"reason" validate:"omitempty,max=255"`
}

type transferRequest struct {
	ProductID       int64           `json:"product_id" validate:"required,gt=0"`
	FromWarehouseID int64           `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64           `json:"to_warehouse_id" validate:"required,gt=0"`
	Quantity        decimal.Decimal `json:"quantity"`
	Reason          string          `json:"reason" validate:"omitempty,max=255"`
	LotID           *int64          `json:"lot_id,omitempty" validate:"omitempty,gt=0"`
}

type movementResponse struct {
	MovementID int64 `json:"movement_id"`
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.engine.Load(r.Context(), LoadInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
		DocumentRef: req.DocumentRef,
		LotID:       req.LotID,
		UserID:      userIDFromContext(r),
	})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{MovementID: id})
}

func (h *Handler) handleUnload(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.engine.Unload(r.Context(), UnloadInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
		DocumentRef: req.DocumentRef,
		LotID:       req.LotID,
		UserID:      userIDFromContext(r),
	})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{MovementID: id})
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.engine.Adjust(r.Context(), AdjustInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		NewQuantity: req.NewQuantity,
		Reason:      req.Reason,
		UserID:      userIDFromContext(r),
	})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{MovementID: id})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.engine.Transfer(r.Context(), TransferInput{
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		Reason:          req.Reason,
		LotID:           req.LotID,
		UserID:          userIDFromContext(r),
	})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{MovementID: id})
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	productID := queryInt64(r, "product_id")
	warehouseID := queryInt64(r, "warehouse_id")
	if productID == 0 || warehouseID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and warehouse_id are required")
		return
	}
	level, err := h.repo.GetStockLevel(r.Context(), productID, warehouseID)
	if err != nil {
		h.logger.Error("get stock level", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":   level.ProductID,
		"warehouse_id": level.WarehouseID,
		"quantity":     level.Quantity,
		"updated_at":   level.UpdatedAt,
	})
}

func (h *Handler) handleListStock(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := strconv.ParseInt(chi.URLParam(r, "warehouseID"), 10, 64)
	if err != nil || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid warehouse id")
		return
	}
	levels, err := h.repo.ListStockByWarehouse(r.Context(), warehouseID)
	if err != nil {
		h.logger.Error("list stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock_levels": levels})
}

func (h *Handler) handleListLots(w http.ResponseWriter, r *http.Request) {
	productID := queryInt64(r, "product_id")
	warehouseID := queryInt64(r, "warehouse_id")
	if productID == 0 || warehouseID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and warehouse_id are required")
		return
	}
	lots, err := h.repo.FindLotsByProductWarehouse(r.Context(), productID, warehouseID)
	if err != nil {
		h.logger.Error("list lots", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": lots})
}

func (h *Handler) handleExpiringLots(w http.ResponseWriter, r *http.Request) {
	days := int(queryInt64(r, "days"))
	if days <= 0 {
		days = h.expiringDays
	}
	lots, err := h.repo.FindExpiringLots(r.Context(), days)
	if err != nil {
		h.logger.Error("list expiring lots", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"days": days, "lots": lots})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	filter := MovementFilter{
		ProductID:   queryInt64(r, "product_id"),
		WarehouseID: queryInt64(r, "warehouse_id"),
		Limit:       int(queryInt64(r, "limit")),
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		mk := MovementKind(kind)
		if !mk.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown movement kind")
			return
		}
		filter.Kind = mk
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		filter.To = t.AddDate(0, 0, 1)
	}
	movements, err := h.repo.ListMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.cache.FetchSummary(r.Context(), func(ctx context.Context) (StockSummary, error) {
		return h.repo.Summary(ctx, h.expiringDays)
	})
	if err != nil {
		h.logger.Error("stock summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondEngineError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.ProblemWithMeta(w, http.StatusConflict, "Insufficient Stock", insufficient.Error(), map[string]any{
			"available": insufficient.Available,
			"requested": insufficient.Requested,
		})
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrNegativeAdjustment),
		errors.Is(err, ErrSameWarehouse), errors.Is(err, ErrMissingKey):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrLotNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("engine operation", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func userIDFromContext(r *http.Request) *int64 {
	user := shared.UserFromContext(r.Context())
	if user.UserID == 0 {
		return nil
	}
	return &user.UserID
}

func queryInt64(r *http.Request, key string) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}
