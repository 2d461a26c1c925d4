package document

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockyard-erp/stockyard-erp/internal/catalog"
	"github.com/stockyard-erp/stockyard-erp/internal/inventory"
	"github.com/stockyard-erp/stockyard-erp/internal/platform/httpx"
	"github.com/stockyard-erp/stockyard-erp/internal/shared"
)

// Handler wires HTTP endpoints for the transport document module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the document handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/recipients", h.handleListRecipients)
	r.Post("/recipients", h.handleCreateRecipient)
	r.Put("/recipients/{recipientID}", h.handleUpdateRecipient)
	r.Route("/{documentID}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handleUpdateHeader)
		r.Delete("/", h.handleDiscard)
		r.Post("/lines", h.handleAddLine)
		r.Delete("/lines/{lineID}", h.handleRemoveLine)
		r.Post("/issue", h.handleIssue)
		r.Post("/cancel", h.handleCancel)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.service.Create(r.Context(), req, userIDFromContext(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Year:        int(queryInt64(r, "year")),
		State:       State(r.URL.Query().Get("state")),
		RecipientID: queryInt64(r, "recipient_id"),
		Page:        int(queryInt64(r, "page")),
		PerPage:     int(queryInt64(r, "per_page")),
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
	documents, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": documents, "pagination": page})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "documentID")
	if !ok {
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleUpdateHeader(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "documentID")
	if !ok {
		return
	}
	var req UpdateHeaderRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.service.UpdateHeader(r.Context(), id, req, userIDFromContext(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "documentID")
	if !ok {
		return
	}
	if err := h.service.Discard(r.Context(), id, userIDFromContext(r)); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "documentID")
	if !ok {
		return
	}
	var req AddLineRequest
	if !h.decode(w, r, &req) {
		return
	}
	line, err := h.service.AddLine(r.Context(), id, req, userIDFromContext(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	documentID, ok := h.pathID(w, r, "documentID")
	if !ok {
		return
	}
	lineID, ok := h.pathID(w, r, "lineID")
	if !ok {
		return
	}
	if err := h.service.RemoveLine(r.Context(), documentID, lineID, userIDFromContext(r)); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "documentID")
	if !ok {
		return
	}
	doc, err := h.service.Issue(r.Context(), id, userIDFromContext(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "documentID")
	if !ok {
		return
	}
	doc, err := h.service.Cancel(r.Context(), id, userIDFromContext(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := h.service.Recipients(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"recipients": recipients})
}

func (h *Handler) handleCreateRecipient(w http.ResponseWriter, r *http.Request) {
	var req SaveRecipientRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.service.SaveRecipient(r.Context(), 0, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleUpdateRecipient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "recipientID")
	if !ok {
		return
	}
	var req SaveRecipientRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.service.SaveRecipient(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
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

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+param)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *inventory.InsufficientStockError
	var compensation *CompensationError
	switch {
	case errors.As(err, &compensation):
		h.logger.Error("document compensation failed", slog.Any("error", compensation))
		httpx.ProblemWithMeta(w, http.StatusInternalServerError, "Inconsistent Document State", compensation.Error(), map[string]any{
			"document_id": compensation.DocumentID,
			"reference":   compensation.Reference,
		})
	case errors.As(err, &insufficient):
		httpx.ProblemWithMeta(w, http.StatusConflict, "Insufficient Stock", insufficient.Error(), map[string]any{
			"available": insufficient.Available,
			"requested": insufficient.Requested,
		})
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrLineNotFound),
		errors.Is(err, ErrRecipientNotFound), errors.Is(err, catalog.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNotDraft), errors.Is(err, ErrNotIssued),
		errors.Is(err, ErrEmptyDocument), errors.Is(err, ErrStateChanged),
		errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, inventory.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("document operation", slog.Any("error", err))
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
