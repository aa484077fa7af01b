package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"P2PDesk/internal/actions"
	"P2PDesk/internal/backend"
	"P2PDesk/internal/desk"
	"P2PDesk/internal/logging"
	"P2PDesk/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler is the presentation surface: it exposes view state and the perform
// entry point over local HTTP. All backend failures arrive here already
// classified; the handler only maps classes to status codes.
type Handler struct {
	log      *slog.Logger
	desk     *desk.Registry
	validate *validator.Validate
}

func NewHandler(log *slog.Logger, registry *desk.Registry) *Handler {
	return &Handler{
		log:      log,
		desk:     registry,
		validate: validator.New(),
	}
}

type openViewRequest struct {
	OrderID string `json:"order_id" validate:"required"`
	Kind    string `json:"kind" validate:"required,oneof=deposit withdraw"`
}

func (h *Handler) OpenView(w http.ResponseWriter, r *http.Request) {
	var req openViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "order_id and kind (deposit|withdraw) are required")
		return
	}

	s, err := h.desk.Open(r.Context(), req.OrderID, models.OrderKind(req.Kind))
	if err != nil {
		h.writeBackendError(w, "open view failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, s.State())
}

func (h *Handler) ListViews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"watched": h.desk.Watched()})
}

func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	s, err := h.desk.Get(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "order is not being watched")
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) CloseView(w http.ResponseWriter, r *http.Request) {
	if err := h.desk.Close(chi.URLParam(r, "orderId")); err != nil {
		writeError(w, http.StatusNotFound, "order is not being watched")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PerformAction(w http.ResponseWriter, r *http.Request) {
	s, err := h.desk.Get(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "order is not being watched")
		return
	}

	op := actions.Op(chi.URLParam(r, "op"))
	if !op.Valid() {
		writeError(w, http.StatusBadRequest, "unknown operation")
		return
	}

	if _, err := s.Perform(r.Context(), op); err != nil {
		switch {
		case errors.Is(err, actions.ErrInFlight):
			writeError(w, http.StatusTooManyRequests, "action already in flight")
		case errors.Is(err, actions.ErrNotAllowed):
			writeError(w, http.StatusForbidden, "action not allowed for current role and status")
		case errors.Is(err, actions.ErrNoOrder):
			writeError(w, http.StatusConflict, "no order snapshot yet")
		default:
			h.writeBackendError(w, "action failed", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) writeBackendError(w http.ResponseWriter, msg string, err error) {
	h.log.Warn(msg, logging.Err(err))

	var be *backend.Error
	if errors.As(err, &be) && be.Status == http.StatusNotFound {
		writeError(w, http.StatusNotFound, be.Message)
		return
	}
	switch backend.KindOf(err) {
	case backend.KindValidation:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case backend.KindAuthorization:
		writeError(w, http.StatusForbidden, err.Error())
	case backend.KindConflict:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
