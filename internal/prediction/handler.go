package prediction

import (
	"net/http"

	errors "github.com/frahmantamala/thematic-predictions/internal"
	"github.com/frahmantamala/thematic-predictions/internal/transport"
	"github.com/frahmantamala/thematic-predictions/pkg/logger"

	"github.com/go-chi/chi"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger.LoggerWrapper()),
		Service:     service,
	}
}

func (h *Handler) CreatePrediction(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}

	res, err := h.Service.Create(r.Context(), req)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	h.WriteJSON(w, status, NewCreatePredictionResponse(res))
}

func (h *Handler) GetPredictionStatus(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intentID")

	view, err := h.Service.QueryStatus(r.Context(), intentID)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewStatusResponse(view))
}

func (h *Handler) ExpireStale(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.ExpireStale(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.Logger.Info("manual expiry sweep", "subject", errors.SubjectFromContext(r.Context()), "expired", n)
	h.WriteJSON(w, http.StatusOK, ExpireResponse{Expired: n})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Service.Stats(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}

	var total int64
	for _, c := range counts {
		total += c
	}
	h.WriteJSON(w, http.StatusOK, StatsResponse{Counts: counts, Total: total})
}
