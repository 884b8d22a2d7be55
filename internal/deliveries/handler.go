package deliveries

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/coopledger/coopledger/internal/platform/httpx"
)

// Handler manages delivery endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers delivery routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createDelivery)
	r.Get("/", h.listDeliveries)
	r.Get("/{id}", h.getDelivery)
}

type createDeliveryRequest struct {
	FarmerID  string  `json:"farmer_id" validate:"required,uuid4"`
	WeightKG  float64 `json:"weight_kg" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"required,gt=0"`
	OfficerID string  `json:"officer_id" validate:"required"`
	Note      string  `json:"note"`
}

type deliveryResponse struct {
	ID         string  `json:"id"`
	FarmerID   string  `json:"farmer_id"`
	GroupID    string  `json:"group_id"`
	WeightKG   float64 `json:"weight_kg"`
	UnitPrice  float64 `json:"unit_price"`
	OfficerID  string  `json:"officer_id"`
	Note       string  `json:"note,omitempty"`
	FarmerName string  `json:"farmer_name,omitempty"`
	GroupName  string  `json:"group_name,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func (h *Handler) createDelivery(w http.ResponseWriter, r *http.Request) {
	var req createDeliveryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	delivery, err := h.service.RecordDelivery(r.Context(), CreateDeliveryInput{
		FarmerID:  req.FarmerID,
		WeightKG:  req.WeightKG,
		UnitPrice: req.UnitPrice,
		OfficerID: req.OfficerID,
		Note:      req.Note,
	})
	if err != nil {
		h.logger.Error("record delivery", slog.Any("error", err))
		httpx.Error(w, http.StatusBadRequest, "could not record delivery", err.Error())
		return
	}

	httpx.JSON(w, http.StatusCreated, toDeliveryResponse(DeliveryWithContext{Delivery: delivery}))
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	delivery, err := h.service.GetDelivery(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "delivery not found", "")
			return
		}
		h.logger.Error("get delivery", slog.Any("error", err), slog.String("id", id))
		httpx.Error(w, http.StatusInternalServerError, "could not load delivery", "")
		return
	}
	httpx.JSON(w, http.StatusOK, toDeliveryResponse(delivery))
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("group_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.service.ListGroupDeliveries(r.Context(), groupID, limit)
	if err != nil {
		h.logger.Error("list deliveries", slog.Any("error", err))
		httpx.Error(w, http.StatusBadRequest, "could not list deliveries", err.Error())
		return
	}

	out := make([]deliveryResponse, 0, len(items))
	for _, d := range items {
		out = append(out, toDeliveryResponse(DeliveryWithContext{Delivery: d}))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deliveries": out})
}

func toDeliveryResponse(d DeliveryWithContext) deliveryResponse {
	return deliveryResponse{
		ID:         d.ID,
		FarmerID:   d.FarmerID,
		GroupID:    d.GroupID,
		WeightKG:   d.WeightKG,
		UnitPrice:  d.UnitPrice,
		OfficerID:  d.OfficerID,
		Note:       d.Note,
		FarmerName: d.FarmerName,
		GroupName:  d.GroupName,
		CreatedAt:  d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}
