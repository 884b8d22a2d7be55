package settlement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/coopledger/coopledger/internal/observability"
	"github.com/coopledger/coopledger/internal/platform/httpx"
)

// Handler manages settlement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	metrics   *observability.Metrics
	inflight  singleflight.Group
}

// NewHandler builds Handler instance. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), metrics: metrics}
}

// MountRoutes registers settlement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.settleDelivery)
	r.Get("/", h.listPayouts)
	r.Get("/{deliveryID}", h.getPayout)
}

type settleRequest struct {
	DeliveryID string `json:"delivery_id" validate:"required,uuid4"`
	Method     string `json:"payment_method" validate:"omitempty,oneof=cash bank"`
	Reference  string `json:"reference_number"`
}

type payoutResponse struct {
	ID            string  `json:"id"`
	Number        string  `json:"number"`
	DeliveryID    string  `json:"delivery_id"`
	GrossAmount   float64 `json:"gross_amount"`
	LoanDeduction float64 `json:"loan_deduction"`
	NetPaid       float64 `json:"net_paid"`
	Method        string  `json:"payment_method"`
	Reference     string  `json:"reference_number,omitempty"`
	CreatedBy     string  `json:"created_by"`
	CreatedAt     string  `json:"created_at"`
}

type settleResponse struct {
	Success          bool           `json:"success"`
	Payout           payoutResponse `json:"payout"`
	DeductionApplied float64        `json:"deduction_applied"`
	NetPaid          float64        `json:"net_paid"`
	Message          string         `json:"message"`
}

func (h *Handler) settleDelivery(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	// Concurrent requests for the same delivery collapse into one settlement
	// attempt within this process. The database constraint still guards
	// against races across processes.
	value, err, _ := h.inflight.Do(req.DeliveryID, func() (any, error) {
		return h.service.SettleDelivery(r.Context(), SettleInput{
			DeliveryID: req.DeliveryID,
			Method:     PaymentMethod(req.Method),
			Reference:  req.Reference,
		})
	})
	if err != nil {
		h.respondSettleError(w, req.DeliveryID, err)
		return
	}
	result := value.(Result)

	h.metrics.RecordSettlement("settled", result.DeductionApplied)
	httpx.JSON(w, http.StatusOK, settleResponse{
		Success:          true,
		Payout:           toPayoutResponse(result.Payout),
		DeductionApplied: result.DeductionApplied,
		NetPaid:          result.NetPaid,
		Message:          "delivery settled",
	})
}

func (h *Handler) respondSettleError(w http.ResponseWriter, deliveryID string, err error) {
	switch {
	case errors.Is(err, ErrDeliveryNotFound):
		h.metrics.RecordSettlement("not_found", 0)
		httpx.Error(w, http.StatusNotFound, "delivery not found", deliveryID)
	case errors.Is(err, ErrAlreadyProcessed):
		h.metrics.RecordSettlement("already_processed", 0)
		httpx.Error(w, http.StatusConflict, "delivery already settled", deliveryID)
	case errors.Is(err, ErrInvalidDelivery):
		h.metrics.RecordSettlement("invalid_delivery", 0)
		httpx.Error(w, http.StatusUnprocessableEntity, "delivery has no settleable value", err.Error())
	case errors.Is(err, ErrPersistence):
		h.metrics.RecordSettlement("persistence_failure", 0)
		h.logger.Error("payout persistence failed", slog.Any("error", err), slog.String("delivery_id", deliveryID))
		httpx.Error(w, http.StatusBadGateway, "settlement store unavailable", "safe to retry")
	default:
		h.metrics.RecordSettlement("error", 0)
		h.logger.Error("settle delivery", slog.Any("error", err), slog.String("delivery_id", deliveryID))
		httpx.Error(w, http.StatusInternalServerError, "settlement failed", "")
	}
}

func (h *Handler) getPayout(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryID")
	payout, err := h.service.GetPayout(r.Context(), deliveryID)
	if err != nil {
		if errors.Is(err, ErrNoPayout) {
			httpx.Error(w, http.StatusNotFound, "payout not found", deliveryID)
			return
		}
		h.logger.Error("get payout", slog.Any("error", err), slog.String("delivery_id", deliveryID))
		httpx.Error(w, http.StatusInternalServerError, "could not load payout", "")
		return
	}
	httpx.JSON(w, http.StatusOK, toPayoutResponse(payout))
}

func (h *Handler) listPayouts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	payouts, err := h.service.ListPayouts(r.Context(), limit)
	if err != nil {
		h.logger.Error("list payouts", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "could not list payouts", "")
		return
	}
	out := make([]payoutResponse, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, toPayoutResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payouts": out})
}

func toPayoutResponse(p Payout) payoutResponse {
	return payoutResponse{
		ID:            p.ID,
		Number:        p.Number,
		DeliveryID:    p.DeliveryID,
		GrossAmount:   p.GrossAmount,
		LoanDeduction: p.LoanDeduction,
		NetPaid:       p.NetPaid,
		Method:        string(p.Method),
		Reference:     p.Reference,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}
