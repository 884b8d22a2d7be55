package loans

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/coopledger/coopledger/internal/platform/httpx"
)

// Handler manages loan endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers loan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.issueLoan)
	r.Get("/", h.listLoans)
	r.Get("/{id}/ledger", h.loanLedger)
	r.Post("/{id}/repayments", h.recordRepayment)
}

type issueLoanRequest struct {
	GroupID   string  `json:"group_id" validate:"required,uuid4"`
	Principal float64 `json:"principal" validate:"required,gt=0"`
}

type repaymentRequest struct {
	FarmerID  string  `json:"farmer_id" validate:"required,uuid4"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	CreatedBy string  `json:"created_by" validate:"required"`
}

type loanResponse struct {
	ID          string  `json:"id"`
	GroupID     string  `json:"group_id"`
	Principal   float64 `json:"principal"`
	Outstanding float64 `json:"outstanding_balance"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
}

type ledgerEntryResponse struct {
	ID           string  `json:"id"`
	FarmerID     string  `json:"farmer_id"`
	LoanID       string  `json:"loan_id"`
	EntryType    string  `json:"entry_type"`
	Amount       float64 `json:"amount"`
	BalanceAfter float64 `json:"balance_after"`
	PayoutID     *string `json:"payout_id,omitempty"`
	SeasonID     *string `json:"season_id,omitempty"`
	CreatedBy    string  `json:"created_by"`
	CreatedAt    string  `json:"created_at"`
}

func (h *Handler) issueLoan(w http.ResponseWriter, r *http.Request) {
	var req issueLoanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	loan, err := h.service.IssueLoan(r.Context(), IssueLoanInput{GroupID: req.GroupID, Principal: req.Principal})
	if err != nil {
		h.logger.Error("issue loan", slog.Any("error", err))
		httpx.Error(w, http.StatusBadRequest, "could not issue loan", err.Error())
		return
	}
	httpx.JSON(w, http.StatusCreated, toLoanResponse(loan))
}

func (h *Handler) listLoans(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("group_id")
	items, err := h.service.ListGroupLoans(r.Context(), groupID)
	if err != nil {
		h.logger.Error("list loans", slog.Any("error", err))
		httpx.Error(w, http.StatusBadRequest, "could not list loans", err.Error())
		return
	}
	out := make([]loanResponse, 0, len(items))
	for _, l := range items {
		out = append(out, toLoanResponse(l))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"loans": out})
}

func (h *Handler) loanLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.service.LoanLedger(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "loan not found", "")
			return
		}
		h.logger.Error("loan ledger", slog.Any("error", err), slog.String("loan_id", id))
		httpx.Error(w, http.StatusInternalServerError, "could not load ledger", "")
		return
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			ID:           e.ID,
			FarmerID:     e.FarmerID,
			LoanID:       e.LoanID,
			EntryType:    string(e.EntryType),
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			PayoutID:     e.PayoutID,
			SeasonID:     e.SeasonID,
			CreatedBy:    e.CreatedBy,
			CreatedAt:    e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) recordRepayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req repaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	change, err := h.service.RecordRepayment(r.Context(), id, req.FarmerID, req.CreatedBy, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Error(w, http.StatusNotFound, "loan not found", "")
		case errors.Is(err, ErrNothingOutstanding):
			httpx.Error(w, http.StatusConflict, "nothing outstanding", "loan balance is already zero")
		default:
			h.logger.Error("record repayment", slog.Any("error", err), slog.String("loan_id", id))
			httpx.Error(w, http.StatusInternalServerError, "could not record repayment", "")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"loan_id":       id,
		"applied":       change.Applied(),
		"balance_after": change.After,
	})
}

func toLoanResponse(l Loan) loanResponse {
	return loanResponse{
		ID:          l.ID,
		GroupID:     l.GroupID,
		Principal:   l.Principal,
		Outstanding: l.Outstanding,
		Status:      string(l.Status),
		CreatedAt:   l.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}
