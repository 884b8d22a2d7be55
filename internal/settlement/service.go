package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coopledger/coopledger/internal/deliveries"
	"github.com/coopledger/coopledger/internal/loans"
	"github.com/coopledger/coopledger/internal/masterdata"
)

// DeliveryStore reads delivery records.
type DeliveryStore interface {
	Get(ctx context.Context, id string) (deliveries.Delivery, error)
	GetWithContext(ctx context.Context, id string) (deliveries.DeliveryWithContext, error)
}

// LoanStore reads and mutates loan balances. DeductBalance must be atomic
// with a floor at zero; the engine books the amount the store actually
// applied, never the amount it asked for.
type LoanStore interface {
	ListOutstandingByGroup(ctx context.Context, groupID string) ([]loans.Loan, error)
	DeductBalance(ctx context.Context, loanID string, amount float64) (loans.BalanceChange, error)
	AppendLedgerEntry(ctx context.Context, input loans.LedgerEntryInput) (loans.LedgerEntry, error)
}

// SeasonStore resolves the active growing season, when one exists.
type SeasonStore interface {
	GetActiveSeason(ctx context.Context) (masterdata.Season, error)
}

// PayoutStore persists payouts. Insert must enforce delivery_id uniqueness.
type PayoutStore interface {
	Insert(ctx context.Context, p Payout) (Payout, error)
	GetByDelivery(ctx context.Context, deliveryID string) (Payout, error)
	ListRecent(ctx context.Context, limit int) ([]Payout, error)
}

// GroupLocker narrows the window in which two settlements for the same group
// allocate against overlapping loan snapshots. It is an optimization only:
// settlement proceeds whether or not the lock is acquired, and correctness
// rests on the store-level atomic deduction.
type GroupLocker interface {
	Acquire(ctx context.Context, groupID string) (release func(), acquired bool)
}

// Service is the settlement engine.
type Service struct {
	logger     *slog.Logger
	deliveries DeliveryStore
	loans      LoanStore
	seasons    SeasonStore
	payouts    PayoutStore
	locker     GroupLocker
}

// NewService builds Service instance. locker may be nil.
func NewService(logger *slog.Logger, deliveryStore DeliveryStore, loanStore LoanStore, seasonStore SeasonStore, payoutStore PayoutStore, locker GroupLocker) *Service {
	return &Service{
		logger:     logger,
		deliveries: deliveryStore,
		loans:      loanStore,
		seasons:    seasonStore,
		payouts:    payoutStore,
		locker:     locker,
	}
}

// SettleDelivery converts one unsettled delivery into a payout plus loan
// balance updates. Settlement is at-most-once per delivery: the payout insert
// is the commit point, and once it succeeds the call reports success even if
// individual loan updates or ledger writes fail afterwards. Those failures
// are logged and reconciled by the periodic sweep.
func (s *Service) SettleDelivery(ctx context.Context, input SettleInput) (Result, error) {
	if input.Method == "" {
		input.Method = MethodBank
	}

	delivery, err := s.fetchDelivery(ctx, input.DeliveryID)
	if err != nil {
		return Result{}, err
	}

	// Pre-check is an optimization for the common retry case. The database
	// constraint on delivery_id remains the actual serialization point.
	if _, err := s.payouts.GetByDelivery(ctx, input.DeliveryID); err == nil {
		return Result{}, ErrAlreadyProcessed
	} else if !errors.Is(err, ErrNoPayout) {
		s.logger.Warn("payout pre-check failed, relying on insert constraint",
			slog.Any("error", err), slog.String("delivery_id", input.DeliveryID))
	}

	var seasonID *string
	if season, err := s.seasons.GetActiveSeason(ctx); err == nil {
		seasonID = &season.ID
	} else if !errors.Is(err, masterdata.ErrNotFound) {
		s.logger.Warn("active season lookup failed", slog.Any("error", err))
	}

	outstanding, err := s.loans.ListOutstandingByGroup(ctx, delivery.GroupID)
	if err != nil {
		s.logger.Warn("loan lookup failed, settling without deductions",
			slog.Any("error", err), slog.String("group_id", delivery.GroupID))
		outstanding = nil
	}

	gross := delivery.WeightKG * delivery.UnitPrice
	if !(gross > 0) {
		return Result{}, fmt.Errorf("%w: weight=%v price=%v", ErrInvalidDelivery, delivery.WeightKG, delivery.UnitPrice)
	}

	var totalOutstanding float64
	for _, loan := range outstanding {
		totalOutstanding += loan.Outstanding
	}
	deduction := totalOutstanding
	if deduction > gross {
		deduction = gross
	}
	netPaid := gross - deduction

	if s.locker != nil {
		release, acquired := s.locker.Acquire(ctx, delivery.GroupID)
		if acquired {
			defer release()
		}
	}

	payout, err := s.payouts.Insert(ctx, Payout{
		ID:            uuid.NewString(),
		Number:        payoutNumber(),
		DeliveryID:    delivery.ID,
		GrossAmount:   gross,
		LoanDeduction: deduction,
		NetPaid:       netPaid,
		Method:        input.Method,
		Reference:     input.Reference,
		CreatedBy:     delivery.OfficerID,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			return Result{}, ErrAlreadyProcessed
		}
		return Result{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.allocate(ctx, payout, delivery, outstanding, seasonID)

	return Result{Payout: payout, DeductionApplied: payout.LoanDeduction, NetPaid: payout.NetPaid}, nil
}

// allocate walks the FIFO-ordered loan list and applies the deduction. The
// payout is already committed: a failed loan update or ledger write is logged
// and skipped, never escalated.
func (s *Service) allocate(ctx context.Context, payout Payout, delivery deliveries.Delivery, outstanding []loans.Loan, seasonID *string) {
	remaining := payout.LoanDeduction
	for _, loan := range outstanding {
		if remaining <= 0 {
			break
		}
		want := remaining
		if loan.Outstanding < want {
			want = loan.Outstanding
		}

		change, err := s.loans.DeductBalance(ctx, loan.ID, want)
		if err != nil {
			s.logger.Error("loan deduction failed, skipping loan",
				slog.Any("error", err), slog.String("loan_id", loan.ID), slog.String("payout_id", payout.ID))
			continue
		}
		applied := change.Applied()
		if applied <= 0 {
			// Another settlement drained this loan between listing and
			// deducting. Move on to the next one.
			continue
		}

		if _, err := s.loans.AppendLedgerEntry(ctx, loans.LedgerEntryInput{
			FarmerID:     delivery.FarmerID,
			LoanID:       loan.ID,
			EntryType:    loans.EntryTypeDeduction,
			Amount:       -applied,
			BalanceAfter: change.After,
			PayoutID:     &payout.ID,
			SeasonID:     seasonID,
			CreatedBy:    delivery.OfficerID,
		}); err != nil {
			s.logger.Error("ledger entry failed after balance update",
				slog.Any("error", err), slog.String("loan_id", loan.ID), slog.String("payout_id", payout.ID))
		}

		remaining -= applied
	}
	if remaining > 0 && payout.LoanDeduction > 0 {
		s.logger.Warn("settlement deduction not fully allocated",
			slog.String("payout_id", payout.ID), slog.Float64("unallocated", remaining))
	}
}

// fetchDelivery loads the delivery with relational context, falling back to
// the bare row when the join fails. Context lookup must never block
// settlement of the numeric fields.
func (s *Service) fetchDelivery(ctx context.Context, id string) (deliveries.Delivery, error) {
	full, err := s.deliveries.GetWithContext(ctx, id)
	if err == nil {
		return full.Delivery, nil
	}
	if errors.Is(err, deliveries.ErrNotFound) {
		return deliveries.Delivery{}, ErrDeliveryNotFound
	}
	s.logger.Warn("joined delivery lookup failed, falling back to bare row",
		slog.Any("error", err), slog.String("delivery_id", id))

	bare, err := s.deliveries.Get(ctx, id)
	if err != nil {
		if errors.Is(err, deliveries.ErrNotFound) {
			return deliveries.Delivery{}, ErrDeliveryNotFound
		}
		return deliveries.Delivery{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return bare, nil
}

// GetPayout returns the payout for a delivery.
func (s *Service) GetPayout(ctx context.Context, deliveryID string) (Payout, error) {
	return s.payouts.GetByDelivery(ctx, deliveryID)
}

// ListPayouts returns recent payouts.
func (s *Service) ListPayouts(ctx context.Context, limit int) ([]Payout, error) {
	return s.payouts.ListRecent(ctx, limit)
}

func payoutNumber() string {
	return "PAY-" + uuid.NewString()[:8]
}
