package loans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coopledger/coopledger/internal/masterdata"
)

// ErrNothingOutstanding indicates a repayment against a fully settled loan.
var ErrNothingOutstanding = errors.New("loans: nothing outstanding")

// RepositoryPort defines data access methods for loans.
type RepositoryPort interface {
	Create(ctx context.Context, l Loan) (Loan, error)
	Get(ctx context.Context, id string) (Loan, error)
	ListByGroup(ctx context.Context, groupID string) ([]Loan, error)
	ListOutstandingByGroup(ctx context.Context, groupID string) ([]Loan, error)
	RecordRepayment(ctx context.Context, loanID, farmerID, createdBy string, amount float64) (BalanceChange, error)
	ListLedgerByLoan(ctx context.Context, loanID string) ([]LedgerEntry, error)
}

// GroupPort validates farmer groups.
type GroupPort interface {
	GetFarmerGroup(ctx context.Context, id string) (masterdata.FarmerGroup, error)
}

// Service handles loan business logic.
type Service struct {
	repo   RepositoryPort
	groups GroupPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, groups GroupPort) *Service {
	return &Service{repo: repo, groups: groups}
}

// IssueLoan extends credit to a farmer group.
func (s *Service) IssueLoan(ctx context.Context, input IssueLoanInput) (Loan, error) {
	if input.GroupID == "" {
		return Loan{}, errors.New("group ID required")
	}
	if input.Principal <= 0 {
		return Loan{}, errors.New("principal must be positive")
	}
	if _, err := s.groups.GetFarmerGroup(ctx, input.GroupID); err != nil {
		if errors.Is(err, masterdata.ErrNotFound) {
			return Loan{}, errors.New("group does not exist")
		}
		return Loan{}, fmt.Errorf("resolve group: %w", err)
	}
	now := time.Now().UTC()
	return s.repo.Create(ctx, Loan{
		ID:          uuid.NewString(),
		GroupID:     input.GroupID,
		Principal:   input.Principal,
		Outstanding: input.Principal,
		Status:      LoanStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// ListGroupLoans returns all loans for a group, oldest first.
func (s *Service) ListGroupLoans(ctx context.Context, groupID string) ([]Loan, error) {
	if groupID == "" {
		return nil, errors.New("group ID required")
	}
	return s.repo.ListByGroup(ctx, groupID)
}

// RecordRepayment applies a cash repayment against a loan, independent of
// delivery settlement. The deduction floors at zero; repaying more than is
// outstanding applies only the outstanding portion.
func (s *Service) RecordRepayment(ctx context.Context, loanID, farmerID, createdBy string, amount float64) (BalanceChange, error) {
	if amount <= 0 {
		return BalanceChange{}, errors.New("amount must be positive")
	}
	change, err := s.repo.RecordRepayment(ctx, loanID, farmerID, createdBy, amount)
	if err != nil {
		return BalanceChange{}, err
	}
	if change.Applied() <= 0 {
		return BalanceChange{}, ErrNothingOutstanding
	}
	return change, nil
}

// LoanLedger returns the append-only trail for a loan.
func (s *Service) LoanLedger(ctx context.Context, loanID string) ([]LedgerEntry, error) {
	if _, err := s.repo.Get(ctx, loanID); err != nil {
		return nil, err
	}
	return s.repo.ListLedgerByLoan(ctx, loanID)
}
