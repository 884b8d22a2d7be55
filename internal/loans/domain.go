package loans

import "time"

// LoanStatus enumerates loan lifecycle states.
type LoanStatus string

const (
	LoanStatusActive     LoanStatus = "ACTIVE"
	LoanStatusSettled    LoanStatus = "SETTLED"
	LoanStatusWrittenOff LoanStatus = "WRITTEN_OFF"
)

// LedgerEntryType enumerates balance-change causes.
type LedgerEntryType string

const (
	EntryTypeDeduction LedgerEntryType = "DEDUCTION"
	EntryTypeRepayment LedgerEntryType = "REPAYMENT"
)

// Loan is a credit extended to a farmer group. The outstanding balance only
// ever decreases under settlement deductions and repayments, and never drops
// below zero.
type Loan struct {
	ID          string
	GroupID     string
	Principal   float64
	Outstanding float64
	Status      LoanStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LedgerEntry is an append-only audit line for a single loan balance change.
// Amount is signed: a negative value is a debit against what is owed.
type LedgerEntry struct {
	ID           string
	FarmerID     string
	LoanID       string
	EntryType    LedgerEntryType
	Amount       float64
	BalanceAfter float64
	PayoutID     *string
	SeasonID     *string
	CreatedBy    string
	CreatedAt    time.Time
}

// LedgerEntryInput carries the fields required to append a ledger entry.
type LedgerEntryInput struct {
	FarmerID     string
	LoanID       string
	EntryType    LedgerEntryType
	Amount       float64
	BalanceAfter float64
	PayoutID     *string
	SeasonID     *string
	CreatedBy    string
}

// BalanceChange reports the outcome of an atomic balance deduction. The
// applied amount is Before - After, which can be less than requested when a
// concurrent deduction shrank the balance first.
type BalanceChange struct {
	Before float64
	After  float64
}

// Applied returns the amount actually deducted.
func (c BalanceChange) Applied() float64 {
	return c.Before - c.After
}

// IssueLoanInput carries the fields required to issue a loan to a group.
type IssueLoanInput struct {
	GroupID   string
	Principal float64
}
