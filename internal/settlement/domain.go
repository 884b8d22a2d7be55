// Package settlement implements the delivery settlement engine: it converts
// one unsettled delivery into an immutable payout, offsets the gross value
// against the owning group's outstanding loans in FIFO order, and appends a
// ledger entry per loan touched.
package settlement

import (
	"errors"
	"time"
)

// PaymentMethod enumerates how the net amount is paid out.
type PaymentMethod string

const (
	MethodCash PaymentMethod = "cash"
	MethodBank PaymentMethod = "bank"
)

// Valid reports whether the method is a known value.
func (m PaymentMethod) Valid() bool {
	return m == MethodCash || m == MethodBank
}

// Payout is the immutable result of settling one delivery. At most one payout
// exists per delivery; the uniqueness constraint on DeliveryID at the store is
// the serialization point for concurrent settlement attempts.
type Payout struct {
	ID            string
	Number        string
	DeliveryID    string
	GrossAmount   float64
	LoanDeduction float64
	NetPaid       float64
	Method        PaymentMethod
	Reference     string
	CreatedBy     string
	CreatedAt     time.Time
}

// Result is returned to the caller after a successful settlement.
type Result struct {
	Payout           Payout
	DeductionApplied float64
	NetPaid          float64
}

// SettleInput carries the parameters of one settlement attempt.
type SettleInput struct {
	DeliveryID string
	Method     PaymentMethod
	Reference  string
}

// Settlement error taxonomy. NotFound, AlreadyProcessed and InvalidDelivery
// reject before any write; ErrPersistence means the payout insert itself
// failed and the attempt is safe to retry.
var (
	ErrDeliveryNotFound = errors.New("settlement: delivery not found")
	ErrAlreadyProcessed = errors.New("settlement: delivery already settled")
	ErrInvalidDelivery  = errors.New("settlement: delivery weight or price missing")
	ErrPersistence      = errors.New("settlement: payout insert failed")

	// ErrNoPayout is returned by payout lookups when no payout exists for a
	// delivery.
	ErrNoPayout = errors.New("settlement: payout not found")
)
