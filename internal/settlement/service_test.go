package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coopledger/coopledger/internal/deliveries"
	"github.com/coopledger/coopledger/internal/loans"
	"github.com/coopledger/coopledger/internal/masterdata"
)

type deliveryFake struct {
	rows    map[string]deliveries.DeliveryWithContext
	joinErr error
	bareErr error
}

func (f *deliveryFake) Get(_ context.Context, id string) (deliveries.Delivery, error) {
	if f.bareErr != nil {
		return deliveries.Delivery{}, f.bareErr
	}
	row, ok := f.rows[id]
	if !ok {
		return deliveries.Delivery{}, deliveries.ErrNotFound
	}
	return row.Delivery, nil
}

func (f *deliveryFake) GetWithContext(_ context.Context, id string) (deliveries.DeliveryWithContext, error) {
	if f.joinErr != nil {
		return deliveries.DeliveryWithContext{}, f.joinErr
	}
	row, ok := f.rows[id]
	if !ok {
		return deliveries.DeliveryWithContext{}, deliveries.ErrNotFound
	}
	return row, nil
}

type loanFake struct {
	order     []string
	balances  map[string]float64
	listed    []loans.Loan
	listErr   error
	deductErr map[string]error
	entryErr  error
	entries   []loans.LedgerEntryInput
}

func (f *loanFake) ListOutstandingByGroup(_ context.Context, _ string) ([]loans.Loan, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.listed != nil {
		return f.listed, nil
	}
	var out []loans.Loan
	for _, id := range f.order {
		if f.balances[id] <= 0 {
			continue
		}
		out = append(out, loans.Loan{ID: id, Outstanding: f.balances[id], Status: loans.LoanStatusActive})
	}
	return out, nil
}

func (f *loanFake) DeductBalance(_ context.Context, loanID string, amount float64) (loans.BalanceChange, error) {
	if err := f.deductErr[loanID]; err != nil {
		return loans.BalanceChange{}, err
	}
	before := f.balances[loanID]
	after := before - amount
	if after < 0 {
		after = 0
	}
	f.balances[loanID] = after
	return loans.BalanceChange{Before: before, After: after}, nil
}

func (f *loanFake) AppendLedgerEntry(_ context.Context, input loans.LedgerEntryInput) (loans.LedgerEntry, error) {
	if f.entryErr != nil {
		return loans.LedgerEntry{}, f.entryErr
	}
	f.entries = append(f.entries, input)
	return loans.LedgerEntry{LoanID: input.LoanID, Amount: input.Amount}, nil
}

type seasonFake struct {
	season masterdata.Season
	err    error
}

func (f *seasonFake) GetActiveSeason(_ context.Context) (masterdata.Season, error) {
	if f.err != nil {
		return masterdata.Season{}, f.err
	}
	return f.season, nil
}

type payoutFake struct {
	byDelivery map[string]Payout
	insertErr  error
	lookupErr  error
}

func (f *payoutFake) Insert(_ context.Context, p Payout) (Payout, error) {
	if f.insertErr != nil {
		return Payout{}, f.insertErr
	}
	if f.byDelivery == nil {
		f.byDelivery = map[string]Payout{}
	}
	if _, exists := f.byDelivery[p.DeliveryID]; exists {
		return Payout{}, ErrAlreadyProcessed
	}
	f.byDelivery[p.DeliveryID] = p
	return p, nil
}

func (f *payoutFake) GetByDelivery(_ context.Context, deliveryID string) (Payout, error) {
	if f.lookupErr != nil {
		return Payout{}, f.lookupErr
	}
	p, ok := f.byDelivery[deliveryID]
	if !ok {
		return Payout{}, ErrNoPayout
	}
	return p, nil
}

func (f *payoutFake) ListRecent(_ context.Context, limit int) ([]Payout, error) {
	out := make([]Payout, 0, len(f.byDelivery))
	for _, p := range f.byDelivery {
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

const (
	testDeliveryID = "5b0c7f9e-1111-4a01-9c5a-000000000001"
	testFarmerID   = "5b0c7f9e-2222-4a01-9c5a-000000000002"
	testGroupID    = "5b0c7f9e-3333-4a01-9c5a-000000000003"
)

func testDelivery(weight, price float64) deliveries.DeliveryWithContext {
	return deliveries.DeliveryWithContext{
		Delivery: deliveries.Delivery{
			ID:        testDeliveryID,
			FarmerID:  testFarmerID,
			GroupID:   testGroupID,
			WeightKG:  weight,
			UnitPrice: price,
			OfficerID: "officer-7",
		},
		FarmerName: "Amina",
		GroupName:  "Northern Growers",
	}
}

func newTestService(d *deliveryFake, l *loanFake, se *seasonFake, p *payoutFake) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if se == nil {
		se = &seasonFake{err: masterdata.ErrNotFound}
	}
	return NewService(logger, d, l, se, p, nil)
}

func TestSettleDeliveryFullOffset(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(200, 10)}}
	l := &loanFake{order: []string{"loan-a"}, balances: map[string]float64{"loan-a": 500}}
	p := &payoutFake{}

	result, err := newTestService(d, l, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.NoError(t, err)

	require.Equal(t, 2000.0, result.Payout.GrossAmount)
	require.Equal(t, 500.0, result.DeductionApplied)
	require.Equal(t, 1500.0, result.NetPaid)
	require.Equal(t, MethodBank, result.Payout.Method)

	require.Len(t, l.entries, 1)
	require.Equal(t, -500.0, l.entries[0].Amount)
	require.Equal(t, 0.0, l.entries[0].BalanceAfter)
	require.Equal(t, loans.EntryTypeDeduction, l.entries[0].EntryType)
	require.NotNil(t, l.entries[0].PayoutID)
	require.Equal(t, result.Payout.ID, *l.entries[0].PayoutID)
	require.Equal(t, "officer-7", l.entries[0].CreatedBy)
	require.Equal(t, 0.0, l.balances["loan-a"])
}

func TestSettleDeliveryFIFOSplitsAcrossLoans(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(15, 10)}}
	l := &loanFake{
		order:    []string{"loan-old", "loan-new"},
		balances: map[string]float64{"loan-old": 100, "loan-new": 100},
	}
	p := &payoutFake{}

	result, err := newTestService(d, l, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.NoError(t, err)

	require.Equal(t, 150.0, result.DeductionApplied)
	require.Equal(t, 0.0, result.NetPaid)

	require.Len(t, l.entries, 2)
	require.Equal(t, "loan-old", l.entries[0].LoanID)
	require.Equal(t, -100.0, l.entries[0].Amount)
	require.Equal(t, "loan-new", l.entries[1].LoanID)
	require.Equal(t, -50.0, l.entries[1].Amount)
	require.Equal(t, 0.0, l.balances["loan-old"])
	require.Equal(t, 50.0, l.balances["loan-new"])
}

func TestSettleDeliveryNoLoansPaysGross(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(50, 4)}}
	l := &loanFake{balances: map[string]float64{}}
	p := &payoutFake{}

	result, err := newTestService(d, l, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.NoError(t, err)
	require.Equal(t, 0.0, result.DeductionApplied)
	require.Equal(t, 200.0, result.NetPaid)
	require.Empty(t, l.entries)
}

func TestSettleDeliveryLoanLookupFailureSkipsDeduction(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(50, 4)}}
	l := &loanFake{listErr: errors.New("loans table offline")}
	p := &payoutFake{}

	result, err := newTestService(d, l, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.NoError(t, err)
	require.Equal(t, 0.0, result.DeductionApplied)
	require.Equal(t, 200.0, result.NetPaid)
}

func TestSettleDeliveryAlreadyProcessedViaPrecheck(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(200, 10)}}
	l := &loanFake{order: []string{"loan-a"}, balances: map[string]float64{"loan-a": 500}}
	p := &payoutFake{byDelivery: map[string]Payout{testDeliveryID: {ID: "existing", DeliveryID: testDeliveryID}}}

	_, err := newTestService(d, l, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Empty(t, l.entries)
	require.Equal(t, 500.0, l.balances["loan-a"])
}

func TestSettleDeliveryAlreadyProcessedViaInsertConstraint(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(200, 10)}}
	l := &loanFake{order: []string{"loan-a"}, balances: map[string]float64{"loan-a": 500}}
	// The pre-check cannot see the existing payout; only the insert can.
	p := &payoutFake{
		byDelivery: map[string]Payout{testDeliveryID: {ID: "existing", DeliveryID: testDeliveryID}},
		lookupErr:  errors.New("replica lagging"),
	}

	_, err := newTestService(d, l, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Empty(t, l.entries)
	require.Equal(t, 500.0, l.balances["loan-a"])
}

func TestSettleDeliveryInvalidValue(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(0, 10)}}
	p := &payoutFake{}

	_, err := newTestService(d, &loanFake{}, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.ErrorIs(t, err, ErrInvalidDelivery)
	require.Empty(t, p.byDelivery)
}

func TestSettleDeliveryNotFound(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{}}

	_, err := newTestService(d, &loanFake{}, nil, &payoutFake{}).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.ErrorIs(t, err, ErrDeliveryNotFound)
}

func TestSettleDeliveryJoinFallback(t *testing.T) {
	d := &deliveryFake{
		rows:    map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(10, 10)},
		joinErr: errors.New("farmers table locked"),
	}
	p := &payoutFake{}

	result, err := newTestService(d, &loanFake{}, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.NoError(t, err)
	require.Equal(t, 100.0, result.Payout.GrossAmount)
}

func TestSettleDeliveryPersistenceFailure(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(10, 10)}}
	l := &loanFake{order: []string{"loan-a"}, balances: map[string]float64{"loan-a": 40}}
	p := &payoutFake{insertErr: errors.New("connection reset")}

	_, err := newTestService(d, l, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.ErrorIs(t, err, ErrPersistence)
	require.Empty(t, l.entries)
	require.Equal(t, 40.0, l.balances["loan-a"])
}

func TestSettleDeliveryPostCommitFailureIsNotFatal(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(20, 10)}}
	l := &loanFake{
		order:     []string{"loan-broken", "loan-ok"},
		balances:  map[string]float64{"loan-broken": 80, "loan-ok": 80},
		deductErr: map[string]error{"loan-broken": errors.New("deadlock detected")},
	}
	p := &payoutFake{}

	result, err := newTestService(d, l, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.NoError(t, err)
	// The payout already records the full planned deduction.
	require.Equal(t, 160.0, result.DeductionApplied)

	// Only the healthy loan got its balance update and ledger line.
	require.Len(t, l.entries, 1)
	require.Equal(t, "loan-ok", l.entries[0].LoanID)
	require.Equal(t, -80.0, l.entries[0].Amount)
	require.Equal(t, 80.0, l.balances["loan-broken"])
	require.Equal(t, 0.0, l.balances["loan-ok"])
}

func TestSettleDeliveryStaleSnapshotBooksAppliedAmount(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(20, 10)}}
	// The listing reports 100 outstanding, but a concurrent settlement has
	// already shrunk the stored balance to 40.
	l := &loanFake{
		order:    []string{"loan-a"},
		balances: map[string]float64{"loan-a": 40},
		listed:   []loans.Loan{{ID: "loan-a", Outstanding: 100, Status: loans.LoanStatusActive}},
	}
	p := &payoutFake{}

	_, err := newTestService(d, l, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.NoError(t, err)

	require.Len(t, l.entries, 1)
	require.Equal(t, -40.0, l.entries[0].Amount)
	require.Equal(t, 0.0, l.entries[0].BalanceAfter)
	require.Equal(t, 0.0, l.balances["loan-a"])
}

func TestSettleDeliveryDrainedLoanProducesNoEntry(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(20, 10)}}
	l := &loanFake{
		order:    []string{"loan-a"},
		balances: map[string]float64{"loan-a": 0},
		listed:   []loans.Loan{{ID: "loan-a", Outstanding: 60, Status: loans.LoanStatusActive}},
	}
	p := &payoutFake{}

	_, err := newTestService(d, l, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.NoError(t, err)
	require.Empty(t, l.entries)
}

func TestSettleDeliveryTagsActiveSeason(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(20, 10)}}
	l := &loanFake{order: []string{"loan-a"}, balances: map[string]float64{"loan-a": 50}}
	se := &seasonFake{season: masterdata.Season{ID: "season-2026a", Active: true}}
	p := &payoutFake{}

	_, err := newTestService(d, l, se, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.NoError(t, err)
	require.Len(t, l.entries, 1)
	require.NotNil(t, l.entries[0].SeasonID)
	require.Equal(t, "season-2026a", *l.entries[0].SeasonID)
}

func TestSettleDeliveryLedgerWriteFailureKeepsBalanceUpdate(t *testing.T) {
	d := &deliveryFake{rows: map[string]deliveries.DeliveryWithContext{testDeliveryID: testDelivery(20, 10)}}
	l := &loanFake{
		order:    []string{"loan-a"},
		balances: map[string]float64{"loan-a": 50},
		entryErr: errors.New("ledger insert failed"),
	}
	p := &payoutFake{}

	result, err := newTestService(d, l, nil, p).SettleDelivery(context.Background(), SettleInput{DeliveryID: testDeliveryID})
	require.NoError(t, err)
	require.Equal(t, 50.0, result.DeductionApplied)
	require.Equal(t, 0.0, l.balances["loan-a"])
	require.Empty(t, l.entries)
}
