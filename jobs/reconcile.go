package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/coopledger/coopledger/internal/observability"
)

// driftTolerance absorbs float representation noise; anything above it is a
// real bookkeeping gap.
const driftTolerance = 0.005

// PayoutLedgerTotal pairs a payout's committed deduction with the sum of the
// ledger entry magnitudes recorded for it.
type PayoutLedgerTotal struct {
	PayoutID      string
	DeliveryID    string
	LoanDeduction float64
	LedgerTotal   float64
	Entries       int
}

// ReconcileSource loads the figures the sweep compares.
type ReconcileSource interface {
	PayoutLedgerTotals(ctx context.Context) ([]PayoutLedgerTotal, error)
}

// Summary reports the outcome of one sweep.
type Summary struct {
	Checked       int
	Discrepancies int
	TotalDrift    float64
}

// Reconciler finds settlements whose ledger trail does not add up to the
// payout's deduction. Settlement tolerates post-commit bookkeeping failures,
// so gaps are expected occasionally; this sweep is how they surface.
type Reconciler struct {
	source  ReconcileSource
	logger  *slog.Logger
	metrics *observability.Metrics
	printer *message.Printer
}

// NewReconciler constructs the sweep. metrics may be nil.
func NewReconciler(source ReconcileSource, logger *slog.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		source:  source,
		logger:  logger,
		metrics: metrics,
		printer: message.NewPrinter(language.English),
	}
}

// Run compares every committed deduction against its ledger sum. Per-payout
// problems are logged and counted, never fatal; only a failure to load the
// totals aborts the sweep.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	totals, err := r.source.PayoutLedgerTotals(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("jobs: load payout ledger totals: %w", err)
	}

	var summary Summary
	for _, row := range totals {
		summary.Checked++
		drift := row.LoanDeduction - row.LedgerTotal
		if math.Abs(drift) <= driftTolerance {
			continue
		}
		summary.Discrepancies++
		summary.TotalDrift += math.Abs(drift)
		r.logger.Warn("payout ledger drift",
			slog.String("payout_id", row.PayoutID),
			slog.String("delivery_id", row.DeliveryID),
			slog.Int("entries", row.Entries),
			slog.String("deduction", r.printer.Sprintf("%.2f", row.LoanDeduction)),
			slog.String("ledger_total", r.printer.Sprintf("%.2f", row.LedgerTotal)),
			slog.String("drift", r.printer.Sprintf("%.2f", drift)))
	}

	r.metrics.SetReconcileDrift(summary.TotalDrift)
	return summary, nil
}

// PGReconcileSource loads sweep figures from PostgreSQL.
type PGReconcileSource struct {
	pool *pgxpool.Pool
}

// NewPGReconcileSource constructs the source.
func NewPGReconcileSource(pool *pgxpool.Pool) *PGReconcileSource {
	return &PGReconcileSource{pool: pool}
}

// PayoutLedgerTotals joins payouts with their deduction ledger entries. Only
// payouts with a positive deduction are interesting; zero-deduction payouts
// have no ledger trail by design.
func (s *PGReconcileSource) PayoutLedgerTotals(ctx context.Context) ([]PayoutLedgerTotal, error) {
	rows, err := s.pool.Query(ctx, `SELECT p.id, p.delivery_id, p.loan_deduction,
COALESCE(SUM(-e.amount), 0), COUNT(e.id)
FROM payouts p
LEFT JOIN loan_ledger_entries e ON e.payout_id = p.id AND e.entry_type = 'DEDUCTION'
WHERE p.loan_deduction > 0
GROUP BY p.id, p.delivery_id, p.loan_deduction`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PayoutLedgerTotal
	for rows.Next() {
		var row PayoutLedgerTotal
		if err := rows.Scan(&row.PayoutID, &row.DeliveryID, &row.LoanDeduction, &row.LedgerTotal, &row.Entries); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
