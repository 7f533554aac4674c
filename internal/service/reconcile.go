package service

import (
	"context"
	"time"

	"storefront-core/internal/models"
	"storefront-core/internal/store"
	"storefront-core/internal/util"

	"go.uber.org/zap"
)

// MatchedPayment pairs an internal payment with its gateway transaction.
type MatchedPayment struct {
	TxnRef  string `json:"txn_ref"`
	OrderID int64  `json:"order_id"`
	Amount  int64  `json:"amount"`
}

// AmountMismatch reports a reference that matched but with differing amounts;
// Delta is gateway amount minus internal amount.
type AmountMismatch struct {
	TxnRef         string `json:"txn_ref"`
	OrderID        int64  `json:"order_id"`
	InternalAmount int64  `json:"internal_amount"`
	GatewayAmount  int64  `json:"gateway_amount"`
	Delta          int64  `json:"delta"`
}

// ReconciliationReport partitions both ledgers: every gateway transaction
// lands in exactly one of Matched/Unmatched/MissingInSystem, every internal
// gateway payment in exactly one of Matched/Unmatched/MissingInGateway.
type ReconciliationReport struct {
	Matched          []MatchedPayment            `json:"matched"`
	Unmatched        []AmountMismatch            `json:"unmatched"`
	MissingInSystem  []models.GatewayTransaction `json:"missing_in_system"`
	MissingInGateway []models.Payment            `json:"missing_in_gateway"`

	MatchedCount          int `json:"matched_count"`
	UnmatchedCount        int `json:"unmatched_count"`
	MissingInSystemCount  int `json:"missing_in_system_count"`
	MissingInGatewayCount int `json:"missing_in_gateway_count"`
}

// Reconcile diffs the internal payment ledger against the gateway's
// transaction export. Pure: it reports and never mutates; remediation is a
// separate, explicitly triggered action.
func Reconcile(payments []models.Payment, txns []models.GatewayTransaction) *ReconciliationReport {
	report := &ReconciliationReport{
		Matched:          []MatchedPayment{},
		Unmatched:        []AmountMismatch{},
		MissingInSystem:  []models.GatewayTransaction{},
		MissingInGateway: []models.Payment{},
	}

	byRef := make(map[string]models.Payment, len(payments))
	for _, p := range payments {
		if p.GatewayTxnRef != "" {
			byRef[p.GatewayTxnRef] = p
		}
	}

	seen := make(map[string]bool, len(txns))
	for _, txn := range txns {
		p, ok := byRef[txn.TxnRef]
		if !ok {
			report.MissingInSystem = append(report.MissingInSystem, txn)
			continue
		}
		seen[txn.TxnRef] = true
		if p.Amount == txn.Amount {
			report.Matched = append(report.Matched, MatchedPayment{
				TxnRef:  txn.TxnRef,
				OrderID: p.OrderID,
				Amount:  p.Amount,
			})
		} else {
			report.Unmatched = append(report.Unmatched, AmountMismatch{
				TxnRef:         txn.TxnRef,
				OrderID:        p.OrderID,
				InternalAmount: p.Amount,
				GatewayAmount:  txn.Amount,
				Delta:          txn.Amount - p.Amount,
			})
		}
	}

	for _, p := range payments {
		if p.GatewayTxnRef == "" || !seen[p.GatewayTxnRef] {
			report.MissingInGateway = append(report.MissingInGateway, p)
		}
	}

	report.MatchedCount = len(report.Matched)
	report.UnmatchedCount = len(report.Unmatched)
	report.MissingInSystemCount = len(report.MissingInSystem)
	report.MissingInGatewayCount = len(report.MissingInGateway)
	return report
}

// ReconciliationService loads the internal ledger for a date range and runs
// the diff against an externally supplied gateway export.
type ReconciliationService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(store *store.Store) *ReconciliationService {
	return &ReconciliationService{store: store, logger: util.GetLogger()}
}

// Reconcile runs the ledger diff for gateway payments created in [from, to).
func (rs *ReconciliationService) Reconcile(ctx context.Context, from, to time.Time, txns []models.GatewayTransaction) (*ReconciliationReport, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.Reconcile")
	defer span.End()

	payments, err := rs.store.ListGatewayPayments(ctx, from, to)
	if err != nil {
		return nil, err
	}

	report := Reconcile(payments, txns)
	util.ReconciliationRunsTotal.Inc()
	rs.logger.Info("Reconciliation completed",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("matched", report.MatchedCount),
		zap.Int("unmatched", report.UnmatchedCount),
		zap.Int("missing_in_system", report.MissingInSystemCount),
		zap.Int("missing_in_gateway", report.MissingInGatewayCount))
	return report, nil
}
