package service

import (
	"testing"

	"storefront-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayPayment(orderID int64, ref string, amount int64) models.Payment {
	return models.Payment{
		ID:            orderID,
		OrderID:       orderID,
		Method:        models.PaymentMethodGateway,
		Status:        models.PaymentStatusPaid,
		Amount:        amount,
		GatewayTxnRef: ref,
	}
}

func TestReconcileClassification(t *testing.T) {
	payments := []models.Payment{
		gatewayPayment(1, "1-01", 100),
		gatewayPayment(2, "2-01", 250),
		gatewayPayment(3, "3-01", 400),
	}
	txns := []models.GatewayTransaction{
		{TxnRef: "1-01", Amount: 100}, // matched
		{TxnRef: "2-01", Amount: 200}, // amount differs
		{TxnRef: "9-01", Amount: 999}, // unknown to us
	}

	report := Reconcile(payments, txns)

	require.Len(t, report.Matched, 1)
	assert.Equal(t, "1-01", report.Matched[0].TxnRef)

	require.Len(t, report.Unmatched, 1)
	assert.Equal(t, "2-01", report.Unmatched[0].TxnRef)
	assert.Equal(t, int64(-50), report.Unmatched[0].Delta)

	require.Len(t, report.MissingInSystem, 1)
	assert.Equal(t, "9-01", report.MissingInSystem[0].TxnRef)

	require.Len(t, report.MissingInGateway, 1)
	assert.Equal(t, int64(3), report.MissingInGateway[0].OrderID)

	assert.Equal(t, 1, report.MatchedCount)
	assert.Equal(t, 1, report.UnmatchedCount)
	assert.Equal(t, 1, report.MissingInSystemCount)
	assert.Equal(t, 1, report.MissingInGatewayCount)
}

func TestReconcilePartitionIsExhaustive(t *testing.T) {
	payments := []models.Payment{
		gatewayPayment(1, "1-01", 10),
		gatewayPayment(2, "2-01", 20),
		gatewayPayment(3, "3-02", 30),
		gatewayPayment(4, "", 40), // never got a redirect built
	}
	txns := []models.GatewayTransaction{
		{TxnRef: "1-01", Amount: 10},
		{TxnRef: "2-01", Amount: 25},
		{TxnRef: "5-01", Amount: 50},
		{TxnRef: "6-01", Amount: 60},
	}

	report := Reconcile(payments, txns)

	// Every gateway transaction lands in exactly one bucket.
	assert.Equal(t, len(txns),
		report.MatchedCount+report.UnmatchedCount+report.MissingInSystemCount)

	// Every internal payment lands in exactly one bucket.
	assert.Equal(t, len(payments),
		report.MatchedCount+report.UnmatchedCount+report.MissingInGatewayCount)

	refs := make(map[string]int)
	for _, m := range report.Matched {
		refs[m.TxnRef]++
	}
	for _, m := range report.Unmatched {
		refs[m.TxnRef]++
	}
	for _, m := range report.MissingInSystem {
		refs[m.TxnRef]++
	}
	for _, n := range refs {
		assert.Equal(t, 1, n)
	}
}

func TestReconcileEmptyInputs(t *testing.T) {
	report := Reconcile(nil, nil)
	assert.Equal(t, 0, report.MatchedCount)
	assert.Equal(t, 0, report.UnmatchedCount)
	assert.Equal(t, 0, report.MissingInSystemCount)
	assert.Equal(t, 0, report.MissingInGatewayCount)
	assert.NotNil(t, report.Matched)
	assert.NotNil(t, report.MissingInGateway)
}

func TestReconcileNeverMutatesInputs(t *testing.T) {
	payments := []models.Payment{gatewayPayment(1, "1-01", 100)}
	txns := []models.GatewayTransaction{{TxnRef: "1-01", Amount: 100}}

	_ = Reconcile(payments, txns)

	assert.Equal(t, int64(100), payments[0].Amount)
	assert.Equal(t, models.PaymentStatusPaid, payments[0].Status)
	assert.Equal(t, int64(100), txns[0].Amount)
}
