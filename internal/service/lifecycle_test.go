package service

import (
	"testing"

	"storefront-core/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestOrderHappyPath(t *testing.T) {
	chain := []string{
		models.OrderStatusNew,
		models.OrderStatusConfirmed,
		models.OrderStatusProcessing,
		models.OrderStatusPreparing,
		models.OrderStatusPacked,
		models.OrderStatusShipping,
		models.OrderStatusDelivered,
		models.OrderStatusCompleted,
	}

	for i := 0; i < len(chain)-1; i++ {
		assert.True(t, CanTransitionOrder(chain[i], chain[i+1]),
			"%s -> %s should be allowed", chain[i], chain[i+1])
	}
}

func TestOrderCancellationReachability(t *testing.T) {
	cancellable := []string{
		models.OrderStatusNew,
		models.OrderStatusProcessing,
		models.OrderStatusPreparing,
		models.OrderStatusPacked,
	}
	for _, from := range cancellable {
		assert.True(t, CanTransitionOrder(from, models.OrderStatusCancelled),
			"%s should be cancellable", from)
	}

	notCancellable := []string{
		models.OrderStatusConfirmed,
		models.OrderStatusShipping,
		models.OrderStatusDelivered,
		models.OrderStatusCompleted,
		models.OrderStatusCancelled,
	}
	for _, from := range notCancellable {
		assert.False(t, CanTransitionOrder(from, models.OrderStatusCancelled),
			"%s should not be cancellable", from)
	}
}

func TestOrderNoSkippingOrRewinding(t *testing.T) {
	assert.False(t, CanTransitionOrder(models.OrderStatusNew, models.OrderStatusShipping))
	assert.False(t, CanTransitionOrder(models.OrderStatusConfirmed, models.OrderStatusNew))
	assert.False(t, CanTransitionOrder(models.OrderStatusDelivered, models.OrderStatusShipping))
	assert.False(t, CanTransitionOrder(models.OrderStatusCompleted, models.OrderStatusDelivered))
	assert.False(t, CanTransitionOrder(models.OrderStatusCancelled, models.OrderStatusNew))
}

func TestDeliveredOnlyCompletesExplicitly(t *testing.T) {
	// The only exit from delivered is the customer's completion action.
	for _, to := range []string{
		models.OrderStatusNew,
		models.OrderStatusConfirmed,
		models.OrderStatusProcessing,
		models.OrderStatusPreparing,
		models.OrderStatusPacked,
		models.OrderStatusShipping,
		models.OrderStatusCancelled,
	} {
		assert.False(t, CanTransitionOrder(models.OrderStatusDelivered, to))
	}
	assert.True(t, CanTransitionOrder(models.OrderStatusDelivered, models.OrderStatusCompleted))
}

func TestUnknownStatusNeverTransitions(t *testing.T) {
	assert.False(t, CanTransitionOrder("bogus", models.OrderStatusNew))
	assert.False(t, CanTransitionOrder(models.OrderStatusNew, "bogus"))
}

func TestPaymentTransitions(t *testing.T) {
	assert.True(t, CanTransitionPayment(models.PaymentStatusPending, models.PaymentStatusPaid))
	assert.True(t, CanTransitionPayment(models.PaymentStatusAwaitingPayment, models.PaymentStatusPaid))
	assert.True(t, CanTransitionPayment(models.PaymentStatusAwaitingPayment, models.PaymentStatusRejected))
	assert.True(t, CanTransitionPayment(models.PaymentStatusPaid, models.PaymentStatusConfirmed))

	assert.False(t, CanTransitionPayment(models.PaymentStatusPaid, models.PaymentStatusRejected))
	assert.False(t, CanTransitionPayment(models.PaymentStatusRejected, models.PaymentStatusPaid))
	assert.False(t, CanTransitionPayment(models.PaymentStatusConfirmed, models.PaymentStatusCancelled))
	assert.False(t, CanTransitionPayment(models.PaymentStatusCancelled, models.PaymentStatusPaid))
}
