package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-core/internal/broker"
	"storefront-core/internal/models"
	"storefront-core/internal/store"
	"storefront-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// orderNext is the order status machine. Cancellation is reachable only
// before the parcel leaves (new, processing, preparing, packed), and
// delivered → completed is the customer's explicit confirmation.
var orderNext = map[string]map[string]bool{
	models.OrderStatusNew:        {models.OrderStatusConfirmed: true, models.OrderStatusCancelled: true},
	models.OrderStatusConfirmed:  {models.OrderStatusProcessing: true},
	models.OrderStatusProcessing: {models.OrderStatusPreparing: true, models.OrderStatusCancelled: true},
	models.OrderStatusPreparing:  {models.OrderStatusPacked: true, models.OrderStatusCancelled: true},
	models.OrderStatusPacked:     {models.OrderStatusShipping: true, models.OrderStatusCancelled: true},
	models.OrderStatusShipping:   {models.OrderStatusDelivered: true},
	models.OrderStatusDelivered:  {models.OrderStatusCompleted: true},
	models.OrderStatusCompleted:  {},
	models.OrderStatusCancelled:  {},
}

// paymentNext is the payment status machine, modeled separately from the
// order machine on purpose; correlation between the two is applied by the
// coordination handler below, never enforced inside either machine.
var paymentNext = map[string]map[string]bool{
	models.PaymentStatusPending:         {models.PaymentStatusPaid: true, models.PaymentStatusRejected: true, models.PaymentStatusCancelled: true},
	models.PaymentStatusAwaitingPayment: {models.PaymentStatusPaid: true, models.PaymentStatusRejected: true, models.PaymentStatusCancelled: true},
	models.PaymentStatusPaid:            {models.PaymentStatusConfirmed: true},
	models.PaymentStatusConfirmed:       {},
	models.PaymentStatusRejected:        {},
	models.PaymentStatusCancelled:       {},
}

// CanTransitionOrder reports whether an order may move from one status to
// another.
func CanTransitionOrder(from, to string) bool {
	return orderNext[from][to]
}

// CanTransitionPayment reports whether a payment may move from one status to
// another.
func CanTransitionPayment(from, to string) bool {
	return paymentNext[from][to]
}

// LifecycleService validates and applies order status transitions, including
// the compensating stock restitution on cancellation.
type LifecycleService struct {
	store          *store.Store
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(store *store.Store, eventPublisher *broker.EventPublisher) *LifecycleService {
	return &LifecycleService{
		store:          store,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// Transition moves an order to newStatus. Fails with ErrInvalidTransition if
// the move is not in the table. Transition into cancelled runs restitution:
// every order line's quantity goes back to its variant, in the same
// transaction, under the variant row lock — the only path that returns stock
// after it has left the reservation pool. Every success appends exactly one
// history entry.
func (ls *LifecycleService) Transition(ctx context.Context, orderID int64, newStatus, actor, note string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.Transition")
	defer span.End()

	order, err := ls.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !CanTransitionOrder(order.OrderStatus, newStatus) {
		util.TransitionsFailedTotal.Inc()
		return nil, fmt.Errorf("%s -> %s: %w", order.OrderStatus, newStatus, ErrInvalidTransition)
	}

	restitute := newStatus == models.OrderStatusCancelled
	err = ls.store.TransitionOrderTx(ctx, orderID, order.OrderStatus, newStatus, actor, note, restitute)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			// Someone else moved the order first.
			util.TransitionsFailedTotal.Inc()
			return nil, fmt.Errorf("%s -> %s: %w", order.OrderStatus, newStatus, ErrInvalidTransition)
		}
		return nil, err
	}

	if restitute {
		util.OrdersCancelledTotal.Inc()
	}
	ls.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", order.OrderStatus),
		zap.String("to", newStatus),
		zap.String("actor", actor))

	ls.publishStatusChanged(ctx, orderID, order.OrderStatus, newStatus, actor)

	return ls.store.GetOrderByID(ctx, orderID)
}

// Cancel is Transition into cancelled.
func (ls *LifecycleService) Cancel(ctx context.Context, orderID int64, actor, note string) (*models.Order, error) {
	return ls.Transition(ctx, orderID, models.OrderStatusCancelled, actor, note)
}

// ConfirmDelivery is the customer's explicit delivered → completed action. No
// other actor auto-advances past delivered.
func (ls *LifecycleService) ConfirmDelivery(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	order, err := ls.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, store.ErrNotFound
	}
	return ls.Transition(ctx, orderID, models.OrderStatusCompleted, fmt.Sprintf("user:%d", userID), "delivery confirmed")
}

// HandlePaymentStatusChanged is the explicit cross-machine coordination rule:
// a paid gateway payment moves its order new → confirmed. Applied by the
// kafka worker, not by either state machine. Skips quietly when the order
// already moved on.
func (ls *LifecycleService) HandlePaymentStatusChanged(ctx context.Context, event *models.PaymentStatusChangedEvent) error {
	ctx, span := util.StartSpan(ctx, "LifecycleService.HandlePaymentStatusChanged")
	defer span.End()

	if event.Method != models.PaymentMethodGateway || event.ToStatus != models.PaymentStatusPaid {
		return nil
	}

	order, err := ls.store.GetOrderByID(ctx, event.OrderID)
	if err != nil {
		return err
	}
	if order.OrderStatus != models.OrderStatusNew {
		ls.logger.Info("Skipping payment coordination, order already progressed",
			zap.Int64("order_id", event.OrderID),
			zap.String("order_status", order.OrderStatus))
		return nil
	}

	_, err = ls.Transition(ctx, event.OrderID, models.OrderStatusConfirmed, "system:payment", "gateway payment received")
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}

// GetOrderDetail returns an order with its lines and audit history.
func (ls *LifecycleService) GetOrderDetail(ctx context.Context, orderID int64) (*models.Order, []models.OrderLine, []models.OrderHistoryEntry, error) {
	order, err := ls.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	lines, err := ls.store.GetOrderLinesByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	history, err := ls.store.GetOrderHistory(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	return order, lines, history, nil
}

func (ls *LifecycleService) publishStatusChanged(ctx context.Context, orderID int64, from, to, actor string) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
	}
	if err := ls.eventPublisher.PublishOrderStatusChanged(ctx, event); err != nil {
		ls.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}
}
