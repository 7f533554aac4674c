package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-core/internal/broker"
	"storefront-core/internal/gateway"
	"storefront-core/internal/models"
	"storefront-core/internal/redisclient"
	"storefront-core/internal/store"
	"storefront-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentService drives payment status: signed redirect URLs outbound,
// verified callbacks inbound, and staff confirmation for cash on delivery.
type PaymentService struct {
	store          *store.Store
	redis          *redisclient.Client
	signer         *gateway.Signer
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	store *store.Store,
	redis *redisclient.Client,
	signer *gateway.Signer,
	eventPublisher *broker.EventPublisher,
) *PaymentService {
	return &PaymentService{
		store:          store,
		redis:          redis,
		signer:         signer,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// BuildPaymentURL registers a new gateway attempt for the order's payment and
// returns the signed redirect URL. Each attempt gets a fresh transaction
// reference (orderID-attemptNN), so retries never collide at the gateway.
func (ps *PaymentService) BuildPaymentURL(ctx context.Context, order *models.Order, clientIP string) (string, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.BuildPaymentURL")
	defer span.End()

	if order.PaymentMethod != models.PaymentMethodGateway {
		return "", &ValidationError{Field: "payment_method", Message: "order is not a gateway payment"}
	}

	payment, err := ps.store.GetPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return "", err
	}
	if payment.Status != models.PaymentStatusAwaitingPayment {
		return "", fmt.Errorf("payment %d is %s: %w", payment.ID, payment.Status, ErrInvalidTransition)
	}

	payment, err = ps.store.RegisterGatewayAttempt(ctx, payment.ID)
	if err != nil {
		return "", fmt.Errorf("failed to register gateway attempt: %w", err)
	}

	util.GatewayAttemptsTotal.Inc()
	ps.logger.Info("Gateway attempt registered",
		zap.Int64("order_id", order.ID),
		zap.String("txn_ref", payment.GatewayTxnRef),
		zap.Int("attempt", payment.AttemptCount))

	return ps.signer.BuildPayURL(gateway.PayRequest{
		TxnRef:    payment.GatewayTxnRef,
		Amount:    payment.Amount,
		OrderInfo: fmt.Sprintf("Payment for order %d", order.ID),
		ClientIP:  clientIP,
		CreatedAt: time.Now(),
	}), nil
}

// BuildPaymentURLForOrder is the pay-again flow for an existing order still
// awaiting payment.
func (ps *PaymentService) BuildPaymentURLForOrder(ctx context.Context, orderID, userID int64, clientIP string) (string, error) {
	order, err := ps.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.UserID != userID {
		return "", store.ErrNotFound
	}
	return ps.BuildPaymentURL(ctx, order, clientIP)
}

// VerifyCallback validates an inbound callback's signature over the raw
// query string. Fails closed with ErrInvalidSignature.
func (ps *PaymentService) VerifyCallback(rawQuery string) (*gateway.CallbackResult, error) {
	return ps.signer.VerifyQuery(rawQuery)
}

// HandleGatewayCallback applies a verified callback. Redelivery of an
// already-applied transaction reference is a no-op success: a redis SETNX is
// the fast path, the unique insert into processed_callbacks inside the store
// transaction is the source of truth. The raw query must already have passed
// signature verification; this method never sees unverified input.
func (ps *PaymentService) HandleGatewayCallback(ctx context.Context, cb *gateway.CallbackResult) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleGatewayCallback")
	defer span.End()

	seen, err := ps.redis.CheckCallbackSeen(ctx, cb.TxnRef)
	if err != nil {
		ps.logger.Warn("Redis callback check failed, relying on database guard", zap.Error(err))
	} else if seen {
		util.GatewayCallbacksTotal.WithLabelValues("duplicate").Inc()
		ps.logger.Info("Duplicate gateway callback", zap.String("txn_ref", cb.TxnRef))
		return nil, nil
	}

	toStatus := models.PaymentStatusPaid
	outcome := "paid"
	if !cb.Success {
		toStatus = models.PaymentStatusRejected
		outcome = "rejected"
	}

	note := fmt.Sprintf("gateway response=%s status=%s txn=%s", cb.ResponseCode, cb.TxnStatus, cb.TransactionNo)
	applied, payment, err := ps.store.ApplyGatewayCallbackTx(ctx, cb.TxnRef, toStatus, "gateway", note)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			// The payment was cancelled or settled before the gateway
			// answered; reconciliation picks up any money taken anyway.
			util.GatewayCallbacksTotal.WithLabelValues("stale").Inc()
			ps.logger.Warn("Gateway callback for settled payment",
				zap.String("txn_ref", cb.TxnRef), zap.Error(err))
			return nil, fmt.Errorf("callback for %s: %w", cb.TxnRef, ErrInvalidTransition)
		}
		return nil, err
	}
	if !applied {
		util.GatewayCallbacksTotal.WithLabelValues("duplicate").Inc()
		ps.logger.Info("Gateway callback already applied", zap.String("txn_ref", cb.TxnRef))
		return nil, nil
	}

	if err := ps.redis.MarkCallbackSeen(ctx, cb.TxnRef); err != nil {
		ps.logger.Warn("Failed to cache callback reference", zap.Error(err))
	}

	util.GatewayCallbacksTotal.WithLabelValues(outcome).Inc()
	ps.logger.Info("Gateway callback applied",
		zap.String("txn_ref", cb.TxnRef),
		zap.Int64("order_id", payment.OrderID),
		zap.String("status", toStatus))

	ps.publishPaymentStatusChanged(ctx, payment, models.PaymentStatusAwaitingPayment, toStatus)
	return payment, nil
}

// ConfirmCashPayment is the staff confirmation that cash was collected on
// delivery: pending → paid.
func (ps *PaymentService) ConfirmCashPayment(ctx context.Context, orderID int64, actor string) (*models.Payment, error) {
	payment, err := ps.store.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransitionPayment(payment.Status, models.PaymentStatusPaid) {
		return nil, fmt.Errorf("payment is %s: %w", payment.Status, ErrInvalidTransition)
	}

	from := payment.Status
	payment, err = ps.store.UpdatePaymentStatusGuarded(ctx, payment.ID,
		[]string{models.PaymentStatusPending}, models.PaymentStatusPaid)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fmt.Errorf("payment moved concurrently: %w", ErrInvalidTransition)
		}
		return nil, err
	}
	if err := ps.store.SetOrderPaymentStatus(ctx, orderID, payment.Status); err != nil {
		return nil, err
	}

	ps.logger.Info("Cash payment confirmed",
		zap.Int64("order_id", orderID), zap.String("actor", actor))
	ps.publishPaymentStatusChanged(ctx, payment, from, payment.Status)
	return payment, nil
}

// RejectPayment marks a pending or awaiting payment as rejected.
func (ps *PaymentService) RejectPayment(ctx context.Context, orderID int64, actor string) (*models.Payment, error) {
	payment, err := ps.store.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransitionPayment(payment.Status, models.PaymentStatusRejected) {
		return nil, fmt.Errorf("payment is %s: %w", payment.Status, ErrInvalidTransition)
	}

	from := payment.Status
	payment, err = ps.store.UpdatePaymentStatusGuarded(ctx, payment.ID,
		[]string{models.PaymentStatusPending, models.PaymentStatusAwaitingPayment}, models.PaymentStatusRejected)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fmt.Errorf("payment moved concurrently: %w", ErrInvalidTransition)
		}
		return nil, err
	}
	if err := ps.store.SetOrderPaymentStatus(ctx, orderID, payment.Status); err != nil {
		return nil, err
	}

	ps.logger.Info("Payment rejected",
		zap.Int64("order_id", orderID), zap.String("actor", actor))
	ps.publishPaymentStatusChanged(ctx, payment, from, payment.Status)
	return payment, nil
}

// FinalizePayment is the bookkeeping step paid → confirmed after the ledger
// entry has been checked off (manually or following reconciliation).
func (ps *PaymentService) FinalizePayment(ctx context.Context, orderID int64, actor string) (*models.Payment, error) {
	payment, err := ps.store.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransitionPayment(payment.Status, models.PaymentStatusConfirmed) {
		return nil, fmt.Errorf("payment is %s: %w", payment.Status, ErrInvalidTransition)
	}

	from := payment.Status
	payment, err = ps.store.UpdatePaymentStatusGuarded(ctx, payment.ID,
		[]string{models.PaymentStatusPaid}, models.PaymentStatusConfirmed)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fmt.Errorf("payment moved concurrently: %w", ErrInvalidTransition)
		}
		return nil, err
	}
	if err := ps.store.SetOrderPaymentStatus(ctx, orderID, payment.Status); err != nil {
		return nil, err
	}

	ps.logger.Info("Payment finalized",
		zap.Int64("order_id", orderID), zap.String("actor", actor))
	ps.publishPaymentStatusChanged(ctx, payment, from, payment.Status)
	return payment, nil
}

// GetPayment retrieves the payment for an order
func (ps *PaymentService) GetPayment(ctx context.Context, orderID int64) (*models.Payment, error) {
	return ps.store.GetPaymentByOrderID(ctx, orderID)
}

func (ps *PaymentService) publishPaymentStatusChanged(ctx context.Context, payment *models.Payment, from, to string) {
	event := &models.PaymentStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:    payment.OrderID,
		PaymentID:  payment.ID,
		Method:     payment.Method,
		FromStatus: from,
		ToStatus:   to,
		TxnRef:     payment.GatewayTxnRef,
	}
	if err := ps.eventPublisher.PublishPaymentStatusChanged(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentStatusChanged event", zap.Error(err))
	}
}
