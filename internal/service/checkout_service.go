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

const maxNoteLength = 500

// CheckoutService converts a selected set of reserved cart lines into an
// immutable order inside one atomic transaction. It never touches stock:
// reservation already happened at the cart boundary, and the order takes
// ownership of it when the cart lines are deleted.
type CheckoutService struct {
	store          *store.Store
	payments       *PaymentService
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(store *store.Store, payments *PaymentService, eventPublisher *broker.EventPublisher) *CheckoutService {
	return &CheckoutService{
		store:          store,
		payments:       payments,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// CheckoutRequest represents a checkout call
type CheckoutRequest struct {
	UserID            int64   `json:"-"`
	CartLineIDs       []int64 `json:"items" binding:"required,min=1"`
	ShippingAddressID int64   `json:"shipping_address_id" binding:"required"`
	PaymentMethod     string  `json:"payment_method" binding:"required,oneof=cash gateway"`
	ShippingFee       int64   `json:"shipping_fee" binding:"gte=0"`
	Note              string  `json:"note,omitempty"`
	ClientIP          string  `json:"-"`
}

// CheckoutResponse is the confirmation (cash) or redirect (gateway) result.
type CheckoutResponse struct {
	OrderID     int64  `json:"order_id"`
	OrderStatus string `json:"order_status"`
	TotalAmount int64  `json:"total_amount"`
	PaymentURL  string `json:"payment_url,omitempty"`
}

// Checkout runs the atomic cart-to-order conversion. For gateway payments it
// builds the signed redirect URL after the transaction commits.
func (cs *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	if err := cs.validate(req); err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	paymentStatus := models.PaymentStatusPending
	if req.PaymentMethod == models.PaymentMethodGateway {
		paymentStatus = models.PaymentStatusAwaitingPayment
	}

	result, err := cs.store.CheckoutTx(ctx, store.CheckoutParams{
		UserID:            req.UserID,
		CartLineIDs:       req.CartLineIDs,
		ShippingAddressID: req.ShippingAddressID,
		PaymentMethod:     req.PaymentMethod,
		PaymentStatus:     paymentStatus,
		ShippingFee:       req.ShippingFee,
		Note:              req.Note,
		Actor:             fmt.Sprintf("user:%d", req.UserID),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.CheckoutsFailedTotal.WithLabelValues("invalid_selection").Inc()
			return nil, ErrEmptySelection
		}
		util.CheckoutsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("checkout failed: %w", err)
	}

	util.CheckoutsTotal.Inc()
	cs.logger.Info("Order created",
		zap.Int64("order_id", result.Order.ID),
		zap.Int64("user_id", req.UserID),
		zap.Int64("total_amount", result.Order.TotalAmount),
		zap.String("payment_method", req.PaymentMethod))

	cs.publishOrderCreated(ctx, result)

	resp := &CheckoutResponse{
		OrderID:     result.Order.ID,
		OrderStatus: result.Order.OrderStatus,
		TotalAmount: result.Order.TotalAmount,
	}

	if req.PaymentMethod == models.PaymentMethodGateway {
		payURL, err := cs.payments.BuildPaymentURL(ctx, result.Order, req.ClientIP)
		if err != nil {
			// The order exists and stays awaiting_payment; the caller can
			// retry the redirect via the pay-again flow.
			cs.logger.Error("Failed to build payment URL",
				zap.Int64("order_id", result.Order.ID), zap.Error(err))
			return nil, fmt.Errorf("failed to build payment url: %w", err)
		}
		resp.PaymentURL = payURL
	}

	return resp, nil
}

func (cs *CheckoutService) validate(req *CheckoutRequest) error {
	if len(req.CartLineIDs) == 0 {
		return ErrEmptySelection
	}
	if req.PaymentMethod != models.PaymentMethodCash && req.PaymentMethod != models.PaymentMethodGateway {
		return &ValidationError{Field: "payment_method", Message: "must be cash or gateway"}
	}
	if req.ShippingFee < 0 {
		return &ValidationError{Field: "shipping_fee", Message: "must not be negative"}
	}
	if len(req.Note) > maxNoteLength {
		return &ValidationError{Field: "note", Message: "must be at most 500 characters"}
	}
	return nil
}

func (cs *CheckoutService) publishOrderCreated(ctx context.Context, result *store.CheckoutResult) {
	lines := make([]models.OrderLineData, 0, len(result.Lines))
	for _, l := range result.Lines {
		lines = append(lines, models.OrderLineData{
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:       result.Order.ID,
		UserID:        result.Order.UserID,
		TotalAmount:   result.Order.TotalAmount,
		PaymentMethod: result.Order.PaymentMethod,
		Lines:         lines,
	}
	if err := cs.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		cs.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}
