package service

import (
	"context"
	"fmt"
	"time"

	"storefront-core/internal/broker"
	"storefront-core/internal/models"
	"storefront-core/internal/store"
	"storefront-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartService owns the reserve/release invariant: a cart line's quantity is
// always backed by stock already removed from the variant's available pool.
// Stock moves at cart-mutation time, never again at checkout.
type CartService struct {
	store          *store.Store
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store *store.Store, eventPublisher *broker.EventPublisher) *CartService {
	return &CartService{
		store:          store,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// Reserve sets the user's cart line for variantID to quantity, reserving (or
// releasing) only the delta against the current line. Fails with
// InsufficientStockError when the additional amount exceeds availability.
func (cs *CartService) Reserve(ctx context.Context, userID, variantID int64, quantity int) (*models.CartLine, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Reserve")
	defer span.End()

	if quantity < 1 {
		return nil, &ValidationError{Field: "quantity", Message: "must be at least 1"}
	}

	cart, err := cs.store.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	line, delta, err := cs.store.ReserveLineTx(ctx, cart.ID, variantID, quantity)
	if err != nil {
		if ise, ok := AsInsufficientStock(err); ok {
			util.ReservationsFailedTotal.WithLabelValues("insufficient_stock").Inc()
			cs.logger.Info("Reservation rejected",
				zap.Int64("variant_id", variantID),
				zap.Int("requested", ise.Requested),
				zap.Int("available", ise.Available))
			return nil, err
		}
		util.ReservationsFailedTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	util.ReservationsTotal.Inc()
	cs.logger.Info("Stock reserved",
		zap.Int64("cart_id", cart.ID),
		zap.Int64("variant_id", variantID),
		zap.Int("quantity", quantity),
		zap.Int("delta", delta))

	cs.publishReserved(ctx, userID, cart.ID, variantID, quantity, delta)
	return line, nil
}

// Adjust changes an existing line to newQuantity. Increases go through the
// availability check for the delta only; decreases release unconditionally.
func (cs *CartService) Adjust(ctx context.Context, cartLineID int64, newQuantity int) (*models.CartLine, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Adjust")
	defer span.End()

	if newQuantity < 0 {
		return nil, &ValidationError{Field: "quantity", Message: "must not be negative"}
	}

	line, delta, err := cs.store.AdjustLineTx(ctx, cartLineID, newQuantity)
	if err != nil {
		if _, ok := AsInsufficientStock(err); ok {
			util.ReservationsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		}
		return nil, err
	}

	cs.logger.Info("Cart line adjusted",
		zap.Int64("cart_line_id", cartLineID),
		zap.Int("quantity", newQuantity),
		zap.Int("delta", delta))

	if delta > 0 {
		util.ReservationsTotal.Inc()
	} else if delta < 0 {
		cs.publishReleased(ctx, line.CartID, line.VariantID, -delta, "adjust")
	}
	return line, nil
}

// Release returns the line's full reserved quantity to the variant and
// removes the line.
func (cs *CartService) Release(ctx context.Context, cartLineID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.Release")
	defer span.End()

	line, err := cs.store.ReleaseLineTx(ctx, cartLineID)
	if err != nil {
		return err
	}

	util.ReservationsReleasedTotal.WithLabelValues("release").Inc()
	cs.logger.Info("Reservation released",
		zap.Int64("cart_line_id", cartLineID),
		zap.Int64("variant_id", line.VariantID),
		zap.Int("quantity", line.Quantity))

	cs.publishReleased(ctx, line.CartID, line.VariantID, line.Quantity, "release")
	return nil
}

// ReleaseAll releases every reservation in the cart and clears it.
func (cs *CartService) ReleaseAll(ctx context.Context, cartID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.ReleaseAll")
	defer span.End()

	lines, err := cs.store.ReleaseCartTx(ctx, cartID)
	if err != nil {
		return err
	}

	for _, line := range lines {
		util.ReservationsReleasedTotal.WithLabelValues("release").Inc()
		cs.publishReleased(ctx, line.CartID, line.VariantID, line.Quantity, "release_all")
	}

	cs.logger.Info("Cart cleared", zap.Int64("cart_id", cartID), zap.Int("lines", len(lines)))
	return nil
}

// GetCart returns the user's cart and its lines.
func (cs *CartService) GetCart(ctx context.Context, userID int64) (*models.Cart, []models.CartLine, error) {
	cart, err := cs.store.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	lines, err := cs.store.GetCartLines(ctx, cart.ID)
	if err != nil {
		return nil, nil, err
	}
	return cart, lines, nil
}

func (cs *CartService) publishReserved(ctx context.Context, userID, cartID, variantID int64, quantity, delta int) {
	event := &models.CartReservedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeCartReserved,
			Timestamp: time.Now(),
		},
		UserID:    userID,
		CartID:    cartID,
		VariantID: variantID,
		Quantity:  quantity,
		Delta:     delta,
	}
	if err := cs.eventPublisher.PublishCartReserved(ctx, event); err != nil {
		cs.logger.Error("Failed to publish CartReserved event", zap.Error(err))
	}
}

func (cs *CartService) publishReleased(ctx context.Context, cartID, variantID int64, quantity int, reason string) {
	event := &models.ReservationReleasedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReservationReleased,
			Timestamp: time.Now(),
		},
		CartID:    cartID,
		VariantID: variantID,
		Quantity:  quantity,
		Reason:    reason,
	}
	if err := cs.eventPublisher.PublishReservationReleased(ctx, event); err != nil {
		cs.logger.Error("Failed to publish ReservationReleased event", zap.Error(err))
	}
}
