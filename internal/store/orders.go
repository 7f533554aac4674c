package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront-core/internal/models"

	"github.com/jmoiron/sqlx"
)

// CheckoutParams carries everything CheckoutTx needs to turn a set of
// reserved cart lines into an order.
type CheckoutParams struct {
	UserID            int64
	CartLineIDs       []int64
	ShippingAddressID int64
	PaymentMethod     string
	PaymentStatus     string
	ShippingFee       int64
	Note              string
	Actor             string
}

// CheckoutResult is the persisted outcome of a successful checkout.
type CheckoutResult struct {
	Order   *models.Order
	Lines   []models.OrderLine
	Payment *models.Payment
}

// CheckoutTx converts the selected cart lines into an order inside one
// transaction: order + order lines (unit price snapshotted from the current
// variant price) + payment + history entry, then deletes the cart lines. It
// performs no stock mutation; the reservation moves from cart to order as-is.
// Any failure rolls the whole thing back.
func (s *Store) CheckoutTx(ctx context.Context, p CheckoutParams) (*CheckoutResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// The line lock is held until commit so the expiry sweeper skips these
	// rows and adjust/release wait behind the checkout.
	query, args, err := sqlx.In(`
		SELECT cl.* FROM cart_lines cl
		JOIN carts c ON c.id = cl.cart_id
		WHERE cl.id IN (?) AND c.user_id = ?
		FOR UPDATE OF cl`,
		p.CartLineIDs, p.UserID)
	if err != nil {
		return nil, err
	}
	query = tx.Rebind(query)

	var cartLines []models.CartLine
	if err := tx.SelectContext(ctx, &cartLines, query, args...); err != nil {
		return nil, err
	}
	if len(cartLines) != len(p.CartLineIDs) {
		return nil, fmt.Errorf("cart lines for user %d: %w", p.UserID, ErrNotFound)
	}

	variantIDs := make([]int64, len(cartLines))
	for i, line := range cartLines {
		variantIDs[i] = line.VariantID
	}
	query, args, err = sqlx.In("SELECT * FROM variants WHERE id IN (?)", variantIDs)
	if err != nil {
		return nil, err
	}
	query = tx.Rebind(query)

	var variants []models.Variant
	if err := tx.SelectContext(ctx, &variants, query, args...); err != nil {
		return nil, err
	}
	priceByVariant := make(map[int64]int64, len(variants))
	for _, v := range variants {
		priceByVariant[v.ID] = v.Price
	}

	var subtotal int64
	for _, line := range cartLines {
		subtotal += priceByVariant[line.VariantID] * int64(line.Quantity)
	}
	total := subtotal + p.ShippingFee

	var order models.Order
	err = tx.GetContext(ctx, &order, `
		INSERT INTO orders (user_id, shipping_address_id, subtotal, shipping_fee,
			discount_amount, total_amount, order_status, payment_status, payment_method, note)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8, $9)
		RETURNING *`,
		p.UserID, p.ShippingAddressID, subtotal, p.ShippingFee, total,
		models.OrderStatusNew, p.PaymentStatus, p.PaymentMethod, p.Note)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	orderLines := make([]models.OrderLine, 0, len(cartLines))
	for _, line := range cartLines {
		unitPrice := priceByVariant[line.VariantID]
		var ol models.OrderLine
		err = tx.GetContext(ctx, &ol, `
			INSERT INTO order_lines (order_id, variant_id, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING *`,
			order.ID, line.VariantID, line.Quantity, unitPrice, unitPrice*int64(line.Quantity))
		if err != nil {
			return nil, fmt.Errorf("failed to create order line: %w", err)
		}
		orderLines = append(orderLines, ol)
	}

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `
		INSERT INTO payments (order_id, method, status, amount, attempt_count)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING *`,
		order.ID, p.PaymentMethod, p.PaymentStatus, total)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	if err := insertHistory(ctx, tx, order.ID, models.OrderStatusNew, p.Actor, p.Note); err != nil {
		return nil, err
	}

	query, args, err = sqlx.In("DELETE FROM cart_lines WHERE id IN (?)", p.CartLineIDs)
	if err != nil {
		return nil, err
	}
	query = tx.Rebind(query)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to consume cart lines: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if deleted != int64(len(p.CartLineIDs)) {
		return nil, fmt.Errorf("cart lines changed during checkout: %w", ErrStatusConflict)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &CheckoutResult{Order: &order, Lines: orderLines, Payment: &payment}, nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, orderID int64, status, actor, note string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO order_history (order_id, status, actor, note) VALUES ($1, $2, $3, $4)",
		orderID, status, actor, note)
	if err != nil {
		return fmt.Errorf("failed to append order history: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetOrderLinesByOrderID retrieves all lines for an order
func (s *Store) GetOrderLinesByOrderID(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// GetOrderHistory retrieves the audit trail for an order
func (s *Store) GetOrderHistory(ctx context.Context, orderID int64) ([]models.OrderHistoryEntry, error) {
	var entries []models.OrderHistoryEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM order_history WHERE order_id = $1 ORDER BY id", orderID)
	return entries, err
}

// TransitionOrderTx moves an order from fromStatus to toStatus, appending one
// history entry. The UPDATE is guarded on the current status; if another
// writer got there first the whole transaction fails with ErrStatusConflict.
// When restitute is set (transition into cancelled), every order line's
// quantity is returned to its variant under the variant row lock.
func (s *Store) TransitionOrderTx(ctx context.Context, orderID int64, fromStatus, toStatus, actor, note string, restitute bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET order_status = $1, updated_at = NOW() WHERE id = $2 AND order_status = $3",
		toStatus, orderID, fromStatus)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %d no longer %s: %w", orderID, fromStatus, ErrStatusConflict)
	}

	if restitute {
		var lines []models.OrderLine
		err = tx.SelectContext(ctx, &lines,
			"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY variant_id", orderID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := lockVariantStock(ctx, tx, line.VariantID); err != nil {
				return err
			}
			if err := addVariantStock(ctx, tx, line.VariantID, line.Quantity); err != nil {
				return err
			}
		}

		// A payment still waiting on money is cancelled with its order, so
		// pay-again and late gateway callbacks have nothing left to act on.
		voided, err := tx.ExecContext(ctx, `
			UPDATE payments SET status = $1, updated_at = NOW()
			WHERE order_id = $2 AND status IN ($3, $4)`,
			models.PaymentStatusCancelled, orderID,
			models.PaymentStatusPending, models.PaymentStatusAwaitingPayment)
		if err != nil {
			return err
		}
		if n, err := voided.RowsAffected(); err != nil {
			return err
		} else if n > 0 {
			_, err = tx.ExecContext(ctx,
				"UPDATE orders SET payment_status = $1 WHERE id = $2",
				models.PaymentStatusCancelled, orderID)
			if err != nil {
				return err
			}
		}
	}

	if err := insertHistory(ctx, tx, orderID, toStatus, actor, note); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateOrderNote updates the order's free-text note, the only mutable field
// besides the two statuses.
func (s *Store) UpdateOrderNote(ctx context.Context, orderID int64, note string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET note = $1, updated_at = NOW() WHERE id = $2", note, orderID)
	return err
}

// GetPaymentByOrderID retrieves the payment for an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment for order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByTxnRef retrieves a payment by its gateway transaction reference
func (s *Store) GetPaymentByTxnRef(ctx context.Context, txnRef string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE gateway_txn_ref = $1", txnRef)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment with reference %s: %w", txnRef, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// RegisterGatewayAttempt bumps the payment's attempt counter and records the
// transaction reference built from it (orderID-attemptNN), in one statement
// so retries can never reuse a reference.
func (s *Store) RegisterGatewayAttempt(ctx context.Context, paymentID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, `
		UPDATE payments
		SET attempt_count = attempt_count + 1,
		    gateway_txn_ref = order_id::text || '-' || lpad((attempt_count + 1)::text, 2, '0'),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING *`,
		paymentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment %d: %w", paymentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentStatusGuarded moves a payment between statuses, matching only
// if the row is still in one of the expected source statuses.
func (s *Store) UpdatePaymentStatusGuarded(ctx context.Context, paymentID int64, from []string, to string) (*models.Payment, error) {
	query, args, err := sqlx.In(`
		UPDATE payments SET status = ?, updated_at = NOW()
		WHERE id = ? AND status IN (?)
		RETURNING *`,
		to, paymentID, from)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var payment models.Payment
	err = s.db.GetContext(ctx, &payment, query, args...)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment %d not in %v: %w", paymentID, from, ErrStatusConflict)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ApplyGatewayCallbackTx records an inbound gateway callback and applies the
// resulting payment status, idempotently keyed on the transaction reference.
// The insert into processed_callbacks is the source of truth for "already
// applied": a conflict means redelivery and the transaction becomes a no-op
// (applied=false, nil payment). On first delivery the payment must still be
// awaiting_payment (ErrStatusConflict otherwise), then the payment and the
// order's payment_status move to toStatus and one history entry is appended.
func (s *Store) ApplyGatewayCallbackTx(ctx context.Context, txnRef, toStatus, actor, note string) (bool, *models.Payment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, nil, err
	}
	defer tx.Rollback()

	var payment models.Payment
	err = tx.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE gateway_txn_ref = $1 FOR UPDATE", txnRef)
	if err == sql.ErrNoRows {
		return false, nil, fmt.Errorf("payment with reference %s: %w", txnRef, ErrNotFound)
	}
	if err != nil {
		return false, nil, err
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO processed_callbacks (txn_ref, order_id) VALUES ($1, $2) ON CONFLICT (txn_ref) DO NOTHING",
		txnRef, payment.OrderID)
	if err != nil {
		return false, nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if n == 0 {
		// Redelivery of an already-applied callback.
		return false, nil, tx.Commit()
	}

	// First delivery for this reference: the payment must still be waiting.
	// A cancelled or otherwise settled payment never accepts gateway money.
	if payment.Status != models.PaymentStatusAwaitingPayment {
		return false, nil, fmt.Errorf("payment %d is %s: %w", payment.ID, payment.Status, ErrStatusConflict)
	}

	err = tx.GetContext(ctx, &payment,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *",
		toStatus, payment.ID)
	if err != nil {
		return false, nil, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2",
		toStatus, payment.OrderID)
	if err != nil {
		return false, nil, err
	}

	if err := insertHistory(ctx, tx, payment.OrderID, "payment_"+toStatus, actor, note); err != nil {
		return false, nil, err
	}

	if err := tx.Commit(); err != nil {
		return false, nil, err
	}
	return true, &payment, nil
}

// SetOrderPaymentStatus mirrors a payment status change onto the order row.
func (s *Store) SetOrderPaymentStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// ListGatewayPayments retrieves gateway-method payments created in [from, to)
// for reconciliation against the gateway's transaction export.
func (s *Store) ListGatewayPayments(ctx context.Context, from, to time.Time) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments
		WHERE method = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at`,
		models.PaymentMethodGateway, from, to)
	return payments, err
}
