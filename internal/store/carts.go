package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront-core/internal/models"
)

// GetOrCreateCart returns the user's cart, creating it on first use.
func (s *Store) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	var cart models.Cart
	if err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1", userID); err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetCartLineByID retrieves a cart line by ID
func (s *Store) GetCartLineByID(ctx context.Context, id int64) (*models.CartLine, error) {
	var line models.CartLine
	err := s.db.GetContext(ctx, &line, "SELECT * FROM cart_lines WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cart line %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// GetCartLines retrieves all lines of a cart
func (s *Store) GetCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM cart_lines WHERE cart_id = $1 ORDER BY id", cartID)
	return lines, err
}

// ReserveLineTx sets the cart line for (cartID, variantID) to targetQty and
// moves exactly the signed delta between the variant's available stock and
// the line, under the variant row lock. A positive delta that exceeds
// availability fails with InsufficientStockError and nothing is committed; a
// negative delta always succeeds. Returns the upserted line and the delta.
func (s *Store) ReserveLineTx(ctx context.Context, cartID, variantID int64, targetQty int) (*models.CartLine, int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	available, err := lockVariantStock(ctx, tx, variantID)
	if err != nil {
		return nil, 0, err
	}

	var existing int
	err = tx.GetContext(ctx, &existing,
		"SELECT quantity FROM cart_lines WHERE cart_id = $1 AND variant_id = $2",
		cartID, variantID)
	if err != nil && err != sql.ErrNoRows {
		return nil, 0, err
	}

	delta := targetQty - existing
	if delta > 0 && delta > available {
		return nil, 0, &InsufficientStockError{VariantID: variantID, Requested: delta, Available: available}
	}

	if err := addVariantStock(ctx, tx, variantID, -delta); err != nil {
		return nil, 0, err
	}

	var line models.CartLine
	err = tx.GetContext(ctx, &line, `
		INSERT INTO cart_lines (cart_id, variant_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, variant_id)
		DO UPDATE SET quantity = $3, updated_at = NOW()
		RETURNING *`,
		cartID, variantID, targetQty)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to upsert cart line: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return &line, delta, nil
}

// AdjustLineTx changes an existing line to newQty. Positive deltas go through
// the same availability check as ReserveLineTx; negative deltas release stock
// unconditionally. newQty == 0 deletes the line.
func (s *Store) AdjustLineTx(ctx context.Context, lineID int64, newQty int) (*models.CartLine, int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	var line models.CartLine
	err = tx.GetContext(ctx, &line, "SELECT * FROM cart_lines WHERE id = $1", lineID)
	if err == sql.ErrNoRows {
		return nil, 0, fmt.Errorf("cart line %d: %w", lineID, ErrNotFound)
	}
	if err != nil {
		return nil, 0, err
	}

	available, err := lockVariantStock(ctx, tx, line.VariantID)
	if err != nil {
		return nil, 0, err
	}

	delta := newQty - line.Quantity
	if delta > 0 && delta > available {
		return nil, 0, &InsufficientStockError{VariantID: line.VariantID, Requested: delta, Available: available}
	}

	if err := addVariantStock(ctx, tx, line.VariantID, -delta); err != nil {
		return nil, 0, err
	}

	if newQty == 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM cart_lines WHERE id = $1", lineID); err != nil {
			return nil, 0, err
		}
		line.Quantity = 0
	} else {
		err = tx.GetContext(ctx, &line,
			"UPDATE cart_lines SET quantity = $1, updated_at = NOW() WHERE id = $2 RETURNING *",
			newQty, lineID)
		if err != nil {
			return nil, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return &line, delta, nil
}

// ReleaseLineTx returns the line's full reserved quantity to the variant and
// deletes the line. Release never fails on availability.
func (s *Store) ReleaseLineTx(ctx context.Context, lineID int64) (*models.CartLine, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var line models.CartLine
	err = tx.GetContext(ctx, &line, "SELECT * FROM cart_lines WHERE id = $1", lineID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cart line %d: %w", lineID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if _, err := lockVariantStock(ctx, tx, line.VariantID); err != nil {
		return nil, err
	}
	if err := addVariantStock(ctx, tx, line.VariantID, line.Quantity); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_lines WHERE id = $1", lineID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &line, nil
}

// ReleaseCartTx releases every line's reservation and clears the cart in one
// transaction. Returns the released lines.
func (s *Store) ReleaseCartTx(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var lines []models.CartLine
	err = tx.SelectContext(ctx, &lines,
		"SELECT * FROM cart_lines WHERE cart_id = $1 ORDER BY variant_id", cartID)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		if _, err := lockVariantStock(ctx, tx, line.VariantID); err != nil {
			return nil, err
		}
		if err := addVariantStock(ctx, tx, line.VariantID, line.Quantity); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_lines WHERE cart_id = $1", cartID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return lines, nil
}

// ExpireStaleLinesTx releases up to limit cart lines whose reservation has
// not been touched since cutoff, returning the released lines. Candidates are
// read without locks and re-checked one by one under the variant lock, so the
// lock acquisition order (variant, then line) matches ReserveLineTx. Lines
// held by an in-flight checkout are skipped, not waited on.
func (s *Store) ExpireStaleLinesTx(ctx context.Context, cutoff time.Time, limit int) ([]models.CartLine, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var candidates []models.CartLine
	err = tx.SelectContext(ctx, &candidates, `
		SELECT * FROM cart_lines
		WHERE updated_at < $1
		ORDER BY variant_id
		LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, tx.Commit()
	}

	released := make([]models.CartLine, 0, len(candidates))
	for _, candidate := range candidates {
		if _, err := lockVariantStock(ctx, tx, candidate.VariantID); err != nil {
			return nil, err
		}

		var line models.CartLine
		err = tx.GetContext(ctx, &line, `
			SELECT * FROM cart_lines
			WHERE id = $1 AND updated_at < $2
			FOR UPDATE SKIP LOCKED`,
			candidate.ID, cutoff)
		if err == sql.ErrNoRows {
			// Deleted, refreshed, or locked by a checkout meanwhile.
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := addVariantStock(ctx, tx, line.VariantID, line.Quantity); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM cart_lines WHERE id = $1", line.ID); err != nil {
			return nil, err
		}
		released = append(released, line)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return released, nil
}
