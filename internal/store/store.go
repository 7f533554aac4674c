package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront-core/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a requested row does not exist or is not
// visible to the caller (e.g. a cart line owned by another user).
var ErrNotFound = errors.New("not found")

// ErrStatusConflict is returned when a guarded status update matched zero
// rows, i.e. the row was no longer in the expected state.
var ErrStatusConflict = errors.New("status conflict")

// InsufficientStockError carries the quantity still available so callers can
// surface it to the client.
type InsufficientStockError struct {
	VariantID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d: requested=%d, available=%d",
		e.VariantID, e.Requested, e.Available)
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetVariantByID retrieves a variant by ID
func (s *Store) GetVariantByID(ctx context.Context, id int64) (*models.Variant, error) {
	var v models.Variant
	err := s.db.GetContext(ctx, &v, "SELECT * FROM variants WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("variant %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVariantsByIDs retrieves multiple variants by IDs
func (s *Store) GetVariantsByIDs(ctx context.Context, ids []int64) ([]models.Variant, error) {
	if len(ids) == 0 {
		return []models.Variant{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM variants WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var variants []models.Variant
	err = s.db.SelectContext(ctx, &variants, query, args...)
	return variants, err
}

// lockVariantStock takes the per-variant row lock and returns the current
// available quantity. Every available_quantity mutation goes through this
// lock; it is the serialization point against concurrent reservations.
func lockVariantStock(ctx context.Context, tx *sqlx.Tx, variantID int64) (int, error) {
	var available int
	err := tx.GetContext(ctx, &available,
		"SELECT available_quantity FROM variants WHERE id = $1 FOR UPDATE", variantID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("variant %d: %w", variantID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock variant %d: %w", variantID, err)
	}
	return available, nil
}

// addVariantStock applies a signed delta to available_quantity. Callers must
// hold the row lock via lockVariantStock in the same transaction.
func addVariantStock(ctx context.Context, tx *sqlx.Tx, variantID int64, delta int) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE variants SET available_quantity = available_quantity + $1, updated_at = NOW() WHERE id = $2",
		delta, variantID)
	if err != nil {
		return fmt.Errorf("failed to update stock for variant %d: %w", variantID, err)
	}
	return nil
}
