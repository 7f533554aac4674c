package worker

import (
	"context"
	"time"

	"storefront-core/internal/broker"
	"storefront-core/internal/models"
	"storefront-core/internal/redisclient"
	"storefront-core/internal/store"
	"storefront-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sweepLockKey = "reservation-sweeper"

// ReservationSweeper releases cart reservations that have sat untouched
// longer than the TTL, returning their stock to the variant. This is the
// time bound on eager reservation: without it, abandoned carts starve stock
// indefinitely. A redis lock keeps a single instance sweeping at a time.
type ReservationSweeper struct {
	store          *store.Store
	redis          *redisclient.Client
	eventPublisher *broker.EventPublisher
	ttl            time.Duration
	interval       time.Duration
	batchSize      int
	logger         *zap.Logger
}

// NewReservationSweeper creates a new reservation sweeper
func NewReservationSweeper(
	store *store.Store,
	redis *redisclient.Client,
	eventPublisher *broker.EventPublisher,
	ttl, interval time.Duration,
	batchSize int,
) *ReservationSweeper {
	return &ReservationSweeper{
		store:          store,
		redis:          redis,
		eventPublisher: eventPublisher,
		ttl:            ttl,
		interval:       interval,
		batchSize:      batchSize,
		logger:         util.GetLogger(),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (rs *ReservationSweeper) Start(ctx context.Context) error {
	rs.logger.Info("Starting reservation sweeper",
		zap.Duration("ttl", rs.ttl),
		zap.Duration("interval", rs.interval))

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rs.logger.Info("Reservation sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			rs.sweepOnce(ctx)
		}
	}
}

func (rs *ReservationSweeper) sweepOnce(ctx context.Context) {
	acquired, err := rs.redis.AcquireLock(ctx, sweepLockKey, rs.interval)
	if err != nil {
		rs.logger.Warn("Sweeper lock check failed, sweeping anyway", zap.Error(err))
	} else if !acquired {
		return
	}
	defer func() {
		if err == nil {
			_ = rs.redis.ReleaseLock(ctx, sweepLockKey)
		}
	}()

	start := time.Now()
	defer func() {
		util.SweepLatency.Observe(time.Since(start).Seconds())
	}()

	cutoff := time.Now().Add(-rs.ttl)
	for {
		lines, err := rs.store.ExpireStaleLinesTx(ctx, cutoff, rs.batchSize)
		if err != nil {
			rs.logger.Error("Reservation sweep failed", zap.Error(err))
			return
		}
		if len(lines) == 0 {
			return
		}

		for _, line := range lines {
			util.ReservationsExpiredTotal.Inc()
			util.ReservationsReleasedTotal.WithLabelValues("expired").Inc()
			rs.publishExpired(ctx, line)
		}
		rs.logger.Info("Expired reservations released", zap.Int("count", len(lines)))

		if len(lines) < rs.batchSize {
			return
		}
	}
}

func (rs *ReservationSweeper) publishExpired(ctx context.Context, line models.CartLine) {
	event := &models.ReservationReleasedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReservationExpired,
			Timestamp: time.Now(),
		},
		CartID:    line.CartID,
		VariantID: line.VariantID,
		Quantity:  line.Quantity,
		Reason:    "expired",
	}
	if err := rs.eventPublisher.PublishReservationReleased(ctx, event); err != nil {
		rs.logger.Error("Failed to publish ReservationExpired event", zap.Error(err))
	}
}
