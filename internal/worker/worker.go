package worker

import (
	"context"
	"log"

	"storefront-core/internal/broker"
	"storefront-core/internal/service"
)

// CoordinationWorker consumes payment events and applies the cross-machine
// rule that a paid gateway payment confirms its order.
type CoordinationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewCoordinationWorker creates a new coordination worker
func NewCoordinationWorker(consumer *broker.Consumer, lifecycle *service.LifecycleService) *CoordinationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentStatusChanged(lifecycle.HandlePaymentStatusChanged)

	return &CoordinationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *CoordinationWorker) Start(ctx context.Context) error {
	log.Println("Starting coordination worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CoordinationWorker) Stop() error {
	log.Println("Stopping coordination worker...")
	return w.consumer.Close()
}
