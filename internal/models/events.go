package models

import "time"

// Event types
const (
	EventTypeCartReserved         = "CART_RESERVED"
	EventTypeReservationReleased  = "RESERVATION_RELEASED"
	EventTypeReservationExpired   = "RESERVATION_EXPIRED"
	EventTypeOrderCreated         = "ORDER_CREATED"
	EventTypeOrderStatusChanged   = "ORDER_STATUS_CHANGED"
	EventTypePaymentStatusChanged = "PAYMENT_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CartReservedEvent published when stock is reserved into a cart line
type CartReservedEvent struct {
	BaseEvent
	UserID    int64 `json:"user_id"`
	CartID    int64 `json:"cart_id"`
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
	Delta     int   `json:"delta"`
}

// ReservationReleasedEvent published when a reservation returns to stock,
// whether by explicit release or by the expiry sweeper.
type ReservationReleasedEvent struct {
	BaseEvent
	CartID    int64  `json:"cart_id"`
	VariantID int64  `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

// OrderCreatedEvent published after a successful checkout commit
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	TotalAmount   int64           `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	Lines         []OrderLineData `json:"lines"`
}

// OrderStatusChangedEvent published on every lifecycle transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Actor      string `json:"actor"`
}

// PaymentStatusChangedEvent published when a payment changes state. The
// coordination worker reacts to to_status=paid for gateway payments.
type PaymentStatusChangedEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	PaymentID  int64  `json:"payment_id"`
	Method     string `json:"method"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	TxnRef     string `json:"txn_ref,omitempty"`
}

// OrderLineData represents line data in events
type OrderLineData struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
