package models

import "time"

// Variant represents a purchasable SKU (size/color combination) with its own
// price and stock count. AvailableQuantity never goes below zero; it is
// mutated only by cart reservation/release and by restitution on cancel.
type Variant struct {
	ID                int64     `db:"id" json:"id"`
	ProductID         int64     `db:"product_id" json:"product_id"`
	SKU               string    `db:"sku" json:"sku"`
	Name              string    `db:"name" json:"name"`
	Price             int64     `db:"price" json:"price"`
	AvailableQuantity int       `db:"available_quantity" json:"available_quantity"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Cart is one per user, created lazily on first reservation.
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CartLine holds a reserved quantity of a variant. Its quantity is always
// backed by stock already taken out of the variant's available pool.
type CartLine struct {
	ID        int64     `db:"id" json:"id"`
	CartID    int64     `db:"cart_id" json:"cart_id"`
	VariantID int64     `db:"variant_id" json:"variant_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order is created exactly once from a set of cart lines. Financial fields
// are immutable after creation; only order_status, payment_status and note
// may change.
type Order struct {
	ID                int64     `db:"id" json:"id"`
	UserID            int64     `db:"user_id" json:"user_id"`
	ShippingAddressID int64     `db:"shipping_address_id" json:"shipping_address_id"`
	Subtotal          int64     `db:"subtotal" json:"subtotal"`
	ShippingFee       int64     `db:"shipping_fee" json:"shipping_fee"`
	DiscountAmount    int64     `db:"discount_amount" json:"discount_amount"`
	TotalAmount       int64     `db:"total_amount" json:"total_amount"`
	OrderStatus       string    `db:"order_status" json:"order_status"`
	PaymentStatus     string    `db:"payment_status" json:"payment_status"`
	PaymentMethod     string    `db:"payment_method" json:"payment_method"`
	Note              string    `db:"note" json:"note,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// OrderLine snapshots quantity and unit price at order-creation time. It is
// never recomputed from the live variant price.
type OrderLine struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"order_id"`
	VariantID int64 `db:"variant_id" json:"variant_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
	UnitPrice int64 `db:"unit_price" json:"unit_price"`
	Subtotal  int64 `db:"subtotal" json:"subtotal"`
}

// Payment is one per order; amount equals the order total at creation.
// AttemptCount backs the gateway transaction reference scheme
// (orderID-attemptNN), bumped on every signed redirect build.
type Payment struct {
	ID            int64     `db:"id" json:"id"`
	OrderID       int64     `db:"order_id" json:"order_id"`
	Method        string    `db:"method" json:"method"`
	Status        string    `db:"status" json:"status"`
	Amount        int64     `db:"amount" json:"amount"`
	AttemptCount  int       `db:"attempt_count" json:"attempt_count"`
	GatewayTxnRef string    `db:"gateway_txn_ref" json:"gateway_txn_ref,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// OrderHistoryEntry is an append-only audit record, one per status
// transition. Never updated or deleted.
type OrderHistoryEntry struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Status    string    `db:"status" json:"status"`
	Actor     string    `db:"actor" json:"actor"`
	Note      string    `db:"note" json:"note,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Payment methods
const (
	PaymentMethodCash    = "cash"
	PaymentMethodGateway = "gateway"
)

// Order statuses
const (
	OrderStatusNew        = "new"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusPreparing  = "preparing"
	OrderStatusPacked     = "packed"
	OrderStatusShipping   = "shipping"
	OrderStatusDelivered  = "delivered"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending         = "pending"
	PaymentStatusAwaitingPayment = "awaiting_payment"
	PaymentStatusPaid            = "paid"
	PaymentStatusConfirmed       = "confirmed"
	PaymentStatusRejected        = "rejected"
	PaymentStatusCancelled       = "cancelled"
)

// ProcessedCallback records an applied gateway callback by transaction
// reference, for idempotent redelivery handling.
type ProcessedCallback struct {
	TxnRef      string    `db:"txn_ref"`
	OrderID     int64     `db:"order_id"`
	ProcessedAt time.Time `db:"processed_at"`
}

// GatewayTransaction is one row of the gateway's transaction export, as
// supplied to the reconciliation engine.
type GatewayTransaction struct {
	TxnRef    string    `json:"txn_ref"`
	Amount    int64     `json:"amount"`
	PaidAt    time.Time `json:"paid_at"`
	BankCode  string    `json:"bank_code,omitempty"`
	GatewayID string    `json:"gateway_id,omitempty"`
}
