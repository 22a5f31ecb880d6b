package domain

import "time"

type PaymentMethod string

const (
	PaymentMethodMpesa          PaymentMethod = "mpesa"
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// statusRank orders the fulfillment states. Cancelled is intentionally
// absent: it is reachable only through Cancel, never through UpdateStatus.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:    1,
	OrderStatusConfirmed:  2,
	OrderStatusProcessing: 3,
	OrderStatusShipped:    4,
	OrderStatusDelivered:  5,
}

// CanTransition reports whether UpdateStatus may move an order from one
// fulfillment status to another. Only strictly forward moves along the
// pending -> confirmed -> processing -> shipped -> delivered chain are legal.
func CanTransition(from, to OrderStatus) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}

	toRank, ok := statusRank[to]
	if !ok {
		return false
	}

	return toRank > fromRank
}

type Order struct {
	ID          int64       `db:"id"`
	OrderNumber string      `db:"order_number"`
	UserID      int64       `db:"user_id"`
	Items       []OrderItem `db:"items"`

	CustomerName    string `db:"customer_name"`
	CustomerEmail   string `db:"customer_email"`
	CustomerPhone   string `db:"customer_phone"`
	DeliveryAddress string `db:"delivery_address"`

	Subtotal    int64 `db:"subtotal"`
	DeliveryFee int64 `db:"delivery_fee"`
	Total       int64 `db:"total"`

	PaymentMethod PaymentMethod  `db:"payment_method"`
	PaymentStatus PaymentStatus  `db:"payment_status"`
	Payment       PaymentDetails `db:"-"`

	OrderStatus   OrderStatus   `db:"order_status"`
	StatusHistory []StatusEvent `db:"-"`

	Notes        string `db:"notes"`
	CancelReason string `db:"cancel_reason"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// OrderItem carries catalog snapshots taken at order-creation time. The order
// stays a faithful historical record even if the product later changes.
type OrderItem struct {
	ID        int64  `db:"id"`
	OrderID   int64  `db:"order_id"`
	ProductID int64  `db:"product_id"`
	Name      string `db:"name"`
	Price     int64  `db:"price"`
	Quantity  int32  `db:"quantity"`
	ImageURL  string `db:"image_url"`
}

type PaymentDetails struct {
	MpesaReceiptNumber string     `db:"mpesa_receipt"`
	TransactionID      string     `db:"transaction_id"`
	Phone              string     `db:"payer_phone"`
	PaidAt             *time.Time `db:"paid_at"`
	FailureReason      string     `db:"failure_reason"`
}

// StatusEvent is one entry of the append-only order audit trail.
type StatusEvent struct {
	ID        int64       `db:"id"`
	OrderID   int64       `db:"order_id"`
	Status    OrderStatus `db:"status"`
	Note      string      `db:"note"`
	Actor     string      `db:"actor"`
	CreatedAt time.Time   `db:"created_at"`
}

func (o *Order) IsCompleted() bool {
	return o.OrderStatus == OrderStatusDelivered
}

func (o *Order) CanBeCancelled() bool {
	return o.OrderStatus == OrderStatusPending || o.OrderStatus == OrderStatusConfirmed
}

// CalculateTotals derives subtotal from the item snapshots and fixes
// total = subtotal + deliveryFee.
func (o *Order) CalculateTotals(deliveryFee int64) {
	var subtotal int64
	for _, item := range o.Items {
		subtotal += item.Price * int64(item.Quantity)
	}

	o.Subtotal = subtotal
	o.DeliveryFee = deliveryFee
	o.Total = subtotal + deliveryFee
}
