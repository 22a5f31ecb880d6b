package domain

import "time"

// Events published through the transactional outbox to the order_events topic.
// Notification delivery is fire-and-forget: consumers must never be able to
// abort the order operation that emitted the event.

type OrderCreatedEvent struct {
	EventID       int64       `json:"event_id"`
	OrderID       int64       `json:"order_id"`
	OrderNumber   string      `json:"order_number"`
	UserID        int64       `json:"user_id"`
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email"`
	Total         int64       `json:"total"`
	Items         []OrderItem `json:"items"`
	CreatedAt     time.Time   `json:"created_at"`
}

type OrderStatusChangedEvent struct {
	EventID       int64       `json:"event_id"`
	OrderID       int64       `json:"order_id"`
	OrderNumber   string      `json:"order_number"`
	CustomerEmail string      `json:"customer_email"`
	Status        OrderStatus `json:"status"`
	Note          string      `json:"note"`
	ChangedAt     time.Time   `json:"changed_at"`
}

type PaymentReceivedEvent struct {
	EventID       int64     `json:"event_id"`
	OrderID       int64     `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	CustomerEmail string    `json:"customer_email"`
	Amount        int64     `json:"amount"`
	Receipt       string    `json:"receipt"`
	PaidAt        time.Time `json:"paid_at"`
}
