package domain

import "time"

type AttemptStatus string

const (
	AttemptStatusPending    AttemptStatus = "pending"
	AttemptStatusSucceeded  AttemptStatus = "succeeded"
	AttemptStatusFailed     AttemptStatus = "failed"
	AttemptStatusSuperseded AttemptStatus = "superseded"
)

// PaymentAttempt is one row of the append-only push-payment log. Re-initiating
// a payment supersedes the prior pending attempt instead of overwriting it, so
// the history stays usable for auditing and duplicate-webhook detection.
type PaymentAttempt struct {
	ID                int64         `db:"id"`
	OrderID           int64         `db:"order_id"`
	CheckoutRequestID string        `db:"checkout_request_id"`
	MerchantRequestID string        `db:"merchant_request_id"`
	Phone             string        `db:"phone"`
	Amount            int64         `db:"amount"`
	Status            AttemptStatus `db:"status"`
	ResultCode        *int          `db:"result_code"`
	ResultDesc        string        `db:"result_desc"`
	Receipt           string        `db:"receipt"`
	InitiatedAt       time.Time     `db:"initiated_at"`
	CompletedAt       *time.Time    `db:"completed_at"`
}

// IsFresh reports whether the attempt is still pending and inside the gateway
// pending window. A fresh attempt blocks re-initiation so two push prompts
// cannot be in flight for the same order at once.
func (a *PaymentAttempt) IsFresh(window time.Duration, now time.Time) bool {
	return a.Status == AttemptStatusPending && now.Sub(a.InitiatedAt) < window
}

// PaymentOutcome is the gateway-neutral result of an asynchronous payment,
// arriving either through the callback webhook or a status poll.
type PaymentOutcome struct {
	CheckoutRequestID string
	MerchantRequestID string
	Success           bool
	ResultCode        int
	ResultDesc        string
	Receipt           string
	Amount            *int64
	Phone             string
	PaidAt            *time.Time
}
