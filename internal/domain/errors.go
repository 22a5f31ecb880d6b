package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrAttemptNotFound     = errors.New("payment attempt not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrAlreadyPaid         = errors.New("order is already paid")
	ErrAmountMismatch      = errors.New("payment amount does not match order total")
	ErrInvalidPhoneNumber  = errors.New("invalid phone number")
	ErrPaymentInProgress   = errors.New("a payment attempt is already in progress")
	ErrOrderNotPayable     = errors.New("order is no longer awaiting payment")
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrForbidden           = errors.New("not allowed to access this order")
)

// InsufficientStockError names the product that blocked an order so the
// caller can tell the customer which line item failed.
type InsufficientStockError struct {
	ProductID int64
	Name      string
	Requested int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q (id %d): requested %d", e.Name, e.ProductID, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// NotCancellableError reports the fulfillment status that blocks cancellation.
type NotCancellableError struct {
	Status OrderStatus
}

func (e *NotCancellableError) Error() string {
	return fmt.Sprintf("order in status %q can no longer be cancelled", e.Status)
}

func (e *NotCancellableError) Is(target error) bool {
	return target == ErrOrderNotCancellable
}

// InvalidTransitionError reports the rejected fulfillment edge.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %q to %q", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
