package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	ListByUser(ctx context.Context, userID, limit, offset int64) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, orderID int64, from, to domain.OrderStatus, note, actor string) error
	MarkAsPaid(ctx context.Context, tx pgx.Tx, orderID int64, details domain.PaymentDetails) (bool, error)
	MarkPaymentFailed(ctx context.Context, tx pgx.Tx, orderID int64, reason string) (bool, error)
	Cancel(ctx context.Context, tx pgx.Tx, orderID int64, reason, actor string) error
	CancelExpired(ctx context.Context, tx pgx.Tx, orderID int64, reason string) error
	SetTransactionID(ctx context.Context, tx pgx.Tx, orderID int64, transactionID, phone string) error
	ListExpiredPending(ctx context.Context, method domain.PaymentMethod, cutoff time.Time, limit int) ([]int64, error)
}

type orderRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("contract/order_repo"),
	}
}

// Create persists the order row, its item snapshots and the first status
// history entry in the caller's transaction, so a lost history write cannot
// happen. The order number is a date-scoped sequence taken from
// order_counters under the same transaction.
func (r *orderRepo) Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", order.UserID),
		attribute.Int("items_count", len(order.Items)),
	)

	counterQuery := `
		INSERT INTO order_counters (day, counter)
		VALUES (CURRENT_DATE, 1)
		ON CONFLICT (day) DO UPDATE SET counter = order_counters.counter + 1
		RETURNING counter, to_char(day, 'YYYYMMDD')
	`

	var counter int64
	var day string
	if err := tx.QueryRow(ctx, counterQuery).Scan(&counter, &day); err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to allocate order number: %w", err)
	}

	order.OrderNumber = fmt.Sprintf("ORD-%s-%04d", day, counter)

	orderQuery := `
		INSERT INTO orders (
			order_number, user_id, customer_name, customer_email, customer_phone,
			delivery_address, subtotal, delivery_fee, total,
			payment_method, payment_status, order_status, notes,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	if err := tx.QueryRow(
		ctx,
		orderQuery,
		order.OrderNumber,
		order.UserID,
		order.CustomerName,
		order.CustomerEmail,
		order.CustomerPhone,
		order.DeliveryAddress,
		order.Subtotal,
		order.DeliveryFee,
		order.Total,
		string(order.PaymentMethod),
		string(order.PaymentStatus),
		string(order.OrderStatus),
		order.Notes,
	).Scan(
		&order.ID,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, r.logger, "Failed to insert order", zap.Error(err))

		return err
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, name, price, quantity, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		if err := tx.QueryRow(
			ctx,
			itemQuery,
			order.ID,
			item.ProductID,
			item.Name,
			item.Price,
			item.Quantity,
			item.ImageURL,
		).Scan(&item.ID); err != nil {
			span.RecordError(err)

			mylogger.Error(ctx, r.logger, "Failed to insert order item", zap.Error(err))

			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := r.appendHistory(ctx, tx, order.ID, order.OrderStatus, "order placed", actorLabel(order.UserID)); err != nil {
		return err
	}

	return nil
}

func actorLabel(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func (r *orderRepo) appendHistory(ctx context.Context, tx pgx.Tx, orderID int64, status domain.OrderStatus, note, actor string) error {
	query := `
		INSERT INTO order_status_history (order_id, status, note, actor)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := tx.Exec(ctx, query, orderID, string(status), note, actor); err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to append status history",
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to append status history: %w", err)
	}

	return nil
}

func (r *orderRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", id),
	)

	query := `
		SELECT id, order_number, user_id, customer_name, customer_email,
			customer_phone, delivery_address, subtotal, delivery_fee, total,
			payment_method, payment_status, order_status, notes, cancel_reason,
			mpesa_receipt, transaction_id, payer_phone, paid_at, failure_reason,
			created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var o domain.Order
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.CustomerName, &o.CustomerEmail,
		&o.CustomerPhone, &o.DeliveryAddress, &o.Subtotal, &o.DeliveryFee, &o.Total,
		&o.PaymentMethod, &o.PaymentStatus, &o.OrderStatus, &o.Notes, &o.CancelReason,
		&o.Payment.MpesaReceiptNumber, &o.Payment.TransactionID, &o.Payment.Phone,
		&o.Payment.PaidAt, &o.Payment.FailureReason,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}

		span.RecordError(err)

		return nil, fmt.Errorf("error getting order %d: %w", id, err)
	}

	items, err := r.itemsOf(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	o.Items = items

	history, err := r.historyOf(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	o.StatusHistory = history

	return &o, nil
}

func (r *orderRepo) itemsOf(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, name, price, quantity, image_url
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Name,
			&item.Price,
			&item.Quantity,
			&item.ImageURL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

func (r *orderRepo) historyOf(ctx context.Context, orderID int64) ([]domain.StatusEvent, error) {
	query := `
		SELECT id, order_id, status, note, actor, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var history []domain.StatusEvent
	for rows.Next() {
		var e domain.StatusEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.Note, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}

		history = append(history, e)
	}

	return history, rows.Err()
}

func (r *orderRepo) ListByUser(ctx context.Context, userID, limit, offset int64) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListByUser")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
	)

	query := `
		SELECT id, order_number, user_id, subtotal, delivery_fee, total,
			payment_method, payment_status, order_status, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID, &o.OrderNumber, &o.UserID, &o.Subtotal, &o.DeliveryFee, &o.Total,
			&o.PaymentMethod, &o.PaymentStatus, &o.OrderStatus, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		orders = append(orders, o)
	}

	return orders, rows.Err()
}

// UpdateStatus moves the fulfillment status with a compare-and-set on the
// expected current status, then appends the history entry in the same
// transaction. Zero rows affected means the order changed underneath the
// caller or does not exist.
func (r *orderRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, orderID int64, from, to domain.OrderStatus, note, actor string) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)

	query := `
		UPDATE orders
		SET order_status = $3, updated_at = NOW()
		WHERE id = $1 AND order_status = $2
	`

	commandTag, err := tx.Exec(ctx, query, orderID, string(from), string(to))
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to update order status: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		current, found := r.currentStatus(ctx, tx, orderID)
		if !found {
			return domain.ErrOrderNotFound
		}

		return &domain.InvalidTransitionError{From: current, To: to}
	}

	return r.appendHistory(ctx, tx, orderID, to, note, actor)
}

func (r *orderRepo) currentStatus(ctx context.Context, tx pgx.Tx, orderID int64) (domain.OrderStatus, bool) {
	var status domain.OrderStatus
	err := tx.QueryRow(ctx, `SELECT order_status FROM orders WHERE id = $1`, orderID).Scan(&status)
	if err != nil {
		return "", false
	}

	return status, true
}

// MarkAsPaid is compare-and-set on payment_status: whichever of the webhook
// or the status poll lands first wins, the other becomes a no-op. Returns
// whether this call applied the transition.
func (r *orderRepo) MarkAsPaid(ctx context.Context, tx pgx.Tx, orderID int64, details domain.PaymentDetails) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.MarkAsPaid")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	paidAt := time.Now()
	if details.PaidAt != nil {
		paidAt = *details.PaidAt
	}

	query := `
		UPDATE orders
		SET payment_status = 'paid',
			mpesa_receipt = $2,
			transaction_id = COALESCE(NULLIF($3, ''), transaction_id),
			payer_phone = COALESCE(NULLIF($4, ''), payer_phone),
			paid_at = $5,
			failure_reason = '',
			updated_at = NOW()
		WHERE id = $1 AND payment_status <> 'paid'
		RETURNING order_status
	`

	var status domain.OrderStatus
	err := tx.QueryRow(
		ctx,
		query,
		orderID,
		details.MpesaReceiptNumber,
		details.TransactionID,
		details.Phone,
		paidAt,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already paid, or the order is gone.
			if _, found := r.currentStatus(ctx, tx, orderID); !found {
				return false, domain.ErrOrderNotFound
			}

			return false, nil
		}

		span.RecordError(err)

		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}

	// A successful payment confirms a pending order.
	if status == domain.OrderStatusPending {
		if err := r.UpdateStatus(ctx, tx, orderID, domain.OrderStatusPending, domain.OrderStatusConfirmed, "payment received", "gateway"); err != nil {
			return false, err
		}
	}

	return true, nil
}

// MarkPaymentFailed records the gateway's failure description without touching
// the fulfillment status: a failed payment leaves the order pending so the
// customer can retry. Never downgrades a paid order.
func (r *orderRepo) MarkPaymentFailed(ctx context.Context, tx pgx.Tx, orderID int64, reason string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.MarkPaymentFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	query := `
		UPDATE orders
		SET payment_status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND payment_status IN ('pending', 'failed')
	`

	commandTag, err := tx.Exec(ctx, query, orderID, reason)
	if err != nil {
		span.RecordError(err)

		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}

	return commandTag.RowsAffected() > 0, nil
}

// Cancel flips the order to cancelled only from a cancellable status. Stock
// release is the caller's part of the same transaction.
func (r *orderRepo) Cancel(ctx context.Context, tx pgx.Tx, orderID int64, reason, actor string) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Cancel")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	query := `
		UPDATE orders
		SET order_status = 'cancelled', cancel_reason = $2, updated_at = NOW()
		WHERE id = $1 AND order_status IN ('pending', 'confirmed')
	`

	commandTag, err := tx.Exec(ctx, query, orderID, reason)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to cancel order: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		current, found := r.currentStatus(ctx, tx, orderID)
		if !found {
			return domain.ErrOrderNotFound
		}

		return &domain.NotCancellableError{Status: current}
	}

	return r.appendHistory(ctx, tx, orderID, domain.OrderStatusCancelled, reason, actor)
}

// CancelExpired is the sweeper's variant of Cancel: it additionally requires
// the order to still be unpaid, so a payment landing between the expiry scan
// and this call keeps the order alive.
func (r *orderRepo) CancelExpired(ctx context.Context, tx pgx.Tx, orderID int64, reason string) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CancelExpired")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	query := `
		UPDATE orders
		SET order_status = 'cancelled', cancel_reason = $2, updated_at = NOW()
		WHERE id = $1
			AND order_status = 'pending'
			AND payment_status IN ('pending', 'failed')
	`

	commandTag, err := tx.Exec(ctx, query, orderID, reason)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to cancel expired order: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		if _, found := r.currentStatus(ctx, tx, orderID); !found {
			return domain.ErrOrderNotFound
		}

		return domain.ErrOrderNotCancellable
	}

	return r.appendHistory(ctx, tx, orderID, domain.OrderStatusCancelled, reason, "system")
}

// SetTransactionID records the gateway correlation id. Called only after the
// gateway confirmed it accepted the push, never on transport failure.
func (r *orderRepo) SetTransactionID(ctx context.Context, tx pgx.Tx, orderID int64, transactionID, phone string) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.SetTransactionID")
	defer span.End()

	query := `
		UPDATE orders
		SET transaction_id = $2, payer_phone = $3, updated_at = NOW()
		WHERE id = $1
	`

	commandTag, err := tx.Exec(ctx, query, orderID, transactionID, phone)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to record transaction id: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

// ListExpiredPending returns orders of the given payment method still fully
// pending past the cutoff. Used by the reservation sweeper.
func (r *orderRepo) ListExpiredPending(ctx context.Context, method domain.PaymentMethod, cutoff time.Time, limit int) ([]int64, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListExpiredPending")
	defer span.End()

	query := `
		SELECT id
		FROM orders
		WHERE payment_method = $1
			AND payment_status IN ('pending', 'failed')
			AND order_status = 'pending'
			AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, string(method), cutoff, limit)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query expired orders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}
