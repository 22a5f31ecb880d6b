package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type PaymentAttemptRepository interface {
	Create(ctx context.Context, tx pgx.Tx, attempt *domain.PaymentAttempt) error
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.PaymentAttempt, error)
	GetLatestByOrder(ctx context.Context, orderID int64) (*domain.PaymentAttempt, error)
	LatestPending(ctx context.Context, orderID int64) (*domain.PaymentAttempt, error)
	SupersedePending(ctx context.Context, tx pgx.Tx, orderID int64) error
	Finalize(ctx context.Context, tx pgx.Tx, checkoutRequestID string, status domain.AttemptStatus, resultCode int, resultDesc, receipt string) (bool, error)
}

type paymentAttemptRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewPaymentAttemptRepository(pool *pgxpool.Pool, logger *zap.Logger) PaymentAttemptRepository {
	return &paymentAttemptRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("contract/payment_attempt_repo"),
	}
}

const attemptColumns = `id, order_id, checkout_request_id, merchant_request_id,
	phone, amount, status, result_code, result_desc, receipt,
	initiated_at, completed_at`

func (r *paymentAttemptRepo) Create(ctx context.Context, tx pgx.Tx, attempt *domain.PaymentAttempt) error {
	ctx, span := r.tracer.Start(ctx, "PaymentAttemptRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", attempt.OrderID),
		attribute.String("checkout_request_id", attempt.CheckoutRequestID),
	)

	query := `
		INSERT INTO payment_attempts (
			order_id, checkout_request_id, merchant_request_id,
			phone, amount, status
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, initiated_at
	`

	if err := tx.QueryRow(
		ctx,
		query,
		attempt.OrderID,
		attempt.CheckoutRequestID,
		attempt.MerchantRequestID,
		attempt.Phone,
		attempt.Amount,
		string(attempt.Status),
	).Scan(&attempt.ID, &attempt.InitiatedAt); err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, r.logger, "Failed to insert payment attempt", zap.Error(err))

		return fmt.Errorf("failed to insert payment attempt: %w", err)
	}

	return nil
}

func (r *paymentAttemptRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.PaymentAttempt, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentAttemptRepository.GetByCheckoutRequestID")
	defer span.End()

	span.SetAttributes(
		attribute.String("checkout_request_id", checkoutRequestID),
	)

	query := fmt.Sprintf(`
		SELECT %s
		FROM payment_attempts
		WHERE checkout_request_id = $1
	`, attemptColumns)

	return r.scanOne(ctx, r.pool.QueryRow(ctx, query, checkoutRequestID))
}

func (r *paymentAttemptRepo) GetLatestByOrder(ctx context.Context, orderID int64) (*domain.PaymentAttempt, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentAttemptRepository.GetLatestByOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	query := fmt.Sprintf(`
		SELECT %s
		FROM payment_attempts
		WHERE order_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, attemptColumns)

	return r.scanOne(ctx, r.pool.QueryRow(ctx, query, orderID))
}

func (r *paymentAttemptRepo) LatestPending(ctx context.Context, orderID int64) (*domain.PaymentAttempt, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentAttemptRepository.LatestPending")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	query := fmt.Sprintf(`
		SELECT %s
		FROM payment_attempts
		WHERE order_id = $1 AND status = 'pending'
		ORDER BY id DESC
		LIMIT 1
	`, attemptColumns)

	return r.scanOne(ctx, r.pool.QueryRow(ctx, query, orderID))
}

func (r *paymentAttemptRepo) scanOne(ctx context.Context, row pgx.Row) (*domain.PaymentAttempt, error) {
	var a domain.PaymentAttempt
	if err := row.Scan(
		&a.ID, &a.OrderID, &a.CheckoutRequestID, &a.MerchantRequestID,
		&a.Phone, &a.Amount, &a.Status, &a.ResultCode, &a.ResultDesc, &a.Receipt,
		&a.InitiatedAt, &a.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAttemptNotFound
		}

		mylogger.Error(ctx, r.logger, "Failed to scan payment attempt", zap.Error(err))

		return nil, fmt.Errorf("failed to scan payment attempt: %w", err)
	}

	return &a, nil
}

// SupersedePending retires every still-pending attempt of the order before a
// new one is created. The retired attempt keeps its row so a late webhook for
// it can still be recognized and ignored.
func (r *paymentAttemptRepo) SupersedePending(ctx context.Context, tx pgx.Tx, orderID int64) error {
	ctx, span := r.tracer.Start(ctx, "PaymentAttemptRepository.SupersedePending")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	query := `
		UPDATE payment_attempts
		SET status = 'superseded', completed_at = NOW()
		WHERE order_id = $1 AND status = 'pending'
	`

	if _, err := tx.Exec(ctx, query, orderID); err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to supersede pending attempts: %w", err)
	}

	return nil
}

// Finalize moves a pending attempt to its terminal status with a
// compare-and-set. Returns whether this call applied the transition: a
// duplicate webhook or a result for a superseded attempt reports false.
func (r *paymentAttemptRepo) Finalize(ctx context.Context, tx pgx.Tx, checkoutRequestID string, status domain.AttemptStatus, resultCode int, resultDesc, receipt string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentAttemptRepository.Finalize")
	defer span.End()

	span.SetAttributes(
		attribute.String("checkout_request_id", checkoutRequestID),
		attribute.String("status", string(status)),
	)

	query := `
		UPDATE payment_attempts
		SET status = $2, result_code = $3, result_desc = $4, receipt = $5, completed_at = NOW()
		WHERE checkout_request_id = $1 AND status = 'pending'
	`

	commandTag, err := tx.Exec(ctx, query, checkoutRequestID, string(status), resultCode, resultDesc, receipt)
	if err != nil {
		span.RecordError(err)

		return false, fmt.Errorf("failed to finalize payment attempt: %w", err)
	}

	return commandTag.RowsAffected() > 0, nil
}
