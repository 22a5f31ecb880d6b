package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/internal/mpesa"
	"github.com/JOMO418/furniture-hub-backend/internal/repository"
	"github.com/JOMO418/furniture-hub-backend/pkg/mylogger"
	outboxDomain "github.com/JOMO418/furniture-hub-backend/pkg/outbox/domain"
	"github.com/JOMO418/furniture-hub-backend/pkg/outbox/worker"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// amountTolerance absorbs rounding: a client-quoted amount or a callback
// amount may be off by one shilling from the order total.
const amountTolerance = 1

// GatewayClient is the slice of the M-Pesa client the payment service needs.
type GatewayClient interface {
	STKPush(ctx context.Context, req mpesa.PushRequest) (*mpesa.PushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResponse, error)
}

type PaymentService interface {
	InitiatePayment(ctx context.Context, actor domain.Actor, orderID int64, phone string, amount int64) (*domain.PaymentAttempt, error)
	Reconcile(ctx context.Context, outcome domain.PaymentOutcome) error
	QueryPaymentStatus(ctx context.Context, actor domain.Actor, orderID int64) (*domain.PaymentAttempt, error)
}

type paymentService struct {
	pool          *pgxpool.Pool
	logger        *zap.Logger
	orderRepo     repository.OrderRepository
	attemptRepo   repository.PaymentAttemptRepository
	outboxRepo    worker.OutboxRepository
	gateway       GatewayClient
	orderTopic    string
	pendingWindow time.Duration
	tracer        trace.Tracer
}

func NewPaymentService(
	pool *pgxpool.Pool,
	logger *zap.Logger,
	orderRepo repository.OrderRepository,
	attemptRepo repository.PaymentAttemptRepository,
	outboxRepo worker.OutboxRepository,
	gateway GatewayClient,
	orderTopic string,
	pendingWindow time.Duration,
) PaymentService {
	return &paymentService{
		pool:          pool,
		logger:        logger,
		orderRepo:     orderRepo,
		attemptRepo:   attemptRepo,
		outboxRepo:    outboxRepo,
		gateway:       gateway,
		orderTopic:    orderTopic,
		pendingWindow: pendingWindow,
		tracer:        otel.Tracer("payment_service"),
	}
}

// InitiatePayment sends an STK push for the order total and records the
// attempt. The amount the caller quoted must match the order total; the push
// itself always carries the server-side total. The push goes out before the
// local transaction opens: if the gateway rejects it nothing is written, and
// if the local write fails the late callback simply finds no matching attempt
// and is dropped.
func (s *paymentService) InitiatePayment(ctx context.Context, actor domain.Actor, orderID int64, phone string, amount int64) (*domain.PaymentAttempt, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.InitiatePayment")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !actor.CanAccessOrder(order) {
		return nil, domain.ErrForbidden
	}

	if order.PaymentMethod != domain.PaymentMethodMpesa {
		return nil, fmt.Errorf("order %s does not pay through m-pesa", order.OrderNumber)
	}

	if order.PaymentStatus == domain.PaymentStatusPaid {
		return nil, domain.ErrAlreadyPaid
	}

	if diff(amount, order.Total) > amountTolerance {
		return nil, domain.ErrAmountMismatch
	}

	if !order.CanBeCancelled() {
		// Cancelled or already deep in fulfillment.
		return nil, domain.ErrOrderNotPayable
	}

	normalizedPhone, err := mpesa.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if pending, err := s.attemptRepo.LatestPending(ctx, orderID); err == nil && pending.IsFresh(s.pendingWindow, now) {
		mylogger.Warn(
			ctx,
			s.logger,
			"Payment already in progress",
			zap.Int64("order_id", orderID),
			zap.String("checkout_request_id", pending.CheckoutRequestID),
		)

		return nil, domain.ErrPaymentInProgress
	} else if err != nil && !errors.Is(err, domain.ErrAttemptNotFound) {
		return nil, err
	}

	push, err := s.gateway.STKPush(ctx, mpesa.PushRequest{
		Amount:           order.Total,
		Phone:            normalizedPhone,
		AccountReference: order.OrderNumber,
		Description:      fmt.Sprintf("Payment for order %s", order.OrderNumber),
	})
	if err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"STK push failed",
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)

		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(shutdownCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(shutdownCtx, s.logger, "Error rolling back transaction", zap.Error(err))
		}
	}()

	if err := s.attemptRepo.SupersedePending(ctx, tx, orderID); err != nil {
		return nil, err
	}

	attempt := &domain.PaymentAttempt{
		OrderID:           orderID,
		CheckoutRequestID: push.CheckoutRequestID,
		MerchantRequestID: push.MerchantRequestID,
		Phone:             normalizedPhone,
		Amount:            order.Total,
		Status:            domain.AttemptStatusPending,
	}

	if err := s.attemptRepo.Create(ctx, tx, attempt); err != nil {
		return nil, err
	}

	if err := s.orderRepo.SetTransactionID(ctx, tx, orderID, push.CheckoutRequestID, normalizedPhone); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to commit transaction", zap.Error(err))

		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"STK push initiated",
		zap.Int64("order_id", orderID),
		zap.String("checkout_request_id", push.CheckoutRequestID),
		zap.Int64("amount", order.Total),
	)

	return attempt, nil
}

// Reconcile applies an asynchronous payment outcome to the attempt log and
// the order. It is idempotent: duplicate webhooks, webhook/poll races and
// results for superseded attempts all collapse into no-ops through the
// compare-and-set updates underneath.
func (s *paymentService) Reconcile(ctx context.Context, outcome domain.PaymentOutcome) error {
	ctx, span := s.tracer.Start(ctx, "PaymentService.Reconcile")
	defer span.End()

	span.SetAttributes(
		attribute.String("checkout_request_id", outcome.CheckoutRequestID),
		attribute.Bool("success", outcome.Success),
		attribute.Int("result_code", outcome.ResultCode),
	)

	attempt, err := s.attemptRepo.GetByCheckoutRequestID(ctx, outcome.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, domain.ErrAttemptNotFound) {
			// Unknown checkout id: a push whose local write was lost, or a
			// stray callback. Nothing to reconcile against.
			mylogger.Warn(
				ctx,
				s.logger,
				"Callback for unknown checkout request",
				zap.String("checkout_request_id", outcome.CheckoutRequestID),
			)

			return nil
		}

		return err
	}

	order, err := s.orderRepo.GetByID(ctx, attempt.OrderID)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(shutdownCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(shutdownCtx, s.logger, "Error rolling back transaction", zap.Error(err))
		}
	}()

	if outcome.Success {
		if err := s.reconcileSuccess(ctx, tx, order, attempt, outcome); err != nil {
			return err
		}
	} else {
		if err := s.reconcileFailure(ctx, tx, order, attempt, outcome); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to commit transaction", zap.Error(err))

		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// reconcileSuccess marks the order paid regardless of which attempt the
// result belongs to: the money moved, so the order-level flip always runs.
// The attempt-level finalize is a separate compare-and-set so a result for an
// already-superseded attempt still cannot resurrect it.
func (s *paymentService) reconcileSuccess(ctx context.Context, tx pgx.Tx, order *domain.Order, attempt *domain.PaymentAttempt, outcome domain.PaymentOutcome) error {
	if outcome.Amount != nil && diff(*outcome.Amount, order.Total) > amountTolerance {
		mylogger.Error(
			ctx,
			s.logger,
			"Paid amount differs from order total",
			zap.Int64("order_id", order.ID),
			zap.Int64("paid", *outcome.Amount),
			zap.Int64("expected", order.Total),
		)
	}

	if outcome.Receipt == "" {
		mylogger.Warn(
			ctx,
			s.logger,
			"Successful payment without receipt number",
			zap.Int64("order_id", order.ID),
			zap.String("checkout_request_id", outcome.CheckoutRequestID),
		)
	}

	details := domain.PaymentDetails{
		MpesaReceiptNumber: outcome.Receipt,
		TransactionID:      outcome.CheckoutRequestID,
		Phone:              outcome.Phone,
		PaidAt:             outcome.PaidAt,
	}

	applied, err := s.orderRepo.MarkAsPaid(ctx, tx, order.ID, details)
	if err != nil {
		return err
	}

	if _, err := s.attemptRepo.Finalize(
		ctx, tx,
		outcome.CheckoutRequestID,
		domain.AttemptStatusSucceeded,
		outcome.ResultCode,
		outcome.ResultDesc,
		outcome.Receipt,
	); err != nil {
		return err
	}

	if !applied {
		mylogger.Info(
			ctx,
			s.logger,
			"Duplicate payment confirmation ignored",
			zap.Int64("order_id", order.ID),
			zap.String("checkout_request_id", outcome.CheckoutRequestID),
		)

		return nil
	}

	paidAt := time.Now()
	if outcome.PaidAt != nil {
		paidAt = *outcome.PaidAt
	}

	amount := attempt.Amount
	if outcome.Amount != nil {
		amount = *outcome.Amount
	}

	err = s.emitEvent(ctx, tx, order.ID, "PaymentReceived", &domain.PaymentReceivedEvent{
		EventID:       attempt.ID,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		Amount:        amount,
		Receipt:       outcome.Receipt,
		PaidAt:        paidAt,
	})
	if err != nil {
		return fmt.Errorf("failed to emit event: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Payment reconciled",
		zap.Int64("order_id", order.ID),
		zap.String("receipt", outcome.Receipt),
	)

	return nil
}

// reconcileFailure finalizes the attempt first and touches the order only if
// that finalize actually applied. A late failure for a superseded attempt, or
// a failure arriving after a success, therefore cannot flip the order.
func (s *paymentService) reconcileFailure(ctx context.Context, tx pgx.Tx, order *domain.Order, attempt *domain.PaymentAttempt, outcome domain.PaymentOutcome) error {
	applied, err := s.attemptRepo.Finalize(
		ctx, tx,
		outcome.CheckoutRequestID,
		domain.AttemptStatusFailed,
		outcome.ResultCode,
		outcome.ResultDesc,
		"",
	)
	if err != nil {
		return err
	}

	if !applied {
		mylogger.Info(
			ctx,
			s.logger,
			"Stale payment failure ignored",
			zap.Int64("order_id", order.ID),
			zap.String("checkout_request_id", outcome.CheckoutRequestID),
			zap.String("attempt_status", string(attempt.Status)),
		)

		return nil
	}

	if _, err := s.orderRepo.MarkPaymentFailed(ctx, tx, order.ID, outcome.ResultDesc); err != nil {
		return err
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Payment failed",
		zap.Int64("order_id", order.ID),
		zap.Int("result_code", outcome.ResultCode),
		zap.String("result_desc", outcome.ResultDesc),
	)

	return nil
}

// QueryPaymentStatus reports the latest attempt of the order, polling the
// gateway first when the attempt is still pending. A conclusive poll result
// goes through the same Reconcile path as a webhook, so whichever of the two
// lands first wins and the other becomes a no-op.
func (s *paymentService) QueryPaymentStatus(ctx context.Context, actor domain.Actor, orderID int64) (*domain.PaymentAttempt, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.QueryPaymentStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !actor.CanAccessOrder(order) {
		return nil, domain.ErrForbidden
	}

	attempt, err := s.attemptRepo.GetLatestByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if attempt.Status != domain.AttemptStatusPending {
		return attempt, nil
	}

	query, err := s.gateway.QueryStatus(ctx, attempt.CheckoutRequestID)
	if err != nil {
		// The gateway commonly errors while the prompt is still open on the
		// payer's handset. Report the attempt as-is and let the caller retry.
		mylogger.Warn(
			ctx,
			s.logger,
			"Status query inconclusive",
			zap.Int64("order_id", orderID),
			zap.String("checkout_request_id", attempt.CheckoutRequestID),
			zap.Error(err),
		)

		return attempt, nil
	}

	resultCode, err := strconv.Atoi(query.ResultCode)
	if err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Unparseable result code from status query",
			zap.String("result_code", query.ResultCode),
		)

		return attempt, nil
	}

	outcome := domain.PaymentOutcome{
		CheckoutRequestID: attempt.CheckoutRequestID,
		MerchantRequestID: attempt.MerchantRequestID,
		Success:           resultCode == 0,
		ResultCode:        resultCode,
		ResultDesc:        query.ResultDesc,
		Phone:             attempt.Phone,
	}

	if err := s.Reconcile(ctx, outcome); err != nil {
		return nil, err
	}

	return s.attemptRepo.GetLatestByOrder(ctx, orderID)
}

func (s *paymentService) emitEvent(ctx context.Context, tx pgx.Tx, orderID int64, eventType string, payload any) error {
	wrapper := map[string]any{
		"event":   eventType,
		"payload": payload,
	}

	wrapperBytes, err := json.Marshal(wrapper)
	if err != nil {
		return fmt.Errorf("failed to marshal wrapper: %w", err)
	}

	outboxEvent := &outboxDomain.OutboxEvent{
		AggregateType: "Order",
		AggregateID:   fmt.Sprintf("%d", orderID),
		EventType:     eventType,
		Payload:       wrapperBytes,
		Topic:         s.orderTopic,
	}

	return s.outboxRepo.SaveOutboxEvent(ctx, tx, outboxEvent)
}

func diff(a, b int64) int64 {
	if a > b {
		return a - b
	}

	return b - a
}
