package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
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

type CreateOrderItem struct {
	ProductID int64
	Quantity  int32
}

type CreateOrderInput struct {
	UserID          int64
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	DeliveryAddress string
	PaymentMethod   domain.PaymentMethod
	Notes           string
	Items           []CreateOrderItem
}

type OrderService interface {
	CreateOrder(ctx context.Context, input *CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, actor domain.Actor, orderID int64) (*domain.Order, error)
	ListOrders(ctx context.Context, actor domain.Actor, limit, offset int64) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, actor domain.Actor, orderID int64, to domain.OrderStatus, note string) error
	CancelOrder(ctx context.Context, actor domain.Actor, orderID int64, reason string) error
	CancelExpired(ctx context.Context, orderID int64, reason string) error
}

type orderService struct {
	pool        *pgxpool.Pool
	logger      *zap.Logger
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	outboxRepo  worker.OutboxRepository
	orderTopic  string
	deliveryFee int64
	tracer      trace.Tracer
}

func NewOrderService(
	pool *pgxpool.Pool,
	logger *zap.Logger,
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	outboxRepo worker.OutboxRepository,
	orderTopic string,
	deliveryFee int64,
) OrderService {
	return &orderService{
		pool:        pool,
		logger:      logger,
		orderRepo:   orderRepo,
		productRepo: productRepo,
		outboxRepo:  outboxRepo,
		orderTopic:  orderTopic,
		deliveryFee: deliveryFee,
		tracer:      otel.Tracer("order_service"),
	}
}

// CreateOrder reserves stock for every line item, snapshots the catalog data
// into the order and persists everything in one transaction. The reservation
// is all-or-nothing: the first insufficient item rolls back every decrement
// already made, so a partial order can never hold stock.
func (s *orderService) CreateOrder(ctx context.Context, input *CreateOrderInput) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", input.UserID),
		attribute.Int("items_count", len(input.Items)),
	)

	if len(input.Items) == 0 {
		return nil, fmt.Errorf("order must contain at least one item")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)
		err := tx.Rollback(shutdownCtx)

		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				shutdownCtx,
				s.logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	items := make([]domain.OrderItem, 0, len(input.Items))
	for _, line := range input.Items {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("quantity for product %d must be positive", line.ProductID)
		}

		product, err := s.productRepo.GetByID(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return nil, fmt.Errorf("product %d: %w", line.ProductID, domain.ErrProductNotFound)
			}

			return nil, fmt.Errorf("failed to load product %d: %w", line.ProductID, err)
		}

		if err := s.productRepo.ReserveStock(ctx, tx, product.ID, line.Quantity); err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) {
				mylogger.Warn(
					ctx,
					s.logger,
					"Insufficient stock blocked order",
					zap.Int64("product_id", product.ID),
					zap.Int32("requested", line.Quantity),
				)

				return nil, &domain.InsufficientStockError{
					ProductID: product.ID,
					Name:      product.Name,
					Requested: line.Quantity,
				}
			}

			return nil, fmt.Errorf("failed to reserve stock for product %d: %w", product.ID, err)
		}

		items = append(items, domain.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.EffectivePrice(),
			Quantity:  line.Quantity,
			ImageURL:  product.ImageURL,
		})
	}

	order := &domain.Order{
		UserID:          input.UserID,
		CustomerName:    input.CustomerName,
		CustomerEmail:   input.CustomerEmail,
		CustomerPhone:   input.CustomerPhone,
		DeliveryAddress: input.DeliveryAddress,
		PaymentMethod:   input.PaymentMethod,
		PaymentStatus:   domain.PaymentStatusPending,
		OrderStatus:     domain.OrderStatusPending,
		Notes:           input.Notes,
		Items:           items,
	}

	order.CalculateTotals(s.deliveryFee)

	if err := s.orderRepo.Create(ctx, tx, order); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to create order",
			zap.Int64("user_id", input.UserID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	err = s.emitEvent(ctx, tx, order.ID, "OrderCreated", &domain.OrderCreatedEvent{
		EventID:       order.ID,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		Total:         order.Total,
		Items:         order.Items,
		CreatedAt:     order.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to emit event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to commit transaction", zap.Error(err))

		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total", order.Total),
	)

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor domain.Actor, orderID int64) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
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

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, actor domain.Actor, limit, offset int64) ([]domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	return s.orderRepo.ListByUser(ctx, actor.UserID, limit, offset)
}

// UpdateStatus moves the fulfillment status strictly forward. Cancellation is
// not reachable through here; it has its own path with stock release.
func (s *orderService) UpdateStatus(ctx context.Context, actor domain.Actor, orderID int64, to domain.OrderStatus, note string) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
		attribute.String("to", string(to)),
	)

	if !actor.IsAdmin() {
		return domain.ErrForbidden
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if !domain.CanTransition(order.OrderStatus, to) {
		return &domain.InvalidTransitionError{From: order.OrderStatus, To: to}
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

	if err := s.orderRepo.UpdateStatus(ctx, tx, orderID, order.OrderStatus, to, note, actorLabel(actor)); err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Status update rejected",
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)

		return err
	}

	err = s.emitEvent(ctx, tx, orderID, "OrderStatusChanged", &domain.OrderStatusChangedEvent{
		EventID:       orderID,
		OrderID:       orderID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		Status:        to,
		Note:          note,
		ChangedAt:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to emit event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to commit transaction", zap.Error(err))

		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CancelOrder releases every reserved item in the same transaction that flips
// the order to cancelled. The compare-and-set inside Cancel guarantees the
// release happens at most once even under concurrent cancellation.
func (s *orderService) CancelOrder(ctx context.Context, actor domain.Actor, orderID int64, reason string) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if !actor.CanAccessOrder(order) {
		return domain.ErrForbidden
	}

	if !order.CanBeCancelled() {
		return &domain.NotCancellableError{Status: order.OrderStatus}
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

	if err := s.orderRepo.Cancel(ctx, tx, orderID, reason, actorLabel(actor)); err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Cancel order rejected",
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)

		return err
	}

	for _, item := range order.Items {
		if err := s.productRepo.ReleaseStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			mylogger.Error(
				ctx,
				s.logger,
				"Failed to release stock",
				zap.Int64("order_id", orderID),
				zap.Int64("product_id", item.ProductID),
				zap.Error(err),
			)

			return fmt.Errorf("failed to release stock for product %d: %w", item.ProductID, err)
		}
	}

	err = s.emitEvent(ctx, tx, orderID, "OrderStatusChanged", &domain.OrderStatusChangedEvent{
		EventID:       orderID,
		OrderID:       orderID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		Status:        domain.OrderStatusCancelled,
		Note:          reason,
		ChangedAt:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to emit event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to commit transaction", zap.Error(err))

		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order cancelled",
		zap.Int64("order_id", orderID),
		zap.String("reason", reason),
	)

	return nil
}

// CancelExpired is the sweeper's cancellation path. The compare-and-set
// underneath also requires the order to still be unpaid, so a payment
// arriving mid-sweep wins and the cancellation becomes a no-op.
func (s *orderService) CancelExpired(ctx context.Context, orderID int64, reason string) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelExpired")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	order, err := s.orderRepo.GetByID(ctx, orderID)
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

	if err := s.orderRepo.CancelExpired(ctx, tx, orderID, reason); err != nil {
		return err
	}

	for _, item := range order.Items {
		if err := s.productRepo.ReleaseStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("failed to release stock for product %d: %w", item.ProductID, err)
		}
	}

	err = s.emitEvent(ctx, tx, orderID, "OrderStatusChanged", &domain.OrderStatusChangedEvent{
		EventID:       orderID,
		OrderID:       orderID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		Status:        domain.OrderStatusCancelled,
		Note:          reason,
		ChangedAt:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to emit event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to commit transaction", zap.Error(err))

		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *orderService) emitEvent(ctx context.Context, tx pgx.Tx, orderID int64, eventType string, payload any) error {
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

func actorLabel(actor domain.Actor) string {
	if actor.Role == domain.RoleSystem {
		return "system"
	}

	return fmt.Sprintf("%s:%d", actor.Role, actor.UserID)
}
