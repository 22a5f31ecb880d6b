package notification

import (
	"context"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/internal/notification/email"
	outboxUtils "github.com/JOMO418/furniture-hub-backend/pkg/outbox/utils"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Service turns order lifecycle events into customer emails. Every handler is
// wrapped in event-id deduplication: the consumer may redeliver, the email
// must not.
type Service struct {
	emailSender email.Sender
	logger      *zap.Logger
	pool        *pgxpool.Pool
	tracer      trace.Tracer
}

func NewService(emailSender email.Sender, logger *zap.Logger, pool *pgxpool.Pool) *Service {
	return &Service{
		emailSender: emailSender,
		logger:      logger,
		pool:        pool,
		tracer:      otel.Tracer("notification-service"),
	}
}

func (s *Service) HandleOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleOrderCreated")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", event.EventID))

	return outboxUtils.ProcessWithDeduplication(ctx, s.pool, s.logger, event.EventID, func() error {
		return s.emailSender.SendOrderConfirmation(ctx, event.CustomerEmail, &event)
	})
}

func (s *Service) HandlePaymentReceived(ctx context.Context, event domain.PaymentReceivedEvent) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandlePaymentReceived")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", event.EventID))

	return outboxUtils.ProcessWithDeduplication(ctx, s.pool, s.logger, event.EventID, func() error {
		return s.emailSender.SendPaymentReceipt(ctx, event.CustomerEmail, &event)
	})
}

func (s *Service) HandleOrderStatusChanged(ctx context.Context, event domain.OrderStatusChangedEvent) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleOrderStatusChanged")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", event.EventID),
		attribute.String("status", string(event.Status)),
	)

	return outboxUtils.ProcessWithDeduplication(ctx, s.pool, s.logger, event.EventID, func() error {
		return s.emailSender.SendStatusUpdate(ctx, event.CustomerEmail, &event)
	})
}
