package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/JOMO418/furniture-hub-backend/internal/config"
	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Sender interface {
	SendOrderConfirmation(ctx context.Context, to string, event *domain.OrderCreatedEvent) error
	SendPaymentReceipt(ctx context.Context, to string, event *domain.PaymentReceivedEvent) error
	SendStatusUpdate(ctx context.Context, to string, event *domain.OrderStatusChangedEvent) error
}

type smtpSender struct {
	from     string
	password string
	host     string
	port     string
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewSMTPSender(cfg config.SMTP, logger *zap.Logger) Sender {
	return &smtpSender{
		from:     cfg.User,
		password: cfg.Password,
		host:     cfg.Host,
		port:     cfg.Port,
		logger:   logger,
		tracer:   otel.Tracer("notification/email"),
	}
}

func (s *smtpSender) SendOrderConfirmation(ctx context.Context, to string, event *domain.OrderCreatedEvent) error {
	ctx, span := s.tracer.Start(ctx, "smtp.SendOrderConfirmation")
	defer span.End()

	span.SetAttributes(
		attribute.String("to.email", to),
		attribute.String("order_number", event.OrderNumber),
	)

	subject := fmt.Sprintf("Subject: Order %s received.\n", event.OrderNumber)

	var lines string
	for _, item := range event.Items {
		lines += fmt.Sprintf("<li>%s x%d — KES %d</li>", item.Name, item.Quantity, item.Price*int64(item.Quantity))
	}

	body := fmt.Sprintf(`
		<h1>Thank you for your order, %s!</h1>
		<p>We have received order <strong>%s</strong>.</p>
		<ul>%s</ul>
		<p>Total: <strong>KES %d</strong></p>
	`, event.CustomerName, event.OrderNumber, lines, event.Total)

	return s.send(ctx, to, subject, body)
}

func (s *smtpSender) SendPaymentReceipt(ctx context.Context, to string, event *domain.PaymentReceivedEvent) error {
	ctx, span := s.tracer.Start(ctx, "smtp.SendPaymentReceipt")
	defer span.End()

	span.SetAttributes(
		attribute.String("to.email", to),
		attribute.String("order_number", event.OrderNumber),
	)

	subject := fmt.Sprintf("Subject: Payment received for order %s.\n", event.OrderNumber)
	body := fmt.Sprintf(`
		<h1>Payment confirmed</h1>
		<p>We received <strong>KES %d</strong> for order <strong>%s</strong>.</p>
		<p>M-Pesa receipt: %s</p>
	`, event.Amount, event.OrderNumber, event.Receipt)

	return s.send(ctx, to, subject, body)
}

func (s *smtpSender) SendStatusUpdate(ctx context.Context, to string, event *domain.OrderStatusChangedEvent) error {
	ctx, span := s.tracer.Start(ctx, "smtp.SendStatusUpdate")
	defer span.End()

	span.SetAttributes(
		attribute.String("to.email", to),
		attribute.String("order_number", event.OrderNumber),
		attribute.String("status", string(event.Status)),
	)

	subject := fmt.Sprintf("Subject: Order %s update.\n", event.OrderNumber)
	body := fmt.Sprintf(`
		<h1>Your order is now: %s</h1>
		<p>Order <strong>%s</strong> moved to status <strong>%s</strong>.</p>
		<p>%s</p>
	`, event.Status, event.OrderNumber, event.Status, event.Note)

	return s.send(ctx, to, subject, body)
}

func (s *smtpSender) send(ctx context.Context, to, subject, body string) error {
	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(subject + mime + body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	auth := smtp.PlainAuth("", s.from, s.password, s.host)

	mylogger.Info(
		ctx,
		s.logger,
		"Sending email",
		zap.String("to", to),
	)

	if err := smtp.SendMail(addr, auth, s.from, []string{to}, msg); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Error sending email",
			zap.String("to", to),
			zap.Error(err),
		)

		return fmt.Errorf("failed to send mail: %w", err)
	}

	return nil
}
