package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/internal/notification"
	"github.com/JOMO418/furniture-hub-backend/pkg/kafka"
	"github.com/JOMO418/furniture-hub-backend/pkg/mylogger"
	"go.uber.org/zap"
)

// Consumer feeds order lifecycle events from the order topic into the
// notification service.
type Consumer struct {
	service *notification.Service
	logger  *zap.Logger
	groupID string
	topic   string
}

func NewConsumer(service *notification.Service, logger *zap.Logger, groupID, topic string) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
		groupID: groupID,
		topic:   topic,
	}
}

func (c *Consumer) Start(ctx context.Context, brokers []string) {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		c.groupID,
		[]string{c.topic},
		c.processMessage,
		c.logger,
	)

	consumerGroup.Run(ctx)
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	mylogger.Info(
		ctx,
		c.logger,
		"Processing message",
		zap.String("topic", msg.Topic),
	)

	type EventWrapper struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
		EventID int64           `json:"event_id"`
	}

	var wrapper EventWrapper
	if err := json.Unmarshal(msg.Value, &wrapper); err != nil {
		mylogger.Error(ctx, c.logger, "Error unmarshalling wrapper", zap.Error(err))
		return err
	}

	switch wrapper.Event {
	case "OrderCreated":
		var event domain.OrderCreatedEvent
		if err := json.Unmarshal(wrapper.Payload, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Error parsing OrderCreated event", zap.Error(err))
			return nil
		}
		event.EventID = wrapper.EventID

		if err := c.service.HandleOrderCreated(ctx, event); err != nil {
			mylogger.Error(ctx, c.logger, "Error processing OrderCreated event", zap.Error(err))
			return err
		}
	case "PaymentReceived":
		var event domain.PaymentReceivedEvent
		if err := json.Unmarshal(wrapper.Payload, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Error parsing PaymentReceived event", zap.Error(err))
			return nil
		}
		event.EventID = wrapper.EventID

		if err := c.service.HandlePaymentReceived(ctx, event); err != nil {
			mylogger.Error(ctx, c.logger, "Error processing PaymentReceived event", zap.Error(err))
			return err
		}
	case "OrderStatusChanged":
		var event domain.OrderStatusChangedEvent
		if err := json.Unmarshal(wrapper.Payload, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Error parsing OrderStatusChanged event", zap.Error(err))
			return nil
		}
		event.EventID = wrapper.EventID

		if err := c.service.HandleOrderStatusChanged(ctx, event); err != nil {
			mylogger.Error(ctx, c.logger, "Error processing OrderStatusChanged event", zap.Error(err))
			return err
		}
	default:
		mylogger.Warn(ctx, c.logger, "Ignored event type", zap.String("event", wrapper.Event))
	}

	return nil
}
