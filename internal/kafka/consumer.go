package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"momo-gateway/internal/logger"
	"momo-gateway/internal/models"
)

type Consumer struct {
	consumer sarama.ConsumerGroup
	topics   []string
	log      *logger.Logger
}

func NewConsumer(brokers []string, groupID string, log *logger.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	consumer, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	topics := []string{"payment-success", "payment-failed", "payment-expired", "payment-events"}

	return &Consumer{
		consumer: consumer,
		topics:   topics,
		log:      log,
	}, nil
}

// ConsumePayments feeds every payment lifecycle event to handler until
// the context is cancelled.
func (c *Consumer) ConsumePayments(ctx context.Context, handler func(*models.PaymentEvent) error) error {
	consumerHandler := &paymentConsumerHandler{handler: handler, log: c.log}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.consumer.Consume(ctx, c.topics, consumerHandler); err != nil {
				c.log.Error("KAFKA", fmt.Sprintf("Error consuming messages: %v", err))
				return err
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}

type paymentConsumerHandler struct {
	handler func(*models.PaymentEvent) error
	log     *logger.Logger
}

func (h *paymentConsumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *paymentConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *paymentConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var event models.PaymentEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			h.log.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal message: %v", err))
			continue
		}

		if err := h.handler(&event); err != nil {
			h.log.Warn("KAFKA", fmt.Sprintf("Failed to handle payment event: %v", err))
			continue
		}

		session.MarkMessage(message, "")
	}

	return nil
}

// NotificationHandler returns the handler wired into the consumer in
// main: it logs each settled payment the way the SMS dispatcher used to
// announce them. Exposed so tests can drive it directly.
func NotificationHandler(log *logger.Logger) func(*models.PaymentEvent) error {
	return func(event *models.PaymentEvent) error {
		if event.Transaction == nil {
			return fmt.Errorf("event %s carries no transaction", event.Type)
		}
		txn := event.Transaction
		switch event.Type {
		case EventPaymentSuccess:
			log.LogKafka("NOTIFY", "payment-success",
				fmt.Sprintf("Payment of %d %s for order %s confirmed to %s", txn.Amount, txn.Currency, txn.OrderRef, txn.PhoneNumber))
		case EventPaymentFailed:
			log.LogKafka("NOTIFY", "payment-failed",
				fmt.Sprintf("Payment for order %s failed: %s", txn.OrderRef, txn.ErrorMessage))
		case EventPaymentExpired:
			log.LogKafka("NOTIFY", "payment-expired",
				fmt.Sprintf("Payment for order %s expired without settlement", txn.OrderRef))
		}
		return nil
	}
}
