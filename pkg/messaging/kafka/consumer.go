package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/bashog/marketsim/pkg/messaging"
)

// FillConsumer reads published fill legs back from Kafka
type FillConsumer struct {
	reader *kafka.Reader
}

// NewFillConsumer creates a consumer for the given broker and topic
func NewFillConsumer(brokerAddr, topic, groupID string) *FillConsumer {
	return &FillConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{brokerAddr},
			Topic:   topic,
			GroupID: groupID,
		}),
	}
}

// Consume delivers each fill to handler until ctx is canceled or the
// handler returns an error
func (c *FillConsumer) Consume(ctx context.Context, handler func(*messaging.FillMessage) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			return fmt.Errorf("read fill message: %w", err)
		}

		var fill messaging.FillMessage
		if err := json.Unmarshal(msg.Value, &fill); err != nil {
			return fmt.Errorf("unmarshal fill message: %w", err)
		}
		if err := handler(&fill); err != nil {
			return err
		}
	}
}

// Close closes the underlying reader
func (c *FillConsumer) Close() error {
	return c.reader.Close()
}

// LogFills starts a background consumer that logs every fill it sees
func LogFills(ctx context.Context, c *FillConsumer, logger zerolog.Logger) {
	go func() {
		err := c.Consume(ctx, func(fill *messaging.FillMessage) error {
			logger.Info().
				Str("run_id", fill.RunID).
				Str("symbol", fill.Symbol).
				Str("agent_id", fill.AgentID).
				Uint64("order_id", fill.OrderID).
				Str("side", fill.Side).
				Int64("price", fill.Price).
				Int64("quantity", fill.Quantity).
				Str("fee", fill.Fee).
				Msg("fill consumed")
			return nil
		})
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("fill consumer stopped")
		}
	}()
}
