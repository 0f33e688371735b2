package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bashog/marketsim/pkg/messaging"
)

// KafkaFillSender implements FillSender using Kafka
type KafkaFillSender struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaFillSender creates a new Kafka fill sender
func NewKafkaFillSender(brokerAddr, topic string) (*KafkaFillSender, error) {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerAddr),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &KafkaFillSender{
		writer: writer,
		topic:  topic,
	}, nil
}

// SendFill publishes a fill leg to Kafka
func (k *KafkaFillSender) SendFill(fill *messaging.FillMessage) error {
	data, err := json.Marshal(fill)
	if err != nil {
		return fmt.Errorf("failed to marshal fill message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(fill.OrderID, 10)),
		Value: data,
		Time:  time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to send fill to Kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka writer
func (k *KafkaFillSender) Close() error {
	return k.writer.Close()
}

// Ensure KafkaFillSender implements FillSender
var _ messaging.FillSender = (*KafkaFillSender)(nil)
