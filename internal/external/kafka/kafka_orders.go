package loyalty

import (
	"context"
	"fmt"
	"os"

	"github.com/segmentio/kafka-go"
)

// Читатель потока заказов и возвратов
type KafkaOrders struct {
	reader *kafka.Reader
}

func NewReader(topic string, group string) (reader *KafkaOrders, err error) {
	// config
	kafkaurl := os.Getenv("KAFKA_URL")
	if kafkaurl == "" {
		return nil, fmt.Errorf("env KAFKA_URL is not set")
	}
	kafkaport := os.Getenv("KAFKA_PORT")
	if kafkaport == "" {
		return nil, fmt.Errorf("env KAFKA_PORT is not set")
	}

	kafkaconfig := kafka.ReaderConfig{
		Brokers: []string{kafkaurl + ":" + kafkaport},
		Topic:   topic,
		GroupID: group,
	}
	return &KafkaOrders{kafka.NewReader(kafkaconfig)}, nil
}

func (k *KafkaOrders) NextMessage(ctx context.Context) (orderJson string, err error) {
	msg, err := k.reader.ReadMessage(ctx)
	if err != nil {
		return "", err
	}
	return string(msg.Value), nil
}

func (k *KafkaOrders) Close() {
	k.reader.Close()
}
