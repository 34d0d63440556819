package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaProducer builds a producer that waits for all in-sync replicas.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

func NewKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	if topic == "" {
		topic = "aot.economy"
	}
	return &KafkaSink{producer: producer, topic: topic}
}

// Publish keys messages by actor so one account's events stay ordered
// within a partition.
func (k *KafkaSink) Publish(_ context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.Actor),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		return fmt.Errorf("send %s event: %w", ev.Operation, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
