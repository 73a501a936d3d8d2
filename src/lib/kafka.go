package lib

import (
	"encoding/json"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/neuron-e/api-boukii-sub005/src/config"
	"go.uber.org/zap"
)

var (
	producer     *kafka.Producer
	producerOnce sync.Once
	producerErr  error
)

func getKafkaProducer() (*kafka.Producer, error) {
	producerOnce.Do(func() {
		cfg := config.Get()
		producer, producerErr = kafka.NewProducer(&kafka.ConfigMap{
			"bootstrap.servers": cfg.KafkaBroker,
			"client.id":         cfg.KafkaClientID,
			"acks":              "all",
		})
		if producerErr != nil {
			return
		}
		go func() {
			for e := range producer.Events() {
				if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
					GetLogger().Warn("Kafka delivery failed", zap.String("topic", *m.TopicPartition.Topic), zap.Error(m.TopicPartition.Error))
				}
			}
		}()
	})
	return producer, producerErr
}

func KafkaProduceMessage(topic string, key string, payload map[string]any) error {
	p, err := getKafkaProducer()
	if err != nil {
		GetLogger().Error("Error creating kafka producer", zap.Error(err))
		return err
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, nil)
}

func CloseKafkaProducer() {
	if producer == nil {
		return
	}
	producer.Flush(5000)
	producer.Close()
}
