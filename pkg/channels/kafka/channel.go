// Package kafka builds watermill Kafka publishers and subscribers.
package kafka

import (
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

var ErrNoBrokers = errors.New("no Kafka brokers configured")

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(raw string) []string {
	brokers := make([]string, 0)

	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}

	return brokers
}

// CreateChannel connects a publisher and a subscriber. Every engine replica
// of one service shares the consumer group, so each event is handled once.
func CreateChannel(logger watermill.LoggerAdapter, brokers []string, serviceName string) (*kafka.Publisher, *kafka.Subscriber, error) {
	if len(brokers) == 0 {
		return nil, nil, ErrNoBrokers
	}

	subscriber, err := kafka.NewSubscriber(subscriberConfig(brokers, serviceName), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka subscriber: %w", err)
	}

	publisher, err := kafka.NewPublisher(publisherConfig(brokers), logger)
	if err != nil {
		_ = subscriber.Close()

		return nil, nil, fmt.Errorf("kafka publisher: %w", err)
	}

	return publisher, subscriber, nil
}

func subscriberConfig(brokers []string, serviceName string) kafka.SubscriberConfig {
	subConfig := kafka.DefaultSaramaSubscriberConfig()
	subConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	return kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: subConfig,
		ConsumerGroup:         "cg-" + serviceName,
		OTELEnabled:           true,
	}
}

func publisherConfig(brokers []string) kafka.PublisherConfig {
	saramaConfig := kafka.DefaultSaramaSyncPublisherConfig()
	// Events for one shop land on one partition, keeping their order.
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	return kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             kafka.NewWithPartitioningMarshaler(partitionKey),
		OverwriteSaramaConfig: saramaConfig,
		OTELEnabled:           true,
	}
}
