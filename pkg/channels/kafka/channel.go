// Package kafka provides the watermill Kafka pub/sub shared by every node of a cluster.
package kafka

import (
	"errors"
	"fmt"
	"slices"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

var ErrNoBrokers = errors.New("no kafka brokers configured")

// CreateChannel connects to brokers. Nodes sharing consumerGroup split the
// events between them; give each node its own group to have every node see
// every event.
func CreateChannel(logger watermill.LoggerAdapter, brokers []string, consumerGroup string) (*kafka.Publisher, *kafka.Subscriber, error) {
	brokers = slices.DeleteFunc(slices.Clone(brokers), func(b string) bool { return b == "" })
	if len(brokers) == 0 {
		return nil, nil, ErrNoBrokers
	}

	subscriber, err := kafka.NewSubscriber(subscriberConfig(brokers, consumerGroup), logger)
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

func subscriberConfig(brokers []string, consumerGroup string) kafka.SubscriberConfig {
	sc := kafka.DefaultSaramaSubscriberConfig()
	// a node joining late still sees executions published while it was down
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest

	return kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: sc,
		ConsumerGroup:         consumerGroup,
		OTELEnabled:           true,
	}
}

func publisherConfig(brokers []string) kafka.PublisherConfig {
	pc := kafka.DefaultSaramaSyncPublisherConfig()
	pc.Producer.RequiredAcks = sarama.WaitForLocal

	return kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: pc,
		OTELEnabled:           true,
	}
}
