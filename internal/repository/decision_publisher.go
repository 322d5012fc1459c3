package repository

import (
	"context"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	pkgkafka "SignalGate/pkg/kafka"
)

// Publisher is the producer surface the decision publisher needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaDecisionPublisher publishes combined signals and decisions keyed by symbol.
type KafkaDecisionPublisher struct {
	producer       Publisher
	signalsTopic   string
	decisionsTopic string
}

// NewKafkaDecisionPublisher creates Kafka publisher.
func NewKafkaDecisionPublisher(producer Publisher, signalsTopic, decisionsTopic string) *KafkaDecisionPublisher {
	return &KafkaDecisionPublisher{producer: producer, signalsTopic: signalsTopic, decisionsTopic: decisionsTopic}
}

func (p *KafkaDecisionPublisher) PublishSignal(ctx context.Context, s *models.CombinedSignal) error {
	return p.producer.Publish(ctx, p.signalsTopic, []byte(s.Symbol), s)
}

func (p *KafkaDecisionPublisher) PublishDecision(ctx context.Context, d *models.Decision) error {
	return p.producer.Publish(ctx, p.decisionsTopic, []byte(d.Symbol), d)
}

func (p *KafkaDecisionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var (
	_ repository.DecisionPublisher = (*KafkaDecisionPublisher)(nil)
	_ Publisher                    = (*pkgkafka.Producer)(nil)
)
