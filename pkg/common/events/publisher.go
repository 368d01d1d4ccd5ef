// Package events emits domain events about check-ins, patients and
// consultations. Publishing is best effort: failures are logged and counted,
// never returned to the request that caused them.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/novacare/clinic-intake/pkg/common/config"
	"github.com/novacare/clinic-intake/pkg/common/kafka"
	"github.com/novacare/clinic-intake/pkg/common/logger"
	"github.com/novacare/clinic-intake/pkg/common/models"
	"github.com/novacare/clinic-intake/pkg/common/rabbitmq"
	"github.com/novacare/clinic-intake/pkg/observability/metrics"
)

const publishTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, eventType, subject string, data map[string]interface{})
	Close() error
}

// Sink is a transport able to deliver a fully built event.
type Sink interface {
	PublishEvent(ctx context.Context, event models.Event) error
	Close() error
}

type sinkPublisher struct {
	source string
	sink   Sink
}

// NewPublisher wraps sink. A nil sink only logs events.
func NewPublisher(source string, sink Sink) Publisher {
	return &sinkPublisher{source: source, sink: sink}
}

// New selects the transport named by cfg.EventsDriver.
func New(cfg *config.Config) (Publisher, error) {
	switch cfg.EventsDriver {
	case config.EventsDriverKafka:
		return NewPublisher(cfg.ServiceName, kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)), nil
	case config.EventsDriverRabbitMQ:
		p, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq publisher: %w", err)
		}
		return NewPublisher(cfg.ServiceName, p), nil
	default:
		return NewPublisher(cfg.ServiceName, nil), nil
	}
}

func (p *sinkPublisher) Publish(ctx context.Context, eventType, subject string, data map[string]interface{}) {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    p.source,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]string{"subject": subject},
	}

	entry := logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": eventType,
		"subject":    subject,
	})
	if p.sink == nil {
		entry.Info("Domain event")
		return
	}

	// The request may already be finished; delivery gets its own deadline.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.sink.PublishEvent(pubCtx, event); err != nil {
		metrics.IncEventPublishFailures()
		entry.WithError(err).Warn("Failed to publish event")
		return
	}
	entry.Debug("Event published")
}

func (p *sinkPublisher) Close() error {
	if p.sink == nil {
		return nil
	}
	return p.sink.Close()
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *Recorder) PublishEvent(_ context.Context, event models.Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	events := r.Events()
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}
