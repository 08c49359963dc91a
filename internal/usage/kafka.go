package usage

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaEmitter publishes usage events to a Kafka topic. Writes happen on a
// background goroutine with a bounded buffer; when the buffer is full the
// event is dropped rather than blocking the caller.
type KafkaEmitter struct {
	writer *kafka.Writer
	events chan Event
	done   chan struct{}
}

// NewKafkaEmitter creates an emitter for the given brokers and topic and
// starts its delivery goroutine.
func NewKafkaEmitter(brokers, topic string) *KafkaEmitter {
	e := &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit implements Emitter. Never blocks.
func (e *KafkaEmitter) Emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		slog.Warn("usage event dropped, buffer full", "kind", ev.Kind)
	}
}

// Close flushes pending events and shuts down the writer.
func (e *KafkaEmitter) Close() error {
	close(e.events)
	<-e.done
	return e.writer.Close()
}

func (e *KafkaEmitter) run() {
	defer close(e.done)
	for ev := range e.events {
		raw, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = e.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(ev.Kind),
			Value: raw,
			Time:  ev.At,
		})
		cancel()
		if err != nil {
			slog.Warn("usage event publish failed", "error", err, "kind", ev.Kind)
		}
	}
}
