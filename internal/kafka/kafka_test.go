package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type recordingWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewClient_ParsesBrokers(t *testing.T) {
	c := NewClient(" kafka-1:9092, ,kafka-2:9092 ")
	if len(c.Brokers) != 2 || c.Brokers[0] != "kafka-1:9092" || c.Brokers[1] != "kafka-2:9092" {
		t.Fatalf("brokers = %v", c.Brokers)
	}
	if !c.Enabled() {
		t.Fatal("esperaba enabled")
	}
	if NewClient("").Enabled() {
		t.Fatal("empty broker list must be disabled")
	}
}

func TestPublish_InjectsTraceContext(t *testing.T) {
	writers := map[string]*recordingWriter{}
	p := newPublisher(func(topic string) Writer {
		w := &recordingWriter{}
		writers[topic] = w
		return w
	}, propagation.TraceContext{})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03},
		SpanID:     trace.SpanID{0x04, 0x05},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	if err := p.Publish(ctx, "order.created", "order-1", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Publish(ctx, "order.created", "order-2", []byte(`{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	w := writers["order.created"]
	if w == nil || len(w.msgs) != 2 {
		t.Fatalf("esperaba 2 mensajes en un writer, got %+v", writers)
	}
	msg := w.msgs[0]
	if string(msg.Key) != "order-1" {
		t.Fatalf("key = %s", msg.Key)
	}
	found := false
	for _, h := range msg.Headers {
		if h.Key == "traceparent" && len(h.Value) > 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("traceparent header missing: %+v", msg.Headers)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !w.closed {
		t.Fatal("writer not closed")
	}
}
