package outbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-orders/internal/metrics"
)

type Source interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Relay moves committed outbox rows to the broker. Delivery is at least
// once: a row published but not marked is sent again on the next tick.
type Relay struct {
	src      Source
	pub      Publisher
	interval time.Duration
	batch    int
	log      *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewRelay(src Source, pub Publisher, interval time.Duration, batch int, log *zap.Logger, m *metrics.Metrics) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		src:      src,
		pub:      pub,
		interval: interval,
		batch:    batch,
		log:      log,
		metrics:  m,
		tracer:   otel.Tracer("github.com/MikeMC777/storefront-orders/internal/outbox"),
	}
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	r.log.Info("outbox relay started", zap.Duration("interval", r.interval), zap.Int("batch", r.batch))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-t.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("outbox flush failed", zap.Error(err))
			}
		}
	}
}

// Flush publishes one batch in id order and stops at the first failure so a
// later event never overtakes an earlier one.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	recs, err := r.src.FetchPending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rec := range recs {
		if err := r.publish(ctx, rec); err != nil {
			r.metrics.OutboxPublished(false)
			return sent, err
		}
		r.metrics.OutboxPublished(true)
		if err := r.src.MarkSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		r.log.Debug("outbox flushed", zap.Int("sent", sent))
	}
	return sent, nil
}

func (r *Relay) publish(ctx context.Context, rec Record) error {
	ctx, span := r.tracer.Start(ctx, "outbox.publish", trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", rec.Topic),
			attribute.String("messaging.message.id", rec.EventID),
		))
	defer span.End()

	if err := r.pub.Publish(ctx, rec.Topic, rec.Key, rec.Payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Warn("outbox publish failed",
			zap.Int64("outbox_id", rec.ID),
			zap.String("topic", rec.Topic),
			zap.Error(err),
		)
		return err
	}
	return nil
}
