package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-orders/internal/metrics"
)

type memSource struct {
	recs []Record
	sent map[int64]bool
}

func (m *memSource) FetchPending(_ context.Context, limit int) ([]Record, error) {
	var out []Record
	for _, r := range m.recs {
		if !m.sent[r.ID] && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSource) MarkSent(_ context.Context, id int64) error {
	m.sent[id] = true
	return nil
}

type stubPublisher struct {
	topics []string
}

func (p *stubPublisher) Publish(_ context.Context, topic, key string, _ []byte) error {
	if key == "fail" {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, topic+"/"+key)
	return nil
}

func TestFlush_PublishesInOrderAndMarks(t *testing.T) {
	src := &memSource{sent: map[int64]bool{}, recs: []Record{
		{ID: 1, Topic: "order.created", Key: "a", Payload: []byte(`{}`)},
		{ID: 2, Topic: "order.status_changed", Key: "a", Payload: []byte(`{}`)},
		{ID: 3, Topic: "order.created", Key: "b", Payload: []byte(`{}`)},
	}}
	pub := &stubPublisher{}
	m := metrics.New(prometheus.NewRegistry(), "test")
	r := NewRelay(src, pub, 0, 2, zap.NewNop(), m)

	n, err := r.Flush(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("first flush: n=%d err=%v", n, err)
	}
	n, err = r.Flush(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("second flush: n=%d err=%v", n, err)
	}
	want := []string{"order.created/a", "order.status_changed/a", "order.created/b"}
	if len(pub.topics) != len(want) {
		t.Fatalf("published %v", pub.topics)
	}
	for i := range want {
		if pub.topics[i] != want[i] {
			t.Fatalf("published[%d] = %s, want %s", i, pub.topics[i], want[i])
		}
	}
	if got := testutil.ToFloat64(m.OutboxSent); got != 3 {
		t.Fatalf("outbox sent = %v", got)
	}
}

func TestFlush_StopsAtFirstFailure(t *testing.T) {
	src := &memSource{sent: map[int64]bool{}, recs: []Record{
		{ID: 1, Topic: "order.created", Key: "a"},
		{ID: 2, Topic: "order.created", Key: "fail"},
		{ID: 3, Topic: "order.created", Key: "c"},
	}}
	m := metrics.New(prometheus.NewRegistry(), "test")
	r := NewRelay(src, &stubPublisher{}, 0, 10, nil, m)

	n, err := r.Flush(context.Background())
	if err == nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if !src.sent[1] || src.sent[2] || src.sent[3] {
		t.Fatalf("unexpected marks: %v", src.sent)
	}
	if got := testutil.ToFloat64(m.OutboxFailed); got != 1 {
		t.Fatalf("outbox failed = %v", got)
	}
}
