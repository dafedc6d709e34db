package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
	"github.com/vladislavdragonenkov/tableorders/internal/metrics"
	"github.com/vladislavdragonenkov/tableorders/internal/storage/memory"
)

// scriptedPublisher отвечает ошибками из script по очереди, затем fallback.
type scriptedPublisher struct {
	mu        sync.Mutex
	script    []error
	fallback  error
	attempts  int
	delivered []domain.OutboxMessage
}

func (p *scriptedPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	err := p.fallback
	if len(p.script) > 0 {
		err, p.script = p.script[0], p.script[1:]
	}
	if err == nil {
		p.delivered = append(p.delivered, msg)
	}
	return err
}

func (p *scriptedPublisher) snapshot() (int, []domain.OutboxMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts, append([]domain.OutboxMessage(nil), p.delivered...)
}

func fastSettings() Settings {
	return Settings{PollInterval: 10 * time.Millisecond, MaxAttempts: 3, RetryDelay: -1}
}

func stage(t *testing.T, repo domain.OutboxRepository, orderIDs ...string) []domain.OutboxMessage {
	t.Helper()

	staged := make([]domain.OutboxMessage, 0, len(orderIDs))
	for _, id := range orderIDs {
		msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   id,
			EventType:     domain.EventTypeOrderCreated,
			Payload:       []byte(`{"id":"` + id + `"}`),
		})
		require.NoError(t, err)
		staged = append(staged, msg)
	}
	return staged
}

func pending(t *testing.T, repo domain.OutboxRepository) int {
	t.Helper()
	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	return stats.PendingCount
}

func TestSettings_Normalized(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultSettings(), Settings{}.normalized())

	s := Settings{PollInterval: time.Minute, BatchSize: 5, MaxAttempts: 7, RetryDelay: -1}.normalized()
	assert.Equal(t, time.Minute, s.PollInterval)
	assert.Equal(t, 5, s.BatchSize)
	assert.Equal(t, 7, s.MaxAttempts)
	assert.Zero(t, s.RetryDelay)
}

func TestWorker_ProcessOnce_DeliversAndMarksSent(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	staged := stage(t, repo, "order-1")
	reg := prometheus.NewRegistry()
	pub := &scriptedPublisher{}

	w := NewWorker(repo, pub, fastSettings(), WithMetrics(metrics.NewWithRegisterer(reg)))
	report, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Sent: 1}, report)
	attempts, delivered := pub.snapshot()
	assert.Equal(t, 1, attempts)
	require.Len(t, delivered, 1)
	assert.Equal(t, staged[0].ID, delivered[0].ID)
	assert.Zero(t, pending(t, repo))

	count, err := testutil.GatherAndCount(reg, "orders_outbox_publish_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWorker_ProcessOnce_RecoversWithinAttempts(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	stage(t, repo, "order-2")
	pub := &scriptedPublisher{script: []error{errors.New("broker down"), errors.New("broker down")}}

	report, err := NewWorker(repo, pub, fastSettings()).ProcessOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Sent)
	attempts, _ := pub.snapshot()
	assert.Equal(t, 3, attempts)
	assert.Zero(t, pending(t, repo))
}

func TestWorker_ProcessOnce_DeadLettersAfterLastAttempt(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	staged := stage(t, repo, "order-3")
	pub := &scriptedPublisher{fallback: errors.New("broker down")}
	dead := &scriptedPublisher{}

	w := NewWorker(repo, pub, fastSettings(), WithDeadLetter(dead))
	report, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Failed: 1}, report)
	attempts, _ := pub.snapshot()
	assert.Equal(t, 3, attempts)

	_, buried := dead.snapshot()
	require.Len(t, buried, 1)
	assert.Equal(t, staged[0].ID, buried[0].ID)

	var record deadLetterRecord
	require.NoError(t, json.Unmarshal(buried[0].Payload, &record))
	assert.Equal(t, "order-3", record.AggregateID)
	assert.Contains(t, record.Error, "broker down")
	assert.JSONEq(t, `{"id":"order-3"}`, string(record.Payload))

	// failed-сообщение больше не выбирается
	report, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	attempts, _ = pub.snapshot()
	assert.Equal(t, 3, attempts)
}

func TestWorker_ProcessOnce_KeepsOrderAcrossBatches(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	staged := stage(t, repo, "a", "b", "c")
	pub := &scriptedPublisher{}
	settings := fastSettings()
	settings.BatchSize = 2

	w := NewWorker(repo, pub, settings)
	report, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Sent: 2, Left: 1}, report)

	report, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Sent: 1}, report)

	_, delivered := pub.snapshot()
	require.Len(t, delivered, 3)
	for i := range staged {
		assert.Equal(t, staged[i].ID, delivered[i].ID)
	}
}

func TestWorker_ProcessOnce_CanceledContextLeavesPending(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	stage(t, repo, "order-4")
	pub := &scriptedPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewWorker(repo, pub, fastSettings()).ProcessOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	attempts, _ := pub.snapshot()
	assert.Zero(t, attempts)
	assert.Equal(t, 1, pending(t, repo))
}

func TestWorker_ProcessOnce_InterruptedRetryLeavesPending(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	stage(t, repo, "order-5")
	pub := &scriptedPublisher{fallback: errors.New("broker down")}

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(repo, pub, fastSettings())
	w.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	report, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
	attempts, _ := pub.snapshot()
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, pending(t, repo))
}

func TestWorker_Run_DeliversUntilCanceled(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	pub := &scriptedPublisher{}
	w := NewWorker(repo, pub, fastSettings())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	stage(t, repo, "order-6")
	require.Eventually(t, func() bool {
		_, delivered := pub.snapshot()
		return len(delivered) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorker_Run_ReturnsWithoutPublisher(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		NewWorker(memory.NewOutboxRepository(), nil, Settings{}).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without publisher must return immediately")
	}
}
