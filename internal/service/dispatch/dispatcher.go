// Package dispatch запускает фоновые задачи с ограниченной параллельностью.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
	"github.com/vladislavdragonenkov/tableorders/internal/metrics"
)

const defaultConcurrency = 16

// ErrClosed возвращается Go после начала Shutdown.
var ErrClosed = errors.New("dispatcher is shut down")

// Dispatcher выполняет задачи в отдельных горутинах. Go не блокирует вызывающего:
// ожидание свободного слота происходит уже внутри горутины задачи.
// Задача получает контекст, не связанный с запросом, и не отменяется после старта.
type Dispatcher struct {
	sem     *semaphore.Weighted
	logger  *log.Entry
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	// stop отменяет ожидание слота для ещё не стартовавших задач, если Shutdown не дождался.
	stop       context.Context
	cancelStop context.CancelFunc
}

// New создаёт диспетчер. concurrency <= 0 заменяется значением по умолчанию.
func New(concurrency int, logger *log.Entry, m *metrics.Metrics) *Dispatcher {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = log.WithField("component", "dispatcher")
	}
	stop, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sem:        semaphore.NewWeighted(int64(concurrency)),
		logger:     logger,
		metrics:    m,
		stop:       stop,
		cancelStop: cancel,
	}
}

// Go ставит задачу в работу и сразу возвращается.
func (d *Dispatcher) Go(name string, fn func(ctx context.Context)) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.metrics.RecordTaskRejected()
		d.logger.WithField("task", name).Warn("task rejected during shutdown")
		return fmt.Errorf("%s: %w", name, ErrClosed)
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.metrics.TaskStarted()
	go d.run(name, fn)
	return nil
}

func (d *Dispatcher) run(name string, fn func(ctx context.Context)) {
	defer d.wg.Done()
	defer d.metrics.TaskFinished()

	if err := d.sem.Acquire(d.stop, 1); err != nil {
		d.logger.WithField("task", name).Error("task dropped: dispatcher stopped before a slot was free")
		return
	}
	defer d.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(log.Fields{
				"task":  name,
				"panic": r,
			}).Error("background task panicked")
		}
	}()

	fn(context.Background())
}

// Shutdown перестаёт принимать задачи и ждёт выполняющиеся до дедлайна ctx.
// По истечении ctx задачи, не получившие слот, отбрасываются.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelStop()
		return nil
	case <-ctx.Done():
		d.cancelStop()
		return ctx.Err()
	}
}

var _ domain.TaskRunner = (*Dispatcher)(nil)
