package peer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

// BreakerState — состояние circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// errBreakerOpen оборачивает ErrPeerUnavailable, чтобы вызывающий обрабатывал его как недоступность.
var errBreakerOpen = fmt.Errorf("%w: circuit breaker is open", domain.ErrPeerUnavailable)

// Breaker размыкается после maxFailures подряд транспортных ошибок и отклоняет
// вызовы до истечения resetTimeout. Затем пропускает один пробный вызов.
// Ответ "не найдено" считается успешным вызовом.
type Breaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	openedAt     time.Time
	state        BreakerState
	probing      bool
	now          func() time.Time
	logger       *log.Entry
}

// NewBreaker создаёт breaker. maxFailures <= 0 выключает размыкание.
func NewBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *Breaker {
	if logger == nil {
		logger = log.WithField("component", "peer-breaker")
	}
	return &Breaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
		now:          time.Now,
		logger:       logger,
	}
}

// Execute выполняет fn, если breaker пропускает вызов.
func (b *Breaker) Execute(operation string, fn func() error) error {
	if b == nil {
		return fn()
	}
	if err := b.allow(operation); err != nil {
		return err
	}

	err := fn()
	b.record(operation, err)
	return err
}

// State возвращает текущее состояние (для тестов и readiness).
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow(operation string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return errBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		b.logger.WithField("operation", operation).Info("circuit breaker half-open")
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return errBreakerOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil || !errors.Is(err, domain.ErrPeerUnavailable) {
		if b.state != BreakerClosed {
			b.logger.WithField("operation", operation).Info("circuit breaker closed")
		}
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.maxFailures <= 0 {
		return
	}
	if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.logger.WithFields(log.Fields{
			"operation": operation,
			"failures":  b.failures,
		}).Warn("circuit breaker opened")
	}
}
