package peer

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

var errTransport = fmt.Errorf("%w: connection refused", domain.ErrPeerUnavailable)

func newTestBreaker(maxFailures int, reset time.Duration) (*Breaker, *time.Time) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(maxFailures, reset, nil)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	calls := 0
	failing := func() error { calls++; return errTransport }

	require.ErrorIs(t, b.Execute("get_table", failing), errTransport)
	assert.Equal(t, BreakerClosed, b.State())
	require.ErrorIs(t, b.Execute("get_table", failing), errTransport)
	assert.Equal(t, BreakerOpen, b.State())

	err := b.Execute("get_table", failing)
	require.ErrorIs(t, err, domain.ErrPeerUnavailable)
	assert.Equal(t, 2, calls, "open breaker must not call through")
}

func TestBreaker_NotFoundDoesNotCount(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	err := b.Execute("get_table", func() error { return domain.ErrPeerNotFound })
	require.ErrorIs(t, err, domain.ErrPeerNotFound)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenTrialCall(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)

	require.Error(t, b.Execute("op", func() error { return errTransport }))
	require.Equal(t, BreakerOpen, b.State())

	*now = now.Add(2 * time.Minute)

	// Пробный вызов неудачен: снова open.
	require.ErrorIs(t, b.Execute("op", func() error { return errTransport }), errTransport)
	assert.Equal(t, BreakerOpen, b.State())

	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Execute("op", func() error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	require.Error(t, b.Execute("op", func() error { return errTransport }))
	require.NoError(t, b.Execute("op", func() error { return nil }))
	require.Error(t, b.Execute("op", func() error { return errTransport }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_DisabledAndNil(t *testing.T) {
	b, _ := newTestBreaker(0, time.Minute)
	for i := 0; i < 5; i++ {
		require.Error(t, b.Execute("op", func() error { return errTransport }))
	}
	assert.Equal(t, BreakerClosed, b.State())

	var nilBreaker *Breaker
	sentinel := errors.New("passthrough")
	assert.ErrorIs(t, nilBreaker.Execute("op", func() error { return sentinel }), sentinel)
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
}
