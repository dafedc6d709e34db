package dispatch

import (
	"context"
	"time"
)

// Sleep ждёт d или отмены ctx. Возвращает ctx.Err(), если ожидание прервано.
// При d <= 0 сразу возвращает состояние ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
