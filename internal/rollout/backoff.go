package rollout

import "time"

// Backoff вычисляет задержку перед попыткой attempt (начиная с 1):
// initial * 2^(attempt-1), но не больше maxDelay.
//
// initial <= 0 даёт 0 (повтор без ожидания). maxDelay <= 0 — без ограничения.
func Backoff(attempt int, initial, maxDelay time.Duration) time.Duration {
	if initial <= 0 {
		return 0
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if maxDelay > 0 && delay > maxDelay {
			return maxDelay
		}
	}

	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
