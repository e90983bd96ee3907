package damerr

import "time"

// Retryable reports whether errors of this kind should be retried. Per
// §4.13, only Timeout and Network are. Retryable and RetryDelay are the
// module's one definition of the retry policy; no component in the module
// retries on them.
func Retryable(kind Kind) bool {
	return kind == Timeout || kind == Network
}

// RetryDelay returns the backoff before retry attempt n (1-indexed) for the
// given kind. Timeout backs off 1s * 2^(n-1) capped at 32s; Network backs
// off 0.5s * n capped at 5s. Non-retryable kinds return 0.
func RetryDelay(kind Kind, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch kind {
	case Timeout:
		delay := time.Second
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay >= 32*time.Second {
				delay = 32 * time.Second
				break
			}
		}
		return delay
	case Network:
		delay := time.Duration(attempt) * 500 * time.Millisecond
		if delay > 5*time.Second {
			delay = 5 * time.Second
		}
		return delay
	default:
		return 0
	}
}
