package dispatch

import "time"

// DefaultMaxRetries bounds the total number of attempts per delivery.
// Once reached the delivery is terminally failed and never re-attempted.
const DefaultMaxRetries = 3

// DefaultRetrySchedule is indexed by the number of attempts already made:
// the first failed attempt schedules a retry in 1 minute, the second in 5,
// and so on. When the retry bound exceeds the table length the last delay
// is reused; that is deliberate policy, not an oversight.
var DefaultRetrySchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// RetryDelay returns the backoff delay after attemptCount attempts have
// been made (attemptCount >= 1).
func RetryDelay(attemptCount int, schedule []time.Duration) time.Duration {
	idx := attemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
