package internal

import "time"

type void struct{}

func replaceIfEmpty(v string, s string) string {
	if v == "" {
		return s
	}

	return v
}

// nextBackoff doubles wait without going past max.
func nextBackoff(wait time.Duration, max time.Duration) time.Duration {
	wait *= 2
	if wait > max {
		return max
	}

	return wait
}
