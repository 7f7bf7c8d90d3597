package upstream

import "errors"

// Decision is the outcome of the retry policy for one failed attempt.
type Decision int

const (
	GiveUp Decision = iota
	Retry
)

// decide is the retry policy as a pure function of (attempt, error).
// Network-layer failures rotate and retry; validation failures (bad URL,
// blocked address) never do, and the final attempt always gives up.
func decide(attempt, maxRetries int, err error) Decision {
	if attempt >= maxRetries-1 {
		return GiveUp
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return Retry
	}
	return GiveUp
}
