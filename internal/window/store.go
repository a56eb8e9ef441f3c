// Package window implements keyed sliding-window counters.
//
// A counter is a list of event timestamps per key. Every read prunes samples
// older than ts-window and keeps at most MaxSamples of the most recent ones,
// so memory per key is bounded no matter how hot the key is.
package window

import (
	"context"
	"time"
)

// MaxSamples bounds the retained timestamps per key.
const MaxSamples = 256

// CounterStore is the contract detectors count against. Implementations never
// fail from the caller's point of view: backend errors yield a zero count.
type CounterStore interface {
	// Observe records ts under key, prunes the window and returns the count.
	Observe(ctx context.Context, key string, ts time.Time, window time.Duration) int
	// Peek prunes the window and returns the count without recording anything.
	Peek(ctx context.Context, key string, ts time.Time, window time.Duration) int
}
