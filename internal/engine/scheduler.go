package engine

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/gyaneshwarpardhi/hrguard/internal/retry"
)

// StartScheduler drains the retry queue on the cron spec (e.g. "@every 1m").
// The returned stop function waits for a running drain to finish.
func (e *Engine) StartScheduler(ctx context.Context, spec string) (stop func(), err error) {
	c := cron.New()
	_, err = c.AddFunc(spec, func() {
		if _, err := e.DrainRetryQueue(ctx, retry.DrainRequest{Reason: "schedule"}); err != nil {
			e.logger.Error("scheduled retry drain failed", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("retry drain schedule %q: %w", spec, err)
	}
	c.Start()
	e.logger.Info("retry drain scheduled", "spec", spec)
	return func() { <-c.Stop().Done() }, nil
}
