package payment

import (
	"context"
	"time"
)

// Reaper periodically fails orders left in awaiting_payment past their
// payment window.
type Reaper struct {
	Coordinator *Coordinator
	Interval    time.Duration
	BatchSize   int
}

// Sweep expires every overdue order it finds and returns how many it failed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	c := r.Coordinator
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}
	ids, err := c.Store.ExpiredAwaitingPayment(ctx, c.now(), limit)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		ok, err := c.Expire(ctx, id)
		if err != nil {
			c.log().Error("expire order", "order_id", id, "error", err)
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Run sweeps on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				r.Coordinator.log().Error("reaper sweep", "error", err)
				continue
			}
			if n > 0 {
				r.Coordinator.log().Info("reaper expired orders", "count", n)
			}
		}
	}
}
