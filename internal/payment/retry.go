package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-bookstore-orders/internal/metrics"
)

// capture calls the card gateway, retrying infrastructure faults up to
// CaptureRetries extra times with linear backoff. Business declines are
// never retried.
func (c *Coordinator) capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	capturer := c.Capturer
	if capturer == nil {
		capturer = SimulatedCapturer{}
	}
	backoff := c.CaptureBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= c.CaptureRetries; attempt++ {
		if attempt > 0 {
			metrics.CaptureRetries.Inc()
			select {
			case <-ctx.Done():
				return CaptureResult{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt) * backoff):
			}
		}
		res, err := capturer.Capture(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnavailable) {
			break
		}
		c.log().Warn("card capture failed", "order_id", req.OrderID, "attempt", attempt+1, "error", err)
	}
	return CaptureResult{}, fmt.Errorf("capture gave up: %w", lastErr)
}
