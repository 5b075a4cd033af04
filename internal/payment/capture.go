package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable marks an infrastructure fault at the capture boundary.
// Only errors wrapping it are retried.
var ErrUnavailable = errors.New("payment capture unavailable")

type CaptureRequest struct {
	OrderID     string          `json:"order_id"`
	ExternalRef string          `json:"external_ref"`
	Amount      int64           `json:"amount"`
	PayerEmail  string          `json:"payer_email,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
}

type CaptureResult struct {
	Approved      bool   `json:"approved"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason,omitempty"`
}

// Capturer charges a card synchronously.
type Capturer interface {
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
}

type httpCapturer struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPCapturer posts capture requests to a card gateway endpoint.
func NewHTTPCapturer(url, apiKey string, timeout time.Duration) Capturer {
	return &httpCapturer{url: url, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

func (c *httpCapturer) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return CaptureResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return CaptureResult{}, err
	}
	httpReq.SetBasicAuth(c.apiKey, "")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ExternalRef)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return CaptureResult{}, fmt.Errorf("%w: gateway returned %s", ErrUnavailable, resp.Status)
	case resp.StatusCode >= 300 && resp.StatusCode != http.StatusPaymentRequired:
		return CaptureResult{}, fmt.Errorf("gateway rejected capture: %s", resp.Status)
	}

	var out CaptureResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CaptureResult{}, fmt.Errorf("decode capture response: %w", err)
	}
	if out.Approved && out.TransactionID == "" {
		return CaptureResult{}, errors.New("gateway approved without transaction id")
	}
	return out, nil
}

// SimulatedCapturer approves every capture. It stands in when no gateway
// is configured.
type SimulatedCapturer struct{}

func (SimulatedCapturer) Capture(_ context.Context, req CaptureRequest) (CaptureResult, error) {
	return CaptureResult{Approved: true, TransactionID: "SIM-" + uuid.NewString()}, nil
}
