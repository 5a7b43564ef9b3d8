package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ethpandaops/trace-decoder/pkg/common"
)

const (
	statusError   = "error"
	statusSuccess = "success"

	maxResponseBytes = 16 << 20
)

var errRetryable = errors.New("retryable")

// retry runs operation with exponential backoff until it succeeds, fails
// permanently, runs out of attempts or ctx is done. Only errors wrapping
// errRetryable are retried.
func (c *Client) retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.Retry.InitialInterval
	b.MaxInterval = c.config.Retry.MaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.config.Retry.MaxRetries), ctx)

	return backoff.Retry(func() error {
		err := operation()
		if err == nil || errors.Is(err, errRetryable) {
			return err
		}

		return backoff.Permanent(err)
	}, policy)
}

// getJSON issues a GET and decodes a 200 response body into dst. Transport
// errors, 429 and 5xx are reported as retryable.
func (c *Client) getJSON(ctx context.Context, endpoint string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")

	rsp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("%w: %w", errRetryable, err)
	}

	defer rsp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(rsp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", errRetryable, err)
	}

	switch {
	case rsp.StatusCode == http.StatusTooManyRequests || rsp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: unexpected status %s", errRetryable, rsp.Status)
	case rsp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %s", rsp.Status)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func observe(service string, start time.Time, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}

	common.GatewayRequestDuration.WithLabelValues(service, status).Observe(time.Since(start).Seconds())
	common.GatewayRequestsTotal.WithLabelValues(service, status).Inc()
}
