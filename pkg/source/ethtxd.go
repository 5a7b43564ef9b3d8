package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/pkg/trace"
)

const (
	successTag = "SuccessResponse"

	maxTraceBytes = 64 << 20
)

type ethtxdResponse struct {
	Tag    string      `json:"tag"`
	Reason string      `json:"reason"`
	Traces trace.Nodes `json:"traces"`
}

// Ethtxd fetches traces from an ethtxd service: GET {url}/tx/{hash}.
type Ethtxd struct {
	log    logrus.FieldLogger
	config *Config
	http   *http.Client
}

var _ Source = (*Ethtxd)(nil)

func NewEthtxd(log logrus.FieldLogger, config *Config) *Ethtxd {
	return &Ethtxd{
		log:    log.WithField("component", "source/ethtxd"),
		config: config,
		http:   newHTTPClient(config.Headers),
	}
}

func (e *Ethtxd) Name() string {
	return TypeEthtxd
}

func (e *Ethtxd) Traces(ctx context.Context, txHash common.Hash) (nodes []trace.Node, err error) {
	start := time.Now()

	defer func() {
		observe(TypeEthtxd, start, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	endpoint := strings.TrimSuffix(e.config.URL, "/") + "/tx/" + txHash.Hex()

	var rsp ethtxdResponse

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.config.MaxRetries), ctx)

	err = backoff.Retry(func() error {
		rsp = ethtxdResponse{}

		return e.fetch(ctx, endpoint, &rsp)
	}, b)
	if err != nil {
		return nil, err
	}

	if rsp.Tag != successTag {
		e.log.WithFields(logrus.Fields{
			"tx_hash": txHash.Hex(),
			"tag":     rsp.Tag,
			"reason":  rsp.Reason,
		}).Debug("Trace source refused transaction")

		return nil, &UpstreamFailure{Reason: rsp.Reason}
	}

	return rsp.Traces, nil
}

// fetch returns permanent errors for responses that will not change on retry.
func (e *Ethtxd) fetch(ctx context.Context, endpoint string, rsp *ethtxdResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return backoff.Permanent(err)
	}

	res, err := e.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrUpstreamUnavailable, ctx.Err()))
		}

		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxTraceBytes))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrUpstreamUnavailable, err)
	}

	if err := json.Unmarshal(body, rsp); err != nil {
		err = fmt.Errorf("%w: status %s: %w", ErrUpstreamUnavailable, res.Status, err)

		if res.StatusCode >= http.StatusInternalServerError {
			return err
		}

		return backoff.Permanent(err)
	}

	return nil
}
