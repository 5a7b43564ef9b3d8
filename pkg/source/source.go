// Package source fetches the raw call trace of a transaction.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	pcommon "github.com/ethpandaops/trace-decoder/pkg/common"
	"github.com/ethpandaops/trace-decoder/pkg/trace"
)

const (
	TypeEthtxd = "ethtxd"
	TypeRPC    = "rpc"

	statusError   = "error"
	statusSuccess = "success"
)

var (
	ErrInvalidTxHash       = errors.New("invalid transaction hash")
	ErrUpstreamUnavailable = errors.New("trace source unavailable")
	ErrUpstreamFailure     = errors.New("trace source failed")
)

// UpstreamFailure is a well-formed refusal from the trace source, e.g. an
// unknown transaction. It matches ErrUpstreamFailure.
type UpstreamFailure struct {
	Reason string
}

func (e *UpstreamFailure) Error() string {
	return fmt.Sprintf("%s: %s", ErrUpstreamFailure, e.Reason)
}

func (e *UpstreamFailure) Is(target error) bool {
	return target == ErrUpstreamFailure
}

// Source returns the trace forest of a transaction.
type Source interface {
	Name() string
	Traces(ctx context.Context, txHash common.Hash) ([]trace.Node, error)
}

type Config struct {
	// Type is ethtxd or rpc.
	Type string `yaml:"type" default:"ethtxd"`
	// URL of the ethtxd service or of the execution node.
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout" default:"60s"`
	Headers map[string]string `yaml:"headers"`
	// MaxRetries for transient failures.
	MaxRetries uint64 `yaml:"maxRetries" default:"2"`
}

func (c *Config) Validate() error {
	if c.Type != TypeEthtxd && c.Type != TypeRPC {
		return fmt.Errorf("invalid source type %q, must be '%s' or '%s'", c.Type, TypeEthtxd, TypeRPC)
	}

	if c.URL == "" {
		return fmt.Errorf("source.url is required")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be positive")
	}

	return nil
}

// New creates the configured source.
func New(log logrus.FieldLogger, config *Config) (Source, error) {
	switch config.Type {
	case TypeEthtxd:
		return NewEthtxd(log, config), nil
	case TypeRPC:
		return NewRPC(log, config)
	default:
		return nil, fmt.Errorf("unknown source type %q", config.Type)
	}
}

// ParseTxHash accepts a 0x-prefixed 32-byte hex hash.
func ParseTxHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Hash{}, fmt.Errorf("%w: no tx hash provided", ErrInvalidTxHash)
	}

	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidTxHash, s)
	}

	return common.BytesToHash(b), nil
}

// headerTransport adds custom headers to requests and respects context cancellation.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	if req.Context().Err() != nil {
		return nil, req.Context().Err()
	}

	return t.base.RoundTrip(req)
}

// newHTTPClient has no fixed timeout, the request context bounds each call.
func newHTTPClient(headers map[string]string) *http.Client {
	return &http.Client{
		Transport: &headerTransport{
			headers: headers,
			base: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

func observe(source string, start time.Time, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}

	pcommon.SourceRequestDuration.WithLabelValues(source, status).Observe(time.Since(start).Seconds())
	pcommon.SourceRequestsTotal.WithLabelValues(source, status).Inc()
}
