// Package gateway talks to the external registries used to learn unknown
// signatures: an Etherscan compatible source verification API and the 4byte
// signature directory.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/internal/version"
	"github.com/ethpandaops/trace-decoder/pkg/registry"
	"github.com/ethpandaops/trace-decoder/pkg/trace"
)

// Gateway resolves addresses and selectors against external registries.
// Implementations never return errors for lookups, failures are part of the result.
type Gateway interface {
	FetchABIAndName(ctx context.Context, address string) Result
	FetchSignatures(ctx context.Context, selector trace.Selector) []string
}

// Result of an address lookup.
type Result struct {
	Address string
	Entries []registry.Entry
	Name    string
	Err     error
}

func (r Result) OK() bool {
	return r.Err == nil
}

type Config struct {
	Etherscan EtherscanConfig `yaml:"etherscan"`
	FourByte  FourByteConfig  `yaml:"fourByte"`

	// Timeout bounds a single lookup, retries included.
	Timeout time.Duration `yaml:"timeout" default:"15s"`
	Retry   RetryConfig   `yaml:"retry"`
	// Headers are added to every outgoing request.
	Headers map[string]string `yaml:"headers"`
}

type EtherscanConfig struct {
	URL     string `yaml:"url" default:"https://api.etherscan.io/api"`
	APIKey  string `yaml:"apiKey"`
	ChainID uint64 `yaml:"chainId"`
}

type FourByteConfig struct {
	URL      string `yaml:"url" default:"https://www.4byte.directory"`
	MaxPages int    `yaml:"maxPages" default:"3"`
}

type RetryConfig struct {
	MaxRetries      uint64        `yaml:"maxRetries" default:"3"`
	InitialInterval time.Duration `yaml:"initialInterval" default:"500ms"`
	MaxInterval     time.Duration `yaml:"maxInterval" default:"5s"`
}

func (c *Config) Validate() error {
	if c.Etherscan.URL == "" {
		return fmt.Errorf("gateway.etherscan.url is required")
	}

	if c.FourByte.URL == "" {
		return fmt.Errorf("gateway.fourByte.url is required")
	}

	if c.FourByte.MaxPages < 1 {
		return fmt.Errorf("gateway.fourByte.maxPages must be at least 1")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be positive")
	}

	return nil
}

// Client implements Gateway over HTTP. It is stateless and safe for concurrent use.
type Client struct {
	log    logrus.FieldLogger
	config *Config
	http   *http.Client
}

var _ Gateway = (*Client)(nil)

func New(log logrus.FieldLogger, config *Config) *Client {
	return &Client{
		log:    log.WithField("component", "gateway"),
		config: config,
		http:   newHTTPClient(config.Headers),
	}
}

// headerTransport adds custom headers to requests and respects context cancellation.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "trace-decoder/"+version.Full())

	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	if req.Context().Err() != nil {
		return nil, req.Context().Err()
	}

	return t.base.RoundTrip(req)
}

// newHTTPClient has no fixed timeout, the caller's context bounds each request.
func newHTTPClient(headers map[string]string) *http.Client {
	return &http.Client{
		Transport: &headerTransport{
			headers: headers,
			base: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
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
