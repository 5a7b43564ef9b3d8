package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/pkg/registry"
)

const (
	serviceEtherscan = "etherscan"

	notVerifiedABI = "Contract source code not verified"
)

var (
	ErrNotVerified = errors.New("contract source code not verified")
	ErrNoResult    = errors.New("empty result")
)

type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type sourceCode struct {
	ABI          string `json:"ABI"`
	ContractName string `json:"ContractName"`
}

// FetchABIAndName looks up the verified ABI and contract name of address.
func (c *Client) FetchABIAndName(ctx context.Context, address string) (result Result) {
	result.Address = address

	start := time.Now()

	defer func() {
		observe(serviceEtherscan, start, result.Err)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var src sourceCode

	err := c.retry(ctx, func() error {
		var rsp etherscanResponse

		if err := c.getJSON(ctx, c.sourceCodeURL(address), &rsp); err != nil {
			return err
		}

		if rsp.Status != "1" {
			reason := rsp.Message

			var msg string
			if json.Unmarshal(rsp.Result, &msg) == nil && msg != "" {
				reason = msg
			}

			if strings.Contains(strings.ToLower(reason), "rate limit") {
				return fmt.Errorf("%w: %s", errRetryable, reason)
			}

			return fmt.Errorf("etherscan returned status %q: %s", rsp.Status, reason)
		}

		var results []sourceCode
		if err := json.Unmarshal(rsp.Result, &results); err != nil {
			return fmt.Errorf("failed to decode etherscan result: %w", err)
		}

		if len(results) == 0 {
			return ErrNoResult
		}

		src = results[0]

		return nil
	})
	if err != nil {
		result.Err = err

		return result
	}

	if src.ABI == "" || src.ABI == notVerifiedABI {
		result.Err = ErrNotVerified

		return result
	}

	entries, err := registry.ParseABI([]byte(src.ABI))
	if err != nil {
		result.Err = err

		return result
	}

	result.Entries = entries
	result.Name = src.ContractName

	c.log.WithFields(logrus.Fields{
		"address": address,
		"name":    src.ContractName,
		"entries": len(entries),
	}).Debug("Fetched verified abi")

	return result
}

func (c *Client) sourceCodeURL(address string) string {
	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "getsourcecode")
	q.Set("address", address)

	if c.config.Etherscan.APIKey != "" {
		q.Set("apikey", c.config.Etherscan.APIKey)
	}

	if c.config.Etherscan.ChainID != 0 {
		q.Set("chainid", strconv.FormatUint(c.config.Etherscan.ChainID, 10))
	}

	return c.config.Etherscan.URL + "?" + q.Encode()
}
