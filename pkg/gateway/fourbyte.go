package gateway

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/pkg/trace"
)

const serviceFourByte = "4byte"

type signaturePage struct {
	Next    *string `json:"next"`
	Results []struct {
		TextSignature string `json:"text_signature"`
	} `json:"results"`
}

// FetchSignatures returns every text signature the directory knows for
// selector. Any failure yields the signatures collected so far, possibly none.
func (c *Client) FetchSignatures(ctx context.Context, selector trace.Selector) []string {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("hex_signature", selector.Hex())

	next := strings.TrimSuffix(c.config.FourByte.URL, "/") + "/api/v1/signatures/?" + q.Encode()
	signatures := []string{}

	var err error

	for page := 0; page < c.config.FourByte.MaxPages && next != ""; page++ {
		var rsp signaturePage

		endpoint := next

		err = c.retry(ctx, func() error {
			return c.getJSON(ctx, endpoint, &rsp)
		})
		if err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"selector": selector.Hex(),
				"page":     page,
			}).Debug("Signature lookup failed")

			break
		}

		for _, r := range rsp.Results {
			if r.TextSignature != "" {
				signatures = append(signatures, r.TextSignature)
			}
		}

		next = ""
		if rsp.Next != nil {
			next = *rsp.Next
		}
	}

	observe(serviceFourByte, start, err)

	return signatures
}
