package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/trace-decoder/internal/testutil"
	metrics "github.com/ethpandaops/trace-decoder/pkg/common"
	"github.com/ethpandaops/trace-decoder/pkg/decoder"
	"github.com/ethpandaops/trace-decoder/pkg/source"
	"github.com/ethpandaops/trace-decoder/pkg/trace"
)

const txHash = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

type stubSource struct {
	nodes []trace.Node
	err   error
	got   []common.Hash
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Traces(_ context.Context, txHash common.Hash) ([]trace.Node, error) {
	s.got = append(s.got, txHash)

	return s.nodes, s.err
}

type stubDecoder struct {
	names map[string]string
}

func (d *stubDecoder) Decode(_ context.Context, roots []trace.Node) ([]decoder.AnnotatedNode, decoder.Report) {
	out := make([]decoder.AnnotatedNode, 0, len(roots))
	for _, n := range roots {
		out = append(out, decoder.AnnotatedNode{Node: n})
	}

	return out, decoder.Report{Nodes: len(roots)}
}

func (d *stubDecoder) ContractName(address string) (string, bool) {
	name, ok := d.names[strings.ToLower(address)]

	return name, ok
}

type stubEnqueuer struct {
	addresses []string
	err       error
}

func (e *stubEnqueuer) Enqueue(_ context.Context, address string) error {
	e.addresses = append(e.addresses, address)

	return e.err
}

func serve(t *testing.T, h *Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}

	return rec, body
}

func TestStatus(t *testing.T) {
	h := NewHandler(testutil.NewLogger(t), &stubSource{}, &stubDecoder{}, nil)

	rec, body := serve(t, h, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestDecodeTx(t *testing.T) {
	src := &stubSource{nodes: []trace.Node{&trace.Return{Data: []byte{0x01}}}}
	h := NewHandler(testutil.NewLogger(t), src, &stubDecoder{}, nil)

	for _, path := range []string{"/tx/" + txHash, "/tx/" + txHash + "/"} {
		rec, body := serve(t, h, http.MethodGet, path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, true, body["success"])

		traces, ok := body["traces"].([]any)
		require.True(t, ok)
		require.Len(t, traces, 1)
		assert.Equal(t, "TxReturn", traces[0].(map[string]any)["tag"])
	}

	require.Len(t, src.got, 2)
	assert.Equal(t, common.HexToHash(txHash), src.got[0])
}

func TestDecodeTxErrors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		err      error
		code     int
		category string
		message  string
	}{
		{name: "missing hash", path: "/tx/", code: http.StatusBadRequest, category: ErrorInput, message: "no tx hash provided"},
		{name: "malformed hash", path: "/tx/0x1234", code: http.StatusBadRequest, category: ErrorInput},
		{
			name:     "upstream refusal",
			path:     "/tx/" + txHash,
			err:      &source.UpstreamFailure{Reason: "transaction not found"},
			code:     http.StatusBadGateway,
			category: ErrorUpstream,
			message:  "transaction not found",
		},
		{
			name:     "upstream unavailable",
			path:     "/tx/" + txHash,
			err:      fmt.Errorf("%w: connection refused", source.ErrUpstreamUnavailable),
			code:     http.StatusBadGateway,
			category: ErrorUpstream,
		},
		{name: "unexpected", path: "/tx/" + txHash, err: errors.New("boom"), code: http.StatusInternalServerError, category: ErrorInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &stubSource{err: tt.err}
			h := NewHandler(testutil.NewLogger(t), src, &stubDecoder{}, nil)

			rec, body := serve(t, h, http.MethodGet, tt.path)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
			assert.Equal(t, tt.category, body["error"])

			if tt.message != "" {
				assert.Equal(t, tt.message, body["message"])
			}

			if tt.err == nil {
				assert.Empty(t, src.got, "source must not be queried for bad input")
			}
		})
	}
}

func TestUpstreamRefusalIsNotAnInputError(t *testing.T) {
	refused := NewHandler(testutil.NewLogger(t), &stubSource{err: &source.UpstreamFailure{Reason: "invalid transaction hash"}}, &stubDecoder{}, nil)
	rejected := NewHandler(testutil.NewLogger(t), &stubSource{}, &stubDecoder{}, nil)

	refusedRec, refusedBody := serve(t, refused, http.MethodGet, "/tx/"+txHash)
	rejectedRec, rejectedBody := serve(t, rejected, http.MethodGet, "/tx/0x1234")

	assert.NotEqual(t, refusedRec.Code, rejectedRec.Code)
	assert.Equal(t, ErrorUpstream, refusedBody["error"])
	assert.Equal(t, ErrorInput, rejectedBody["error"])
	assert.Equal(t, "invalid transaction hash", refusedBody["message"], "upstream reason is passed through")
}

func counterValue(t *testing.T, status string) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, metrics.TracesDecoded.WithLabelValues(status).Write(&m))

	return m.GetCounter().GetValue()
}

func TestDecodeTxCountsOutcomes(t *testing.T) {
	ok := NewHandler(testutil.NewLogger(t), &stubSource{nodes: []trace.Node{&trace.Return{}}}, &stubDecoder{}, nil)
	refused := NewHandler(testutil.NewLogger(t), &stubSource{err: &source.UpstreamFailure{Reason: "nope"}}, &stubDecoder{}, nil)

	success := counterValue(t, "success")
	input := counterValue(t, "input_error")
	upstream := counterValue(t, "upstream_error")

	serve(t, ok, http.MethodGet, "/tx/"+txHash)
	serve(t, ok, http.MethodGet, "/tx/0x1234")
	serve(t, ok, http.MethodGet, "/tx/")
	serve(t, refused, http.MethodGet, "/tx/"+txHash)

	assert.Equal(t, success+1, counterValue(t, "success"))
	assert.Equal(t, input+2, counterValue(t, "input_error"))
	assert.Equal(t, upstream+1, counterValue(t, "upstream_error"))
}

func TestContractName(t *testing.T) {
	dec := &stubDecoder{names: map[string]string{"0x00000000000000000000000000000000000000aa": "Token"}}
	h := NewHandler(testutil.NewLogger(t), &stubSource{}, dec, nil)

	rec, body := serve(t, h, http.MethodGet, "/names/0x00000000000000000000000000000000000000AA")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Token", body["name"])

	rec, _ = serve(t, h, http.MethodGet, "/names/0x00000000000000000000000000000000000000bb")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = serve(t, h, http.MethodGet, "/names/nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrefetch(t *testing.T) {
	const address = "0x00000000000000000000000000000000000000aa"

	t.Run("disabled", func(t *testing.T) {
		h := NewHandler(testutil.NewLogger(t), &stubSource{}, &stubDecoder{}, nil)

		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/prefetch/"+address, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("enqueued", func(t *testing.T) {
		enq := &stubEnqueuer{}
		h := NewHandler(testutil.NewLogger(t), &stubSource{}, &stubDecoder{}, enq)

		rec, body := serve(t, h, http.MethodPost, "/api/v1/prefetch/"+address)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "queued", body["status"])
		assert.Equal(t, []string{address}, enq.addresses)
	})

	t.Run("invalid address", func(t *testing.T) {
		enq := &stubEnqueuer{}
		h := NewHandler(testutil.NewLogger(t), &stubSource{}, &stubDecoder{}, enq)

		rec, _ := serve(t, h, http.MethodPost, "/api/v1/prefetch/0x12")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, enq.addresses)
	})

	t.Run("queue failure", func(t *testing.T) {
		h := NewHandler(testutil.NewLogger(t), &stubSource{}, &stubDecoder{}, &stubEnqueuer{err: errors.New("redis down")})

		rec, _ := serve(t, h, http.MethodPost, "/api/v1/prefetch/"+address)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
