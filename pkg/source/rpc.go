package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/0xsequence/ethkit/ethrpc"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/pkg/trace"
)

// callFrame is one frame of the callTracer output.
type callFrame struct {
	Type         string          `json:"type"`
	From         common.Address  `json:"from"`
	To           *common.Address `json:"to,omitempty"`
	Value        *hexutil.Big    `json:"value,omitempty"`
	Input        hexutil.Bytes   `json:"input"`
	Output       hexutil.Bytes   `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	RevertReason string          `json:"revertReason,omitempty"`
	Calls        []callFrame     `json:"calls,omitempty"`
	Logs         []callLog       `json:"logs,omitempty"`
}

type callLog struct {
	Topics []common.Hash `json:"topics"`
	Data   hexutil.Bytes `json:"data"`
	// Position is the number of sub-calls made before the log was emitted.
	Position *hexutil.Uint `json:"position,omitempty"`
}

// RPC traces transactions with debug_traceTransaction and the callTracer.
type RPC struct {
	log    logrus.FieldLogger
	config *Config
	rpc    *ethrpc.Provider
}

var _ Source = (*RPC)(nil)

func NewRPC(log logrus.FieldLogger, config *Config) (*RPC, error) {
	provider, err := ethrpc.NewProvider(config.URL, ethrpc.WithHTTPClient(newHTTPClient(config.Headers)))
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC provider for %s: %w", config.URL, err)
	}

	return &RPC{
		log:    log.WithField("component", "source/rpc"),
		config: config,
		rpc:    provider,
	}, nil
}

func (r *RPC) Name() string {
	return TypeRPC
}

func callTracerParams(hash common.Hash) []any {
	return []any{
		hash.Hex(),
		map[string]any{
			"tracer": "callTracer",
			"tracerConfig": map[string]any{
				"withLog": true,
			},
		},
	}
}

func (r *RPC) Traces(ctx context.Context, txHash common.Hash) (nodes []trace.Node, err error) {
	start := time.Now()

	defer func() {
		observe(TypeRPC, start, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var root callFrame

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.config.MaxRetries), ctx)

	err = backoff.Retry(func() error {
		root = callFrame{}

		call := ethrpc.NewCallBuilder[callFrame]("debug_traceTransaction", nil, callTracerParams(txHash)...)

		_, err := r.rpc.Do(ctx, call.Into(&root))
		if err == nil {
			return nil
		}

		if isNotFound(err) {
			return backoff.Permanent(&UpstreamFailure{Reason: err.Error()})
		}

		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}, b)
	if err != nil {
		return nil, err
	}

	return convertFrame(root), nil
}

// isNotFound matches the node errors for unknown or unindexed transactions.
func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "not found") || strings.Contains(msg, "unknown transaction")
}

// convertFrame maps a callTracer frame onto trace nodes. CREATE frames have no
// call-like counterpart and contribute their sub-calls and logs in place.
func convertFrame(f callFrame) []trace.Node {
	kind := strings.ToUpper(f.Type)
	isCall := kind == "CALL" || kind == "STATICCALL" || kind == "CALLCODE" || kind == "DELEGATECALL"

	children := convertChildren(f, isCall)

	frame := trace.Frame{
		Data:     f.Input,
		Children: children,
		Extra:    frameExtra(f),
	}

	if f.To != nil {
		frame.Target = *f.To
	}

	if len(f.Input) >= trace.SelectorLength {
		frame.SigBytes = f.Input[:trace.SelectorLength]
		frame.Data = f.Input[trace.SelectorLength:]
	}

	switch {
	case kind == "DELEGATECALL":
		return []trace.Node{&trace.DelegateCall{Frame: frame}}
	case isCall:
		return []trace.Node{&trace.Call{Frame: frame}}
	default:
		return children
	}
}

// convertChildren interleaves logs with sub-calls by position and optionally
// appends the frame outcome. Logs without a position come first.
func convertChildren(f callFrame, withOutcome bool) trace.Nodes {
	logs := make([]callLog, len(f.Logs))
	copy(logs, f.Logs)

	sort.SliceStable(logs, func(i, j int) bool {
		return logPosition(logs[i]) < logPosition(logs[j])
	})

	out := trace.Nodes{}

	emitLogs := func(upTo int) {
		for len(logs) > 0 && logPosition(logs[0]) <= upTo {
			out = append(out, &trace.Event{Topics: logs[0].Topics, Data: logs[0].Data})
			logs = logs[1:]
		}
	}

	for i, c := range f.Calls {
		emitLogs(i)
		out = append(out, convertFrame(c)...)
	}

	emitLogs(len(f.Calls))

	for _, l := range logs {
		out = append(out, &trace.Event{Topics: l.Topics, Data: l.Data})
	}

	switch {
	case !withOutcome:
	case f.Error != "" || f.RevertReason != "":
		reason := f.RevertReason
		if reason == "" {
			reason = f.Error
		}

		out = append(out, &trace.Revert{Reason: reason})
	case len(f.Output) > 0:
		out = append(out, &trace.Return{Data: f.Output})
	}

	return out
}

func logPosition(l callLog) int {
	if l.Position == nil {
		return 0
	}

	return int(*l.Position)
}

// frameExtra keeps the callTracer fields the trace model has no slot for.
func frameExtra(f callFrame) trace.Extra {
	fields := map[string]any{
		"from":     strings.ToLower(f.From.Hex()),
		"callType": strings.ToUpper(f.Type),
	}

	if f.Value != nil {
		fields["value"] = f.Value
	}

	extra := make(trace.Extra, len(fields))

	for key, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			continue
		}

		extra[key] = raw
	}

	return extra
}
