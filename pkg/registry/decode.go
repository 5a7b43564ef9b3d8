package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ethpandaops/trace-decoder/pkg/trace"
)

// Param is one decoded argument. Value is always rendered as a string.
type Param struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Decoded is the human readable form of a call or a log.
type Decoded struct {
	Kind      Kind
	Name      string
	Signature string
	Params    []Param
}

// MarshalJSON renders calls as {name, params} and logs as {name, events}.
func (d *Decoded) MarshalJSON() ([]byte, error) {
	key := "params"
	if d.Kind == KindEvent {
		key = "events"
	}

	params := d.Params
	if params == nil {
		params = []Param{}
	}

	return json.Marshal(map[string]any{
		"name":      d.Name,
		"signature": d.Signature,
		key:         params,
	})
}

// DecodeCall decodes the arguments following a selector. A candidate whose
// canonical encoding reproduces the payload exactly is preferred; otherwise the
// first candidate that unpacks at all is used. Nil means nothing matched.
func (r *Registry) DecodeCall(sel trace.Selector, payload []byte) *Decoded {
	var fallback *Decoded

	for _, m := range r.methodCandidates(sel) {
		values, exact, err := unpack(m.Inputs, payload)
		if err != nil {
			continue
		}

		d := &Decoded{
			Kind:      KindFunction,
			Name:      m.RawName,
			Signature: m.Sig,
			Params:    make([]Param, 0, len(m.Inputs)),
		}

		for i, in := range m.Inputs {
			d.Params = append(d.Params, Param{
				Name:  in.Name,
				Type:  in.Type.String(),
				Value: FormatValue(in.Type, values[i]),
			})
		}

		if exact {
			return d
		}

		if fallback == nil {
			fallback = d
		}
	}

	return fallback
}

// DecodeEvent decodes a log whose first topic is the event ID. Indexed
// arguments of dynamic types only expose their topic hash.
func (r *Registry) DecodeEvent(topics []common.Hash, data []byte) *Decoded {
	if len(topics) == 0 {
		return nil
	}

	for _, ev := range r.eventCandidates(topics[0]) {
		d, err := decodeEvent(ev, topics[1:], data)
		if err == nil {
			return d
		}
	}

	return nil
}

func decodeEvent(ev *abi.Event, topics []common.Hash, data []byte) (*Decoded, error) {
	indexed := 0

	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed++
		}
	}

	if indexed != len(topics) {
		return nil, fmt.Errorf("event %s: want %d indexed topics, got %d", ev.Sig, indexed, len(topics))
	}

	values, _, err := unpack(ev.Inputs.NonIndexed(), data)
	if err != nil {
		return nil, err
	}

	d := &Decoded{
		Kind:      KindEvent,
		Name:      ev.RawName,
		Signature: ev.Sig,
		Params:    make([]Param, 0, len(ev.Inputs)),
	}

	var topicIdx, valueIdx int

	for _, in := range ev.Inputs {
		var value string

		if in.Indexed {
			value, err = formatTopic(in.Type, topics[topicIdx])
			if err != nil {
				return nil, err
			}

			topicIdx++
		} else {
			value = FormatValue(in.Type, values[valueIdx])
			valueIdx++
		}

		d.Params = append(d.Params, Param{Name: in.Name, Type: in.Type.String(), Value: value})
	}

	return d, nil
}

// unpack decodes data against args and reports whether re-encoding the values
// reproduces data byte for byte.
func unpack(args abi.Arguments, data []byte) (values []any, exact bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			values, exact, err = nil, false, fmt.Errorf("abi: unpack panicked: %v", rec)
		}
	}()

	values, err = args.UnpackValues(data)
	if err != nil {
		return nil, false, err
	}

	if len(values) != len(args) {
		return nil, false, fmt.Errorf("abi: unpacked %d values for %d arguments", len(values), len(args))
	}

	packed, err := args.Pack(values...)

	return values, err == nil && bytes.Equal(packed, data), nil
}

func formatTopic(t abi.Type, topic common.Hash) (string, error) {
	switch t.T {
	case abi.IntTy, abi.UintTy, abi.BoolTy, abi.AddressTy, abi.FixedBytesTy, abi.HashTy:
		values, _, err := unpack(abi.Arguments{{Type: t}}, topic.Bytes())
		if err != nil {
			return "", err
		}

		return FormatValue(t, values[0]), nil
	default:
		return topic.Hex(), nil
	}
}

// FormatValue renders an unpacked ABI value as a string.
func FormatValue(t abi.Type, value any) string {
	switch t.T {
	case abi.SliceTy, abi.ArrayTy:
		rv := reflect.ValueOf(value)
		parts := make([]string, 0, rv.Len())

		for i := 0; i < rv.Len(); i++ {
			parts = append(parts, FormatValue(*t.Elem, rv.Index(i).Interface()))
		}

		return "[" + strings.Join(parts, ",") + "]"
	case abi.TupleTy:
		rv := reflect.Indirect(reflect.ValueOf(value))
		parts := make([]string, 0, len(t.TupleElems))

		for i, elem := range t.TupleElems {
			parts = append(parts, FormatValue(*elem, rv.Field(i).Interface()))
		}

		return "(" + strings.Join(parts, ",") + ")"
	case abi.IntTy, abi.UintTy:
		return fmt.Sprintf("%d", value)
	case abi.BoolTy:
		return fmt.Sprintf("%t", value)
	case abi.AddressTy:
		if addr, ok := value.(common.Address); ok {
			return addr.Hex()
		}
	case abi.HashTy:
		if h, ok := value.(common.Hash); ok {
			return h.Hex()
		}
	case abi.BytesTy:
		if b, ok := value.([]byte); ok {
			return hexutil.Encode(b)
		}
	case abi.FixedBytesTy, abi.FunctionTy:
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Array {
			word := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(word), rv)

			return hexutil.Encode(word)
		}
	}

	return fmt.Sprintf("%v", value)
}
