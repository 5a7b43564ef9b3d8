package trace

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnknownTag is returned when a node carries a discriminant this package does not know.
	ErrUnknownTag = errors.New("unknown trace tag")
)

const tagKey = "tag"

// Extra holds upstream fields that are not part of the modelled node.
type Extra map[string]json.RawMessage

// framePrefix is the wire field prefix of a call-like variant.
func framePrefix(tag Tag) string {
	if tag == TagDelegateCall {
		return "delegateCall"
	}

	return "call"
}

// ChildrenKey returns the wire key holding the children of a call-like variant.
func ChildrenKey(tag Tag) string {
	return framePrefix(tag) + "Trace"
}

// UnmarshalJSON decodes a list of tagged nodes.
func (n *Nodes) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	out := make(Nodes, 0, len(raws))

	for i, raw := range raws {
		node, err := DecodeNode(raw)
		if err != nil {
			return fmt.Errorf("trace node %d: %w", i, err)
		}

		out = append(out, node)
	}

	*n = out

	return nil
}

// MarshalJSON encodes the list back into the tagged wire format.
func (n Nodes) MarshalJSON() ([]byte, error) {
	objs := make([]map[string]json.RawMessage, 0, len(n))

	for _, node := range n {
		obj, err := Encode(node)
		if err != nil {
			return nil, err
		}

		objs = append(objs, obj)
	}

	return json.Marshal(objs)
}

// DecodeNode decodes a single tagged node, recursing into children.
func DecodeNode(raw json.RawMessage) (Node, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	var tag Tag
	if err := take(fields, tagKey, &tag); err != nil {
		return nil, err
	}

	switch tag {
	case TagCall:
		f, err := decodeFrame(fields, tag)
		if err != nil {
			return nil, err
		}

		return &Call{Frame: f}, nil
	case TagDelegateCall:
		f, err := decodeFrame(fields, tag)
		if err != nil {
			return nil, err
		}

		return &DelegateCall{Frame: f}, nil
	case TagEvent:
		e := &Event{}
		if err := take(fields, "eventTopics", &e.Topics); err != nil {
			return nil, err
		}

		if err := take(fields, "eventBytes", &e.Data); err != nil {
			return nil, err
		}

		e.Extra = leftovers(fields)

		return e, nil
	case TagReturn:
		r := &Return{}
		if err := take(fields, "returnData", &r.Data); err != nil {
			return nil, err
		}

		r.Extra = leftovers(fields)

		return r, nil
	case TagRevert:
		r := &Revert{}
		if err := take(fields, "revertReason", &r.Reason); err != nil {
			return nil, err
		}

		r.Extra = leftovers(fields)

		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
}

func decodeFrame(fields map[string]json.RawMessage, tag Tag) (Frame, error) {
	prefix := framePrefix(tag)

	var f Frame

	if err := take(fields, prefix+"Target", &f.Target); err != nil {
		return f, err
	}

	if err := take(fields, prefix+"SigBytes", &f.SigBytes); err != nil {
		return f, err
	}

	if err := take(fields, prefix+"Data", &f.Data); err != nil {
		return f, err
	}

	if err := take(fields, ChildrenKey(tag), &f.Children); err != nil {
		return f, err
	}

	if f.Children == nil {
		f.Children = Nodes{}
	}

	f.Extra = leftovers(fields)

	return f, nil
}

// Encode returns the wire object of a node, including its children.
func Encode(n Node) (map[string]json.RawMessage, error) {
	var (
		extra  Extra
		values = map[string]any{tagKey: n.Tag()}
	)

	switch v := n.(type) {
	case *Call:
		extra = v.Extra
		frameValues(values, v.Tag(), &v.Frame)
	case *DelegateCall:
		extra = v.Extra
		frameValues(values, v.Tag(), &v.Frame)
	case *Event:
		extra = v.Extra
		topics := v.Topics
		if topics == nil {
			topics = []common.Hash{}
		}

		values["eventTopics"] = topics
		values["eventBytes"] = v.Data
	case *Return:
		extra = v.Extra
		values["returnData"] = v.Data
	case *Revert:
		extra = v.Extra
		values["revertReason"] = v.Reason
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownTag, n)
	}

	obj := make(map[string]json.RawMessage, len(extra)+len(values))
	for k, raw := range extra {
		obj[k] = raw
	}

	for k, value := range values {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", n.Tag(), k, err)
		}

		obj[k] = raw
	}

	return obj, nil
}

func frameValues(values map[string]any, tag Tag, f *Frame) {
	prefix := framePrefix(tag)

	children := f.Children
	if children == nil {
		children = Nodes{}
	}

	values[prefix+"Target"] = f.Target
	values[prefix+"SigBytes"] = f.SigBytes
	values[prefix+"Data"] = f.Data
	values[ChildrenKey(tag)] = children
}

// take decodes and removes fields[key]. A missing key leaves dst untouched.
func take(fields map[string]json.RawMessage, key string, dst any) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}

	delete(fields, key)

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}

	return nil
}

func leftovers(fields map[string]json.RawMessage) Extra {
	if len(fields) == 0 {
		return nil
	}

	return Extra(fields)
}
