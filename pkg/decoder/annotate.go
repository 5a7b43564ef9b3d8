package decoder

import (
	"encoding/json"
	"strings"

	"github.com/ethpandaops/trace-decoder/pkg/registry"
	"github.com/ethpandaops/trace-decoder/pkg/trace"
)

const (
	decodedKey      = "decoded"
	contractNameKey = "contractName"
)

// AnnotatedNode is a trace node with its decoded form. The tree has the same
// shape as the input: Children is only set for calls and delegate calls.
type AnnotatedNode struct {
	Node trace.Node
	// Decoded is nil for nodes that did not decode, and for returns and reverts.
	Decoded      *registry.Decoded
	ContractName string
	Children     []AnnotatedNode
}

// MarshalJSON emits the original wire object of the node with its children
// replaced by annotated children, plus "decoded" on calls and events and
// "contractName" when the call target has a known name.
func (a AnnotatedNode) MarshalJSON() ([]byte, error) {
	obj, err := trace.Encode(withoutChildren(a.Node))
	if err != nil {
		return nil, err
	}

	switch a.Node.(type) {
	case *trace.Call, *trace.DelegateCall:
		children := a.Children
		if children == nil {
			children = []AnnotatedNode{}
		}

		raw, err := json.Marshal(children)
		if err != nil {
			return nil, err
		}

		obj[trace.ChildrenKey(a.Node.Tag())] = raw

		if a.ContractName != "" {
			if obj[contractNameKey], err = json.Marshal(a.ContractName); err != nil {
				return nil, err
			}
		}
	case *trace.Event:
	default:
		return json.Marshal(obj)
	}

	decoded := json.RawMessage("null")

	if a.Decoded != nil {
		if decoded, err = a.Decoded.MarshalJSON(); err != nil {
			return nil, err
		}
	}

	obj[decodedKey] = decoded

	return json.Marshal(obj)
}

// Annotate decodes every node of the tree against the registry. It never fails:
// nodes that do not decode carry a nil Decoded.
func (e *Engine) Annotate(nodes []trace.Node) []AnnotatedNode {
	out := make([]AnnotatedNode, 0, len(nodes))

	for _, n := range nodes {
		a := AnnotatedNode{Node: n}

		switch v := n.(type) {
		case *trace.Call:
			a.Decoded, a.ContractName, a.Children = e.annotateFrame(&v.Frame)
		case *trace.DelegateCall:
			a.Decoded, a.ContractName, a.Children = e.annotateFrame(&v.Frame)
		case *trace.Event:
			a.Decoded = e.registry.DecodeEvent(v.Topics, v.Data)
		}

		out = append(out, a)
	}

	return out
}

func (e *Engine) annotateFrame(f *trace.Frame) (*registry.Decoded, string, []AnnotatedNode) {
	var decoded *registry.Decoded

	if sel, ok := f.Selector(); ok {
		decoded = e.registry.DecodeCall(sel, f.Data)
	}

	name, _ := e.ContractName(strings.ToLower(f.Target.Hex()))

	return decoded, name, e.Annotate(f.Children)
}

// withoutChildren returns a shallow copy of call-like nodes with no children,
// so encoding does not walk the subtree twice.
func withoutChildren(n trace.Node) trace.Node {
	switch v := n.(type) {
	case *trace.Call:
		c := *v
		c.Children = nil

		return &c
	case *trace.DelegateCall:
		c := *v
		c.Children = nil

		return &c
	default:
		return n
	}
}

// Undecoded counts calls and events of the annotated tree left without a decoding.
func Undecoded(nodes []AnnotatedNode) int {
	total := 0

	for _, a := range nodes {
		switch a.Node.(type) {
		case *trace.Call, *trace.DelegateCall, *trace.Event:
			if a.Decoded == nil {
				total++
			}
		}

		total += Undecoded(a.Children)
	}

	return total
}
