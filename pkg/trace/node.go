// Package trace holds the call-trace tree produced by replaying a transaction.
//
// A trace is a forest of Nodes. Every node is exactly one of Call, DelegateCall,
// Event, Return or Revert. Only the call-like variants carry children.
package trace

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Tag is the wire discriminant of a node.
type Tag string

const (
	TagCall         Tag = "TxCall"
	TagDelegateCall Tag = "TxDelegateCall"
	TagEvent        Tag = "TxEvent"
	TagReturn       Tag = "TxReturn"
	TagRevert       Tag = "TxRevert"
)

// Node is a single trace step. The set of implementations is closed.
type Node interface {
	Tag() Tag
	node()
}

// Nodes is an ordered list of sibling trace steps.
type Nodes []Node

// Frame is the shared shape of call-like nodes.
type Frame struct {
	Target   common.Address
	SigBytes hexutil.Bytes
	Data     hexutil.Bytes
	Children Nodes

	// Extra keeps upstream fields this package does not model so they survive a round trip.
	Extra Extra
}

// Selector returns the 4-byte function selector of the frame. Frames without
// call data (plain value transfers) have none.
func (f *Frame) Selector() (Selector, bool) {
	if len(f.SigBytes) != SelectorLength {
		return Selector{}, false
	}

	var s Selector

	copy(s[:], f.SigBytes)

	return s, true
}

// Input is the full call data: selector followed by the encoded arguments.
func (f *Frame) Input() []byte {
	input := make([]byte, 0, len(f.SigBytes)+len(f.Data))
	input = append(input, f.SigBytes...)

	return append(input, f.Data...)
}

// Call is a CALL (or STATICCALL/CALLCODE) into Target.
type Call struct {
	Frame
}

// DelegateCall is a DELEGATECALL executing Target's code in the caller's context.
type DelegateCall struct {
	Frame
}

// Event is a LOG emitted during execution.
type Event struct {
	Topics []common.Hash
	Data   hexutil.Bytes
	Extra  Extra
}

// Return is the successful return data of the enclosing frame.
type Return struct {
	Data  hexutil.Bytes
	Extra Extra
}

// Revert is the revert reason of the enclosing frame.
type Revert struct {
	Reason string
	Extra  Extra
}

func (*Call) Tag() Tag         { return TagCall }
func (*DelegateCall) Tag() Tag { return TagDelegateCall }
func (*Event) Tag() Tag        { return TagEvent }
func (*Return) Tag() Tag       { return TagReturn }
func (*Revert) Tag() Tag       { return TagRevert }

func (*Call) node()         {}
func (*DelegateCall) node() {}
func (*Event) node()        {}
func (*Return) node()       {}
func (*Revert) node()       {}

// AsFrame returns the frame of a call-like node.
func AsFrame(n Node) (*Frame, bool) {
	switch v := n.(type) {
	case *Call:
		return &v.Frame, true
	case *DelegateCall:
		return &v.Frame, true
	default:
		return nil, false
	}
}
