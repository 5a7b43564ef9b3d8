package decoder

import (
	"strings"

	"github.com/ethpandaops/trace-decoder/pkg/registry"
	"github.com/ethpandaops/trace-decoder/pkg/trace"
)

// Unresolved lists what the registry could not decode, in first-seen order.
type Unresolved struct {
	Selectors []trace.Selector
	// Addresses are lower-cased 0x-prefixed hex.
	Addresses []string
}

func (u Unresolved) Empty() bool {
	return len(u.Selectors) == 0 && len(u.Addresses) == 0
}

// Classify collects the distinct selectors and call targets of call-like nodes
// that do not decode against reg. Calls without a selector are ignored, as are
// events, returns and reverts.
func Classify(nodes []trace.Node, reg *registry.Registry) Unresolved {
	var (
		out       Unresolved
		selectors = make(map[trace.Selector]struct{})
		addresses = make(map[string]struct{})
	)

	for _, n := range trace.Flatten(nodes) {
		f, ok := trace.AsFrame(n)
		if !ok {
			continue
		}

		sel, ok := f.Selector()
		if !ok || reg.IsResolvable(n) {
			continue
		}

		if _, seen := selectors[sel]; !seen {
			selectors[sel] = struct{}{}
			out.Selectors = append(out.Selectors, sel)
		}

		addr := strings.ToLower(f.Target.Hex())
		if _, seen := addresses[addr]; !seen {
			addresses[addr] = struct{}{}
			out.Addresses = append(out.Addresses, addr)
		}
	}

	return out
}
