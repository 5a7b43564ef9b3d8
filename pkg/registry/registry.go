// Package registry indexes known function and event signatures and decodes
// call data and logs against them.
package registry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/pkg/trace"
)

// Registry is an append-only, concurrency-safe index of ABI entries.
//
// Selectors are not unique across contracts: every candidate is kept in
// insertion order and the first one that decodes wins.
type Registry struct {
	log logrus.FieldLogger

	mu      sync.RWMutex
	methods map[trace.Selector][]*abi.Method
	events  map[common.Hash][]*abi.Event
	seen    map[string]int
	entries []Entry
}

// New creates an empty registry.
func New(log logrus.FieldLogger) *Registry {
	return &Registry{
		log:     log.WithField("component", "registry"),
		methods: make(map[trace.Selector][]*abi.Method),
		events:  make(map[common.Hash][]*abi.Event),
		seen:    make(map[string]int),
	}
}

// AddEntries merges entries into the index and returns how many were new.
// Entries already present (same kind, signature and indexed layout) are
// skipped, as are elements that are neither functions nor named events.
// A function that was only known from a text signature is replaced by a
// verified entry with the same signature, which counts as new.
func (r *Registry) AddEntries(entries []Entry) int {
	return len(r.Merge(entries))
}

// Merge is AddEntries returning the entries that were actually added.
func (r *Registry) Merge(entries []Entry) []Entry {
	type compiled struct {
		key    string
		entry  Entry
		method *abi.Method
		event  *abi.Event
	}

	// Build outside the lock; abi type construction is the expensive part.
	batch := make([]compiled, 0, len(entries))

	for _, e := range entries {
		switch e.Kind {
		case KindFunction:
			m, err := compileMethod(e)
			if err != nil {
				r.log.WithError(err).WithField("name", e.Name).Debug("Skipping unusable function entry")

				continue
			}

			batch = append(batch, compiled{key: "function:" + m.Sig, entry: e, method: m})
		case KindEvent:
			if e.Anonymous {
				continue
			}

			ev, err := compileEvent(e)
			if err != nil {
				r.log.WithError(err).WithField("name", e.Name).Debug("Skipping unusable event entry")

				continue
			}

			batch = append(batch, compiled{key: "event:" + ev.Sig + indexedLayout(ev.Inputs), entry: e, event: ev})
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var added []Entry

	for _, c := range batch {
		if idx, ok := r.seen[c.key]; ok {
			if c.method == nil || !Synthesized(r.entries[idx]) || Synthesized(c.entry) {
				continue
			}

			r.replaceMethod(c.method)
			r.entries[idx] = c.entry

			added = append(added, c.entry)

			continue
		}

		r.seen[c.key] = len(r.entries)
		r.entries = append(r.entries, c.entry)

		if c.method != nil {
			var sel trace.Selector

			copy(sel[:], c.method.ID)
			r.methods[sel] = append(r.methods[sel], c.method)
		} else {
			r.events[c.event.ID] = append(r.events[c.event.ID], c.event)
		}

		added = append(added, c.entry)
	}

	return added
}

// replaceMethod swaps the candidate with m's signature for m. The slice is
// rebuilt rather than written in place. Caller holds the write lock.
func (r *Registry) replaceMethod(m *abi.Method) {
	var sel trace.Selector

	copy(sel[:], m.ID)

	current := r.methods[sel]
	next := make([]*abi.Method, len(current))

	for i, existing := range current {
		if existing.Sig == m.Sig {
			existing = m
		}

		next[i] = existing
	}

	r.methods[sel] = next
}

// Len returns the number of indexed entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// IsResolvable reports whether a call-like node decodes against the registry.
// Nodes without a selector and non-call nodes are not call-resolvable.
func (r *Registry) IsResolvable(n trace.Node) bool {
	f, ok := trace.AsFrame(n)
	if !ok {
		return false
	}

	sel, ok := f.Selector()
	if !ok {
		return false
	}

	return r.DecodeCall(sel, f.Data) != nil
}

// Candidate slices are appended to or replaced whole, never written in place, so
// a header copied under the read lock stays valid after the lock is released.
func (r *Registry) methodCandidates(sel trace.Selector) []*abi.Method {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.methods[sel]
}

func (r *Registry) eventCandidates(id common.Hash) []*abi.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.events[id]
}

func compileMethod(e Entry) (*abi.Method, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("function without a name")
	}

	inputs, err := toArguments(e.Inputs)
	if err != nil {
		return nil, err
	}

	m := abi.NewMethod(e.Name, e.Name, abi.Function, e.StateMutability, false, false, inputs, nil)

	return &m, nil
}

func compileEvent(e Entry) (*abi.Event, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("event without a name")
	}

	inputs, err := toArguments(e.Inputs)
	if err != nil {
		return nil, err
	}

	ev := abi.NewEvent(e.Name, e.Name, e.Anonymous, inputs)

	return &ev, nil
}

func indexedLayout(args abi.Arguments) string {
	layout := make([]byte, 0, len(args)+1)
	layout = append(layout, '/')

	for _, a := range args {
		if a.Indexed {
			layout = append(layout, 'i')
		} else {
			layout = append(layout, 'd')
		}
	}

	return string(layout)
}
