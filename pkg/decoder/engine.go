// Package decoder turns raw call traces into annotated traces, learning the
// signatures it does not know from external registries on the way.
package decoder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ethpandaops/trace-decoder/pkg/common"
	"github.com/ethpandaops/trace-decoder/pkg/gateway"
	"github.com/ethpandaops/trace-decoder/pkg/registry"
	"github.com/ethpandaops/trace-decoder/pkg/resolution"
	"github.com/ethpandaops/trace-decoder/pkg/store"
	"github.com/ethpandaops/trace-decoder/pkg/trace"
)

type Config struct {
	// Concurrency bounds the external lookups in flight per phase.
	Concurrency int `yaml:"concurrency" default:"8"`
	// RetryAfter makes failed address lookups eligible again after this long. Zero never retries.
	RetryAfter time.Duration `yaml:"retryAfter" default:"0s"`
	// SyncInterval is how often the registry is reloaded from the store. Zero disables it.
	SyncInterval time.Duration `yaml:"syncInterval" default:"5m"`
}

func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("enrichment.concurrency must be at least 1")
	}

	if c.RetryAfter < 0 {
		return fmt.Errorf("enrichment.retryAfter must not be negative")
	}

	return nil
}

// Report summarises one decoding run.
type Report struct {
	Nodes               int
	UnresolvedSelectors int
	UnresolvedAddresses int
	AddressesResolved   int
	SelectorsQueried    int
	SignaturesFound     int
	EntriesLearned      int
	Undecoded           int
	Duration            time.Duration
}

func (r Report) Fields() logrus.Fields {
	return logrus.Fields{
		"nodes":                r.Nodes,
		"unresolved_selectors": r.UnresolvedSelectors,
		"unresolved_addresses": r.UnresolvedAddresses,
		"addresses_resolved":   r.AddressesResolved,
		"selectors_queried":    r.SelectorsQueried,
		"signatures_found":     r.SignaturesFound,
		"entries_learned":      r.EntriesLearned,
		"undecoded":            r.Undecoded,
		"duration":             r.Duration.String(),
	}
}

// Engine decodes traces. It is safe for concurrent use; the registry, the
// resolution cache and the store are shared by every request.
type Engine struct {
	log      logrus.FieldLogger
	config   *Config
	registry *registry.Registry
	gateway  gateway.Gateway
	cache    *resolution.Cache
	store    store.Store

	// Concurrent requests share one external lookup per address or selector.
	addressFlight  singleflight.Group
	selectorFlight singleflight.Group

	namesMu sync.RWMutex
	names   map[string]string
}

func NewEngine(
	log logrus.FieldLogger,
	config *Config,
	reg *registry.Registry,
	gw gateway.Gateway,
	cache *resolution.Cache,
	st store.Store,
) *Engine {
	return &Engine{
		log:      log.WithField("component", "decoder"),
		config:   config,
		registry: reg,
		gateway:  gw,
		cache:    cache,
		store:    st,
		names:    make(map[string]string),
	}
}

// Sync loads everything persisted in the store: registry entries, attempted
// addresses and contract names. Repeated calls only add what is new.
func (e *Engine) Sync(ctx context.Context) error {
	entries, err := e.store.LoadEntries(ctx)
	if err != nil {
		return err
	}

	added := e.registry.AddEntries(entries)

	if err := e.cache.Load(ctx); err != nil {
		return err
	}

	names, err := e.store.LoadNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to load contract names: %w", err)
	}

	e.setNames(names)

	common.RegistryEntries.Set(float64(e.registry.Len()))
	common.AttemptedAddresses.Set(float64(e.cache.Len()))

	e.log.WithFields(logrus.Fields{
		"added":   added,
		"entries": e.registry.Len(),
		"names":   len(names),
	}).Debug("Synced registry from store")

	return nil
}

// ContractName returns the display name known for address.
func (e *Engine) ContractName(address string) (string, bool) {
	e.namesMu.RLock()
	defer e.namesMu.RUnlock()

	name, ok := e.names[store.NormalizeAddress(address)]

	return name, ok
}

func (e *Engine) setNames(names map[string]string) {
	e.namesMu.Lock()
	defer e.namesMu.Unlock()

	for addr, name := range names {
		e.names[store.NormalizeAddress(addr)] = name
	}
}

// Decode annotates roots. Unknown contract ABIs are fetched first, then
// signatures for the selectors that are still unknown, then the whole tree is
// decoded. Lookup failures only leave the affected nodes undecoded.
func (e *Engine) Decode(ctx context.Context, roots []trace.Node) ([]AnnotatedNode, Report) {
	start := time.Now()
	report := Report{Nodes: trace.Count(roots)}

	common.TraceNodes.Observe(float64(report.Nodes))

	unresolved := Classify(roots, e.registry)
	addresses := e.cache.Filter(unresolved.Addresses)

	report.UnresolvedSelectors = len(unresolved.Selectors)
	report.UnresolvedAddresses = len(addresses)

	common.Unresolved.WithLabelValues("selector").Add(float64(len(unresolved.Selectors)))
	common.Unresolved.WithLabelValues("address").Add(float64(len(addresses)))

	phase := time.Now()
	e.enrichAddresses(ctx, addresses, &report)
	common.DecodeDuration.WithLabelValues("addresses").Observe(time.Since(phase).Seconds())

	phase = time.Now()
	e.enrichSelectors(ctx, Classify(roots, e.registry).Selectors, &report)
	common.DecodeDuration.WithLabelValues("selectors").Observe(time.Since(phase).Seconds())

	phase = time.Now()
	annotated := e.Annotate(roots)
	common.DecodeDuration.WithLabelValues("annotate").Observe(time.Since(phase).Seconds())

	report.Undecoded = Undecoded(annotated)
	report.Duration = time.Since(start)

	common.DecodeDuration.WithLabelValues("total").Observe(report.Duration.Seconds())

	e.log.WithFields(report.Fields()).Debug("Decoded trace")

	return annotated, report
}

// EnrichAddresses looks up the addresses that were never attempted and merges
// what is found, without decoding anything.
func (e *Engine) EnrichAddresses(ctx context.Context, addresses []string) Report {
	normalized := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		normalized = append(normalized, store.NormalizeAddress(addr))
	}

	pending := e.cache.Filter(normalized)
	report := Report{UnresolvedAddresses: len(pending)}

	start := time.Now()
	e.enrichAddresses(ctx, pending, &report)
	report.Duration = time.Since(start)

	return report
}

type addressOutcome struct {
	resolved bool
	learned  int
}

func (e *Engine) enrichAddresses(ctx context.Context, addresses []string, report *Report) {
	if len(addresses) == 0 {
		return
	}

	outcomes := make([]addressOutcome, len(addresses))

	g := new(errgroup.Group)
	g.SetLimit(e.config.Concurrency)

	for i, addr := range addresses {
		g.Go(func() error {
			v, _, _ := e.addressFlight.Do(addr, func() (any, error) {
				return e.lookupAddress(ctx, addr), nil
			})

			outcomes[i], _ = v.(addressOutcome)

			return nil
		})
	}

	_ = g.Wait()

	for _, o := range outcomes {
		if o.resolved {
			report.AddressesResolved++
		}

		report.EntriesLearned += o.learned
	}

	common.RegistryEntries.Set(float64(e.registry.Len()))
	common.AttemptedAddresses.Set(float64(e.cache.Len()))
}

// lookupAddress fetches one address, merges what it learns and marks the
// address attempted before returning, so a later lookup of the same address
// finds it attempted and skips the gateway.
func (e *Engine) lookupAddress(ctx context.Context, addr string) addressOutcome {
	if e.cache.Attempted(addr) {
		return addressOutcome{}
	}

	res := e.gateway.FetchABIAndName(ctx, addr)

	// Learned state is persisted even when the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	log := e.log.WithField("address", addr)

	if !res.OK() {
		if ctx.Err() != nil {
			// Cancelled lookups do not count as attempts.
			return addressOutcome{}
		}

		log.WithError(res.Err).Debug("Address lookup failed")
		e.markAttempted(persistCtx, addr)

		return addressOutcome{}
	}

	out := addressOutcome{resolved: true}

	if len(res.Entries) > 0 {
		out.learned = e.registry.AddEntries(res.Entries)

		common.EntriesLearned.WithLabelValues("etherscan").Add(float64(out.learned))

		if err := e.store.SaveABI(persistCtx, addr, res.Entries); err != nil {
			log.WithError(err).Error("Failed to persist abi")
		}
	}

	if res.Name != "" {
		names := map[string]string{addr: res.Name}

		e.setNames(names)

		if err := e.store.SaveNames(persistCtx, names); err != nil {
			log.WithError(err).Error("Failed to persist contract name")
		}
	}

	e.markAttempted(persistCtx, addr)

	return out
}

func (e *Engine) markAttempted(ctx context.Context, addr string) {
	if err := e.cache.Mark(ctx, addr); err != nil {
		e.log.WithError(err).WithField("address", addr).Error("Failed to persist attempted address")
	}
}

func (e *Engine) enrichSelectors(ctx context.Context, selectors []trace.Selector, report *Report) {
	if len(selectors) == 0 {
		return
	}

	report.SelectorsQueried += len(selectors)

	candidates := make([][]string, len(selectors))

	g := new(errgroup.Group)
	g.SetLimit(e.config.Concurrency)

	for i, sel := range selectors {
		g.Go(func() error {
			v, _, _ := e.selectorFlight.Do(sel.Hex(), func() (any, error) {
				return e.gateway.FetchSignatures(ctx, sel), nil
			})

			// The slice may be shared with other requests and is only read.
			candidates[i], _ = v.([]string)

			return nil
		})
	}

	_ = g.Wait()

	var entries []registry.Entry

	for i, signatures := range candidates {
		report.SignaturesFound += len(signatures)

		for _, sig := range signatures {
			entry, err := registry.Synthesize(sig)
			if err != nil {
				e.log.WithError(err).WithFields(logrus.Fields{
					"selector":  selectors[i].Hex(),
					"signature": sig,
				}).Debug("Skipping unusable signature")

				continue
			}

			entries = append(entries, entry)
		}
	}

	learned := e.registry.Merge(entries)
	report.EntriesLearned += len(learned)

	common.EntriesLearned.WithLabelValues("4byte").Add(float64(len(learned)))
	common.RegistryEntries.Set(float64(e.registry.Len()))

	if len(learned) == 0 {
		return
	}

	if err := e.store.AppendCustom(context.WithoutCancel(ctx), learned); err != nil {
		e.log.WithError(err).Error("Failed to persist synthesized entries")
	}
}
