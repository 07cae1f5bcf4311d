package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var hybridTracer = otel.Tracer("searchd.vectorindex.hybrid")

// ErrOverloaded is returned when a modality's search pool and its wait
// queue are both saturated.
var ErrOverloaded = errors.New("vector search pool overloaded")

// ErrAllModalitiesFailed is returned when every requested modality search
// failed; partial failures are reported via HybridResult.Failed instead.
var ErrAllModalitiesFailed = errors.New("all modality searches failed")

// HybridConfig configures the cross-modality fan-out.
type HybridConfig struct {
	// Collections maps modality name to collection name. Map order is
	// irrelevant; Priority fixes the tie-break order.
	Collections map[string]string
	// Priority is the stable modality ordering used for score ties.
	Priority []string
	// SearchTimeout bounds each per-modality search.
	SearchTimeout time.Duration
	// ConcurrencyPerModality bounds in-flight searches per modality.
	// Waiters queue up to 2x this bound, then fail with ErrOverloaded.
	ConcurrencyPerModality int
}

func (c *HybridConfig) applyDefaults() {
	if c.SearchTimeout == 0 {
		c.SearchTimeout = 2 * time.Second
	}
	if c.ConcurrencyPerModality == 0 {
		c.ConcurrencyPerModality = 32
	}
}

// HybridResult carries merged hits plus per-modality failure reporting.
type HybridResult struct {
	Hits []Hit
	// Failed lists modalities whose search errored. An empty collection
	// is not a failure.
	Failed []string
}

// Hybrid fans a query vector out across per-modality collections.
type Hybrid struct {
	index    Index
	config   HybridConfig
	priority map[string]int
	pools    map[string]*SlotPool
}

// NewHybrid wraps an Index with modality fan-out.
func NewHybrid(index Index, config HybridConfig) (*Hybrid, error) {
	config.applyDefaults()
	if len(config.Collections) == 0 {
		return nil, fmt.Errorf("%w: no collections configured", ErrInvalidConfig)
	}
	if len(config.Priority) != len(config.Collections) {
		return nil, fmt.Errorf("%w: priority list must cover every modality", ErrInvalidConfig)
	}

	priority := make(map[string]int, len(config.Priority))
	pools := make(map[string]*SlotPool, len(config.Priority))
	for i, m := range config.Priority {
		if _, ok := config.Collections[m]; !ok {
			return nil, fmt.Errorf("%w: priority modality %q has no collection", ErrInvalidConfig, m)
		}
		priority[m] = i
		pools[m] = NewSlotPool(config.ConcurrencyPerModality, 2*config.ConcurrencyPerModality)
	}

	return &Hybrid{index: index, config: config, priority: priority, pools: pools}, nil
}

// Modalities returns the configured modality names in priority order.
func (h *Hybrid) Modalities() []string {
	out := make([]string, len(h.config.Priority))
	copy(out, h.config.Priority)
	return out
}

// Collection returns the collection backing a modality, or "".
func (h *Hybrid) Collection(modality string) string {
	return h.config.Collections[modality]
}

// Index returns the wrapped single-collection index.
func (h *Hybrid) Index() Index { return h.index }

// SearchHybrid searches every requested modality in parallel and merges the
// hits into one list ordered by (-score, modality priority, embedding id).
//
// A failing modality is dropped and reported in HybridResult.Failed; only
// when every modality fails does SearchHybrid return an error.
func (h *Hybrid) SearchHybrid(ctx context.Context, vector []float32, limit int, modalities []string, scoreFloor float32, filter *Filter) (*HybridResult, error) {
	ctx, span := hybridTracer.Start(ctx, "Hybrid.SearchHybrid")
	defer span.End()
	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.StringSlice("modalities", modalities),
	)

	if len(modalities) == 0 {
		modalities = h.Modalities()
	}
	for _, m := range modalities {
		if _, ok := h.config.Collections[m]; !ok {
			return nil, fmt.Errorf("%w: unknown modality %q", ErrInvalidConfig, m)
		}
	}

	type modalityOutcome struct {
		modality string
		hits     []Hit
		err      error
	}

	var wg sync.WaitGroup
	outcomes := make([]modalityOutcome, len(modalities))
	for i, modality := range modalities {
		wg.Add(1)
		go func(i int, modality string) {
			defer wg.Done()
			outcomes[i] = modalityOutcome{modality: modality}
			outcomes[i].hits, outcomes[i].err = h.searchOne(ctx, modality, vector, limit, scoreFloor, filter)
		}(i, modality)
	}
	wg.Wait()

	result := &HybridResult{}
	merged := make([]Hit, 0, limit*len(modalities))
	overloaded := false
	for _, o := range outcomes {
		if o.err != nil {
			result.Failed = append(result.Failed, o.modality)
			overloaded = overloaded || errors.Is(o.err, ErrOverloaded)
			continue
		}
		merged = append(merged, o.hits...)
	}
	if len(result.Failed) == len(modalities) {
		span.SetStatus(codes.Error, "all modalities failed")
		if overloaded {
			return nil, ErrOverloaded
		}
		// When the caller's deadline expired the per-modality errors are
		// all context errors; surface that instead of a generic failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("all modality searches failed: %w", ctxErr)
		}
		return nil, ErrAllModalitiesFailed
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		pi, pj := h.priority[merged[i].Modality], h.priority[merged[j].Modality]
		if pi != pj {
			return pi < pj
		}
		return merged[i].EmbeddingID < merged[j].EmbeddingID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	result.Hits = merged

	span.SetAttributes(
		attribute.Int("hit_count", len(result.Hits)),
		attribute.StringSlice("failed_modalities", result.Failed),
	)
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

// searchOne runs one modality search under its pool and timeout.
func (h *Hybrid) searchOne(ctx context.Context, modality string, vector []float32, limit int, scoreFloor float32, filter *Filter) ([]Hit, error) {
	release, err := h.pools[modality].Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, h.config.SearchTimeout)
	defer cancel()

	hits, err := h.index.Search(ctx, h.config.Collections[modality], vector, limit, scoreFloor, filter)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Modality = modality
	}
	return hits, nil
}
