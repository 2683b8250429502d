package accountinfo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/walletgraph/service/metrics"
)

const (
	// DefaultBatchSize is the getMultipleAccounts limit.
	DefaultBatchSize  = 100
	DefaultBatchDelay = 100 * time.Millisecond
)

// Source looks up account type tags for a batch of addresses. The result is
// positionally aligned with addrs.
type Source interface {
	AccountTypes(ctx context.Context, addrs []string) ([]string, error)
}

// Options configures batching.
type Options struct {
	BatchSize  int
	BatchDelay time.Duration
}

// Resolver resolves account info through a memory cache, an optional
// persistent store and finally the network. It is safe for concurrent use.
type Resolver struct {
	source  Source
	cache   Cache
	store   Store
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewResolver creates a Resolver. cache defaults to a MemoryCache; store may
// be nil.
func NewResolver(source Source, cache Cache, store Store, opts Options, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source:  source,
		cache:   cache,
		store:   store,
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

// Resolve returns account info for every address in addrs. A failed batch is
// cached as unknown and valid instead of failing the call; only context
// cancellation is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, addrs []string, progress func(string)) (map[string]AccountInfo, error) {
	unique := dedupe(addrs)
	out := make(map[string]AccountInfo, len(unique))
	if len(unique) == 0 {
		return out, nil
	}

	notify(progress, fmt.Sprintf("Analyzing %d wallets...", len(unique)))

	cached := r.cache.GetMany(unique)
	for a, info := range cached {
		out[a] = info
	}
	misses := missing(unique, out)
	r.recordLookup("memory", len(cached), len(misses))

	if len(misses) > 0 && r.store != nil {
		stored, err := r.store.GetAccountInfos(ctx, misses)
		if err != nil {
			r.logger.WarnContext(ctx, "account info store lookup failed", "count", len(misses), "error", err)
		} else {
			r.cache.SetMany(stored)
			for a, info := range stored {
				out[a] = info
			}
			before := len(misses)
			misses = missing(misses, out)
			r.recordLookup("store", before-len(misses), len(misses))
		}
	}

	if len(misses) == 0 {
		return out, nil
	}

	batches := chunk(misses, r.opts.BatchSize)
	for i, batch := range batches {
		if i > 0 && r.opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.opts.BatchDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		notify(progress, fmt.Sprintf("Checking wallets batch %d/%d...", i+1, len(batches)))

		entries, err := r.resolveBatch(ctx, batch)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.WarnContext(ctx, "account info batch failed, treating addresses as wallets",
				"batch", i+1,
				"size", len(batch),
				"error", err,
			)
			r.recordBatch("error")
			entries = make(map[string]AccountInfo, len(batch))
			for _, a := range batch {
				entries[a] = Unknown()
			}
			r.cache.SetMany(entries)
		} else {
			r.recordBatch("success")
			r.cache.SetMany(entries)
			r.persist(ctx, entries)
		}

		for a, info := range entries {
			out[a] = info
		}
	}

	return out, nil
}

// ClearCache drops every in-process entry.
func (r *Resolver) ClearCache() {
	r.cache.Clear()
}

func (r *Resolver) resolveBatch(ctx context.Context, batch []string) (map[string]AccountInfo, error) {
	types, err := r.source.AccountTypes(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(types) != len(batch) {
		return nil, fmt.Errorf("account source returned %d results for %d addresses", len(types), len(batch))
	}
	entries := make(map[string]AccountInfo, len(batch))
	for i, a := range batch {
		entries[a] = FromType(types[i])
	}
	return entries, nil
}

func (r *Resolver) persist(ctx context.Context, entries map[string]AccountInfo) {
	if r.store == nil {
		return
	}
	if err := r.store.PutAccountInfos(ctx, entries); err != nil {
		r.logger.WarnContext(ctx, "failed to persist account info", "count", len(entries), "error", err)
	}
}

func (r *Resolver) recordBatch(status string) {
	if r.metrics != nil {
		r.metrics.RecordAccountBatch(status)
	}
}

func (r *Resolver) recordLookup(layer string, hits, misses int) {
	if r.metrics != nil {
		r.metrics.RecordAccountCacheLookup(layer, hits, misses)
	}
}

func dedupe(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func missing(addrs []string, have map[string]AccountInfo) []string {
	var out []string
	for _, a := range addrs {
		if _, ok := have[a]; !ok {
			out = append(out, a)
		}
	}
	return out
}

func chunk(addrs []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(addrs); start += size {
		end := min(start+size, len(addrs))
		out = append(out, addrs[start:end])
	}
	return out
}

func notify(progress func(string), msg string) {
	if progress != nil {
		progress(msg)
	}
}
