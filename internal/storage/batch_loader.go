package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/qrlew/qrlew-go/internal/dataset"
	"github.com/qrlew/qrlew-go/internal/privacy"
)

// Opened is a loaded bundle with its decoded documents.
type Opened struct {
	Bundle  *Bundle
	Dataset *dataset.Dataset
	Unit    *privacy.PrivacyUnit
}

// BatchLoader loads and decodes bundles in parallel and keeps the decoded
// datasets in memory.
type BatchLoader struct {
	store       *Store
	concurrency int

	mu    sync.RWMutex
	cache map[string]*Opened
}

// BatchResult contains the outcome of a batch load.
type BatchResult struct {
	Bundles   map[string]*Opened
	Errors    map[string]error
	CacheHits int
	Loads     int
}

// NewBatchLoader creates a loader reading from store with at most
// concurrency loads in flight.
func NewBatchLoader(store *Store, concurrency int) *BatchLoader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchLoader{
		store:       store,
		concurrency: concurrency,
		cache:       make(map[string]*Opened),
	}
}

// Get returns the bundle called name, from the cache when present.
func (b *BatchLoader) Get(ctx context.Context, name string) (*Opened, error) {
	if o, ok := b.cached(name); ok {
		return o, nil
	}
	o, err := b.open(ctx, name)
	if err != nil {
		return nil, err
	}
	b.put(name, o)
	return o, nil
}

// Load opens every named bundle. Failures are reported per name; the
// returned error is only set when ctx ends before all loads were started.
func (b *BatchLoader) Load(ctx context.Context, names []string) (*BatchResult, error) {
	result := &BatchResult{
		Bundles: make(map[string]*Opened),
		Errors:  make(map[string]error),
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var queue []string
	for i, name := range sorted {
		if i > 0 && sorted[i-1] == name {
			continue
		}
		if o, ok := b.cached(name); ok {
			result.Bundles[name] = o
			result.CacheHits++
			continue
		}
		queue = append(queue, name)
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, name := range queue {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return result, err
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return result, fmt.Errorf("load %s: %w", name, err)
		}

		wg.Add(1)
		go func(name string) {
			defer sem.Release(1)
			defer wg.Done()

			o, err := b.open(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[name] = err
				return
			}
			b.put(name, o)
			result.Bundles[name] = o
			result.Loads++
		}(name)
	}

	wg.Wait()
	return result, nil
}

// LoadAll opens every stored bundle.
func (b *BatchLoader) LoadAll(ctx context.Context) (*BatchResult, error) {
	names, err := b.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return b.Load(ctx, names)
}

// Invalidate drops name from the cache.
func (b *BatchLoader) Invalidate(name string) {
	b.mu.Lock()
	delete(b.cache, name)
	b.mu.Unlock()
}

func (b *BatchLoader) open(ctx context.Context, name string) (*Opened, error) {
	bundle, err := b.store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	ds, pu, err := bundle.Open()
	if err != nil {
		return nil, err
	}
	return &Opened{Bundle: bundle, Dataset: ds, Unit: pu}, nil
}

func (b *BatchLoader) cached(name string) (*Opened, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.cache[name]
	return o, ok
}

func (b *BatchLoader) put(name string, o *Opened) {
	b.mu.Lock()
	b.cache[name] = o
	b.mu.Unlock()
}
