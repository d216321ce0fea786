package versioning

import (
	"context"
	"sync"
)

// Registry maps live transactions to their aggregators.
type Registry struct {
	aggregators sync.Map // Transaction -> *Aggregator
	observer    Observer
}

// NewRegistry returns an empty registry. A nil o disables reporting.
func NewRegistry(o Observer) *Registry {
	if o == nil {
		o = nopObserver{}
	}
	return &Registry{observer: o}
}

// Get returns the aggregator of tx, creating it on first use.
// The creating caller attaches the flush to tx's before-commit hook and the removal to its completion hook,
// and follows tx's savepoints when tx is a Savepointer.
func (r *Registry) Get(tx Transaction) *Aggregator {
	if v, ok := r.aggregators.Load(tx); ok {
		return v.(*Aggregator)
	}

	fresh := NewAggregator(r.observer)
	v, loaded := r.aggregators.LoadOrStore(tx, fresh)
	agg := v.(*Aggregator)
	if loaded {
		return agg
	}

	r.observer.AggregatorOpened()
	tx.OnBeforeCommit(func(ctx context.Context) error {
		return agg.Flush(ctx, tx)
	})
	if sp, ok := tx.(Savepointer); ok {
		sp.OnSavepoint(agg.Mark, agg.RollbackTo)
	}
	tx.OnCompletion(func(committed bool) {
		r.aggregators.Delete(tx)
		r.observer.AggregatorClosed(committed)
	})
	return agg
}

// Lookup returns the aggregator of tx without creating one.
func (r *Registry) Lookup(tx Transaction) (*Aggregator, bool) {
	v, ok := r.aggregators.Load(tx)
	if !ok {
		return nil, false
	}
	return v.(*Aggregator), true
}

// Len returns the number of live aggregators.
func (r *Registry) Len() int {
	n := 0
	r.aggregators.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
