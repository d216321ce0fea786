package versioning

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"actsasversioned/pkg/logger"
)

// AggregatorState is the lifecycle state of an Aggregator.
type AggregatorState uint8

const (
	StateEmpty AggregatorState = iota
	StateAccumulating
	StateFlushed
)

func (s AggregatorState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	case StateFlushed:
		return "flushed"
	default:
		return "unknown"
	}
}

// Aggregator collects the work units of one transaction, one per tracked instance.
// It is not safe for concurrent use; a transaction adds work units from a single flow.
type Aggregator struct {
	units    map[HistoryKey]WorkUnit
	order    []HistoryKey
	state    AggregatorState
	marks    []mark
	observer Observer
}

// mark is the aggregator's content when a savepoint was taken.
type mark struct {
	name  string
	units map[HistoryKey]WorkUnit
	order []HistoryKey
}

// NewAggregator returns an empty aggregator reporting to o. A nil o disables reporting.
func NewAggregator(o Observer) *Aggregator {
	if o == nil {
		o = nopObserver{}
	}
	return &Aggregator{
		units:    make(map[HistoryKey]WorkUnit),
		observer: o,
	}
}

// State returns the aggregator's lifecycle state.
func (a *Aggregator) State() AggregatorState {
	return a.state
}

// Len returns the number of distinct instances queued.
func (a *Aggregator) Len() int {
	return len(a.units)
}

// Pending returns the queued work unit for key.
func (a *Aggregator) Pending(key HistoryKey) (WorkUnit, bool) {
	w, ok := a.units[key]
	return w, ok
}

// Add queues w, merging it into any work unit already queued for the same instance.
func (a *Aggregator) Add(w WorkUnit) error {
	if a.state == StateFlushed {
		return ErrAggregatorFlushed
	}

	key := w.Key()
	if first, ok := a.units[key]; ok {
		merged, err := Merge(first, w)
		if err != nil {
			return err
		}
		a.units[key] = merged
	} else {
		a.units[key] = w
		a.order = append(a.order, key)
	}

	a.state = StateAccumulating
	a.observer.WorkUnitQueued(w.Entity.Name, w.Op)
	return nil
}

// Mark records the queued work units under the savepoint name.
func (a *Aggregator) Mark(name string) {
	if a.state == StateFlushed {
		return
	}
	a.marks = append(a.marks, mark{name: name, units: maps.Clone(a.units), order: slices.Clone(a.order)})
}

// RollbackTo discards the work units queued since the savepoint name was marked, and every
// mark taken after it. A name the aggregator never marked predates it, so everything is discarded.
func (a *Aggregator) RollbackTo(name string) {
	if a.state == StateFlushed {
		return
	}

	restored := mark{units: make(map[HistoryKey]WorkUnit)}
	kept := 0
	for i := len(a.marks) - 1; i >= 0; i-- {
		if a.marks[i].name == name {
			restored = a.marks[i]
			kept = i + 1
			break
		}
	}
	a.marks = a.marks[:kept]
	a.units = maps.Clone(restored.units)
	a.order = slices.Clone(restored.order)

	a.state = StateAccumulating
	if len(a.order) == 0 {
		a.state = StateEmpty
	}
}

// Flush writes one history row per queued instance that requires one, in first-seen order.
// It stops at the first failed write.
func (a *Aggregator) Flush(ctx context.Context, tx Transaction) (err error) {
	if a.state == StateFlushed {
		return ErrAggregatorFlushed
	}
	a.state = StateFlushed

	start := time.Now()
	defer func() {
		a.observer.FlushObserved(time.Since(start), err)
	}()

	for _, key := range a.order {
		w := a.units[key]
		row, ok, err := w.Row()
		if err != nil {
			logger.Error("invalid work unit in flush", zap.String("table", key.Table), zap.Error(err))
			return err
		}
		if !ok {
			a.observer.RowSkipped(key.Table)
			continue
		}
		if err := tx.InsertRow(ctx, key.Table, w.Entity.ColumnValues(row)); err != nil {
			logger.Error("failed to write history row",
				zap.String("table", key.Table),
				zap.Any("id", w.ID),
				zap.Error(err))
			return fmt.Errorf("write %s row for %v: %w", key.Table, w.ID, err)
		}
		a.observer.RowWritten(key.Table)
	}
	return nil
}
