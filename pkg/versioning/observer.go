package versioning

import "time"

// Observer receives engine activity, typically to export metrics.
type Observer interface {
	WorkUnitQueued(entity string, op Op)
	RowWritten(table string)
	RowSkipped(table string)
	FlushObserved(d time.Duration, err error)
	AggregatorOpened()
	AggregatorClosed(committed bool)
}

type nopObserver struct{}

func (nopObserver) WorkUnitQueued(string, Op) {}
func (nopObserver) RowWritten(string) {}
func (nopObserver) RowSkipped(string) {}
func (nopObserver) FlushObserved(time.Duration, error) {}
func (nopObserver) AggregatorOpened() {}
func (nopObserver) AggregatorClosed(bool) {}
