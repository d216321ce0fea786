package versioning

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"reflect"
	"time"
)

// Op is a lifecycle operation on an entity instance.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Snapshot holds tracked field values keyed by field name. References are already resolved to identifiers.
type Snapshot map[string]any

// Clone returns a shallow copy of s.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	c := make(Snapshot, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Row is one history row keyed by field name: the reference field plus every tracked field.
type Row map[string]any

// HistoryKey identifies one tracked instance within a transaction.
type HistoryKey struct {
	Table string
	ID    any
}

// WorkUnit is the pending net effect of a transaction on one tracked instance.
//
// OldState is the pre-update state for OpUpdate and the deleted state for OpDelete.
// NewState is set for OpInsert and OpUpdate.
type WorkUnit struct {
	Op       Op
	Entity   *TrackedEntity
	ID       any
	OldState Snapshot
	NewState Snapshot
}

// NewInsert returns the work unit of a freshly inserted instance.
func NewInsert(te *TrackedEntity, id any, state Snapshot) WorkUnit {
	return WorkUnit{Op: OpInsert, Entity: te, ID: id, NewState: state.Clone()}
}

// NewUpdate returns the work unit of an updated instance.
func NewUpdate(te *TrackedEntity, id any, oldState, newState Snapshot) WorkUnit {
	return WorkUnit{Op: OpUpdate, Entity: te, ID: id, OldState: oldState.Clone(), NewState: newState.Clone()}
}

// NewDelete returns the work unit of a deleted instance.
func NewDelete(te *TrackedEntity, id any, deleted Snapshot) WorkUnit {
	return WorkUnit{Op: OpDelete, Entity: te, ID: id, OldState: deleted.Clone()}
}

// Key returns the aggregation key of w.
func (w WorkUnit) Key() HistoryKey {
	return HistoryKey{Table: w.Entity.Table, ID: comparableID(w.ID)}
}

func comparableID(id any) any {
	if id == nil {
		return nil
	}
	if reflect.TypeOf(id).Comparable() {
		return id
	}
	return fmt.Sprint(id)
}

// Merge combines first with the chronologically later second for the same instance.
func Merge(first, second WorkUnit) (WorkUnit, error) {
	switch second.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return WorkUnit{}, fmt.Errorf("%w: %s", ErrUnknownWorkUnit, second.Op)
	}

	switch first.Op {
	case OpInsert:
		if second.Op == OpUpdate {
			merged := first
			merged.NewState = second.NewState.Clone()
			return merged, nil
		}
		return second, nil

	case OpUpdate:
		switch second.Op {
		case OpInsert:
			return WorkUnit{}, fmt.Errorf("%w: insert after update of %s %v", ErrProtocolViolation, first.Entity.Name, first.ID)
		case OpUpdate:
			merged := first
			merged.NewState = second.NewState.Clone()
			return merged, nil
		}
		return second, nil

	case OpDelete:
		switch second.Op {
		case OpInsert:
			return WorkUnit{}, fmt.Errorf("%w: insert after delete of %s %v", ErrProtocolViolation, first.Entity.Name, first.ID)
		case OpUpdate:
			merged := second
			merged.OldState = first.OldState.Clone()
			return merged, nil
		}
		return second, nil
	}

	return WorkUnit{}, fmt.Errorf("%w: %s", ErrUnknownWorkUnit, first.Op)
}

// Row materializes the history row of w. It reports false when no row is required.
// A work unit with an unknown Op fails with ErrUnknownWorkUnit.
func (w WorkUnit) Row() (Row, bool, error) {
	te := w.Entity
	row := make(Row, len(te.Fields)+1)
	row[te.RefField] = w.ID

	switch w.Op {
	case OpInsert:
		for _, f := range te.Fields {
			row[f.Name] = w.NewState[f.Name]
		}
		return row, true, nil

	case OpDelete:
		for _, f := range te.Fields {
			row[f.Name] = nil
		}
		return row, true, nil

	case OpUpdate:
		changed := false
		for _, f := range te.Fields {
			v := w.NewState[f.Name]
			if !f.AutoUpdate && !Equal(w.OldState[f.Name], v) {
				changed = true
			}
			row[f.Name] = v
		}
		if !changed {
			return nil, false, nil
		}
		return row, true, nil
	}

	return nil, false, fmt.Errorf("%w: %s %s %v", ErrUnknownWorkUnit, w.Op, te.Name, w.ID)
}

// Equal reports whether two field values are equal for diffing purposes.
// nil equals only nil; pointers are dereferenced.
func Equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	}

	return reflect.DeepEqual(a, b)
}

func normalize(v any) any {
	for i := 0; i < 8; i++ {
		if v == nil {
			return nil
		}
		if valuer, ok := v.(driver.Valuer); ok {
			rv := reflect.ValueOf(v)
			if rv.Kind() == reflect.Pointer && rv.IsNil() {
				return nil
			}
			dv, err := valuer.Value()
			if err != nil {
				return v
			}
			if _, again := dv.(driver.Valuer); again {
				return dv
			}
			v = dv
			continue
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		v = rv.Elem().Interface()
	}
	return v
}
