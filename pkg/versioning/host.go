package versioning

import (
	"context"
	"reflect"
)

// Options overrides the defaults of a tracked entity's history table.
// Empty values fall back to the derived defaults.
type Options struct {
	Table     string
	RefField  string
	RefColumn string
}

// Versioned is implemented by entities whose changes are recorded in a history table.
type Versioned interface {
	ActsAsVersioned() Options
}

// FieldKind classifies a field of an entity descriptor.
type FieldKind uint8

const (
	KindScalar FieldKind = iota
	KindReference
	KindComposite
	KindCollection
)

// FieldDescriptor describes one field of an entity as the host sees it.
type FieldDescriptor struct {
	Name   string
	Column string
	Type   reflect.Type
	Kind   FieldKind

	// Target is the referenced entity kind for KindReference fields.
	Target string

	// ColumnPrefix and Fields describe KindComposite fields.
	ColumnPrefix string
	Fields       []FieldDescriptor

	NotTracked bool
	AutoUpdate bool
}

// EntityDescriptor describes one entity kind as the host sees it.
type EntityDescriptor struct {
	Name    string
	Tracked bool
	Options Options

	Abstract      bool
	Discriminated bool
	HasSubclasses bool

	Identity *FieldDescriptor
	Fields   []FieldDescriptor

	// VersionField names the optimistic-lock counter, if the entity has one.
	VersionField string
}

// State gives access to an entity instance's field values.
type State interface {
	// Value returns the value found by walking path through composite fields.
	Value(path []string) any
}

// Event is a lifecycle notification from the host.
type Event struct {
	Context context.Context
	Op      Op
	Entity  string
	ID      any

	// State is the post-operation state for inserts and updates.
	State State
	// OldState is the pre-operation state for updates and the pre-deletion state for deletes.
	OldState State

	// Tx is nil when the operation ran outside a transaction.
	Tx Transaction
}

// Handler receives lifecycle events. A returned error fails the host operation.
type Handler func(Event) error

// Transaction is the host's handle on one open transaction.
// Implementations must be comparable; the registry keys aggregators by handle.
type Transaction interface {
	// OnBeforeCommit registers fn to run immediately before the transaction commits.
	// An error from fn aborts the commit.
	OnBeforeCommit(fn func(ctx context.Context) error)
	// OnCompletion registers fn to run after the transaction commits or rolls back.
	OnCompletion(fn func(committed bool))
	// InsertRow inserts values, keyed by column name, into table within the transaction.
	InsertRow(ctx context.Context, table string, values map[string]any) error
}

// Savepointer is implemented by transactions that can roll back to a savepoint.
type Savepointer interface {
	// OnSavepoint registers mark to run when a savepoint is taken and rollbackTo to run
	// when the transaction rolls back to one.
	OnSavepoint(mark func(name string), rollbackTo func(name string))
}

// IdentityResolver turns a reference value into the referenced entity's identifier.
type IdentityResolver interface {
	IdentityOf(ctx context.Context, entity string, ref any) (any, error)
}

// Host is the persistence layer the engine attaches to.
type Host interface {
	IdentityResolver

	Entities() []EntityDescriptor
	RegisterHistorySchema(schema HistorySchema) error
	Subscribe(op Op, h Handler) (unsubscribe func(), err error)
}
