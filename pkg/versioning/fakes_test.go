package versioning

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

var (
	uintType   = reflect.TypeOf(uint(0))
	stringType = reflect.TypeOf("")
	boolType   = reflect.TypeOf(false)
	intType    = reflect.TypeOf(0)
)

func authorDescriptor() EntityDescriptor {
	return EntityDescriptor{
		Name:     "Author",
		Tracked:  true,
		Identity: &FieldDescriptor{Name: "ID", Column: "id", Type: uintType},
		Fields: []FieldDescriptor{
			{Name: "Name", Column: "name", Type: stringType},
			{
				Name:         "HomeAddress",
				Kind:         KindComposite,
				ColumnPrefix: "home_",
				Fields: []FieldDescriptor{
					{Name: "Line1", Column: "line1", Type: stringType},
					{Name: "Postcode", Column: "postcode", Type: stringType},
				},
			},
			{Name: "Books", Kind: KindCollection, Target: "Book"},
		},
	}
}

func bookDescriptor() EntityDescriptor {
	return EntityDescriptor{
		Name:         "Book",
		Tracked:      true,
		Identity:     &FieldDescriptor{Name: "ID", Column: "id", Type: uintType},
		VersionField: "LockVersion",
		Fields: []FieldDescriptor{
			{Name: "Author", Column: "author_id", Kind: KindReference, Target: "Author", Type: reflect.TypeOf(int64(0))},
			{Name: "Title", Column: "title", Type: stringType},
			{Name: "Published", Column: "published", Type: boolType},
			{Name: "NotVersioned", Column: "not_versioned", Type: intType, NotTracked: true},
			{Name: "LockVersion", Column: "lock_version", Type: intType},
			{Name: "AutoUpdate", Column: "auto_update", Type: intType, AutoUpdate: true},
		},
	}
}

func publisherDescriptor() EntityDescriptor {
	return EntityDescriptor{
		Name:     "Publisher",
		Identity: &FieldDescriptor{Name: "ID", Column: "id", Type: uintType},
		Fields:   []FieldDescriptor{{Name: "Name", Column: "name", Type: stringType}},
	}
}

// mapState resolves paths through nested maps.
type mapState map[string]any

func (s mapState) Value(path []string) any {
	var cur any = map[string]any(s)
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

// ref stands in for a loaded entity held by a reference field.
type ref struct{ ID uint }

type memHost struct {
	mu        sync.Mutex
	entities  []EntityDescriptor
	schemas   []HistorySchema
	handlers  map[Op]map[int]Handler
	nextID    int
	committed map[string][]map[string]any
}

func newMemHost(entities ...EntityDescriptor) *memHost {
	return &memHost{
		entities:  entities,
		handlers:  make(map[Op]map[int]Handler),
		committed: make(map[string][]map[string]any),
	}
}

func (h *memHost) Entities() []EntityDescriptor { return h.entities }

func (h *memHost) RegisterHistorySchema(s HistorySchema) error {
	h.schemas = append(h.schemas, s)
	return nil
}

func (h *memHost) Subscribe(op Op, handler Handler) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handlers[op] == nil {
		h.handlers[op] = make(map[int]Handler)
	}
	id := h.nextID
	h.nextID++
	h.handlers[op][id] = handler
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.handlers[op], id)
	}, nil
}

func (h *memHost) IdentityOf(_ context.Context, _ string, v any) (any, error) {
	if r, ok := v.(ref); ok {
		return r.ID, nil
	}
	return v, nil
}

func (h *memHost) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.handlers {
		n += len(m)
	}
	return n
}

func (h *memHost) emit(ev Event) error {
	h.mu.Lock()
	handlers := make([]Handler, 0, len(h.handlers[ev.Op]))
	for _, hd := range h.handlers[ev.Op] {
		handlers = append(handlers, hd)
	}
	h.mu.Unlock()
	for _, hd := range handlers {
		if err := hd(ev); err != nil {
			return err
		}
	}
	return nil
}

func (h *memHost) rows(table string) []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.committed[table]
}

func (h *memHost) begin() *memTx {
	return &memTx{host: h}
}

type memTx struct {
	host         *memHost
	beforeCommit []func(context.Context) error
	completion   []func(bool)
	written      []writtenRow
	failInsert   error
	marks        []func(string)
	rollbacks    []func(string)
}

type writtenRow struct {
	table  string
	values map[string]any
}

func (t *memTx) OnBeforeCommit(fn func(context.Context) error) {
	t.beforeCommit = append(t.beforeCommit, fn)
}

func (t *memTx) OnCompletion(fn func(bool)) {
	t.completion = append(t.completion, fn)
}

func (t *memTx) OnSavepoint(mark, rollbackTo func(string)) {
	t.marks = append(t.marks, mark)
	t.rollbacks = append(t.rollbacks, rollbackTo)
}

func (t *memTx) savepoint(name string) {
	for _, fn := range t.marks {
		fn(name)
	}
}

func (t *memTx) rollbackTo(name string) {
	for _, fn := range t.rollbacks {
		fn(name)
	}
}

func (t *memTx) InsertRow(_ context.Context, table string, values map[string]any) error {
	if t.failInsert != nil {
		return t.failInsert
	}
	t.written = append(t.written, writtenRow{table: table, values: values})
	return nil
}

func (t *memTx) commit(ctx context.Context) error {
	for _, fn := range t.beforeCommit {
		if err := fn(ctx); err != nil {
			t.rollback()
			return err
		}
	}
	t.host.mu.Lock()
	for _, w := range t.written {
		t.host.committed[w.table] = append(t.host.committed[w.table], w.values)
	}
	t.host.mu.Unlock()
	t.complete(true)
	return nil
}

func (t *memTx) rollback() {
	t.written = nil
	t.complete(false)
}

func (t *memTx) complete(committed bool) {
	for _, fn := range t.completion {
		fn(committed)
	}
}

var errInsertFailed = errors.New("insert failed")
