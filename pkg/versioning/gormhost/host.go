// Package gormhost attaches the versioning engine to GORM.
//
// Entities opt in by implementing versioning.Versioned. Every write to a tracked entity must run
// inside a transaction the Host knows about: one opened with Host.Begin or Host.Transaction, or
// GORM's own per-statement default transaction.
//
// Open explicit transactions with Host.Transaction instead of gorm.DB.Transaction. The Host cannot
// see a transaction GORM opened on its own behalf, so writes inside one fail with
// ErrForeignTransaction. Nested tx.Transaction calls inside a Host transaction are fine: a
// rolled back savepoint discards the history queued since it was taken.
package gormhost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"actsasversioned/pkg/logger"
	"actsasversioned/pkg/versioning"
)

// ErrForeignTransaction reports a tracked write inside a transaction the Host did not open.
var ErrForeignTransaction = errors.New("gormhost: transaction not opened by Host.Begin or Host.Transaction")

type subscription struct {
	id int
	h  versioning.Handler
}

// Host implements versioning.Host on top of a *gorm.DB.
type Host struct {
	db        *gorm.DB
	dialector gorm.Dialector
	prefix    string

	entities map[string]*entity
	order    []*entity

	mu      sync.RWMutex
	subs    map[versioning.Op][]subscription
	nextSub int
	schemas []versioning.HistorySchema

	txns sync.Map // gorm.ConnPool -> *Txn
}

var _ versioning.Host = (*Host)(nil)

// New parses models with db's schema cache and installs the lifecycle callbacks on db.
func New(db *gorm.DB, models ...any) (*Host, error) {
	h := &Host{
		db:       db,
		prefix:   "versioning:" + uuid.NewString()[:8] + ":",
		entities: make(map[string]*entity),
		subs:     make(map[versioning.Op][]subscription),
	}

	for _, model := range models {
		sch, err := h.parse(model)
		if err != nil {
			return nil, fmt.Errorf("gormhost: parse %T: %w", model, err)
		}
		if _, dup := h.entities[sch.Name]; dup {
			return nil, fmt.Errorf("gormhost: entity %s registered twice", sch.Name)
		}
		ent := describe(sch)
		h.entities[sch.Name] = ent
		h.order = append(h.order, ent)
	}
	markHierarchy(h.order)

	if err := h.registerCallbacks(); err != nil {
		h.removeCallbacks()
		return nil, fmt.Errorf("gormhost: register callbacks: %w", err)
	}
	h.wrapDialector()
	return h, nil
}

func (h *Host) parse(model any) (*schema.Schema, error) {
	stmt := &gorm.Statement{DB: h.db}
	if err := stmt.Parse(model); err != nil {
		return nil, err
	}
	return stmt.Schema, nil
}

// DB returns the database the host is attached to.
func (h *Host) DB() *gorm.DB {
	return h.db
}

func (h *Host) Entities() []versioning.EntityDescriptor {
	descs := make([]versioning.EntityDescriptor, 0, len(h.order))
	for _, ent := range h.order {
		descs = append(descs, ent.desc)
	}
	return descs
}

func (h *Host) RegisterHistorySchema(s versioning.HistorySchema) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.schemas {
		if existing.Table == s.Table {
			return fmt.Errorf("gormhost: history table %s already registered for %s", s.Table, existing.Entity)
		}
	}
	h.schemas = append(h.schemas, s)
	return nil
}

// HistorySchemas returns the registered history table descriptions.
func (h *Host) HistorySchemas() []versioning.HistorySchema {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]versioning.HistorySchema(nil), h.schemas...)
}

func (h *Host) Subscribe(op versioning.Op, handler versioning.Handler) (func(), error) {
	switch op {
	case versioning.OpInsert, versioning.OpUpdate, versioning.OpDelete:
	default:
		return nil, fmt.Errorf("gormhost: cannot subscribe to %s", op)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	h.subs[op] = append(h.subs[op], subscription{id: id, h: handler})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subs[op]
		for i, s := range subs {
			if s.id == id {
				h.subs[op] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}, nil
}

func (h *Host) handlers(op versioning.Op) []versioning.Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]versioning.Handler, 0, len(h.subs[op]))
	for _, s := range h.subs[op] {
		out = append(out, s.h)
	}
	return out
}

func (h *Host) subscribed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, subs := range h.subs {
		if len(subs) > 0 {
			return true
		}
	}
	return false
}

// IdentityOf returns the primary key of a loaded entity struct; any other value is already an identifier.
func (h *Host) IdentityOf(ctx context.Context, entityName string, ref any) (any, error) {
	rv := reflect.Indirect(reflect.ValueOf(ref))
	if rv.Kind() != reflect.Struct {
		return ref, nil
	}

	var sch *schema.Schema
	if ent, ok := h.entities[entityName]; ok && ent.schema.ModelType == rv.Type() {
		sch = ent.schema
	} else {
		parsed, err := h.parse(reflect.New(rv.Type()).Interface())
		if err != nil {
			return nil, fmt.Errorf("gormhost: resolve %s reference: %w", entityName, err)
		}
		sch = parsed
	}

	pk := sch.PrioritizedPrimaryField
	if pk == nil {
		return nil, fmt.Errorf("gormhost: %s: %w", sch.Name, versioning.ErrNoIdentity)
	}
	id, zero := pk.ValueOf(ctx, rv)
	if zero {
		return nil, nil
	}
	return id, nil
}

// Begin opens a tracked transaction.
func (h *Host) Begin(ctx context.Context, opts ...*sql.TxOptions) (*Txn, error) {
	tx := h.db.WithContext(ctx).Begin(opts...)
	if tx.Error != nil {
		return nil, tx.Error
	}
	txn := newTxn(h, tx, false)
	h.txns.Store(txn.pool, txn)
	logger.Debug("versioned transaction started", zap.String("txn", txn.id.String()))
	return txn, nil
}

// Transaction runs fc inside a tracked transaction, committing when fc returns nil
// and rolling back on error or panic.
func (h *Host) Transaction(ctx context.Context, fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) (err error) {
	txn, err := h.Begin(ctx, opts...)
	if err != nil {
		return err
	}

	panicked := true
	defer func() {
		if panicked || err != nil {
			txn.Rollback()
		}
	}()

	if err = fc(txn.DB()); err == nil {
		err = txn.Commit()
	}
	panicked = false
	return err
}

// Close removes the host's callbacks from the database and restores its dialector.
func (h *Host) Close() error {
	h.mu.Lock()
	h.subs = make(map[versioning.Op][]subscription)
	h.mu.Unlock()
	h.restoreDialector()
	return h.removeCallbacks()
}

func (h *Host) txnFor(db *gorm.DB) *Txn {
	if v, ok := db.InstanceGet(txnKey); ok {
		return v.(*Txn)
	}
	if v, ok := h.txns.Load(db.Statement.ConnPool); ok {
		return v.(*Txn)
	}
	return nil
}
