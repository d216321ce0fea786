package gormhost

import (
	"errors"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"actsasversioned/pkg/versioning"
)

const (
	startedTxnKey = "gorm:started_transaction"
	txnKey        = "versioning:txn"
	capturedKey   = "versioning:captured"
)

// captured holds rows read inside the transaction before a statement modifies them.
type captured struct {
	rows []reflect.Value
	ids  []any
	byID map[any]reflect.Value
}

func (h *Host) name(callback string) string {
	return h.prefix + callback
}

// registerCallbacks anchors every callback with Before where it can: GORM's sorter appends a
// callback registered After an already sorted one to the end of the chain.
func (h *Host) registerCallbacks() error {
	cb := h.db.Callback()
	create, update, del := cb.Create(), cb.Update(), cb.Delete()

	return errors.Join(
		create.Before("gorm:before_create").Register(h.name("create_begin"), h.beginImplicit),
		create.Before("gorm:create").Register(h.name("create_capture"), h.captureUpsert),
		create.Before("gorm:save_after_associations").Register(h.name("create_emit"), h.afterCreate),
		create.Before("gorm:commit_or_rollback_transaction").After("gorm:after_create").
			Register(h.name("create_flush"), h.flushImplicit),
		create.After("gorm:commit_or_rollback_transaction").Register(h.name("create_complete"), h.completeImplicit),

		update.Before("gorm:before_update").Register(h.name("update_begin"), h.beginImplicit),
		update.Before("gorm:update").Register(h.name("update_capture"), h.captureExisting(versioning.OpUpdate)),
		update.Before("gorm:save_after_associations").Register(h.name("update_emit"), h.afterUpdate),
		update.Before("gorm:commit_or_rollback_transaction").After("gorm:after_update").
			Register(h.name("update_flush"), h.flushImplicit),
		update.After("gorm:commit_or_rollback_transaction").Register(h.name("update_complete"), h.completeImplicit),

		del.Before("gorm:before_delete").Register(h.name("delete_begin"), h.beginImplicit),
		del.Before("gorm:delete").Register(h.name("delete_capture"), h.captureExisting(versioning.OpDelete)),
		del.Before("gorm:after_delete").Register(h.name("delete_emit"), h.afterDelete),
		del.Before("gorm:commit_or_rollback_transaction").After("gorm:after_delete").
			Register(h.name("delete_flush"), h.flushImplicit),
		del.After("gorm:commit_or_rollback_transaction").Register(h.name("delete_complete"), h.completeImplicit),
	)
}

func (h *Host) removeCallbacks() error {
	cb := h.db.Callback()
	create, update, del := cb.Create(), cb.Update(), cb.Delete()

	var errs []error
	for _, stage := range []string{"begin", "capture", "emit", "flush", "complete"} {
		errs = append(errs,
			create.Remove(h.name("create_"+stage)),
			update.Remove(h.name("update_"+stage)),
			del.Remove(h.name("delete_"+stage)),
		)
	}
	return errors.Join(errs...)
}

// beginImplicit tracks the per-statement transaction GORM opens when none is active.
func (h *Host) beginImplicit(db *gorm.DB) {
	if db.Error != nil || !h.subscribed() {
		return
	}
	if _, ok := db.InstanceGet(startedTxnKey); !ok {
		return
	}
	txn := newTxn(h, db.Session(&gorm.Session{NewDB: true, Context: db.Statement.Context}), true)
	h.txns.Store(txn.pool, txn)
	db.InstanceSet(txnKey, txn)
}

func implicitTxn(db *gorm.DB) *Txn {
	v, ok := db.InstanceGet(txnKey)
	if !ok {
		return nil
	}
	return v.(*Txn)
}

func (h *Host) flushImplicit(db *gorm.DB) {
	txn := implicitTxn(db)
	if txn == nil || db.Error != nil {
		return
	}
	if err := txn.runBeforeCommit(db.Statement.Context); err != nil {
		db.AddError(err)
	}
}

func (h *Host) completeImplicit(db *gorm.DB) {
	if txn := implicitTxn(db); txn != nil {
		txn.complete(db.Error == nil)
	}
}

// tracked returns the entity written by db's statement when the host must report it.
func (h *Host) tracked(db *gorm.DB) (*entity, bool) {
	if db.Error != nil || db.Statement.Schema == nil {
		return nil, false
	}
	ent, ok := h.entities[db.Statement.Schema.Name]
	if !ok || !ent.desc.Tracked || ent.schema.ModelType != db.Statement.Schema.ModelType {
		return nil, false
	}
	if ent.schema.PrioritizedPrimaryField == nil || !h.subscribed() {
		return nil, false
	}
	return ent, true
}

// requireTxn fails the statement before it writes anything when no tracked transaction is active.
func (h *Host) requireTxn(db *gorm.DB, op versioning.Op, ent *entity) bool {
	if h.txnFor(db) != nil {
		return true
	}
	if _, inTx := db.Statement.ConnPool.(gorm.TxCommitter); inTx {
		db.AddError(fmt.Errorf("%s %s: %w: %w", op, ent.desc.Name, ErrForeignTransaction, versioning.ErrNoTransaction))
		return false
	}
	db.AddError(fmt.Errorf("%s %s: %w", op, ent.desc.Name, versioning.ErrNoTransaction))
	return false
}

// load reads rows of ent's table inside db's transaction.
func (h *Host) load(db *gorm.DB, ent *entity, scope func(*gorm.DB) *gorm.DB) ([]reflect.Value, error) {
	dest := reflect.New(reflect.SliceOf(ent.schema.ModelType))
	q := db.Session(&gorm.Session{NewDB: true, SkipHooks: true}).Table(db.Statement.Table)
	if err := scope(q).Find(dest.Interface()).Error; err != nil {
		return nil, err
	}

	rows := dest.Elem()
	out := make([]reflect.Value, rows.Len())
	for i := range out {
		out[i] = rows.Index(i)
	}
	return out, nil
}

func (h *Host) loadByIDs(db *gorm.DB, ent *entity, ids []any) ([]reflect.Value, error) {
	pk := ent.schema.PrioritizedPrimaryField
	return h.load(db, ent, func(q *gorm.DB) *gorm.DB {
		return q.Where(clause.IN{Column: clause.Column{Name: pk.DBName}, Values: ids})
	})
}

func (h *Host) capture(db *gorm.DB, ent *entity, rows []reflect.Value) *captured {
	pk := ent.schema.PrioritizedPrimaryField
	c := &captured{rows: rows, byID: make(map[any]reflect.Value, len(rows))}
	for _, row := range rows {
		id, _ := pk.ValueOf(db.Statement.Context, row)
		c.ids = append(c.ids, id)
		c.byID[idKey(id)] = row
	}
	return c
}

func capturedRows(db *gorm.DB) *captured {
	v, ok := db.InstanceGet(capturedKey)
	if !ok {
		return nil
	}
	return v.(*captured)
}

// modelIDs returns the non-zero primary keys of the model values of db's statement.
func modelIDs(db *gorm.DB, ent *entity) []any {
	pk := ent.schema.PrioritizedPrimaryField
	var ids []any
	for _, e := range elements(db.Statement.ReflectValue, ent.schema.ModelType) {
		if id, zero := pk.ValueOf(db.Statement.Context, e); !zero {
			ids = append(ids, id)
		}
	}
	return ids
}

// captureUpsert records the existing rows an ON CONFLICT create may overwrite.
func (h *Host) captureUpsert(db *gorm.DB) {
	ent, ok := h.tracked(db)
	if !ok || !h.requireTxn(db, versioning.OpInsert, ent) {
		return
	}
	if _, upsert := db.Statement.Clauses["ON CONFLICT"]; !upsert {
		return
	}

	ids := modelIDs(db, ent)
	if len(ids) == 0 {
		return
	}
	rows, err := h.loadByIDs(db, ent, ids)
	if err != nil {
		db.AddError(fmt.Errorf("versioning: read %s before upsert: %w", ent.desc.Name, err))
		return
	}
	db.InstanceSet(capturedKey, h.capture(db, ent, rows))
}

// captureExisting records the rows an update or delete is about to change.
func (h *Host) captureExisting(op versioning.Op) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ent, ok := h.tracked(db)
		if !ok || !h.requireTxn(db, op, ent) {
			return
		}

		var where clause.Where
		if c, ok := db.Statement.Clauses["WHERE"]; ok {
			if w, ok := c.Expression.(clause.Where); ok {
				where = w
			}
		}
		ids := modelIDs(db, ent)
		if len(where.Exprs) == 0 && len(ids) == 0 && !db.AllowGlobalUpdate {
			return
		}

		pk := ent.schema.PrioritizedPrimaryField
		rows, err := h.load(db, ent, func(q *gorm.DB) *gorm.DB {
			if len(where.Exprs) > 0 {
				q = q.Clauses(where)
			}
			if len(ids) > 0 {
				q = q.Where(clause.IN{Column: clause.Column{Name: pk.DBName}, Values: ids})
			}
			return q
		})
		if err != nil {
			db.AddError(fmt.Errorf("versioning: read %s before %s: %w", ent.desc.Name, op, err))
			return
		}
		db.InstanceSet(capturedKey, h.capture(db, ent, rows))
	}
}

func (h *Host) afterCreate(db *gorm.DB) {
	ent, ok := h.tracked(db)
	if !ok {
		return
	}
	ctx := db.Statement.Context
	pk := ent.schema.PrioritizedPrimaryField
	pre := capturedRows(db)

	var existing []any
	for _, e := range elements(db.Statement.ReflectValue, ent.schema.ModelType) {
		id, zero := pk.ValueOf(ctx, e)
		if zero {
			continue
		}
		if pre != nil {
			if _, ok := pre.byID[idKey(id)]; ok {
				existing = append(existing, id)
				continue
			}
		}
		if !h.emit(db, versioning.Event{
			Op:     versioning.OpInsert,
			Entity: ent.desc.Name,
			ID:     id,
			State:  structState{ctx: ctx, ent: ent, rv: e},
		}) {
			return
		}
	}

	if len(existing) > 0 {
		h.emitUpdates(db, ent, pre, existing)
	}
}

func (h *Host) afterUpdate(db *gorm.DB) {
	ent, ok := h.tracked(db)
	if !ok {
		return
	}
	if pre := capturedRows(db); pre != nil && len(pre.ids) > 0 {
		h.emitUpdates(db, ent, pre, pre.ids)
	}
}

func (h *Host) emitUpdates(db *gorm.DB, ent *entity, pre *captured, ids []any) {
	ctx := db.Statement.Context
	pk := ent.schema.PrioritizedPrimaryField

	post, err := h.loadByIDs(db, ent, ids)
	if err != nil {
		db.AddError(fmt.Errorf("versioning: read %s after update: %w", ent.desc.Name, err))
		return
	}

	for _, cur := range post {
		id, _ := pk.ValueOf(ctx, cur)
		old, ok := pre.byID[idKey(id)]
		if !ok {
			continue
		}
		if !h.emit(db, versioning.Event{
			Op:       versioning.OpUpdate,
			Entity:   ent.desc.Name,
			ID:       id,
			OldState: structState{ctx: ctx, ent: ent, rv: old},
			State:    structState{ctx: ctx, ent: ent, rv: cur},
		}) {
			return
		}
	}
}

func (h *Host) afterDelete(db *gorm.DB) {
	ent, ok := h.tracked(db)
	if !ok {
		return
	}
	pre := capturedRows(db)
	if pre == nil {
		return
	}

	ctx := db.Statement.Context
	for i, old := range pre.rows {
		if !h.emit(db, versioning.Event{
			Op:       versioning.OpDelete,
			Entity:   ent.desc.Name,
			ID:       pre.ids[i],
			OldState: structState{ctx: ctx, ent: ent, rv: old},
		}) {
			return
		}
	}
}

// emit delivers ev to the subscribers. A subscriber error fails the statement.
func (h *Host) emit(db *gorm.DB, ev versioning.Event) bool {
	ev.Context = db.Statement.Context
	if txn := h.txnFor(db); txn != nil {
		ev.Tx = txn
	}
	for _, handler := range h.handlers(ev.Op) {
		if err := handler(ev); err != nil {
			db.AddError(err)
			return false
		}
	}
	return true
}
