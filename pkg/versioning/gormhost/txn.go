package gormhost

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"actsasversioned/pkg/logger"
	"actsasversioned/pkg/versioning"
)

// Txn is a transaction tracked by a Host. It carries the before-commit and completion hooks
// that GORM itself does not offer.
type Txn struct {
	id       uuid.UUID
	host     *Host
	db       *gorm.DB
	pool     gorm.ConnPool
	implicit bool

	mu           sync.Mutex
	beforeCommit []func(ctx context.Context) error
	completion   []func(committed bool)
	marks        []func(name string)
	rollbacks    []func(name string)
	done         bool
}

var _ versioning.Savepointer = (*Txn)(nil)

func newTxn(h *Host, db *gorm.DB, implicit bool) *Txn {
	return &Txn{
		id:       uuid.New(),
		host:     h,
		db:       db,
		pool:     db.Statement.ConnPool,
		implicit: implicit,
	}
}

// ID identifies the transaction in logs.
func (t *Txn) ID() uuid.UUID {
	return t.id
}

// DB returns the session bound to the transaction.
func (t *Txn) DB() *gorm.DB {
	return t.db
}

func (t *Txn) OnBeforeCommit(fn func(ctx context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.beforeCommit = append(t.beforeCommit, fn)
}

func (t *Txn) OnCompletion(fn func(committed bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completion = append(t.completion, fn)
}

func (t *Txn) OnSavepoint(mark, rollbackTo func(name string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marks = append(t.marks, mark)
	t.rollbacks = append(t.rollbacks, rollbackTo)
}

func (t *Txn) savepoint(name string) {
	t.mu.Lock()
	hooks := append(([]func(string))(nil), t.marks...)
	t.mu.Unlock()

	logger.Debug("versioned transaction savepoint", zap.String("txn", t.id.String()), zap.String("savepoint", name))
	for _, fn := range hooks {
		fn(name)
	}
}

func (t *Txn) rollbackTo(name string) {
	t.mu.Lock()
	hooks := append(([]func(string))(nil), t.rollbacks...)
	t.mu.Unlock()

	logger.Debug("versioned transaction rolled back to savepoint", zap.String("txn", t.id.String()), zap.String("savepoint", name))
	for _, fn := range hooks {
		fn(name)
	}
}

// InsertRow inserts values into table inside the transaction, bypassing tracking and model hooks.
func (t *Txn) InsertRow(ctx context.Context, table string, values map[string]any) error {
	return t.db.Session(&gorm.Session{NewDB: true, SkipHooks: true}).
		WithContext(ctx).
		Table(table).
		Create(values).Error
}

// Commit runs the before-commit hooks and commits. A hook error rolls the transaction back.
func (t *Txn) Commit() error {
	if t.isDone() {
		return gorm.ErrInvalidTransaction
	}

	if err := t.runBeforeCommit(t.db.Statement.Context); err != nil {
		t.db.Rollback()
		t.complete(false)
		return err
	}

	err := t.db.Commit().Error
	t.complete(err == nil)
	return err
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (t *Txn) Rollback() error {
	if t.isDone() {
		return nil
	}
	err := t.db.Rollback().Error
	t.complete(false)
	return err
}

func (t *Txn) isDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Txn) runBeforeCommit(ctx context.Context) error {
	t.mu.Lock()
	hooks := append([]func(context.Context) error(nil), t.beforeCommit...)
	t.mu.Unlock()

	for _, fn := range hooks {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (t *Txn) complete(committed bool) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	hooks := t.completion
	t.mu.Unlock()

	t.host.txns.Delete(t.pool)
	logger.Debug("versioned transaction finished",
		zap.String("txn", t.id.String()),
		zap.Bool("implicit", t.implicit),
		zap.Bool("committed", committed))

	for _, fn := range hooks {
		fn(committed)
	}
}
