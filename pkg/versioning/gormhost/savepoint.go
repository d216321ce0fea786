package gormhost

import (
	"context"

	"gorm.io/gorm"
)

// savepointDialector reports savepoints of tracked transactions to their Txn. Nested
// gorm.DB.Transaction calls reach the dialector only through SavePoint and RollbackTo.
type savepointDialector struct {
	gorm.Dialector
	host *Host
}

func (d savepointDialector) SavePoint(tx *gorm.DB, name string) error {
	sp, ok := d.Dialector.(gorm.SavePointerDialectorInterface)
	if !ok {
		return gorm.ErrUnsupportedDriver
	}
	if err := sp.SavePoint(tx, name); err != nil {
		return err
	}
	if txn := d.host.savepointTxn(tx); txn != nil {
		txn.savepoint(name)
	}
	return nil
}

func (d savepointDialector) RollbackTo(tx *gorm.DB, name string) error {
	sp, ok := d.Dialector.(gorm.SavePointerDialectorInterface)
	if !ok {
		return gorm.ErrUnsupportedDriver
	}
	if err := sp.RollbackTo(tx, name); err != nil {
		return err
	}
	if txn := d.host.savepointTxn(tx); txn != nil {
		txn.rollbackTo(name)
	}
	return nil
}

func (d savepointDialector) Translate(err error) error {
	if t, ok := d.Dialector.(gorm.ErrorTranslator); ok {
		return t.Translate(err)
	}
	return err
}

func (d savepointDialector) ParamsFilter(ctx context.Context, sql string, params ...any) (string, []any) {
	if f, ok := d.Dialector.(gorm.ParamsFilter); ok {
		return f.ParamsFilter(ctx, sql, params...)
	}
	return sql, params
}

// savepointTxn finds the Txn of tx. PrepareStmt sessions hand the dialector the bare transaction.
func (h *Host) savepointTxn(tx *gorm.DB) *Txn {
	if txn := h.txnFor(tx); txn != nil {
		return txn
	}
	var found *Txn
	h.txns.Range(func(k, v any) bool {
		if p, ok := k.(*gorm.PreparedStmtTX); ok && gorm.ConnPool(p.Tx) == tx.Statement.ConnPool {
			found = v.(*Txn)
			return false
		}
		return true
	})
	return found
}

func (h *Host) wrapDialector() {
	h.dialector = h.db.Dialector
	h.db.Dialector = savepointDialector{Dialector: h.dialector, host: h}
}

func (h *Host) restoreDialector() {
	if h.dialector != nil {
		h.db.Dialector = h.dialector
	}
}
