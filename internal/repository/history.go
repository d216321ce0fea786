package repository

import (
	"context"

	"actsasversioned/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HistoryInterface reads history tables written by the versioning engine.
type HistoryInterface interface {
	List(ctx context.Context, table, refColumn string, id any) ([]model.HistoryRow, error)
	Count(ctx context.Context, table, refColumn string, id any) (int64, error)
	Ping(ctx context.Context) error
}

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) scope(ctx context.Context, table, refColumn string, id any) *gorm.DB {
	return r.db.WithContext(ctx).Table(table).
		Where(clause.Eq{Column: clause.Column{Name: refColumn}, Value: id})
}

// List returns the history of one entity in write order.
func (r *HistoryRepository) List(ctx context.Context, table, refColumn string, id any) ([]model.HistoryRow, error) {
	var rows []map[string]any
	err := r.scope(ctx, table, refColumn, id).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]model.HistoryRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.HistoryRow(row))
	}
	return out, nil
}

func (r *HistoryRepository) Count(ctx context.Context, table, refColumn string, id any) (int64, error) {
	var n int64
	err := r.scope(ctx, table, refColumn, id).Count(&n).Error
	return n, err
}

func (r *HistoryRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
