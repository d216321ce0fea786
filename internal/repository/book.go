package repository

import (
	"context"
	"errors"

	"actsasversioned/internal/model"

	"gorm.io/gorm"
)

// BookInterface defines book persistence
type BookInterface interface {
	Create(ctx context.Context, book *model.Book) error
	GetByID(ctx context.Context, id uint) (*model.Book, error)
	Update(ctx context.Context, book *model.Book, expectedLock int) (bool, error)
	Delete(ctx context.Context, id uint) (bool, error)
	WithTx(tx *gorm.DB) any
}

type BookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) *BookRepository {
	return &BookRepository{db: db}
}

func (r *BookRepository) WithTx(tx *gorm.DB) any {
	return &BookRepository{db: tx}
}

func (r *BookRepository) Create(ctx context.Context, book *model.Book) error {
	return r.db.WithContext(ctx).Omit("Author").Create(book).Error
}

// GetByID returns nil when the book does not exist.
func (r *BookRepository) GetByID(ctx context.Context, id uint) (*model.Book, error) {
	var book model.Book
	if err := r.db.WithContext(ctx).First(&book, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &book, nil
}

// Update writes every column of book while the stored lock_version still equals expectedLock.
// It reports false when another writer moved the lock first.
func (r *BookRepository) Update(ctx context.Context, book *model.Book, expectedLock int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(book).
		Select("*").
		Omit("Author", "CreatedAt").
		Where("lock_version = ?", expectedLock).
		Updates(book)
	return res.RowsAffected > 0, res.Error
}

// Delete reports whether a row was removed.
func (r *BookRepository) Delete(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&model.Book{}, id)
	return res.RowsAffected > 0, res.Error
}
