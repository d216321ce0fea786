package repository

import (
	"context"
	"errors"

	"actsasversioned/internal/model"

	"gorm.io/gorm"
)

// AuthorInterface defines author persistence
type AuthorInterface interface {
	Create(ctx context.Context, author *model.Author) error
	GetByID(ctx context.Context, id uint) (*model.Author, error)
	Save(ctx context.Context, author *model.Author) error
	WithTx(tx *gorm.DB) any
}

type AuthorRepository struct {
	db *gorm.DB
}

func NewAuthorRepository(db *gorm.DB) *AuthorRepository {
	return &AuthorRepository{db: db}
}

func (r *AuthorRepository) WithTx(tx *gorm.DB) any {
	return &AuthorRepository{db: tx}
}

func (r *AuthorRepository) Create(ctx context.Context, author *model.Author) error {
	return r.db.WithContext(ctx).Create(author).Error
}

// GetByID returns nil when the author does not exist.
func (r *AuthorRepository) GetByID(ctx context.Context, id uint) (*model.Author, error) {
	var author model.Author
	if err := r.db.WithContext(ctx).Preload("Books").First(&author, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &author, nil
}

// Save writes the author's own columns; books are saved through BookRepository.
func (r *AuthorRepository) Save(ctx context.Context, author *model.Author) error {
	return r.db.WithContext(ctx).Omit("Books").Save(author).Error
}
