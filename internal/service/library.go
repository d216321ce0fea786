package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"actsasversioned/internal/dto/req"
	"actsasversioned/internal/dto/resp"
	"actsasversioned/internal/model"
	"actsasversioned/internal/repository"
	"actsasversioned/pkg/logger"
	"actsasversioned/pkg/versioning"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("stale lock version")
	ErrTrackingOff     = errors.New("versioning not enabled")
	ErrDatabaseFailure = errors.New("database unhealthy")
)

// TxRunner runs fc in a transaction the versioning engine tracks.
type TxRunner interface {
	Transaction(ctx context.Context, fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

type LibraryService struct {
	txs         TxRunner
	versioning  *versioning.Configuration
	authorRepo  repository.AuthorInterface
	bookRepo    repository.BookInterface
	historyRepo repository.HistoryInterface
}

func NewLibraryService(txs TxRunner, cfg *versioning.Configuration, authorRepo repository.AuthorInterface, bookRepo repository.BookInterface, historyRepo repository.HistoryInterface) *LibraryService {
	return &LibraryService{
		txs:         txs,
		versioning:  cfg,
		authorRepo:  authorRepo,
		bookRepo:    bookRepo,
		historyRepo: historyRepo,
	}
}

func (s *LibraryService) CreateAuthor(ctx context.Context, r req.CreateAuthorRequest) (*resp.AuthorItem, error) {
	author := &model.Author{Name: r.Name}
	if r.HomeAddress != nil {
		author.HomeAddress = toAddress(*r.HomeAddress)
	}

	err := s.txs.Transaction(ctx, func(tx *gorm.DB) error {
		return s.authorRepo.WithTx(tx).(repository.AuthorInterface).Create(ctx, author)
	})
	if err != nil {
		logger.Error("failed to create author", zap.String("name", r.Name), zap.Error(err))
		return nil, err
	}
	return toAuthorItem(author), nil
}

func (s *LibraryService) UpdateAuthor(ctx context.Context, id uint, r req.UpdateAuthorRequest) (*resp.AuthorItem, error) {
	var author *model.Author
	err := s.txs.Transaction(ctx, func(tx *gorm.DB) error {
		txAuthor := s.authorRepo.WithTx(tx).(repository.AuthorInterface)

		var err error
		author, err = txAuthor.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if author == nil {
			return fmt.Errorf("author %d: %w", id, ErrNotFound)
		}

		if r.Name != nil {
			if *r.Name == "" {
				return fmt.Errorf("author name is empty: %w", ErrInvalidInput)
			}
			author.Name = *r.Name
		}
		if r.HomeAddress != nil {
			author.HomeAddress = toAddress(*r.HomeAddress)
		}
		return txAuthor.Save(ctx, author)
	})
	if err != nil {
		logFailure("failed to update author", id, err)
		return nil, err
	}
	return toAuthorItem(author), nil
}

func (s *LibraryService) GetAuthor(ctx context.Context, id uint) (*resp.AuthorItem, error) {
	author, err := s.authorRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if author == nil {
		return nil, fmt.Errorf("author %d: %w", id, ErrNotFound)
	}
	return toAuthorItem(author), nil
}

func (s *LibraryService) CreateBook(ctx context.Context, r req.CreateBookRequest) (*resp.BookItem, error) {
	book := &model.Book{
		AuthorID:  r.AuthorID,
		Title:     r.Title,
		Published: r.Published,
		Fiction:   r.Fiction,
	}

	err := s.txs.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.requireAuthor(ctx, tx, r.AuthorID); err != nil {
			return err
		}
		return s.bookRepo.WithTx(tx).(repository.BookInterface).Create(ctx, book)
	})
	if err != nil {
		logger.Error("failed to create book", zap.String("title", r.Title), zap.Error(err))
		return nil, err
	}
	return toBookItem(book), nil
}

// UpdateBook applies a partial update under optimistic locking. The write only lands while the
// stored lock version is the one read (or the one the caller sent), and bumps it.
func (s *LibraryService) UpdateBook(ctx context.Context, id uint, r req.UpdateBookRequest) (*resp.BookItem, error) {
	var book *model.Book
	err := s.txs.Transaction(ctx, func(tx *gorm.DB) error {
		txBook := s.bookRepo.WithTx(tx).(repository.BookInterface)

		var err error
		book, err = txBook.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if book == nil {
			return fmt.Errorf("book %d: %w", id, ErrNotFound)
		}
		if r.LockVersion != nil && *r.LockVersion != book.LockVersion {
			return fmt.Errorf("book %d is at lock version %d, not %d: %w", id, book.LockVersion, *r.LockVersion, ErrConflict)
		}

		if r.AuthorID != nil && *r.AuthorID != book.AuthorID {
			if err := s.requireAuthor(ctx, tx, *r.AuthorID); err != nil {
				return err
			}
			book.AuthorID = *r.AuthorID
		}
		if r.Title != nil {
			if *r.Title == "" {
				return fmt.Errorf("book title is empty: %w", ErrInvalidInput)
			}
			book.Title = *r.Title
		}
		if r.Published != nil {
			book.Published = *r.Published
		}
		if r.Fiction != nil {
			book.Fiction = *r.Fiction
		}
		if r.ViewCount != nil {
			book.ViewCount = *r.ViewCount
		}
		if r.SyncCount != nil {
			book.SyncCount = *r.SyncCount
		}
		expected := book.LockVersion
		book.LockVersion++
		updated, err := txBook.Update(ctx, book, expected)
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("book %d changed concurrently: %w", id, ErrConflict)
		}
		return nil
	})
	if err != nil {
		logFailure("failed to update book", id, err)
		return nil, err
	}
	return toBookItem(book), nil
}

func (s *LibraryService) GetBook(ctx context.Context, id uint) (*resp.BookItem, error) {
	book, err := s.bookRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return toBookItem(book), nil
}

func (s *LibraryService) DeleteBook(ctx context.Context, id uint) error {
	err := s.txs.Transaction(ctx, func(tx *gorm.DB) error {
		deleted, err := s.bookRepo.WithTx(tx).(repository.BookInterface).Delete(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("book %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		logFailure("failed to delete book", id, err)
	}
	return err
}

// History returns the recorded versions of one entity. entity matches case-insensitively.
func (s *LibraryService) History(ctx context.Context, entity string, id uint) (*resp.HistoryResponse, error) {
	te, ok := s.trackedEntity(entity)
	if !ok {
		return nil, fmt.Errorf("entity %q is not versioned: %w", entity, ErrNotFound)
	}

	rows, err := s.historyRepo.List(ctx, te.Table, te.RefColumn, id)
	if err != nil {
		return nil, err
	}
	return &resp.HistoryResponse{
		Entity: te.Name,
		Table:  te.Table,
		ID:     id,
		Count:  len(rows),
		Rows:   rows,
	}, nil
}

// Schemas describes every history table.
func (s *LibraryService) Schemas() []resp.SchemaItem {
	entities := s.versioning.Entities()
	items := make([]resp.SchemaItem, 0, len(entities))
	for _, te := range entities {
		hs := te.HistorySchema()
		item := resp.SchemaItem{
			Entity:           te.Name,
			Table:            hs.Table,
			RefColumn:        te.RefColumn,
			AutoUpdateFields: te.AutoUpdateFields(),
			Columns:          make([]resp.ColumnItem, 0, len(hs.Columns)),
		}
		for _, c := range hs.Columns {
			item.Columns = append(item.Columns, resp.ColumnItem{
				Name:     c.Name,
				Field:    c.Field,
				Type:     c.Type.String(),
				Nullable: c.Nullable,
			})
		}
		items = append(items, item)
	}
	return items
}

func (s *LibraryService) Health(ctx context.Context) error {
	if !s.versioning.Enabled() {
		return ErrTrackingOff
	}
	if err := s.historyRepo.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseFailure, err)
	}
	return nil
}

func (s *LibraryService) trackedEntity(name string) (*versioning.TrackedEntity, bool) {
	for _, te := range s.versioning.Entities() {
		if strings.EqualFold(te.Name, name) {
			return te, true
		}
	}
	return nil, false
}

func (s *LibraryService) requireAuthor(ctx context.Context, tx *gorm.DB, id uint) error {
	author, err := s.authorRepo.WithTx(tx).(repository.AuthorInterface).GetByID(ctx, id)
	if err != nil {
		return err
	}
	if author == nil {
		return fmt.Errorf("author %d does not exist: %w", id, ErrInvalidInput)
	}
	return nil
}

func logFailure(msg string, id uint, err error) {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrConflict) {
		logger.Debug(msg, zap.Uint("id", id), zap.Error(err))
		return
	}
	logger.Error(msg, zap.Uint("id", id), zap.Error(err))
}

func toAddress(a req.AddressPayload) model.Address {
	return model.Address{Line1: a.Line1, City: a.City, Postcode: a.Postcode}
}

func toAuthorItem(a *model.Author) *resp.AuthorItem {
	item := &resp.AuthorItem{
		ID:          a.ID,
		Name:        a.Name,
		HomeAddress: a.HomeAddress,
		Books:       make([]resp.BookItem, 0, len(a.Books)),
		UpdatedAt:   a.UpdatedAt,
	}
	for i := range a.Books {
		item.Books = append(item.Books, *toBookItem(&a.Books[i]))
	}
	return item
}

func toBookItem(b *model.Book) *resp.BookItem {
	return &resp.BookItem{
		ID:          b.ID,
		AuthorID:    b.AuthorID,
		Title:       b.Title,
		Published:   b.Published,
		Fiction:     b.Fiction,
		ViewCount:   b.ViewCount,
		LockVersion: b.LockVersion,
		SyncCount:   b.SyncCount,
		UpdatedAt:   b.UpdatedAt,
	}
}
