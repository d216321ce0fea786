package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"actsasversioned/internal/dto/req"
	"actsasversioned/internal/model"
	"actsasversioned/internal/repository"
	"actsasversioned/pkg/logger"
	"actsasversioned/pkg/versioning"
	"actsasversioned/pkg/versioning/gormhost"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	logger.InitLogger("test")
}

func newLibrary(t *testing.T) *LibraryService {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(model.Tracked()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	host, err := gormhost.New(db, model.Tracked()...)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	cfg, err := versioning.EnableTracking(versioning.NewConfiguration(host))
	if err != nil {
		t.Fatalf("enable tracking: %v", err)
	}
	if err := host.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate history: %v", err)
	}
	t.Cleanup(func() {
		cfg.Close()
		host.Close()
	})

	return NewLibraryService(host, cfg,
		repository.NewAuthorRepository(db),
		repository.NewBookRepository(db),
		repository.NewHistoryRepository(db))
}

func ptr[T any](v T) *T { return &v }

func historyCount(t *testing.T, svc *LibraryService, entity string, id uint) int {
	t.Helper()
	h, err := svc.History(context.Background(), entity, id)
	if err != nil {
		t.Fatalf("history %s %d: %v", entity, id, err)
	}
	return h.Count
}

func TestBookLifecycleHistory(t *testing.T) {
	svc := newLibrary(t)
	ctx := context.Background()

	author, err := svc.CreateAuthor(ctx, req.CreateAuthorRequest{
		Name:        "Ursula",
		HomeAddress: &req.AddressPayload{Line1: "1 Main St", City: "Portland", Postcode: "97201"},
	})
	if err != nil {
		t.Fatalf("create author: %v", err)
	}
	if got := historyCount(t, svc, "author", author.ID); got != 1 {
		t.Fatalf("expected 1 author version, got %d", got)
	}

	book, err := svc.CreateBook(ctx, req.CreateBookRequest{AuthorID: author.ID, Title: "Earthsea"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	tests := []struct {
		name  string
		patch req.UpdateBookRequest
		want  int
	}{
		{"tracked field", req.UpdateBookRequest{Title: ptr("A Wizard of Earthsea")}, 2},
		{"not versioned field", req.UpdateBookRequest{ViewCount: ptr(42)}, 2},
		{"auto update field", req.UpdateBookRequest{SyncCount: ptr(7)}, 2},
		{"bundled change", req.UpdateBookRequest{Published: ptr(true), SyncCount: ptr(8)}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.UpdateBook(ctx, book.ID, tt.patch); err != nil {
				t.Fatalf("update: %v", err)
			}
			if got := historyCount(t, svc, "Book", book.ID); got != tt.want {
				t.Errorf("expected %d book versions, got %d", tt.want, got)
			}
		})
	}

	h, err := svc.History(ctx, "book", book.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	last := h.Rows[len(h.Rows)-1]
	if _, ok := last["view_count"]; ok {
		t.Error("view_count must not be a history column")
	}
	if fmt.Sprint(last["sync_count"]) != "8" {
		t.Errorf("expected sync_count 8 in bundled row, got %v", last["sync_count"])
	}
	if fmt.Sprint(last["author_id"]) != fmt.Sprint(author.ID) {
		t.Errorf("expected author reference %d, got %v", author.ID, last["author_id"])
	}

	if err := svc.DeleteBook(ctx, book.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	h, err = svc.History(ctx, "book", book.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.Count != 4 {
		t.Fatalf("expected 4 book versions after delete, got %d", h.Count)
	}
	if title := h.Rows[3]["title"]; title != nil {
		t.Errorf("expected nulled title in delete row, got %v", title)
	}
}

func TestUpdateAuthorComposite(t *testing.T) {
	svc := newLibrary(t)
	ctx := context.Background()

	author, err := svc.CreateAuthor(ctx, req.CreateAuthorRequest{Name: "Iain"})
	if err != nil {
		t.Fatalf("create author: %v", err)
	}
	if _, err := svc.UpdateAuthor(ctx, author.ID, req.UpdateAuthorRequest{
		HomeAddress: &req.AddressPayload{Line1: "2 High St", City: "Fife"},
	}); err != nil {
		t.Fatalf("update author: %v", err)
	}

	h, err := svc.History(ctx, "Author", author.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.Count != 2 {
		t.Fatalf("expected 2 author versions, got %d", h.Count)
	}
	if h.Rows[1]["home_city"] != "Fife" {
		t.Errorf("expected home_city Fife, got %v", h.Rows[1]["home_city"])
	}
}

func TestRejectedUpdateLeavesNoHistory(t *testing.T) {
	svc := newLibrary(t)
	ctx := context.Background()

	author, err := svc.CreateAuthor(ctx, req.CreateAuthorRequest{Name: "Octavia"})
	if err != nil {
		t.Fatalf("create author: %v", err)
	}
	book, err := svc.CreateBook(ctx, req.CreateBookRequest{AuthorID: author.ID, Title: "Kindred"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	_, err = svc.UpdateBook(ctx, book.ID, req.UpdateBookRequest{Title: ptr("Dawn"), AuthorID: ptr(author.ID + 100)})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if got := historyCount(t, svc, "book", book.ID); got != 1 {
		t.Errorf("expected 1 book version after rejected update, got %d", got)
	}

	got, err := svc.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if got.Title != "Kindred" || got.LockVersion != 0 {
		t.Errorf("expected unchanged book, got %+v", got)
	}
}

func TestUpdateBookOptimisticLock(t *testing.T) {
	svc := newLibrary(t)
	ctx := context.Background()

	author, err := svc.CreateAuthor(ctx, req.CreateAuthorRequest{Name: "Iain"})
	if err != nil {
		t.Fatalf("create author: %v", err)
	}
	book, err := svc.CreateBook(ctx, req.CreateBookRequest{AuthorID: author.ID, Title: "Excession"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	updated, err := svc.UpdateBook(ctx, book.ID, req.UpdateBookRequest{Title: ptr("Look to Windward"), LockVersion: ptr(0)})
	if err != nil {
		t.Fatalf("update at current lock version: %v", err)
	}
	if updated.LockVersion != 1 {
		t.Errorf("expected lock version 1, got %d", updated.LockVersion)
	}

	_, err = svc.UpdateBook(ctx, book.ID, req.UpdateBookRequest{Title: ptr("Matter"), LockVersion: ptr(0)})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for a stale lock version, got %v", err)
	}

	stale := &model.Book{ID: book.ID, AuthorID: author.ID, Title: "Surface Detail", LockVersion: 1}
	ok, err := svc.bookRepo.Update(ctx, stale, 0)
	if err != nil {
		t.Fatalf("repository update: %v", err)
	}
	if ok {
		t.Error("expected a write behind a moved lock version to be refused")
	}

	got, err := svc.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if got.Title != "Look to Windward" || got.LockVersion != 1 {
		t.Errorf("expected the first update to stand, got %+v", got)
	}
	if n := historyCount(t, svc, "book", book.ID); n != 2 {
		t.Errorf("expected 2 book versions, got %d", n)
	}
}

func TestNotFound(t *testing.T) {
	svc := newLibrary(t)
	ctx := context.Background()

	if _, err := svc.GetAuthor(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAuthor: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.UpdateBook(ctx, 99, req.UpdateBookRequest{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateBook: expected ErrNotFound, got %v", err)
	}
	if err := svc.DeleteBook(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteBook: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.History(ctx, "publisher", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("History: expected ErrNotFound, got %v", err)
	}
}

func TestSchemasAndHealth(t *testing.T) {
	svc := newLibrary(t)

	schemas := svc.Schemas()
	if len(schemas) != 2 {
		t.Fatalf("expected 2 schemas, got %d", len(schemas))
	}
	book := schemas[1]
	if book.Table != "book_versions" || book.RefColumn != "book_id" {
		t.Errorf("unexpected book schema %+v", book)
	}
	for _, c := range book.Columns {
		if c.Name == "view_count" || c.Name == "created_at" {
			t.Errorf("column %s must not be versioned", c.Name)
		}
	}
	auto := strings.Join(book.AutoUpdateFields, ",")
	for _, f := range []string{"LockVersion", "SyncCount", "UpdatedAt"} {
		if !strings.Contains(auto, f) {
			t.Errorf("expected %s among auto-update fields, got %s", f, auto)
		}
	}

	if err := svc.Health(context.Background()); err != nil {
		t.Errorf("expected healthy service, got %v", err)
	}
}
