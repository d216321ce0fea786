package api

import (
	"context"
	"errors"

	"actsasversioned/internal/dto/req"
	"actsasversioned/internal/dto/resp"
	"actsasversioned/internal/service"

	"github.com/gin-gonic/gin"
)

type LibraryProvider interface {
	CreateAuthor(ctx context.Context, r req.CreateAuthorRequest) (*resp.AuthorItem, error)
	UpdateAuthor(ctx context.Context, id uint, r req.UpdateAuthorRequest) (*resp.AuthorItem, error)
	GetAuthor(ctx context.Context, id uint) (*resp.AuthorItem, error)
	CreateBook(ctx context.Context, r req.CreateBookRequest) (*resp.BookItem, error)
	UpdateBook(ctx context.Context, id uint, r req.UpdateBookRequest) (*resp.BookItem, error)
	GetBook(ctx context.Context, id uint) (*resp.BookItem, error)
	DeleteBook(ctx context.Context, id uint) error
	History(ctx context.Context, entity string, id uint) (*resp.HistoryResponse, error)
	Schemas() []resp.SchemaItem
	Health(ctx context.Context) error
}

type LibraryHandler struct {
	service LibraryProvider
}

func NewLibraryHandler(service LibraryProvider) *LibraryHandler {
	return &LibraryHandler{service: service}
}

// fail writes err with the status matching its kind.
func fail(c *gin.Context, err error) {
	c.Error(err)
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(404, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(400, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(409, gin.H{"error": err.Error()})
	default:
		c.JSON(500, gin.H{"error": err.Error()})
	}
}

func bindID(c *gin.Context) (uint, bool) {
	var uri req.IDUri
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(400, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uri.ID, true
}

func (h *LibraryHandler) CreateAuthor(c *gin.Context) {
	var r req.CreateAuthorRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(400, gin.H{"error": "JSON format error"})
		return
	}
	author, err := h.service.CreateAuthor(c.Request.Context(), r)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(201, author)
}

func (h *LibraryHandler) GetAuthor(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	author, err := h.service.GetAuthor(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(200, author)
}

func (h *LibraryHandler) UpdateAuthor(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	var r req.UpdateAuthorRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(400, gin.H{"error": "JSON format error"})
		return
	}
	author, err := h.service.UpdateAuthor(c.Request.Context(), id, r)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(200, author)
}

func (h *LibraryHandler) CreateBook(c *gin.Context) {
	var r req.CreateBookRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(400, gin.H{"error": "JSON format error"})
		return
	}
	book, err := h.service.CreateBook(c.Request.Context(), r)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(201, book)
}

func (h *LibraryHandler) GetBook(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	book, err := h.service.GetBook(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(200, book)
}

func (h *LibraryHandler) UpdateBook(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	var r req.UpdateBookRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(400, gin.H{"error": "JSON format error"})
		return
	}
	book, err := h.service.UpdateBook(c.Request.Context(), id, r)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(200, book)
}

func (h *LibraryHandler) DeleteBook(c *gin.Context) {
	id, ok := bindID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteBook(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(204)
}

func (h *LibraryHandler) History(c *gin.Context) {
	var uri req.HistoryUri
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(400, gin.H{"error": "invalid entity or id"})
		return
	}
	history, err := h.service.History(c.Request.Context(), uri.Entity, uri.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(200, history)
}

func (h *LibraryHandler) Schemas(c *gin.Context) {
	c.JSON(200, h.service.Schemas())
}

func (h *LibraryHandler) HealthCheck(c *gin.Context) {
	if err := h.service.Health(c.Request.Context()); err != nil {
		c.JSON(503, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"status": "ok"})
}
