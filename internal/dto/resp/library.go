package resp

import (
	"time"

	"actsasversioned/internal/model"
)

type AuthorItem struct {
	ID          uint          `json:"id"`
	Name        string        `json:"name"`
	HomeAddress model.Address `json:"home_address"`
	Books       []BookItem    `json:"books"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type BookItem struct {
	ID          uint      `json:"id"`
	AuthorID    uint      `json:"author_id"`
	Title       string    `json:"title"`
	Published   bool      `json:"published"`
	Fiction     bool      `json:"fiction"`
	ViewCount   int       `json:"view_count"`
	LockVersion int       `json:"lock_version"`
	SyncCount   int       `json:"sync_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type HistoryResponse struct {
	Entity string             `json:"entity"`
	Table  string             `json:"table"`
	ID     uint               `json:"id"`
	Count  int                `json:"count"`
	Rows   []model.HistoryRow `json:"rows"`
}

type ColumnItem struct {
	Name     string `json:"name"`
	Field    string `json:"field,omitempty"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type SchemaItem struct {
	Entity           string       `json:"entity"`
	Table            string       `json:"table"`
	RefColumn        string       `json:"ref_column"`
	AutoUpdateFields []string     `json:"auto_update_fields"`
	Columns          []ColumnItem `json:"columns"`
}
