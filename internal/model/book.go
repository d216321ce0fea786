package model

import (
	"time"

	"actsasversioned/pkg/versioning"
)

// Book is history-tracked in book_versions. ViewCount never reaches history,
// and a change to SyncCount alone does not produce a new history row.
type Book struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	AuthorID    uint      `json:"author_id" gorm:"index"`
	Author      *Author   `json:"author,omitempty"`
	Title       string    `json:"title" gorm:"size:255;not null"`
	Published   bool      `json:"published"`
	Fiction     bool      `json:"fiction"`
	ViewCount   int       `json:"view_count" versioned:"-"`
	LockVersion int       `json:"lock_version" versioned:"lock"`
	SyncCount   int       `json:"sync_count" versioned:"autoupdate"`
	CreatedAt   time.Time `json:"created_at" versioned:"-"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Book) ActsAsVersioned() versioning.Options { return versioning.Options{} }
