package model

import (
	"time"

	"actsasversioned/pkg/versioning"
)

type Address struct {
	Line1    string `json:"line1" gorm:"size:255"`
	City     string `json:"city" gorm:"size:128"`
	Postcode string `json:"postcode" gorm:"size:16"`
}

// Author is history-tracked in author_versions.
type Author struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"size:255;not null"`
	HomeAddress Address   `json:"home_address" gorm:"embedded;embeddedPrefix:home_"`
	Books       []Book    `json:"books,omitempty"`
	CreatedAt   time.Time `json:"created_at" versioned:"-"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Author) ActsAsVersioned() versioning.Options { return versioning.Options{} }
