package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel provides common fields for all database models
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// User is the account a subscription belongs to. Accounts are owned by the
// user service; this table is only read here.
type User struct {
	BaseModel
	Email string `json:"email" gorm:"size:255;uniqueIndex;not null"`
	Name  string `json:"name" gorm:"size:100"`
}
