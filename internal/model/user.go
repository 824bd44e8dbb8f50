package model

import "time"

// User represents an account. Registration and credential handling live in an
// external identity service; this table is consumed as a lookup only.
type User struct {
	ID              int64  `gorm:"primaryKey" json:"id"`
	Name            string `gorm:"size:128;not null" json:"name"`
	Phone           string `gorm:"size:32;index" json:"phone"`
	ActiveVehicleID *int64 `json:"activeVehicleId,omitempty"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
