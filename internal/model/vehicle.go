package model

import "time"

// Vehicle represents a registered vehicle with its embedded controller.
type Vehicle struct {
	ID int64 `gorm:"primaryKey" json:"id"`

	// VehicleUUID is the stable device identifier carried in telemetry and
	// requests. It is not the storage key.
	VehicleUUID string `gorm:"size:64;uniqueIndex;not null" json:"vehicleId"`

	// DeviceKey is the secret key the controller authenticates and
	// addresses itself with on the broker.
	DeviceKey string `gorm:"size:64;not null" json:"-"`

	OwnerID     int64  `gorm:"index;not null" json:"ownerId"`
	Name        string `gorm:"size:128" json:"name"`
	PlateNumber string `gorm:"size:32" json:"plateNumber"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
