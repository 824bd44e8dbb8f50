package model

import "time"

// Telemetry holds the latest known sensor values for one vehicle. There is a
// single row per vehicle; every broker write replaces it.
type Telemetry struct {
	VehicleUUID string `gorm:"size:64;primaryKey" json:"vehicleId"`
	OwnerID     int64  `gorm:"index;not null" json:"ownerId"`

	Alcohol *float64 `json:"alcohol,omitempty"`

	AccelX *float64 `json:"accelX,omitempty"`
	AccelY *float64 `json:"accelY,omitempty"`
	AccelZ *float64 `json:"accelZ,omitempty"`

	UltrasonicFront *float64 `json:"ultrasonicFront,omitempty"`
	UltrasonicBack  *float64 `json:"ultrasonicBack,omitempty"`

	SurfaceLeft  *float64 `json:"surfaceLeft,omitempty"`
	SurfaceRight *float64 `json:"surfaceRight,omitempty"`

	Speed *float64 `json:"speed,omitempty"`

	LocationLat *float64 `json:"locationLat,omitempty"`
	LocationLng *float64 `json:"locationLng,omitempty"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}
