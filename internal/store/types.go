package store

// MemberContact is a member row joined with the user it points at. The fuzzy
// approver resolver and the approvals snapshot both need the contact fields.
type MemberContact struct {
	MemberID int64  `json:"memberId"`
	UserID   int64  `json:"userId"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation"`
}

// TelemetryPatch carries the fields of one telemetry write. Nil fields are
// left untouched on the stored snapshot; the single row per vehicle is merged,
// not replaced.
type TelemetryPatch struct {
	Alcohol         *float64
	AccelX          *float64
	AccelY          *float64
	AccelZ          *float64
	UltrasonicFront *float64
	UltrasonicBack  *float64
	SurfaceLeft     *float64
	SurfaceRight    *float64
	Speed           *float64
	LocationLat     *float64
	LocationLng     *float64
}
