package model

import "time"

// Start request and approval decision states.
const (
	DecisionPending  = "PENDING"
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// StartRequest is one outstanding ask-to-start for an owner. At most one
// non-expired request per owner exists at any time; creating a new one purges
// all prior requests and their approvals.
type StartRequest struct {
	ID           int64  `gorm:"primaryKey" json:"requestId"`
	OwnerID      int64  `gorm:"index;not null" json:"ownerId"`
	VehicleUUID  string `gorm:"size:64;index;not null" json:"vehicleId"`
	AlcoholLevel int    `gorm:"not null" json:"alcoholLevel"`
	Status       string `gorm:"size:16;not null;default:PENDING" json:"status"`

	// ExpiresAt is nullable so rows migrated without it fall back to
	// CreatedAt + TTL on every read.
	ExpiresAt *time.Time `json:"expiresAt"`
	CreatedAt time.Time  `json:"requestedAt"`
	UpdatedAt time.Time  `json:"-"`
}

// Approval is one approver's slot on a request. The set of approvals is fixed
// at request creation and each decision is written at most once.
type Approval struct {
	ID        int64      `gorm:"primaryKey" json:"id"`
	RequestID int64      `gorm:"index;not null" json:"requestId"`
	MemberID  int64      `gorm:"index;not null" json:"memberId"`
	Decision  string     `gorm:"size:16;not null;default:PENDING" json:"decision"`
	ExpiresAt *time.Time `json:"expiresAt"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	Member Member `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
