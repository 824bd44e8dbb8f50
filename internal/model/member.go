package model

import "time"

// Member roles and statuses. Only ACTIVE FAMILY members may decide on a
// start request; FRIEND members are observers.
const (
	RoleFamily = "FAMILY"
	RoleFriend = "FRIEND"

	MemberActive   = "ACTIVE"
	MemberInactive = "INACTIVE"
)

// Member links a user into an owner's circle with a role and relation label.
type Member struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	OwnerID   int64  `gorm:"index;not null" json:"ownerId"`
	UserID    int64  `gorm:"index;not null" json:"userId"`
	Role      string `gorm:"size:16;not null" json:"role"`
	Relation  string `gorm:"size:64;not null" json:"relation"` // Father, Mother, Friend, ...
	Status    string `gorm:"size:16;not null;default:ACTIVE" json:"status"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	User User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
