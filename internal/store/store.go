package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carguard-backend/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store defines the lookup and persistence operations shared across the
// ingestion channels, the alert evaluator and the API layer.
type Store interface {
	DB() *gorm.DB

	// Membership
	ActiveFamilyContacts(ctx context.Context, ownerID int64) ([]MemberContact, error)
	ActiveMemberUserIDs(ctx context.Context, ownerID int64) ([]int64, error)
	MembershipFor(ctx context.Context, userID int64) (*model.Member, error)
	FamilyMembership(ctx context.Context, ownerID, memberID, userID int64) (*model.Member, error)
	FamilyMemberByID(ctx context.Context, ownerID, memberID int64) (*model.Member, error)

	// Vehicle directory
	VehicleByDeviceKey(ctx context.Context, key string) (*model.Vehicle, error)
	VehicleByUUID(ctx context.Context, ownerID int64, vehicleUUID string) (*model.Vehicle, error)
	ActiveVehicle(ctx context.Context, ownerID int64) (*model.Vehicle, error)
	SetActiveVehicle(ctx context.Context, ownerID, vehicleID int64) error

	// Telemetry
	UpsertTelemetry(ctx context.Context, ownerID int64, vehicleUUID string, patch TelemetryPatch) (*model.Telemetry, error)
	LatestTelemetry(ctx context.Context, vehicleUUID string) (*model.Telemetry, error)

	// Push subscriptions
	SubscriptionsForUsers(ctx context.Context, userIDs []int64) ([]model.PushSubscription, error)
	DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error

	// Users
	UserByID(ctx context.Context, id int64) (*model.User, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// ActiveFamilyContacts returns the eligible approvers under an owner, joined
// with their user contact fields.
func (s *gormStore) ActiveFamilyContacts(ctx context.Context, ownerID int64) ([]MemberContact, error) {
	var contacts []MemberContact
	err := s.db.WithContext(ctx).
		Model(&model.Member{}).
		Select("members.id AS member_id, users.id AS user_id, users.name AS name, users.phone AS phone, members.relation AS relation").
		Joins("JOIN users ON users.id = members.user_id").
		Where("members.owner_id = ? AND members.status = ? AND members.role = ?",
			ownerID, model.MemberActive, model.RoleFamily).
		Scan(&contacts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load family contacts for owner %d: %w", ownerID, err)
	}
	return contacts, nil
}

// ActiveMemberUserIDs returns the user ids of every ACTIVE member under the
// owner, FAMILY and FRIEND alike.
func (s *gormStore) ActiveMemberUserIDs(ctx context.Context, ownerID int64) ([]int64, error) {
	var userIDs []int64
	err := s.db.WithContext(ctx).
		Model(&model.Member{}).
		Where("owner_id = ? AND status = ?", ownerID, model.MemberActive).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load member user ids for owner %d: %w", ownerID, err)
	}
	return userIDs, nil
}

// MembershipFor returns the user's ACTIVE membership, if any. A user without
// one operates as owner of their own dashboard.
func (s *gormStore) MembershipFor(ctx context.Context, userID int64) (*model.Member, error) {
	var member model.Member
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.MemberActive).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// FamilyMembership verifies that memberID is an ACTIVE FAMILY membership of
// userID under ownerID. This is the authenticated decision channel's check
// that the caller is the approver they claim to be.
func (s *gormStore) FamilyMembership(ctx context.Context, ownerID, memberID, userID int64) (*model.Member, error) {
	var member model.Member
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ? AND user_id = ? AND status = ? AND role = ?",
			memberID, ownerID, userID, model.MemberActive, model.RoleFamily).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// FamilyMemberByID verifies that memberID is an ACTIVE FAMILY membership
// under ownerID. Used by the device channel, which carries a member id but no
// authenticated caller.
func (s *gormStore) FamilyMemberByID(ctx context.Context, ownerID, memberID int64) (*model.Member, error) {
	var member model.Member
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ? AND status = ? AND role = ?",
			memberID, ownerID, model.MemberActive, model.RoleFamily).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// VehicleByDeviceKey resolves a device-originated key, matching either the
// secret device key or the stable vehicle UUID.
func (s *gormStore) VehicleByDeviceKey(ctx context.Context, key string) (*model.Vehicle, error) {
	var vehicle model.Vehicle
	err := s.db.WithContext(ctx).
		Where("device_key = ? OR vehicle_uuid = ?", key, key).
		First(&vehicle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &vehicle, nil
}

func (s *gormStore) VehicleByUUID(ctx context.Context, ownerID int64, vehicleUUID string) (*model.Vehicle, error) {
	var vehicle model.Vehicle
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND vehicle_uuid = ?", ownerID, vehicleUUID).
		First(&vehicle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &vehicle, nil
}

// ActiveVehicle returns the owner's active vehicle. When none is recorded, it
// falls back to the most recently registered vehicle and persists the choice.
func (s *gormStore) ActiveVehicle(ctx context.Context, ownerID int64) (*model.Vehicle, error) {
	var owner model.User
	err := s.db.WithContext(ctx).First(&owner, ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if owner.ActiveVehicleID != nil {
		var active model.Vehicle
		err := s.db.WithContext(ctx).
			Where("id = ? AND owner_id = ?", *owner.ActiveVehicleID, ownerID).
			First(&active).Error
		if err == nil {
			return &active, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var fallback model.Vehicle
	err = s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		First(&fallback).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.SetActiveVehicle(ctx, ownerID, fallback.ID); err != nil {
		return nil, err
	}
	return &fallback, nil
}

func (s *gormStore) SetActiveVehicle(ctx context.Context, ownerID, vehicleID int64) error {
	return s.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", ownerID).
		Update("active_vehicle_id", vehicleID).Error
}

// UpsertTelemetry merges one telemetry write into the vehicle's single
// snapshot row and returns the merged snapshot.
func (s *gormStore) UpsertTelemetry(ctx context.Context, ownerID int64, vehicleUUID string, patch TelemetryPatch) (*model.Telemetry, error) {
	assignments := map[string]any{
		"owner_id":   ownerID,
		"updated_at": time.Now().UTC(),
	}
	setIfPresent(assignments, "alcohol", patch.Alcohol)
	setIfPresent(assignments, "accel_x", patch.AccelX)
	setIfPresent(assignments, "accel_y", patch.AccelY)
	setIfPresent(assignments, "accel_z", patch.AccelZ)
	setIfPresent(assignments, "ultrasonic_front", patch.UltrasonicFront)
	setIfPresent(assignments, "ultrasonic_back", patch.UltrasonicBack)
	setIfPresent(assignments, "surface_left", patch.SurfaceLeft)
	setIfPresent(assignments, "surface_right", patch.SurfaceRight)
	setIfPresent(assignments, "speed", patch.Speed)
	setIfPresent(assignments, "location_lat", patch.LocationLat)
	setIfPresent(assignments, "location_lng", patch.LocationLng)

	row := model.Telemetry{
		VehicleUUID:     vehicleUUID,
		OwnerID:         ownerID,
		Alcohol:         patch.Alcohol,
		AccelX:          patch.AccelX,
		AccelY:          patch.AccelY,
		AccelZ:          patch.AccelZ,
		UltrasonicFront: patch.UltrasonicFront,
		UltrasonicBack:  patch.UltrasonicBack,
		SurfaceLeft:     patch.SurfaceLeft,
		SurfaceRight:    patch.SurfaceRight,
		Speed:           patch.Speed,
		LocationLat:     patch.LocationLat,
		LocationLng:     patch.LocationLng,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vehicle_uuid"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert telemetry for vehicle %s: %w", vehicleUUID, err)
	}

	var merged model.Telemetry
	if err := s.db.WithContext(ctx).First(&merged, "vehicle_uuid = ?", vehicleUUID).Error; err != nil {
		return nil, err
	}
	return &merged, nil
}

func (s *gormStore) LatestTelemetry(ctx context.Context, vehicleUUID string) (*model.Telemetry, error) {
	var snapshot model.Telemetry
	err := s.db.WithContext(ctx).First(&snapshot, "vehicle_uuid = ?", vehicleUUID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *gormStore) SubscriptionsForUsers(ctx context.Context, userIDs []int64) ([]model.PushSubscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var subscriptions []model.PushSubscription
	err := s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (s *gormStore) DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

func (s *gormStore) UserByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func setIfPresent(assignments map[string]any, column string, value *float64) {
	if value != nil {
		assignments[column] = *value
	}
}
