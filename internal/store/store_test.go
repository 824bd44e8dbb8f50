package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"carguard-backend/internal/db"
	"carguard-backend/internal/model"
)

// newTestDB opens a fresh in-memory SQLite database, isolated per test.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(testDB))
	return testDB
}

// newMockDB creates a sqlmock-backed GORM connection.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func fptr(v float64) *float64 { return &v }

func seedCircle(t *testing.T, testDB *gorm.DB) (owner model.User, family, friend model.Member) {
	t.Helper()

	owner = model.User{Name: "Owner", Phone: "+1000000000"}
	require.NoError(t, testDB.Create(&owner).Error)

	familyUser := model.User{Name: "Ramesh", Phone: "+91-9876543210"}
	require.NoError(t, testDB.Create(&familyUser).Error)
	family = model.Member{OwnerID: owner.ID, UserID: familyUser.ID, Role: model.RoleFamily, Relation: "Father", Status: model.MemberActive}
	require.NoError(t, testDB.Create(&family).Error)

	friendUser := model.User{Name: "Arjun", Phone: "9123456789"}
	require.NoError(t, testDB.Create(&friendUser).Error)
	friend = model.Member{OwnerID: owner.ID, UserID: friendUser.ID, Role: model.RoleFriend, Relation: "Friend", Status: model.MemberActive}
	require.NoError(t, testDB.Create(&friend).Error)

	return owner, family, friend
}

func TestActiveFamilyContacts(t *testing.T) {
	testDB := newTestDB(t)
	owner, family, _ := seedCircle(t, testDB)

	// An inactive family member must not appear.
	inactiveUser := model.User{Name: "Gone"}
	require.NoError(t, testDB.Create(&inactiveUser).Error)
	require.NoError(t, testDB.Create(&model.Member{
		OwnerID: owner.ID, UserID: inactiveUser.ID,
		Role: model.RoleFamily, Relation: "Uncle", Status: model.MemberInactive,
	}).Error)

	s := NewGormStore(testDB)
	contacts, err := s.ActiveFamilyContacts(context.Background(), owner.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, family.ID, contacts[0].MemberID)
	assert.Equal(t, "Ramesh", contacts[0].Name)
	assert.Equal(t, "+91-9876543210", contacts[0].Phone)
	assert.Equal(t, "Father", contacts[0].Relation)
}

func TestActiveMemberUserIDsIncludesFriends(t *testing.T) {
	testDB := newTestDB(t)
	owner, family, friend := seedCircle(t, testDB)

	s := NewGormStore(testDB)
	userIDs, err := s.ActiveMemberUserIDs(context.Background(), owner.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{family.UserID, friend.UserID}, userIDs)
}

func TestFamilyMembership(t *testing.T) {
	testDB := newTestDB(t)
	owner, family, friend := seedCircle(t, testDB)

	s := NewGormStore(testDB)
	ctx := context.Background()

	member, err := s.FamilyMembership(ctx, owner.ID, family.ID, family.UserID)
	require.NoError(t, err)
	assert.Equal(t, family.ID, member.ID)

	// A FRIEND membership never qualifies.
	_, err = s.FamilyMembership(ctx, owner.ID, friend.ID, friend.UserID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The caller must hold the membership themselves.
	_, err = s.FamilyMembership(ctx, owner.ID, family.ID, friend.UserID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVehicleByDeviceKey(t *testing.T) {
	testDB := newTestDB(t)
	owner, _, _ := seedCircle(t, testDB)

	vehicle := model.Vehicle{VehicleUUID: "veh-1", DeviceKey: "esp-secret-1", OwnerID: owner.ID, Name: "Scooter"}
	require.NoError(t, testDB.Create(&vehicle).Error)

	s := NewGormStore(testDB)
	ctx := context.Background()

	// Devices may address themselves with either identifier.
	byKey, err := s.VehicleByDeviceKey(ctx, "esp-secret-1")
	require.NoError(t, err)
	assert.Equal(t, vehicle.ID, byKey.ID)

	byUUID, err := s.VehicleByDeviceKey(ctx, "veh-1")
	require.NoError(t, err)
	assert.Equal(t, vehicle.ID, byUUID.ID)

	_, err = s.VehicleByDeviceKey(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveVehicleFallbackPersists(t *testing.T) {
	testDB := newTestDB(t)
	owner, _, _ := seedCircle(t, testDB)

	older := model.Vehicle{VehicleUUID: "veh-old", DeviceKey: "k1", OwnerID: owner.ID, CreatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, testDB.Create(&older).Error)
	newer := model.Vehicle{VehicleUUID: "veh-new", DeviceKey: "k2", OwnerID: owner.ID, CreatedAt: time.Now()}
	require.NoError(t, testDB.Create(&newer).Error)

	s := NewGormStore(testDB)
	ctx := context.Background()

	active, err := s.ActiveVehicle(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, active.ID)

	// The fallback choice is written back to the owner.
	var stored model.User
	require.NoError(t, testDB.First(&stored, owner.ID).Error)
	require.NotNil(t, stored.ActiveVehicleID)
	assert.Equal(t, newer.ID, *stored.ActiveVehicleID)

	// An explicit selection overrides the fallback.
	require.NoError(t, s.SetActiveVehicle(ctx, owner.ID, older.ID))
	active, err = s.ActiveVehicle(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, older.ID, active.ID)
}

func TestActiveVehicleNoVehicles(t *testing.T) {
	testDB := newTestDB(t)
	owner, _, _ := seedCircle(t, testDB)

	s := NewGormStore(testDB)
	_, err := s.ActiveVehicle(context.Background(), owner.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertTelemetryMerges(t *testing.T) {
	testDB := newTestDB(t)
	owner, _, _ := seedCircle(t, testDB)

	s := NewGormStore(testDB)
	ctx := context.Background()

	first, err := s.UpsertTelemetry(ctx, owner.ID, "veh-1", TelemetryPatch{
		Alcohol: fptr(0.4),
		AccelX:  fptr(1.5),
	})
	require.NoError(t, err)
	require.NotNil(t, first.Alcohol)
	assert.InDelta(t, 0.4, *first.Alcohol, 0.0001)

	// A later partial write keeps the untouched fields.
	second, err := s.UpsertTelemetry(ctx, owner.ID, "veh-1", TelemetryPatch{
		Speed:       fptr(22),
		LocationLat: fptr(12.9716),
		LocationLng: fptr(77.5946),
	})
	require.NoError(t, err)
	require.NotNil(t, second.Alcohol)
	assert.InDelta(t, 0.4, *second.Alcohol, 0.0001)
	require.NotNil(t, second.AccelX)
	assert.InDelta(t, 1.5, *second.AccelX, 0.0001)
	require.NotNil(t, second.Speed)
	assert.InDelta(t, 22, *second.Speed, 0.0001)

	// Still a single row per vehicle.
	var count int64
	require.NoError(t, testDB.Model(&model.Telemetry{}).Where("vehicle_uuid = ?", "veh-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	snapshot, err := s.LatestTelemetry(ctx, "veh-1")
	require.NoError(t, err)
	require.NotNil(t, snapshot.LocationLat)
	assert.InDelta(t, 12.9716, *snapshot.LocationLat, 0.0001)
}

func TestLatestTelemetryNotFound(t *testing.T) {
	testDB := newTestDB(t)
	s := NewGormStore(testDB)

	_, err := s.LatestTelemetry(context.Background(), "veh-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptionsForUsersEmptyShortCircuits(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	// No user ids means no query at all.
	subscriptions, err := s.SubscriptionsForUsers(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, subscriptions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionsForUsersQuery(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "push_subscriptions" WHERE user_id IN ($1,$2)`)).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"endpoint", "user_id", "p256dh", "auth"}).
			AddRow("https://push.example/a", 1, "p", "a").
			AddRow("https://push.example/b", 2, "p", "a"))

	subscriptions, err := s.SubscriptionsForUsers(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Len(t, subscriptions, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSubscriptionByEndpoint(t *testing.T) {
	testDB := newTestDB(t)
	owner, _, _ := seedCircle(t, testDB)

	require.NoError(t, testDB.Create(&model.PushSubscription{
		Endpoint: "https://push.example/x", UserID: owner.ID, P256DH: "p", Auth: "a",
	}).Error)

	s := NewGormStore(testDB)
	require.NoError(t, s.DeleteSubscriptionByEndpoint(context.Background(), "https://push.example/x"))

	var count int64
	require.NoError(t, testDB.Model(&model.PushSubscription{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
