package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"carguard-backend/internal/db"
	"carguard-backend/internal/model"
	"carguard-backend/internal/push"
	"carguard-backend/internal/store"
)

// recordingSink captures dispatched notifications.
type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

type sinkCall struct {
	userIDs  []int64
	title    string
	category string
}

func (s *recordingSink) Send(ctx context.Context, userIDs []int64, title, body string, data map[string]string, category string) (push.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{userIDs: userIDs, title: title, category: category})
	return push.Result{Sent: len(userIDs)}, nil
}

func (s *recordingSink) sent() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkCall(nil), s.calls...)
}

func newEvaluatorFixture(t *testing.T) (*Evaluator, *recordingSink, int64, []int64) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(testDB))

	owner := model.User{Name: "Owner"}
	require.NoError(t, testDB.Create(&owner).Error)

	memberUserIDs := make([]int64, 0, 2)
	for i, role := range []string{model.RoleFamily, model.RoleFriend} {
		user := model.User{Name: fmt.Sprintf("Member %d", i)}
		require.NoError(t, testDB.Create(&user).Error)
		member := model.Member{
			OwnerID:  owner.ID,
			UserID:   user.ID,
			Role:     role,
			Relation: "Relative",
			Status:   model.MemberActive,
		}
		require.NoError(t, testDB.Create(&member).Error)
		memberUserIDs = append(memberUserIDs, user.ID)
	}

	sink := &recordingSink{}
	evaluator := NewEvaluator(1, store.NewGormStore(testDB), sink, NewCooldown())
	return evaluator, sink, owner.ID, memberUserIDs
}

func floatPtr(v float64) *float64 { return &v }

func TestAlcoholPercent(t *testing.T) {
	testCases := []struct {
		name     string
		value    *float64
		expected int
		ok       bool
	}{
		{"nil reading", nil, 0, false},
		{"fractional is scaled", floatPtr(0.85), 85, true},
		{"one is full scale", floatPtr(1), 100, true},
		{"percent passes through", floatPtr(45.4), 45, true},
		{"zero", floatPtr(0), 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			percent, ok := AlcoholPercent(tc.value)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, percent)
		})
	}
}

func TestEvaluateAlcoholHigh(t *testing.T) {
	evaluator, sink, ownerID, memberUserIDs := newEvaluatorFixture(t)

	evaluator.Evaluate(context.Background(), &model.Telemetry{
		VehicleUUID: "veh-1",
		OwnerID:     ownerID,
		Alcohol:     floatPtr(0.85),
	})

	calls := sink.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, push.CategoryAlcoholHigh, calls[0].category)

	// The owner and every ACTIVE member receive it, FRIEND included.
	assert.ElementsMatch(t, append([]int64{ownerID}, memberUserIDs...), calls[0].userIDs)
}

func TestEvaluateAlcoholWarn(t *testing.T) {
	evaluator, sink, ownerID, _ := newEvaluatorFixture(t)

	evaluator.Evaluate(context.Background(), &model.Telemetry{
		VehicleUUID: "veh-1",
		OwnerID:     ownerID,
		Alcohol:     floatPtr(45),
	})

	calls := sink.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, push.CategoryAlcoholWarn, calls[0].category)
}

func TestEvaluateSafeReading(t *testing.T) {
	evaluator, sink, ownerID, _ := newEvaluatorFixture(t)

	evaluator.Evaluate(context.Background(), &model.Telemetry{
		VehicleUUID: "veh-1",
		OwnerID:     ownerID,
		Alcohol:     floatPtr(0.2),
	})

	assert.Empty(t, sink.sent())
}

func TestEvaluateAccident(t *testing.T) {
	evaluator, sink, ownerID, _ := newEvaluatorFixture(t)

	evaluator.Evaluate(context.Background(), &model.Telemetry{
		VehicleUUID: "veh-1",
		OwnerID:     ownerID,
		AccelX:      floatPtr(10),
		AccelY:      floatPtr(10),
		AccelZ:      floatPtr(10),
	})

	calls := sink.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, push.CategoryAccident, calls[0].category)
}

func TestEvaluateAccidentNeedsAllAxes(t *testing.T) {
	evaluator, sink, ownerID, _ := newEvaluatorFixture(t)

	evaluator.Evaluate(context.Background(), &model.Telemetry{
		VehicleUUID: "veh-1",
		OwnerID:     ownerID,
		AccelX:      floatPtr(20),
		AccelY:      floatPtr(20),
	})

	assert.Empty(t, sink.sent())
}

func TestEvaluateCooldownSuppressesRepeat(t *testing.T) {
	evaluator, sink, ownerID, _ := newEvaluatorFixture(t)

	snapshot := &model.Telemetry{
		VehicleUUID: "veh-1",
		OwnerID:     ownerID,
		Alcohol:     floatPtr(0.9),
	}

	evaluator.Evaluate(context.Background(), snapshot)
	evaluator.Evaluate(context.Background(), snapshot)

	assert.Len(t, sink.sent(), 1)
}

func TestEvaluateIgnoresIncompleteSnapshot(t *testing.T) {
	evaluator, sink, _, _ := newEvaluatorFixture(t)

	evaluator.Evaluate(context.Background(), &model.Telemetry{
		VehicleUUID: "veh-1",
		Alcohol:     floatPtr(0.9),
	})

	assert.Empty(t, sink.sent())
}
