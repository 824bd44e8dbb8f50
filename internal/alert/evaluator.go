package alert

import (
	"context"
	"fmt"
	"log"
	"math"

	"carguard-backend/internal/model"
	"carguard-backend/internal/push"
	"carguard-backend/internal/store"
)

// Alert types raised from telemetry.
const (
	TypeAccident    = "ACCIDENT"
	TypeAlcoholWarn = "ALCOHOL_WARN"
	TypeAlcoholHigh = "ALCOHOL_HIGH"
)

const (
	alcoholWarnThreshold   = 30
	alcoholHighThreshold   = 70
	accidentAccelThreshold = 14.0
)

// AlcoholPercent normalizes a raw alcohol reading to a 0-100 percentage.
// Values at or below 1 are treated as a fraction and scaled.
func AlcoholPercent(value *float64) (int, bool) {
	if value == nil {
		return 0, false
	}
	v := *value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if v <= 1 {
		return int(math.Round(v * 100)), true
	}
	return int(math.Round(v)), true
}

func accelMagnitude(x, y, z *float64) (float64, bool) {
	if x == nil || y == nil || z == nil {
		return 0, false
	}
	return math.Sqrt(*x**x + *y**y + *z**z), true
}

type pendingAlert struct {
	alertType string
	title     string
	body      string
	data      map[string]string
}

// Evaluator applies threshold rules to telemetry snapshots and dispatches
// push alerts. It runs a small worker pool so dispatch never blocks or fails
// the telemetry write that produced the snapshot.
type Evaluator struct {
	size     int
	jobs     chan model.Telemetry
	store    store.Store
	sink     push.Sink
	cooldown *Cooldown
}

// NewEvaluator creates an evaluator with the given worker pool size.
func NewEvaluator(size int, s store.Store, sink push.Sink, cooldown *Cooldown) *Evaluator {
	if size <= 0 {
		size = 1
	}
	return &Evaluator{
		size:     size,
		jobs:     make(chan model.Telemetry, size*4),
		store:    s,
		sink:     sink,
		cooldown: cooldown,
	}
}

// Start launches the worker goroutines.
func (e *Evaluator) Start(ctx context.Context) {
	for i := 0; i < e.size; i++ {
		go e.worker(ctx, i)
	}
}

func (e *Evaluator) worker(ctx context.Context, id int) {
	log.Printf("Alert worker %d started", id)
	for {
		select {
		case snapshot := <-e.jobs:
			e.Evaluate(ctx, &snapshot)
		case <-ctx.Done():
			log.Printf("Alert worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a snapshot for evaluation. It never blocks; when the queue
// is full the snapshot is dropped, since alerting is best-effort relative to
// ingestion.
func (e *Evaluator) Dispatch(snapshot *model.Telemetry) {
	select {
	case e.jobs <- *snapshot:
	default:
		log.Printf("Alert queue full, dropping evaluation for vehicle %s", snapshot.VehicleUUID)
	}
}

// Evaluate applies the threshold rules to one snapshot. Each rule is
// independent and individually cooldown-gated. Delivery failures are logged
// and swallowed.
func (e *Evaluator) Evaluate(ctx context.Context, snapshot *model.Telemetry) {
	if snapshot.OwnerID == 0 || snapshot.VehicleUUID == "" {
		return
	}

	var alerts []pendingAlert

	// Alcohol: high supersedes warn for the same reading.
	if percent, ok := AlcoholPercent(snapshot.Alcohol); ok {
		if percent > alcoholHighThreshold {
			if e.cooldown.Allow(snapshot.OwnerID, snapshot.VehicleUUID, TypeAlcoholHigh) {
				alerts = append(alerts, pendingAlert{
					alertType: TypeAlcoholHigh,
					title:     "Alcohol danger alert",
					body:      fmt.Sprintf("High alcohol level (%d%%) detected for vehicle %s.", percent, snapshot.VehicleUUID),
					data: map[string]string{
						"vehicleId":    snapshot.VehicleUUID,
						"alcoholLevel": fmt.Sprintf("%d", percent),
					},
				})
			}
		} else if percent > alcoholWarnThreshold {
			if e.cooldown.Allow(snapshot.OwnerID, snapshot.VehicleUUID, TypeAlcoholWarn) {
				alerts = append(alerts, pendingAlert{
					alertType: TypeAlcoholWarn,
					title:     "Alcohol warning",
					body:      fmt.Sprintf("Alcohol warning (%d%%) detected for vehicle %s.", percent, snapshot.VehicleUUID),
					data: map[string]string{
						"vehicleId":    snapshot.VehicleUUID,
						"alcoholLevel": fmt.Sprintf("%d", percent),
					},
				})
			}
		}
	}

	if magnitude, ok := accelMagnitude(snapshot.AccelX, snapshot.AccelY, snapshot.AccelZ); ok &&
		magnitude > accidentAccelThreshold &&
		e.cooldown.Allow(snapshot.OwnerID, snapshot.VehicleUUID, TypeAccident) {
		alerts = append(alerts, pendingAlert{
			alertType: TypeAccident,
			title:     "Accident alert",
			body:      fmt.Sprintf("Potential accident detected for vehicle %s. Open dashboard immediately.", snapshot.VehicleUUID),
			data: map[string]string{
				"vehicleId":      snapshot.VehicleUUID,
				"accelMagnitude": fmt.Sprintf("%.2f", magnitude),
			},
		})
	}

	if len(alerts) == 0 {
		return
	}

	userIDs, err := e.recipients(ctx, snapshot.OwnerID)
	if err != nil {
		log.Printf("Error resolving alert recipients for owner %d: %v", snapshot.OwnerID, err)
		return
	}
	if len(userIDs) == 0 {
		return
	}

	for _, a := range alerts {
		if _, err := e.sink.Send(ctx, userIDs, a.title, a.body, a.data, categoryFor(a.alertType)); err != nil {
			log.Printf("Error dispatching %s alert for vehicle %s: %v", a.alertType, snapshot.VehicleUUID, err)
		}
	}
}

// recipients is the owner plus every ACTIVE member under the owner, FAMILY
// and FRIEND alike, deduplicated.
func (e *Evaluator) recipients(ctx context.Context, ownerID int64) ([]int64, error) {
	memberUserIDs, err := e.store.ActiveMemberUserIDs(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	seen := map[int64]struct{}{ownerID: {}}
	userIDs := []int64{ownerID}
	for _, id := range memberUserIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		userIDs = append(userIDs, id)
	}
	return userIDs, nil
}

func categoryFor(alertType string) string {
	switch alertType {
	case TypeAccident:
		return push.CategoryAccident
	case TypeAlcoholHigh:
		return push.CategoryAlcoholHigh
	case TypeAlcoholWarn:
		return push.CategoryAlcoholWarn
	default:
		return push.CategoryRequest
	}
}
