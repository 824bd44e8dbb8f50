package mqtt

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"carguard-backend/internal/alert"
	"carguard-backend/internal/approver"
	"carguard-backend/internal/ledger"
	"carguard-backend/internal/model"
	"carguard-backend/internal/store"
)

// Topics on the device channel. Devices address themselves by their secret
// key or stable vehicle UUID in the middle level.
const (
	topicTelemetry = "vehicle/+/telemetry"
	topicEvents    = "vehicle/+/events"
	topicEvent     = "vehicle/+/event"
	topicActive    = "vehicle/active"
	topicActivate  = "vehicle/activate"
)

// requestAlcoholThreshold gates device-triggered request creation: a safe
// reading needs no approval.
const requestAlcoholThreshold = 30

// Ingestor consumes the device-reported broker streams. Every handler is
// best-effort: malformed or unresolvable messages are logged and dropped, and
// never crash the ingestion loop.
type Ingestor struct {
	client    *Client
	store     store.Store
	ledger    *ledger.Ledger
	evaluator *alert.Evaluator
	events    ledger.Events
	commands  *CommandPublisher
}

// NewIngestor wires the broker streams into the ledger, evaluator and
// fan-out. commands may be nil; outbound hints are then skipped.
func NewIngestor(client *Client, s store.Store, l *ledger.Ledger, e *alert.Evaluator, events ledger.Events, commands *CommandPublisher) *Ingestor {
	return &Ingestor{
		client:    client,
		store:     s,
		ledger:    l,
		evaluator: e,
		events:    events,
		commands:  commands,
	}
}

// Start subscribes the ingestor to every device topic.
func (in *Ingestor) Start(ctx context.Context) error {
	subscriptions := []struct {
		topic string
		qos   byte
	}{
		{topicTelemetry, 0},
		{topicEvents, 0},
		{topicEvent, 0},
		{topicActive, 1},
		{topicActivate, 1},
	}
	for _, s := range subscriptions {
		if err := in.client.Subscribe(ctx, s.topic, s.qos, in.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle routes one device message by its topic.
func (in *Ingestor) Handle(ctx context.Context, topic string, payload []byte) {
	if topic == topicActive || topic == topicActivate {
		in.handleActivate(ctx, topic, payload)
		return
	}

	_, kind, ok := parseVehicleTopic(topic)
	if !ok {
		return
	}
	switch kind {
	case "telemetry":
		in.handleTelemetry(ctx, topic, payload)
	case "events", "event":
		in.handleEvent(ctx, topic, payload)
	}
}

// parseVehicleTopic splits vehicle/<key>/<kind> topics.
func parseVehicleTopic(topic string) (key, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "vehicle" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// --- Wire payloads ---

type axisPayload struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

type rangePayload struct {
	Front *float64 `json:"front"`
	Back  *float64 `json:"back"`
}

type sidePayload struct {
	Left  *float64 `json:"left"`
	Right *float64 `json:"right"`
}

type locationPayload struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type telemetryPayload struct {
	Alcohol    *float64         `json:"alcohol"`
	Ultrasonic *rangePayload    `json:"ultrasonic"`
	Surface    *sidePayload     `json:"surface"`
	Accel      *axisPayload     `json:"accel"`
	Speed      *float64         `json:"speed"`
	Location   *locationPayload `json:"location"`
}

func (t *telemetryPayload) toPatch() store.TelemetryPatch {
	patch := store.TelemetryPatch{
		Alcohol: t.Alcohol,
		Speed:   t.Speed,
	}
	if t.Accel != nil {
		patch.AccelX, patch.AccelY, patch.AccelZ = t.Accel.X, t.Accel.Y, t.Accel.Z
	}
	if t.Ultrasonic != nil {
		patch.UltrasonicFront, patch.UltrasonicBack = t.Ultrasonic.Front, t.Ultrasonic.Back
	}
	if t.Surface != nil {
		patch.SurfaceLeft, patch.SurfaceRight = t.Surface.Left, t.Surface.Right
	}
	if t.Location != nil {
		patch.LocationLat, patch.LocationLng = t.Location.Lat, t.Location.Lng
	}
	return patch
}

type statusApprovalPayload struct {
	Status     string `json:"status"`
	MemberID   *int64 `json:"memberId"`
	WhoApprove string `json:"whoApprove"`
	Who        string `json:"who"`
	By         string `json:"by"`
}

func (s *statusApprovalPayload) whoToken() string {
	if s.WhoApprove != "" {
		return s.WhoApprove
	}
	if s.Who != "" {
		return s.Who
	}
	return s.By
}

type eventPayload struct {
	MessageSent      any                    `json:"messageSent"`
	AccidentLocation *locationPayload       `json:"accidentLocation"`
	IsRequest        bool                   `json:"isRequest"`
	AlcoholLevel     *float64               `json:"alcoholLevel"`
	Alcohol          *float64               `json:"alcohol"`
	StatusApproval   *statusApprovalPayload `json:"statusApproval"`
}

type activatePayload struct {
	EspKey    string `json:"espKey"`
	VehicleID string `json:"vehicleId"`
	Key       string `json:"key"`
	EspKeyAlt string `json:"espkey"`
}

func (a *activatePayload) key() string {
	for _, candidate := range []string{a.EspKey, a.VehicleID, a.Key, a.EspKeyAlt} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// --- Handlers ---

func (in *Ingestor) handleTelemetry(ctx context.Context, topic string, payload []byte) {
	key, _, ok := parseVehicleTopic(topic)
	if !ok {
		return
	}

	vehicle, err := in.store.VehicleByDeviceKey(ctx, key)
	if err != nil {
		log.Printf("Telemetry ignored (unknown vehicle key %s)", key)
		return
	}

	var body telemetryPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		log.Printf("Telemetry payload error for vehicle %s: %v", vehicle.VehicleUUID, err)
		return
	}

	in.ingestTelemetry(ctx, vehicle.OwnerID, vehicle.VehicleUUID, body.toPatch())
}

// ingestTelemetry writes the snapshot, fans it out to dashboards, and hands
// it to the alert evaluator. Fan-out and alerting are fire-and-forget
// relative to the write.
func (in *Ingestor) ingestTelemetry(ctx context.Context, ownerID int64, vehicleUUID string, patch store.TelemetryPatch) {
	snapshot, err := in.store.UpsertTelemetry(ctx, ownerID, vehicleUUID, patch)
	if err != nil {
		log.Printf("Telemetry write failed for vehicle %s: %v", vehicleUUID, err)
		return
	}

	if in.events != nil {
		in.events.PublishToOwner(ownerID, "sensor:update", snapshot)
	}

	in.evaluator.Dispatch(snapshot)
}

func (in *Ingestor) handleEvent(ctx context.Context, topic string, payload []byte) {
	key, _, ok := parseVehicleTopic(topic)
	if !ok {
		return
	}

	vehicle, err := in.store.VehicleByDeviceKey(ctx, key)
	if err != nil {
		log.Printf("Event ignored (unknown vehicle key %s)", key)
		return
	}

	var body eventPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		log.Printf("Event payload error for vehicle %s: %v", vehicle.VehicleUUID, err)
		return
	}

	ownerID := vehicle.OwnerID
	vehicleUUID := vehicle.VehicleUUID

	// Device relayed an offline SMS send; surface it on the dashboard.
	if body.MessageSent != nil && in.events != nil {
		in.events.PublishToOwner(ownerID, "esp:messageSent", map[string]any{
			"vehicleId":   vehicleUUID,
			"messageSent": body.MessageSent,
		})
	}

	if body.AccidentLocation != nil && body.AccidentLocation.Lat != nil && body.AccidentLocation.Lng != nil {
		in.ingestTelemetry(ctx, ownerID, vehicleUUID, store.TelemetryPatch{
			LocationLat: body.AccidentLocation.Lat,
			LocationLng: body.AccidentLocation.Lng,
		})
	}

	if body.IsRequest {
		in.createDeviceRequest(ctx, ownerID, vehicleUUID, &body)
	}

	if body.StatusApproval != nil && body.StatusApproval.Status != "" {
		in.applyDeviceDecision(ctx, ownerID, vehicleUUID, body.StatusApproval)
	}
}

// createDeviceRequest opens a start request triggered by the vehicle itself.
// When the event carries no alcohol value, the most recent stored snapshot
// stands in.
func (in *Ingestor) createDeviceRequest(ctx context.Context, ownerID int64, vehicleUUID string, body *eventPayload) {
	reading := body.AlcoholLevel
	if reading == nil {
		reading = body.Alcohol
	}
	percent, ok := alert.AlcoholPercent(reading)
	if !ok {
		if snapshot, err := in.store.LatestTelemetry(ctx, vehicleUUID); err == nil {
			percent, ok = alert.AlcoholPercent(snapshot.Alcohol)
		}
	}
	if !ok || percent <= requestAlcoholThreshold {
		return
	}

	if _, err := in.ledger.Create(ctx, ownerID, vehicleUUID, percent); err != nil {
		log.Printf("Device request ignored for vehicle %s: %v", vehicleUUID, err)
	}
}

// applyDeviceDecision syncs an approval decision reported over the device
// channel (e.g. relayed from an offline SMS). The decision must target the
// owner's currently active request for this vehicle; mismatches are silently
// dropped.
func (in *Ingestor) applyDeviceDecision(ctx context.Context, ownerID int64, vehicleUUID string, sa *statusApprovalPayload) {
	active, err := in.ledger.ActiveFor(ctx, ownerID)
	if err != nil {
		log.Printf("Device decision lookup failed for owner %d: %v", ownerID, err)
		return
	}
	if active == nil || active.VehicleUUID != vehicleUUID {
		return
	}

	decision := strings.ToUpper(strings.TrimSpace(sa.Status))
	if decision != model.DecisionApproved && decision != model.DecisionRejected {
		return
	}

	memberID, ok := in.resolveApprover(ctx, ownerID, sa)
	if !ok {
		log.Printf("Device decision ignored (member not resolved) for owner %d", ownerID)
		return
	}

	if _, err := in.ledger.SubmitDecision(ctx, ownerID, active.ID, memberID, decision); err != nil {
		log.Printf("Device decision dropped for request %d: %v", active.ID, err)
	}
}

func (in *Ingestor) resolveApprover(ctx context.Context, ownerID int64, sa *statusApprovalPayload) (int64, bool) {
	if sa.MemberID != nil {
		member, err := in.store.FamilyMemberByID(ctx, ownerID, *sa.MemberID)
		if err != nil {
			return 0, false
		}
		return member.ID, true
	}

	contacts, err := in.store.ActiveFamilyContacts(ctx, ownerID)
	if err != nil {
		log.Printf("Failed to load approvers for owner %d: %v", ownerID, err)
		return 0, false
	}
	match := approver.Resolve(contacts, sa.whoToken())
	if match == nil {
		return 0, false
	}
	return match.MemberID, true
}

func (in *Ingestor) handleActivate(ctx context.Context, topic string, payload []byte) {
	var body activatePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		log.Printf("Active vehicle payload error: %v", err)
		return
	}

	key := body.key()
	if key == "" {
		log.Println("Active vehicle ignored (missing device key)")
		return
	}

	vehicle, err := in.store.VehicleByDeviceKey(ctx, key)
	if err != nil {
		log.Printf("Active vehicle ignored (unknown key %s)", key)
		return
	}

	if err := in.store.SetActiveVehicle(ctx, vehicle.OwnerID, vehicle.ID); err != nil {
		log.Printf("Failed to set active vehicle for owner %d: %v", vehicle.OwnerID, err)
		return
	}

	if in.events != nil {
		in.events.PublishToOwner(vehicle.OwnerID, "activeVehicle:update", map[string]any{
			"ownerId": vehicle.OwnerID,
			"activeVehicle": map[string]any{
				"id":          vehicle.ID,
				"vehicleId":   vehicle.VehicleUUID,
				"name":        vehicle.Name,
				"plateNumber": vehicle.PlateNumber,
				"createdAt":   vehicle.CreatedAt,
			},
		})
	}

	// A device that just became active may hold a stale offline-SMS contact
	// cache; tell it to refetch.
	if in.commands != nil {
		if err := in.commands.PublishToActiveVehicle(ctx, vehicle.OwnerID, ContactsChangedCommand()); err != nil {
			log.Printf("Failed to send contacts refresh to vehicle %s: %v", vehicle.VehicleUUID, err)
		}
	}
}
