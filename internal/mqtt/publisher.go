package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"carguard-backend/internal/model"
	"carguard-backend/internal/store"
)

func commandTopic(deviceKey string) string {
	return fmt.Sprintf("vehicle/%s/commands", deviceKey)
}

// brokerPublisher is the outbound slice of Client, injectable in tests.
type brokerPublisher interface {
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error
}

// CommandPublisher sends outbound command payloads to vehicles, addressed by
// the vehicle's secret device key.
type CommandPublisher struct {
	client brokerPublisher
	store  store.Store
}

// NewCommandPublisher creates a publisher on top of a started client.
func NewCommandPublisher(client *Client, s store.Store) *CommandPublisher {
	return &CommandPublisher{client: client, store: s}
}

// Publish sends a JSON command to the device with the given key at QoS 1.
func (p *CommandPublisher) Publish(ctx context.Context, deviceKey string, command any) error {
	if deviceKey == "" {
		return fmt.Errorf("device key is required")
	}
	payload, err := json.Marshal(command)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, commandTopic(deviceKey), 1, false, payload)
}

// PublishByVehicle resolves the owner's vehicle by its stable UUID and sends
// the command to it.
func (p *CommandPublisher) PublishByVehicle(ctx context.Context, ownerID int64, vehicleUUID string, command any) error {
	vehicle, err := p.store.VehicleByUUID(ctx, ownerID, vehicleUUID)
	if err != nil {
		return fmt.Errorf("vehicle not found for command publish: %w", err)
	}
	return p.Publish(ctx, vehicle.DeviceKey, command)
}

// PublishToActiveVehicle sends the command to the owner's active vehicle.
func (p *CommandPublisher) PublishToActiveVehicle(ctx context.Context, ownerID int64, command any) error {
	vehicle, err := p.store.ActiveVehicle(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("no active vehicle for owner %d: %w", ownerID, err)
	}
	return p.Publish(ctx, vehicle.DeviceKey, command)
}

// ApprovalResultCommand is the payload published to a vehicle when its start
// request settles. APPROVED unlocks a limited speed allowance; REJECTED locks
// the vehicle fully.
func ApprovalResultCommand(status string, memberID int64, name, phone string) map[string]any {
	vehicleState := map[string]any{
		"speedAllowed": 0,
		"lockState":    "LOCKED",
		"reason":       model.DecisionRejected,
	}
	if status == model.DecisionApproved {
		vehicleState = map[string]any{
			"speedAllowed": 40,
			"lockState":    "LIMITED",
			"reason":       model.DecisionApproved,
		}
	}

	return map[string]any{
		"statusApproval": map[string]any{
			"status": status,
			"whoApprove": map[string]any{
				"memberId": memberID,
				"name":     name,
				"phone":    phone,
			},
		},
		"isVehicleStateUpdate": true,
		"vehicleState":         vehicleState,
	}
}

// RequestCreatedCommand is the payload published to a vehicle when a start
// request is opened for it.
func RequestCreatedCommand(request *model.StartRequest) map[string]any {
	return map[string]any{
		"isRequest":    true,
		"requestId":    fmt.Sprintf("%d", request.ID),
		"alcoholLevel": request.AlcoholLevel,
		"expiresAt":    request.ExpiresAt,
		"status":       request.Status,
	}
}

// ContactsChangedCommand hints the device that its cached approver contact
// list may be stale and should be refetched. Sent when a vehicle becomes the
// owner's active one.
func ContactsChangedCommand() map[string]any {
	return map[string]any{
		"isContactsUpdate": true,
	}
}
