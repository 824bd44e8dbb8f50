package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"carguard-backend/internal/ledger"
	"carguard-backend/internal/realtime"
	"carguard-backend/internal/store"
)

// VehicleCommander publishes command payloads back to a vehicle. Satisfied by
// the MQTT command publisher; nil disables command publishing.
type VehicleCommander interface {
	PublishByVehicle(ctx context.Context, ownerID int64, vehicleUUID string, command any) error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	ledger   *ledger.Ledger
	hub      *realtime.Hub
	commands VehicleCommander
	webpush  *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, l *ledger.Ledger, hub *realtime.Hub, commands VehicleCommander, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:    s,
		ledger:   l,
		hub:      hub,
		commands: commands,
		webpush:  webpushOptions,
	}
}

// statusForError maps the ledger error taxonomy to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidDecision), errors.Is(err, ledger.ErrNoApprovers):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrExpired):
		return http.StatusGone
	case errors.Is(err, ledger.ErrAlreadyResolved), errors.Is(err, ledger.ErrAlreadyApproved):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
