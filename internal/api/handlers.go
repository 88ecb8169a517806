// Package api defines the HTTP handlers of the realtime service: event
// ingestion from the CRUD layer, device-token management and health checks.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tinywideclouds/go-realtime-service/internal/platform/auth"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

const maxBodyBytes = 1 << 20

// API holds the dependencies for the stateless HTTP handlers.
type API struct {
	sink     realtime.EventSink
	profiles realtime.ProfileStore
	logger   *slog.Logger
}

// NewAPI creates a new, stateless API handler.
func NewAPI(sink realtime.EventSink, profiles realtime.ProfileStore, logger *slog.Logger) (*API, error) {
	if sink == nil {
		return nil, errors.New("event sink cannot be nil")
	}
	if profiles == nil {
		return nil, errors.New("profile store cannot be nil")
	}
	return &API{sink: sink, profiles: profiles, logger: logger}, nil
}

type acceptedResponse struct {
	ID string `json:"id"`
}

// SubmitEventHandler accepts a DomainEvent from the CRUD layer. The event is
// validated synchronously; delivery happens after the 202 is decided.
func (a *API) SubmitEventHandler(w http.ResponseWriter, r *http.Request) {
	var event realtime.DomainEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&event); err != nil {
		a.logger.Warn("Failed to decode event", "err", err)
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.ActorID == "" {
		if userID, ok := auth.UserIDFromContext(r.Context()); ok {
			event.ActorID = userID
		}
	}
	// Client-originated exclusions are only meaningful on the socket path.
	event.OriginConnectionID = ""

	log := a.logger.With("event_id", event.ID, "kind", event.Kind)
	if err := event.Validate(); err != nil {
		log.Warn("Rejected invalid event", "err", err)
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.sink.Submit(r.Context(), &event); err != nil {
		log.Error("Failed to submit event", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to accept event")
		return
	}

	log.Debug("Event accepted")
	writeJSON(w, http.StatusAccepted, acceptedResponse{ID: event.ID})
}

// RegisterDeviceHandler adds or updates a device token for a user.
func (a *API) RegisterDeviceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.authorizeUser(w, r)
	if !ok {
		return
	}
	registrar, ok := a.profiles.(realtime.TokenRegistrar)
	if !ok {
		writeJSONError(w, http.StatusNotImplemented, "profile store does not accept registrations")
		return
	}

	var token realtime.DeviceToken
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&token); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if token.Token == "" {
		writeJSONError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := registrar.RegisterToken(r.Context(), userID, token); err != nil {
		a.logger.Error("Failed to register device token", "user", userID, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to register device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveDeviceHandler removes a device token, e.g. on logout.
func (a *API) RemoveDeviceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.authorizeUser(w, r)
	if !ok {
		return
	}
	token := chi.URLParam(r, "token")
	if token == "" {
		writeJSONError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := a.profiles.InvalidateToken(r.Context(), userID, token); err != nil {
		a.logger.Error("Failed to remove device token", "user", userID, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to remove device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizeUser returns the {userID} path parameter. An authenticated caller
// may only manage their own devices.
func (a *API) authorizeUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "user id is required")
		return "", false
	}
	if authed, ok := auth.UserIDFromContext(r.Context()); ok && authed != userID {
		writeJSONError(w, http.StatusForbidden, "cannot manage another user's devices")
		return "", false
	}
	return userID, true
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler reports readiness as decided by ready.
func ReadyHandler(ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
