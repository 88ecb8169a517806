package app

import (
	"github.com/tinywideclouds/go-realtime-service/internal/platform/push"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// ServiceDependencies holds all the external services the realtime service
// needs to operate. This struct is used for dependency injection.
type ServiceDependencies struct {
	// --- Ingestion ---
	// IngestionProducer receives events submitted over the HTTP API. When nil
	// the API dispatches events in-process.
	IngestionProducer realtime.EventSink
	// IngestionConsumer feeds events published by the CRUD layer. Optional.
	IngestionConsumer realtime.EventConsumer

	// --- Storage ---
	ProfileStore realtime.ProfileStore

	// --- Notifiers ---
	PushProvider push.Provider
}
