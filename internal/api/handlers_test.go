package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-realtime-service/internal/api"
	"github.com/tinywideclouds/go-realtime-service/internal/platform/auth"
	"github.com/tinywideclouds/go-realtime-service/internal/test/fakes"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

type apiFixture struct {
	sink     *fakes.EventSink
	profiles *fakes.ProfileStore
	handler  http.Handler
}

func setupAPI(t *testing.T, authMiddleware func(http.Handler) http.Handler, ready bool) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := fakes.NewEventSink(10)
	profiles := fakes.NewProfileStore()

	a, err := api.NewAPI(sink, profiles, logger)
	require.NoError(t, err)

	return &apiFixture{
		sink:     sink,
		profiles: profiles,
		handler:  api.NewRouter(a, authMiddleware, func() bool { return ready }, []string{"https://app.example.com"}),
	}
}

func asUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.ContextWithUserID(r.Context(), userID)))
		})
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSubmitEventHandler(t *testing.T) {
	t.Run("Success - Event is accepted and submitted", func(t *testing.T) {
		// Arrange
		fx := setupAPI(t, auth.Noop, true)

		// Act
		rr := do(t, fx.handler, http.MethodPost, "/api/events", map[string]any{
			"kind":       "message-created",
			"actorId":    "alice",
			"receiverId": "bob",
			"text":       "hi",
		})

		// Assert
		require.Equal(t, http.StatusAccepted, rr.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["id"])

		select {
		case event := <-fx.sink.Events():
			assert.Equal(t, resp["id"], event.ID)
			assert.Equal(t, realtime.KindMessageCreated, event.Kind)
			assert.Equal(t, "bob", event.ReceiverID)
			assert.False(t, event.OccurredAt.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event was not submitted")
		}
	})

	t.Run("Success - Authenticated caller becomes the actor", func(t *testing.T) {
		fx := setupAPI(t, asUser("alice"), true)

		rr := do(t, fx.handler, http.MethodPost, "/api/events", map[string]any{
			"kind": "comment-added", "taskId": "42", "originConnectionId": "spoofed",
		})

		require.Equal(t, http.StatusAccepted, rr.Code)
		event := <-fx.sink.Events()
		assert.Equal(t, "alice", event.ActorID)
		assert.Empty(t, event.OriginConnectionID)
	})

	t.Run("Failure - Invalid event is rejected", func(t *testing.T) {
		fx := setupAPI(t, auth.Noop, true)

		rr := do(t, fx.handler, http.MethodPost, "/api/events", map[string]any{"kind": "task-updated"})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "taskId")
	})

	t.Run("Failure - Malformed JSON", func(t *testing.T) {
		fx := setupAPI(t, auth.Noop, true)
		req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewBufferString("{not json"))
		rr := httptest.NewRecorder()

		fx.handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Failure - Sink error is a 500", func(t *testing.T) {
		fx := setupAPI(t, auth.Noop, true)
		fx.sink.FailWith(errors.New("pubsub down"))

		rr := do(t, fx.handler, http.MethodPost, "/api/events", map[string]any{"kind": "broadcast"})

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("Failure - Auth middleware rejects", func(t *testing.T) {
		deny := func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
			})
		}
		fx := setupAPI(t, deny, true)

		rr := do(t, fx.handler, http.MethodPost, "/api/events", map[string]any{"kind": "broadcast"})

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestDeviceHandlers(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - Register device", func(t *testing.T) {
		// Arrange
		fx := setupAPI(t, asUser("alice"), true)

		// Act
		rr := do(t, fx.handler, http.MethodPut, "/api/users/alice/devices", realtime.DeviceToken{Token: "tok-1", Platform: "ios"})

		// Assert
		assert.Equal(t, http.StatusNoContent, rr.Code)
		tokens, err := fx.profiles.DeviceTokens(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []realtime.DeviceToken{{Token: "tok-1", Platform: "ios"}}, tokens)
	})

	t.Run("Success - Remove device", func(t *testing.T) {
		fx := setupAPI(t, asUser("alice"), true)
		fx.profiles.SetTokens("alice", realtime.DeviceToken{Token: "tok-1"})

		rr := do(t, fx.handler, http.MethodDelete, "/api/users/alice/devices/tok-1", nil)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		tokens, err := fx.profiles.DeviceTokens(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, tokens)
	})

	t.Run("Failure - Another user's devices are forbidden", func(t *testing.T) {
		fx := setupAPI(t, asUser("mallory"), true)

		rr := do(t, fx.handler, http.MethodPut, "/api/users/alice/devices", realtime.DeviceToken{Token: "tok-1"})

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("Failure - Empty token", func(t *testing.T) {
		fx := setupAPI(t, auth.Noop, true)

		rr := do(t, fx.handler, http.MethodPut, "/api/users/alice/devices", realtime.DeviceToken{Platform: "ios"})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("Success - Health is always ok", func(t *testing.T) {
		fx := setupAPI(t, auth.Noop, false)
		rr := do(t, fx.handler, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Success - Ready follows the readiness func", func(t *testing.T) {
		notReady := setupAPI(t, auth.Noop, false)
		assert.Equal(t, http.StatusServiceUnavailable, do(t, notReady.handler, http.MethodGet, "/readyz", nil).Code)

		ready := setupAPI(t, auth.Noop, true)
		assert.Equal(t, http.StatusOK, do(t, ready.handler, http.MethodGet, "/readyz", nil).Code)
	})
}

func TestCORS(t *testing.T) {
	fx := setupAPI(t, auth.Noop, true)

	t.Run("Success - Preflight for an allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization")
		rr := httptest.NewRecorder()

		fx.handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.MethodPost, rr.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("Success - Simple request from an allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rr := httptest.NewRecorder()

		fx.handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Failure - Other origins get no CORS headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rr := httptest.NewRecorder()

		fx.handler.ServeHTTP(rr, req)

		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})
}
