// Package realtime provides the WebSocket transport for live clients: it
// accepts connections, applies client join/leave/typing actions to the
// connection registry and writes dispatched events back to the sockets.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-realtime-service/internal/platform/auth"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// ErrSendBufferFull is returned by Emit when a slow client has not drained
// its outbound queue. The frame is dropped.
var ErrSendBufferFull = errors.New("realtime: send buffer full")

const maxFrameSize = 64 * 1024

// ConnectionRegistry is the subset of the connection registry the manager
// mutates.
type ConnectionRegistry interface {
	Register(connectionID string)
	Unregister(connectionID string)
	Bind(connectionID, userID string)
	Subscribe(connectionID string, topic realtime.Topic)
	Unsubscribe(connectionID string, topic realtime.Topic)
	Touch(connectionID string)
	ExpireIdle(maxIdle time.Duration) []string
}

// Config holds the transport settings.
type Config struct {
	Port string
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// IdleTimeout closes connections that have not answered a ping or sent a
	// frame for this long.
	IdleTimeout  time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins restricts browser origins. Empty or "*" allows all.
	AllowedOrigins []string
}

func (c *Config) applyDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = c.IdleTimeout / 3
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

type clientFrame struct {
	Action     string `json:"action"`
	UserID     string `json:"userId,omitempty"`
	TaskID     string `json:"taskId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	Typing     bool   `json:"typing,omitempty"`
}

type serverFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type typingPayload struct {
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

type client struct {
	id         string
	authUserID string
	// boundUser is only touched by the read goroutine after add.
	boundUser  string
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

type sinkHolder struct{ sink realtime.EventSink }

// ConnectionManager manages all active WebSocket connections and their
// topic subscriptions. It runs its own dedicated HTTP server and implements
// realtime.Emitter.
type ConnectionManager struct {
	server     *http.Server
	upgrader   websocket.Upgrader
	registry   ConnectionRegistry
	sink       atomic.Value // sinkHolder
	clients    sync.Map     // map[string]*client
	cfg        Config
	logger     zerolog.Logger
	instanceID string
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewConnectionManager creates and wires up a new WebSocket connection manager.
func NewConnectionManager(
	cfg Config,
	authMiddleware func(http.Handler) http.Handler,
	registry ConnectionRegistry,
	logger zerolog.Logger,
) (*ConnectionManager, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if authMiddleware == nil {
		authMiddleware = auth.Noop
	}
	cfg.applyDefaults()

	instanceID := uuid.NewString()
	cmLogger := logger.With().Str("component", "ConnectionManager").Str("instance", instanceID).Logger()

	cm := &ConnectionManager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		registry:   registry,
		cfg:        cfg,
		logger:     cmLogger,
		instanceID: instanceID,
		stop:       make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle("/connect", authMiddleware(http.HandlerFunc(cm.connectHandler)))
	cm.server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	return cm, nil
}

// SetEventSink sets where client-originated events (typing) are submitted.
// It must be called before Start.
func (cm *ConnectionManager) SetEventSink(sink realtime.EventSink) {
	cm.sink.Store(sinkHolder{sink: sink})
}

// Handler exposes the HTTP handler for embedding in tests or other servers.
func (cm *ConnectionManager) Handler() http.Handler { return cm.server.Handler }

// Start runs the HTTP server for WebSocket connections and the idle janitor.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	go cm.runJanitor(ctx)

	cm.logger.Info().Str("addr", cm.server.Addr).Msg("WebSocket server starting...")
	if err := cm.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and closes every live
// connection with a normal-closure frame.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.logger.Info().Msg("Shutting down WebSocket service...")
	cm.stopOnce.Do(func() { close(cm.stop) })

	var finalErr error
	if err := cm.server.Shutdown(ctx); err != nil {
		cm.logger.Error().Err(err).Msg("WebSocket server shutdown failed.")
		finalErr = err
	}

	cm.clients.Range(func(_, v any) bool {
		v.(*client).close()
		return true
	})

	cm.logger.Info().Msg("WebSocket service shut down.")
	return finalErr
}

// Emit queues a named event for one connection. It never blocks on the
// network; a gone connection yields realtime.ErrConnectionGone and a full
// queue drops the frame.
func (cm *ConnectionManager) Emit(_ context.Context, connectionID, event string, payload any) error {
	v, ok := cm.clients.Load(connectionID)
	if !ok {
		return realtime.ErrConnectionGone
	}
	c := v.(*client)

	frame, err := json.Marshal(serverFrame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", event, err)
	}

	select {
	case <-c.done:
		return realtime.ErrConnectionGone
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		cm.logger.Warn().Str("connection_id", connectionID).Str("event", event).Msg("Send buffer full, dropping frame.")
		return ErrSendBufferFull
	}
}

// connectHandler upgrades a new HTTP request to a WebSocket and manages its lifecycle.
func (cm *ConnectionManager) connectHandler(w http.ResponseWriter, r *http.Request) {
	authedUserID, _ := auth.UserIDFromContext(r.Context())

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}

	c := &client{
		id:         uuid.NewString(),
		authUserID: authedUserID,
		conn:       conn,
		send:       make(chan []byte, cm.cfg.SendBuffer),
		done:       make(chan struct{}),
	}
	log := cm.logger.With().Str("connection_id", c.id).Logger()

	cm.add(c)
	defer func() {
		cm.remove(c)
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing connection")
		}
		log.Info().Msg("Connection closed.")
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		cm.writePump(c)
	}()

	log.Info().Str("user", authedUserID).Msg("Client connected via WebSocket.")
	cm.readPump(r.Context(), c, log)

	c.close()
	<-writerDone
}

// add registers the connection. An authenticated connection is bound to its
// user and joined to the user's personal topic immediately.
func (cm *ConnectionManager) add(c *client) {
	cm.clients.Store(c.id, c)
	cm.registry.Register(c.id)
	if c.authUserID != "" {
		cm.registry.Bind(c.id, c.authUserID)
		cm.registry.Subscribe(c.id, realtime.UserTopic(c.authUserID))
		c.boundUser = c.authUserID
	}
}

func (cm *ConnectionManager) remove(c *client) {
	cm.clients.Delete(c.id)
	cm.registry.Unregister(c.id)
}

func (cm *ConnectionManager) readPump(ctx context.Context, c *client, log zerolog.Logger) {
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetPongHandler(func(string) error {
		cm.registry.Touch(c.id)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Read loop ended unexpectedly.")
			}
			return
		}
		cm.registry.Touch(c.id)
		cm.handleFrame(ctx, c, data, log)
	}
}

func (cm *ConnectionManager) writePump(c *client) {
	ticker := time.NewTicker(cm.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cm.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(cm.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close()
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			deadline := time.Now().Add(cm.cfg.WriteTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = c.conn.Close()
			return
		}
	}
}

func (cm *ConnectionManager) handleFrame(ctx context.Context, c *client, data []byte, log zerolog.Logger) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		cm.reject(ctx, c, "malformed frame")
		return
	}

	switch frame.Action {
	case "joinUser":
		if frame.UserID == "" {
			cm.reject(ctx, c, "joinUser requires userId")
			return
		}
		if c.authUserID != "" && frame.UserID != c.authUserID {
			log.Warn().Str("requested", frame.UserID).Msg("Rejected joinUser for another user.")
			cm.reject(ctx, c, "forbidden")
			return
		}
		if c.boundUser != "" && c.boundUser != frame.UserID {
			cm.registry.Unsubscribe(c.id, realtime.UserTopic(c.boundUser))
		}
		cm.registry.Bind(c.id, frame.UserID)
		cm.registry.Subscribe(c.id, realtime.UserTopic(frame.UserID))
		c.boundUser = frame.UserID
		log.Debug().Str("user", frame.UserID).Msg("Joined user topic.")

	case "joinTask":
		if frame.TaskID == "" {
			cm.reject(ctx, c, "joinTask requires taskId")
			return
		}
		cm.registry.Subscribe(c.id, realtime.TaskTopic(frame.TaskID))

	case "leaveTask":
		if frame.TaskID == "" {
			cm.reject(ctx, c, "leaveTask requires taskId")
			return
		}
		cm.registry.Unsubscribe(c.id, realtime.TaskTopic(frame.TaskID))

	case "typing":
		cm.submitTyping(ctx, c, frame, log)

	default:
		cm.reject(ctx, c, "unknown action")
	}
}

func (cm *ConnectionManager) submitTyping(ctx context.Context, c *client, frame clientFrame, log zerolog.Logger) {
	sender := frame.UserID
	if c.authUserID != "" {
		sender = c.authUserID
	}
	if sender == "" || frame.ReceiverID == "" {
		cm.reject(ctx, c, "typing requires userId and receiverId")
		return
	}

	holder, _ := cm.sink.Load().(sinkHolder)
	if holder.sink == nil {
		log.Warn().Msg("No event sink configured, dropping typing event.")
		return
	}

	payload, err := json.Marshal(typingPayload{UserID: sender, Typing: frame.Typing})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal typing payload.")
		return
	}
	event := &realtime.DomainEvent{
		ID:                 uuid.NewString(),
		Kind:               realtime.KindTypingChanged,
		ActorID:            sender,
		ReceiverID:         frame.ReceiverID,
		Payload:            payload,
		OriginConnectionID: c.id,
		OccurredAt:         time.Now().UTC(),
	}
	if err := holder.sink.Submit(ctx, event); err != nil {
		log.Warn().Err(err).Msg("Failed to submit typing event.")
	}
}

func (cm *ConnectionManager) reject(ctx context.Context, c *client, reason string) {
	_ = cm.Emit(ctx, c.id, "error", map[string]string{"message": reason})
}

func (cm *ConnectionManager) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(cm.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.stop:
			return
		case <-ticker.C:
			cm.expireIdle()
		}
	}
}

// expireIdle closes connections the registry reports as idle.
func (cm *ConnectionManager) expireIdle() {
	for _, id := range cm.registry.ExpireIdle(cm.cfg.IdleTimeout) {
		v, ok := cm.clients.Load(id)
		if !ok {
			continue
		}
		cm.logger.Info().Str("connection_id", id).Msg("Closing idle connection.")
		v.(*client).close()
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
