package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRESTTimeout bounds how long a REST caller waits for its reply.
const DefaultRESTTimeout = 60 * time.Second

// RESTAdapter implements GatewayAdapter for HTTP-based message ingestion.
// Each request opens a private channel and blocks until the reply arrives.
type RESTAdapter struct {
	handler   MessageHandler
	channels  map[string]chan *OutboundMessage // channelID -> pending responses
	timeout   time.Duration
	startedAt time.Time
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRESTAdapter creates a REST gateway adapter. A non-positive timeout
// selects DefaultRESTTimeout.
func NewRESTAdapter(timeout time.Duration, logger *zap.Logger) *RESTAdapter {
	if timeout <= 0 {
		timeout = DefaultRESTTimeout
	}
	return &RESTAdapter{
		channels: make(map[string]chan *OutboundMessage),
		timeout:  timeout,
		logger:   logger,
	}
}

func (a *RESTAdapter) Platform() string { return "rest" }

func (a *RESTAdapter) Connect(_ context.Context) error {
	a.mu.Lock()
	a.startedAt = time.Now().UTC()
	a.mu.Unlock()
	return nil
}

func (a *RESTAdapter) OnMessage(h MessageHandler) { a.handler = h }

func (a *RESTAdapter) Close() error { return nil }

// Send delivers a message to a waiting REST channel.
func (a *RESTAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	ch, ok := a.channels[msg.ChannelID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no active channel: %s", msg.ChannelID)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("channel %s buffer full", msg.ChannelID)
	}
}

// Routes returns a chi router with REST gateway endpoints.
func (a *RESTAdapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", a.handleMessage)
	return r
}

// handleMessage accepts an utterance via HTTP and waits for the reply.
func (a *RESTAdapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
		UserName  string `json:"user_name"`
		Content   string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	channelID := uuid.New().String()
	ch := make(chan *OutboundMessage, 1)

	a.mu.Lock()
	a.channels[channelID] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.channels, channelID)
		a.mu.Unlock()
	}()

	if a.handler == nil {
		writeError(w, http.StatusServiceUnavailable, "no message handler")
		return
	}
	// The handler may block on the session lock; run it beside the wait.
	go a.handler(&InboundMessage{
		Platform:  "rest",
		ChannelID: channelID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		Content:   req.Content,
		Timestamp: time.Now().UTC(),
	})

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(msg); err != nil {
			a.logger.Warn("rest response encode failed", zap.Error(err))
		}
	case <-timer.C:
		writeError(w, http.StatusGatewayTimeout, "response timeout")
	case <-r.Context().Done():
		return
	}
}

// Broadcast never reaches REST callers: they are children waiting for a
// reply, not caregivers.
func (a *RESTAdapter) Broadcast(_ context.Context, _ *BroadcastMessage) error {
	return ErrNoCaregiverChannel
}

func (a *RESTAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "rest",
		Connected: !a.startedAt.IsZero(),
		Details:   fmt.Sprintf("pending=%d", len(a.channels)),
	}
	if s.Connected {
		t := a.startedAt
		s.ConnectedAt = &t
	}
	return s
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
