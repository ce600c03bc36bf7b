package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxBroadcastHistory = 100

// BroadcastRecord tracks a sent broadcast for history.
type BroadcastRecord struct {
	Message *BroadcastMessage `json:"message"`
	SentAt  time.Time         `json:"sent_at"`
	Targets []string          `json:"targets"`
}

// Broadcaster delivers caregiver notices through the Gateway and keeps a
// bounded history of what went out.
type Broadcaster struct {
	gateway *Gateway
	history []BroadcastRecord
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster backed by the given gateway.
func NewBroadcaster(gw *Gateway, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		gateway: gw,
		logger:  logger,
	}
}

// Send broadcasts a message to all or selected platforms via the gateway.
// Partial delivery is recorded; the error reports the platforms that failed.
func (b *Broadcaster) Send(ctx context.Context, msg *BroadcastMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("broadcast type is required")
	}

	b.logger.Info("sending caregiver broadcast",
		zap.String("type", string(msg.Type)),
		zap.String("title", msg.Title),
		zap.String("session", msg.SessionID),
		zap.Int("priority", msg.Priority),
	)

	delivered, err := b.gateway.Broadcast(ctx, msg)
	if len(delivered) > 0 {
		b.mu.Lock()
		b.history = append(b.history, BroadcastRecord{
			Message: msg,
			SentAt:  time.Now().UTC(),
			Targets: delivered,
		})
		if over := len(b.history) - maxBroadcastHistory; over > 0 {
			b.history = append([]BroadcastRecord(nil), b.history[over:]...)
		}
		b.mu.Unlock()
	}
	return err
}

// History returns up to limit of the most recent records, oldest first.
func (b *Broadcaster) History(limit int) []BroadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	start := len(b.history) - limit
	return append([]BroadcastRecord(nil), b.history[start:]...)
}
