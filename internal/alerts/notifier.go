// Package alerts fans safety alerts out to the log, a Redis stream, the
// caregiver broadcast channel and the Postgres alert log.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/agent"
	"github.com/nidhogg/kid-companion/internal/gateway"
	"github.com/nidhogg/kid-companion/internal/knowledge"
	"github.com/nidhogg/kid-companion/internal/safety"
	"github.com/nidhogg/kid-companion/internal/store"
)

// Event is one alert as published to the stream.
type Event struct {
	TurnID    string             `json:"turn_id,omitempty"`
	SessionID string             `json:"session_id"`
	Trigger   string             `json:"trigger"`
	Category  knowledge.Category `json:"category"`
	Action    string             `json:"action"`
	Matched   []string           `json:"matched"`
	At        time.Time          `json:"at"`
}

// Recorder persists alerts. *store.Store satisfies it.
type Recorder interface {
	InsertAlert(ctx context.Context, row *store.AlertRow) error
}

// Broadcaster delivers caregiver notices. *gateway.Broadcaster satisfies it.
type Broadcaster interface {
	Send(ctx context.Context, msg *gateway.BroadcastMessage) error
}

// Notifier delivers every alert to the configured sinks. Sink failures are
// logged and never returned: a broken sink must not affect the child's turn.
type Notifier struct {
	stream      *Stream
	recorder    Recorder
	broadcaster Broadcaster
	minCategory knowledge.Category
	now         func() time.Time
	logger      *zap.Logger
}

// NewNotifier creates a Notifier that always logs. Broadcasts go out for
// alerts at or above minCategory; an unknown value falls back to HIGH.
func NewNotifier(minCategory string, logger *zap.Logger) *Notifier {
	cat, ok := knowledge.ParseCategory(minCategory)
	if !ok {
		cat = knowledge.CategoryHigh
	}
	return &Notifier{
		minCategory: cat,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// SetStream enables the Redis stream sink.
func (n *Notifier) SetStream(s *Stream) { n.stream = s }

// SetRecorder enables the alert log sink.
func (n *Notifier) SetRecorder(r Recorder) { n.recorder = r }

// SetBroadcaster enables caregiver broadcasts.
func (n *Notifier) SetBroadcaster(b Broadcaster) { n.broadcaster = b }

// HandleTurn matches session.AlertHook.
func (n *Notifier) HandleTurn(ctx context.Context, sessionID string, res *agent.Result) {
	if res == nil {
		return
	}
	turnID := ""
	if res.Trace != nil {
		turnID = res.Trace.ID
	}
	n.Notify(ctx, sessionID, turnID, res.Alerts)
}

// Notify delivers alerts raised by one turn.
func (n *Notifier) Notify(ctx context.Context, sessionID, turnID string, alerts []safety.Alert) {
	if len(alerts) == 0 {
		return
	}
	at := n.now()

	for _, a := range alerts {
		n.log(sessionID, a)
		ev := &Event{
			TurnID:    turnID,
			SessionID: sessionID,
			Trigger:   a.Trigger,
			Category:  a.Category,
			Action:    a.Action,
			Matched:   a.Matched,
			At:        at,
		}
		if n.stream != nil {
			if _, err := n.stream.Publish(ctx, ev); err != nil {
				n.logger.Error("alert stream publish failed", zap.String("session", sessionID), zap.Error(err))
			}
		}
		if n.recorder != nil {
			row := &store.AlertRow{
				SessionID: sessionID,
				Trigger:   a.Trigger,
				Category:  string(a.Category),
				Action:    a.Action,
				Matched:   a.Matched,
				CreatedAt: at,
			}
			if err := n.recorder.InsertAlert(ctx, row); err != nil {
				n.logger.Error("alert record failed", zap.String("session", sessionID), zap.Error(err))
			}
		}
	}

	if n.broadcaster == nil {
		return
	}
	highest := safety.Highest(alerts)
	if highest.Rank() < n.minCategory.Rank() {
		return
	}
	if err := n.broadcaster.Send(ctx, n.broadcast(sessionID, highest, alerts)); err != nil {
		n.logger.Error("caregiver broadcast failed", zap.String("session", sessionID), zap.Error(err))
	}
}

func (n *Notifier) log(sessionID string, a safety.Alert) {
	fields := []zap.Field{
		zap.String("session", sessionID),
		zap.String("trigger", a.Trigger),
		zap.String("category", string(a.Category)),
		zap.String("action", a.Action),
		zap.Strings("matched", a.Matched),
	}
	if a.Category == knowledge.CategoryCritical {
		n.logger.Error("safety alert", fields...)
		return
	}
	n.logger.Warn("safety alert", fields...)
}

// broadcast builds one caregiver notice covering every alert at or above
// the threshold.
func (n *Notifier) broadcast(sessionID string, highest knowledge.Category, alerts []safety.Alert) *gateway.BroadcastMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", sessionID)
	title := ""
	for _, a := range alerts {
		if a.Category.Rank() < n.minCategory.Rank() {
			continue
		}
		if title == "" && a.Category == highest {
			title = fmt.Sprintf("%s: %s", a.Category, a.Trigger)
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", a.Trigger, a.Category, a.Action)
		if len(a.Matched) > 0 {
			fmt.Fprintf(&b, "  matched: %s\n", strings.Join(a.Matched, ", "))
		}
	}
	return &gateway.BroadcastMessage{
		Type:      gateway.BroadcastSafetyAlert,
		Title:     title,
		Content:   strings.TrimRight(b.String(), "\n"),
		SessionID: sessionID,
		Priority:  highest.Rank(),
	}
}
