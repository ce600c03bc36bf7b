package router

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/agent"
	"github.com/nidhogg/kid-companion/internal/command"
	"github.com/nidhogg/kid-companion/internal/gateway"
	"github.com/nidhogg/kid-companion/internal/session"
)

// ErrorReply is what a child sees when a turn could not be answered at all.
const ErrorReply = "Oops, I got a little mixed up. Can you say that again?"

// Replier runs one conversational turn. *session.Manager satisfies it.
type Replier interface {
	Reply(ctx context.Context, id, utterance string) (*agent.Result, error)
}

// Sender delivers replies. *gateway.Gateway satisfies it.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// MessageRouter turns inbound platform messages into companion turns.
// Alerts are delivered by the session manager's alert hook, not here.
type MessageRouter struct {
	sessions Replier
	sender   Sender
	commands *command.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a new MessageRouter. timeout bounds each turn; zero means
// no bound beyond the collaborator call timeouts.
func New(sessions Replier, sender Sender, commands *command.Registry, timeout time.Duration, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		sessions: sessions,
		sender:   sender,
		commands: commands,
		timeout:  timeout,
		logger:   logger,
	}
}

// SessionID resolves the conversation an inbound message belongs to.
func SessionID(msg *gateway.InboundMessage) string {
	if msg.SessionID != "" {
		return session.Normalize(msg.SessionID)
	}
	return session.ID(msg.Platform, msg.UserID)
}

// Handle routes an inbound message. Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx := context.Background()
	if mr.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mr.timeout)
		defer cancel()
	}
	sid := SessionID(msg)
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("session", sid),
	)

	// Known slash commands never reach the reply engine. Anything else,
	// including an unknown "/word", is an utterance and gets analyzed.
	if mr.commands != nil && command.IsCommand(msg.Content) {
		cc := &command.Context{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			SessionID: sid,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
		}
		result, ok, err := mr.commands.Dispatch(ctx, msg.Content, cc)
		switch {
		case err != nil:
			mr.logger.Error("command failed", zap.String("session", sid), zap.Error(err))
			mr.sendReply(ctx, msg, sid, ErrorReply)
			return
		case ok:
			reply := ErrorReply
			if result != nil && result.Reply != "" {
				reply = result.Reply
			}
			mr.sendReply(ctx, msg, sid, reply)
			return
		}
	}

	res, err := mr.sessions.Reply(ctx, sid, msg.Content)
	if err != nil {
		mr.logger.Error("turn failed", zap.String("session", sid), zap.Error(err))
	}
	text := ErrorReply
	if res != nil && res.Reply != "" {
		text = res.Reply
	}
	mr.sendReply(ctx, msg, sid, text)
}

// sendReply sends a text reply back to the originating platform/channel.
// Delivery uses a detached context so a reply produced just before the
// turn deadline still goes out.
func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, sid, text string) {
	err := mr.sender.Send(context.WithoutCancel(ctx), &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		SessionID: sid,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}
