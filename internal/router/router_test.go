package router

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/agent"
	"github.com/nidhogg/kid-companion/internal/command"
	"github.com/nidhogg/kid-companion/internal/gateway"
)

type fakeReplier struct {
	calls []string
	res   *agent.Result
	err   error
}

func (f *fakeReplier) Reply(_ context.Context, id, utterance string) (*agent.Result, error) {
	f.calls = append(f.calls, id+"|"+utterance)
	return f.res, f.err
}

type fakeSender struct{ sent []*gateway.OutboundMessage }

func (f *fakeSender) Send(_ context.Context, msg *gateway.OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

func TestSessionID(t *testing.T) {
	tests := []struct {
		msg  gateway.InboundMessage
		want string
	}{
		{gateway.InboundMessage{Platform: "slack", UserID: "U1"}, "slack:U1"},
		{gateway.InboundMessage{Platform: "rest", UserID: "u", SessionID: "kid-1"}, "kid-1"},
		{gateway.InboundMessage{Platform: "rest", SessionID: "  "}, "default"},
		{gateway.InboundMessage{Platform: "rest"}, "default"},
	}
	for _, tt := range tests {
		if got := SessionID(&tt.msg); got != tt.want {
			t.Errorf("SessionID(%+v) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

func TestHandleReply(t *testing.T) {
	rep := &fakeReplier{res: &agent.Result{Reply: "Hey! How are you?"}}
	snd := &fakeSender{}
	mr := New(rep, snd, command.NewRegistry(), 0, zap.NewNop())

	mr.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "C1", UserID: "U9", Content: "Hi there!", ReplyTo: "m1"})

	if len(rep.calls) != 1 || rep.calls[0] != "discord:U9|Hi there!" {
		t.Fatalf("replier calls = %v", rep.calls)
	}
	if len(snd.sent) != 1 {
		t.Fatalf("sent %d messages", len(snd.sent))
	}
	out := snd.sent[0]
	if out.Content != "Hey! How are you?" || out.ChannelID != "C1" || out.ReplyTo != "m1" || out.SessionID != "discord:U9" {
		t.Errorf("outbound = %+v", out)
	}
}

func TestHandleTurnError(t *testing.T) {
	tests := []struct {
		name string
		res  *agent.Result
		want string
	}{
		{"no result", nil, ErrorReply},
		{"uncommitted result still delivered", &agent.Result{Reply: "I'm here."}, "I'm here."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snd := &fakeSender{}
			mr := New(&fakeReplier{res: tt.res, err: errors.New("turn not committed")}, snd, nil, 0, zap.NewNop())
			mr.Handle(&gateway.InboundMessage{Platform: "rest", SessionID: "s", Content: "hello"})
			if len(snd.sent) != 1 || snd.sent[0].Content != tt.want {
				t.Errorf("sent = %+v, want %q", snd.sent, tt.want)
			}
		})
	}
}

func TestHandleCommandSkipsEngine(t *testing.T) {
	rep := &fakeReplier{}
	snd := &fakeSender{}
	reg := command.NewRegistry()
	var gotSession string
	reg.Register(&command.Command{
		Name: "facts",
		Handler: func(_ context.Context, _ string, cc *command.Context) (*command.Result, error) {
			gotSession = cc.SessionID
			return &command.Result{Reply: "no facts"}, nil
		},
	})
	mr := New(rep, snd, reg, 0, zap.NewNop())

	mr.Handle(&gateway.InboundMessage{Platform: "slack", UserID: "U1", Content: "/facts"})

	if len(rep.calls) != 0 {
		t.Error("commands must not reach the reply engine")
	}
	if gotSession != "slack:U1" {
		t.Errorf("command session = %q", gotSession)
	}
	if len(snd.sent) != 1 || snd.sent[0].Content != "no facts" {
		t.Errorf("sent = %+v", snd.sent)
	}
}

func TestHandleUnknownCommandIsAnUtterance(t *testing.T) {
	rep := &fakeReplier{res: &agent.Result{Reply: "I'm here for you."}}
	snd := &fakeSender{}
	mr := New(rep, snd, command.NewRegistry(), 0, zap.NewNop())

	mr.Handle(&gateway.InboundMessage{Platform: "slack", UserID: "U1", Content: "/sad I feel hopeless"})

	if len(rep.calls) != 1 || rep.calls[0] != "slack:U1|/sad I feel hopeless" {
		t.Fatalf("replier calls = %v", rep.calls)
	}
	if len(snd.sent) != 1 || snd.sent[0].Content != "I'm here for you." {
		t.Errorf("sent = %+v", snd.sent)
	}
}

func TestHandleCommandErrorHidesDetail(t *testing.T) {
	rep := &fakeReplier{}
	snd := &fakeSender{}
	reg := command.NewRegistry()
	reg.Register(&command.Command{
		Name: "facts",
		Handler: func(context.Context, string, *command.Context) (*command.Result, error) {
			return nil, errors.New("redis get companion:memory:x: connection refused")
		},
	})
	mr := New(rep, snd, reg, 0, zap.NewNop())

	mr.Handle(&gateway.InboundMessage{Platform: "rest", SessionID: "kid", Content: "/facts"})

	if len(snd.sent) != 1 || snd.sent[0].Content != ErrorReply {
		t.Errorf("sent = %+v, want ErrorReply", snd.sent)
	}
}
