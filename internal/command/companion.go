package command

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nidhogg/kid-companion/internal/gateway"
	"github.com/nidhogg/kid-companion/internal/memory"
	"github.com/nidhogg/kid-companion/internal/summary"
)

// Sessions exposes per-session memory. *session.Manager satisfies it.
type Sessions interface {
	Facts(ctx context.Context, id string) map[string]string
	History(ctx context.Context, id string) []memory.Turn
	Summary(ctx context.Context, id string) summary.ParentSummary
	Clear(ctx context.Context, id string)
}

// Caregiver delivers messages to the caregiver channel. *gateway.Broadcaster
// satisfies it.
type Caregiver interface {
	Send(ctx context.Context, msg *gateway.BroadcastMessage) error
}

const defaultHistoryLines = 5

// Replies to /summary in the child's conversation. The summary itself only
// ever goes to the caregiver channel.
const (
	SummarySentReply   = "I've sent a note about our chats to your grown-up."
	SummaryUnsentReply = "I couldn't reach your grown-up right now. Let's try again later."
)

// RegisterCompanionCommands registers /facts, /history, /summary and /forget.
// caregiver may be nil, in which case /summary delivers nothing.
func RegisterCompanionCommands(reg *Registry, sessions Sessions, caregiver Caregiver) {
	reg.Register(factsCommand(sessions))
	reg.Register(historyCommand(sessions))
	reg.Register(summaryCommand(sessions, caregiver))
	reg.Register(forgetCommand(sessions))
}

func factsCommand(s Sessions) *Command {
	return &Command{
		Name:        "facts",
		Description: "Show what the companion remembers about you",
		Usage:       "/facts",
		Handler: func(ctx context.Context, _ string, cc *Context) (*Result, error) {
			facts := s.Facts(ctx, cc.SessionID)
			if len(facts) == 0 {
				return &Result{Reply: "I don't remember any facts yet."}, nil
			}
			keys := make([]string, 0, len(facts))
			for k := range facts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var b strings.Builder
			b.WriteString("Things I remember:\n")
			for _, k := range keys {
				fmt.Fprintf(&b, "  %s: %s\n", k, facts[k])
			}
			return &Result{Reply: b.String()}, nil
		},
	}
}

func historyCommand(s Sessions) *Command {
	return &Command{
		Name:        "history",
		Description: "Show the most recent turns",
		Usage:       "/history [n]",
		Handler: func(ctx context.Context, args string, cc *Context) (*Result, error) {
			n := defaultHistoryLines
			if args != "" {
				v, err := strconv.Atoi(args)
				if err != nil || v <= 0 {
					return &Result{Reply: "Usage: /history [n]"}, nil
				}
				n = v
			}
			turns := s.History(ctx, cc.SessionID)
			if len(turns) == 0 {
				return &Result{Reply: "We haven't talked yet."}, nil
			}
			if len(turns) > n {
				turns = turns[len(turns)-n:]
			}
			var b strings.Builder
			for _, t := range turns {
				fmt.Fprintf(&b, "You: %s\nMe: %s\n", t.User, t.Agent)
			}
			return &Result{Reply: b.String()}, nil
		},
	}
}

func summaryCommand(s Sessions, caregiver Caregiver) *Command {
	return &Command{
		Name:        "summary",
		Description: "Send a summary of our chats to your grown-up",
		Usage:       "/summary",
		Handler: func(ctx context.Context, _ string, cc *Context) (*Result, error) {
			if caregiver == nil {
				return &Result{Reply: SummaryUnsentReply}, nil
			}
			ps := s.Summary(ctx, cc.SessionID)
			err := caregiver.Send(ctx, &gateway.BroadcastMessage{
				Type:      gateway.BroadcastParentSummary,
				Title:     "Parent summary: " + cc.SessionID,
				Content:   FormatSummary(ps),
				SessionID: cc.SessionID,
			})
			if err != nil {
				return &Result{Reply: SummaryUnsentReply}, nil
			}
			return &Result{Reply: SummarySentReply}, nil
		},
	}
}

func forgetCommand(s Sessions) *Command {
	return &Command{
		Name:        "forget",
		Description: "Erase this conversation and everything remembered from it",
		Usage:       "/forget",
		Handler: func(ctx context.Context, _ string, cc *Context) (*Result, error) {
			s.Clear(ctx, cc.SessionID)
			return &Result{Reply: "Okay, I've cleared our conversation and forgotten what I knew."}, nil
		},
	}
}

// FormatSummary renders a ParentSummary for the caregiver channel. A degraded
// summary omits its analyst notes, which hold raw error detail.
func FormatSummary(ps summary.ParentSummary) string {
	var b strings.Builder
	b.WriteString("Parent summary\n")
	fmt.Fprintf(&b, "Message: %s\n", ps.ParentMessage)
	recommend := "no"
	if ps.RecommendationNeeded {
		recommend = "yes"
	}
	fmt.Fprintf(&b, "Follow-up recommended: %s\n", recommend)
	if len(ps.PotentialConcerns) > 0 {
		fmt.Fprintf(&b, "Concerns: %s\n", strings.Join(ps.PotentialConcerns, ", "))
	}
	if !ps.Degraded() && ps.SummaryForAnalyst != "" {
		fmt.Fprintf(&b, "Notes: %s\n", ps.SummaryForAnalyst)
	}
	return b.String()
}
