// Package command implements the slash commands typed into a conversation
// in place of an utterance: /help, /status, /facts, /history, /summary and
// /forget.
package command

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Handler runs a command for one conversation. args is the text after the
// command name, trimmed.
type Handler func(ctx context.Context, args string, cc *Context) (*Result, error)

// Command is one slash command, registered under its lowercase Name.
type Command struct {
	Name        string
	Description string
	Usage       string
	Handler     Handler
}

// Context identifies the conversation a command was typed in.
type Context struct {
	Platform  string
	ChannelID string
	SessionID string
	UserID    string
	UserName  string
}

// Result is posted back into the conversation the command came from, which
// is the child's. It must never carry caregiver notes or error detail.
type Result struct {
	Reply string
}

// Registry maps command names to commands. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds or replaces a command.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(cmd.Name)] = cmd
}

// IsCommand reports whether input looks like a slash command.
func IsCommand(input string) bool {
	input = strings.TrimSpace(input)
	return len(input) > 1 && input[0] == '/' && input[1] != ' '
}

// Dispatch runs the command named by input ("/name args"). ok is false when
// no such command exists; the input is then an ordinary utterance.
func (r *Registry) Dispatch(ctx context.Context, input string, cc *Context) (res *Result, ok bool, err error) {
	name, args, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(input), "/"), " ")

	r.mu.RLock()
	cmd, ok := r.commands[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	res, err = cmd.Handler(ctx, strings.TrimSpace(args), cc)
	return res, true, err
}

// List returns all commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
