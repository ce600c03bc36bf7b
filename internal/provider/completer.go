package provider

import (
	"context"
	"time"
)

// DefaultCallTimeout bounds a single Complete call.
const DefaultCallTimeout = 30 * time.Second

// Completer is the narrow view of a language model the companion needs.
// Errors satisfy errors.Is(err, ErrServiceUnavailable).
type Completer interface {
	Complete(ctx context.Context, system, user string, structured bool) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, system, user string, structured bool) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, system, user string, structured bool) (string, error) {
	return f(ctx, system, user, structured)
}

// RoleCompleter routes completions for one role through a Router.
type RoleCompleter struct {
	router      *Router
	role        string
	model       string
	timeout     time.Duration
	temperature float64
}

// NewRoleCompleter returns a Completer bound to role. A zero timeout uses
// DefaultCallTimeout; an empty model defers to the provider's first model.
func NewRoleCompleter(router *Router, role, model string, timeout time.Duration) *RoleCompleter {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &RoleCompleter{router: router, role: role, model: model, timeout: timeout}
}

// WithTemperature sets the sampling temperature and returns c.
func (c *RoleCompleter) WithTemperature(t float64) *RoleCompleter {
	c.temperature = t
	return c
}

// Complete sends one system and one user message. structured requests a
// single JSON object in the response.
func (c *RoleCompleter) Complete(ctx context.Context, system, user string, structured bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, Message{Role: "user", Content: user})

	resp, err := c.router.Route(ctx, c.role, &ChatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		JSONMode:    structured,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
