package command

import (
	"context"
	"testing"
)

func echoRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(&Command{
		Name:        "echo",
		Description: "Repeat the arguments",
		Usage:       "/echo <text>",
		Handler: func(_ context.Context, args string, cc *Context) (*Result, error) {
			return &Result{Reply: cc.SessionID + ": " + args}, nil
		},
	})
	return reg
}

func TestDispatch(t *testing.T) {
	reg := echoRegistry()
	tests := []struct {
		name  string
		input string
		known bool
		reply string
	}{
		{"with args", "/echo  hi there ", true, "kid: hi there"},
		{"no args", "/echo", true, "kid: "},
		{"case insensitive", "/ECHO loud", true, "kid: loud"},
		{"unknown", "/sad I feel hopeless", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok, err := reg.Dispatch(context.Background(), tt.input, &Context{SessionID: "kid"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.known {
				t.Fatalf("known = %v, want %v", ok, tt.known)
			}
			if !ok {
				if res != nil {
					t.Errorf("unknown command produced %+v", res)
				}
				return
			}
			if res.Reply != tt.reply {
				t.Errorf("reply = %q, want %q", res.Reply, tt.reply)
			}
		})
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "summary"})
	reg.Register(&Command{Name: "facts"})

	list := reg.List()
	if len(list) != 2 || list[0].Name != "facts" || list[1].Name != "summary" {
		t.Errorf("list = %+v", list)
	}
}

func TestIsCommand(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"/help", true},
		{"  /facts", true},
		{"/", false},
		{"/ not a command", false},
		{"I like 1/2 of pizza", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsCommand(tt.in); got != tt.want {
			t.Errorf("IsCommand(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
