package agent

import (
	"math/rand/v2"
	"sync"
)

// FallbackReplies are sent when a reply cannot be generated. They never
// mention the failure itself.
var FallbackReplies = []string{
	"Oops, my brain got a little tangled just now! Can you tell me that again?",
	"Thanks for telling me that. Can you say more about how you're feeling?",
	"I'm right here and listening. What's been the hardest part about this?",
	"That sounds like a lot. What usually helps you feel a little better?",
	"How are things going with your friends and family?",
}

// Picker chooses from a reply pool with a seeded source, so the same seed
// yields the same sequence.
type Picker struct {
	mu   sync.Mutex
	rng  *rand.Rand
	pool []string
}

// NewPicker seeds a Picker over pool (FallbackReplies when empty).
func NewPicker(seed uint64, pool []string) *Picker {
	if len(pool) == 0 {
		pool = FallbackReplies
	}
	return &Picker{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		pool: append([]string(nil), pool...),
	}
}

// Pick returns the next reply.
func (p *Picker) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool[p.rng.IntN(len(p.pool))]
}
