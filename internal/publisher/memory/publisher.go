// Package memory records published run summaries in memory.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call. Topic is the kind attribute
// a Pub/Sub publisher would attach.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Summaries returns the run summaries published so far, in order. Payloads
// of any other type are ignored.
func (p *Publisher) Summaries() []mirror.RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []mirror.RunSummary
	for _, m := range p.messages {
		switch s := m.Payload.(type) {
		case mirror.RunSummary:
			out = append(out, s)
		case *mirror.RunSummary:
			if s != nil {
				out = append(out, *s)
			}
		}
	}
	return out
}

// Reset drops every recorded message.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}
