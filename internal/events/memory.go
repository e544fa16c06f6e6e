package events

import (
	"context"
	"fmt"
	"sync"
)

// Memory stores published payloads for inspection in tests and dry runs.
type Memory struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// NewMemory returns a memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the message and returns a pseudo ID.
func (p *Memory) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Memory) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Noop drops events, for runs without a configured broker.
type Noop struct{}

// NewNoop returns a Noop publisher.
func NewNoop() *Noop {
	return &Noop{}
}

// Publish discards the payload.
func (Noop) Publish(_ context.Context, _ string, _ any) (string, error) {
	return "", nil
}
