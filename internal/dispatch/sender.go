// Package dispatch fans triggered alerts out to notification channels with
// isolated failure domains: every channel named by a rule gets exactly one
// bounded send attempt per tick, a failing channel never touches the others,
// and an unconfigured channel is skipped rather than treated as an error.
//
// Channel implementations register against a Registry keyed by channel name,
// so adding a destination means registering a new Sender, not editing a
// switch statement.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/phi-sentinel/phi-sentinel/internal/engine"
)

// ErrChannelNotConfigured is returned by a Sender whose credential or
// endpoint is absent from configuration. The dispatcher treats it as a
// silent skip, not a delivery failure.
var ErrChannelNotConfigured = errors.New("channel not configured")

// Sender delivers one alert to one external destination.
type Sender interface {
	// Name returns the channel identifier rules reference (e.g. "slack").
	Name() string
	// Send performs a single delivery attempt. It must respect ctx's
	// deadline; the dispatcher bounds every attempt.
	Send(ctx context.Context, alert *engine.Alert) error
}

// Registry manages the available channel senders
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		senders: make(map[string]Sender),
	}
}

// Register adds a sender under its channel name
func (r *Registry) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Name()] = s
}

// Get returns the sender for a channel name
func (r *Registry) Get(name string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, found := r.senders[name]
	return s, found
}

// Names returns all registered channel names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.senders))
	for name := range r.senders {
		names = append(names, name)
	}
	return names
}
