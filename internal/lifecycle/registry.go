package lifecycle

import (
	"context"
	"sync"

	"github.com/wonny/daytrader/pkg/logger"
)

// Component is a long-running part of the process
type Component interface {
	Name() string
	Start(ctx context.Context) error
	RequestStop()
	Join()
}

// Registry tracks started components so they can be shut down together
type Registry struct {
	mu         sync.Mutex
	components []Component
	logger     *logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{logger: log.Channel(logger.ChannelManagedResources)}
}

// Register adds a component
func (r *Registry) Register(c Component) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.components = append(r.components, c)
	r.logger.WithField("component", c.Name()).Debug("Component registered")
}

// Names returns registered component names in registration order
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.components))
	for _, c := range r.components {
		names = append(names, c.Name())
	}
	return names
}

// Shutdown asks every component to stop, then waits for all of them
// 등록 역순으로 RequestStop → Join
func (r *Registry) Shutdown() {
	r.mu.Lock()
	components := make([]Component, len(r.components))
	copy(components, r.components)
	r.components = nil
	r.mu.Unlock()

	for i := len(components) - 1; i >= 0; i-- {
		components[i].RequestStop()
	}
	for i := len(components) - 1; i >= 0; i-- {
		components[i].Join()
		r.logger.WithField("component", components[i].Name()).Info("Component stopped")
	}
}
