package system

import (
	"context"
	"fmt"
	"sync"

	core "github.com/r3e-network/fraudctl/internal/app/core/service"
)

// Manager owns the lifecycle of registered Services. It starts them in
// registration order and stops them in reverse order, so the root wiring
// module can enforce a deterministic teardown sequence (scheduler first,
// inference last) by controlling registration order alone.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  bool
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a service to the managed set. Registering after Start is an
// error: the manager does not support partial/late starts.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("system: cannot register a nil service")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("system: cannot register %s after Start", svc.Name())
	}
	for _, existing := range m.services {
		if existing.Name() == svc.Name() {
			return fmt.Errorf("system: service %s already registered", svc.Name())
		}
	}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every registered service in registration order. If a service
// fails to start, Start stops every service that was already started (in
// reverse order) before returning the error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	services := make([]Service, len(m.services))
	copy(services, m.services)
	m.started = true
	m.mu.Unlock()

	started := make([]Service, 0, len(services))
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop(ctx)
			}
			return fmt.Errorf("system: start %s: %w", svc.Name(), err)
		}
		started = append(started, svc)
	}
	return nil
}

// Stop stops every registered service in reverse registration order,
// collecting (rather than short-circuiting on) individual failures.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	services := make([]Service, len(m.services))
	copy(services, m.services)
	m.mu.Unlock()

	var firstErr error
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("system: stop %s: %w", services[i].Name(), err)
		}
	}
	return firstErr
}

// Descriptors returns the descriptors of every registered service that
// implements DescriptorProvider, sorted by layer then name.
func (m *Manager) Descriptors() []core.Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	providers := make([]DescriptorProvider, 0, len(m.services))
	for _, svc := range m.services {
		if provider, ok := svc.(DescriptorProvider); ok {
			providers = append(providers, provider)
		}
	}
	return CollectDescriptors(providers)
}

// NoopService is a Service that does nothing; useful as a lightweight
// placeholder registration or in tests.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string                        { return n.ServiceName }
func (n NoopService) Start(ctx context.Context) error      { return nil }
func (n NoopService) Stop(ctx context.Context) error       { return nil }
