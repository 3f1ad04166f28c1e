package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/carlonicora/minimalism-service-cacher/pkg/bus"
	"github.com/carlonicora/minimalism-service-cacher/pkg/cacher"
)

// ListenerService runs a cacher's subscription to remote invalidation requests.
type ListenerService struct {
	cacher *cacher.Cacher
	bus    bus.EventBus

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewListenerService creates a service that makes c invalidate every key
// requested on eb.
func NewListenerService(c *cacher.Cacher, eb bus.EventBus) *ListenerService {
	return &ListenerService{cacher: c, bus: eb}
}

// Start subscribes to invalidation requests. The subscription lives until Stop.
func (s *ListenerService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("service %s already started", s.Name())
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.cacher.Listen(listenCtx, s.bus); err != nil {
		cancel()
		return fmt.Errorf("failed to start %s: %w", s.Name(), err)
	}

	s.cancel = cancel
	return nil
}

// Stop ends the subscription.
func (s *ListenerService) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

// Name returns the service name.
func (s *ListenerService) Name() string {
	return "invalidation-listener"
}

// Health returns an error unless the subscription is active.
func (s *ListenerService) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return fmt.Errorf("service %s not running", s.Name())
	}
	return nil
}
