package spilink

import (
	"fmt"
	"sync"

	"github.com/kazuhiroondo/spilink-go/pkg/datalink"
	"github.com/kazuhiroondo/spilink-go/pkg/internal/logger"
)

// Manager is the root object for data link operations. A host with several
// module bays runs one Manager and registers one link per bay, each over
// its own bus endpoint.
type Manager struct {
	links  map[string]*datalink.Link
	mu     sync.RWMutex
	logger logger.Logger
}

// NewManager creates a new manager
func NewManager() *Manager {
	return NewManagerWithLogger(logger.GetDefault())
}

// NewManagerWithLogger creates a new manager with a custom logger
func NewManagerWithLogger(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Manager{
		links:  make(map[string]*datalink.Link),
		logger: log,
	}
}

// AddLink creates a data link over the given ports and registers it under
// id. The receiver is invoked for every message the remote side delivers.
func (m *Manager) AddLink(id string, cfg datalink.Config, ports datalink.Ports, recv datalink.Receiver) (*datalink.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[id]; exists {
		return nil, fmt.Errorf("link %s already exists", id)
	}

	link, err := datalink.New(cfg, ports, recv, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	m.links[id] = link
	m.logger.Info("Manager: Added link %s", id)

	return link, nil
}

// RemoveLink detaches and removes a link
func (m *Manager) RemoveLink(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, exists := m.links[id]
	if !exists {
		return fmt.Errorf("link %s not found", id)
	}

	link.Detach()
	delete(m.links, id)
	m.logger.Info("Manager: Removed link %s", id)
	return nil
}

// GetLink returns a link by ID
func (m *Manager) GetLink(id string) (*datalink.Link, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.links[id]
	return link, exists
}

// LinkCount returns the number of registered links
func (m *Manager) LinkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.links)
}

// Shutdown detaches every link and empties the manager
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Manager: Shutting down")

	for _, link := range m.links {
		link.Detach()
	}

	m.links = make(map[string]*datalink.Link)
	m.logger.Info("Manager: Shutdown complete")
}
