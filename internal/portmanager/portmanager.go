// Package portmanager reserves free local TCP ports for environments that
// need to publish a port to the host (docker port bindings, browser kiosk
// dev servers). Ports are probed by binding to :0 the way the teacher probes
// free ports for its runner GPU/proxy allocation, rather than keeping a
// manually managed range.
package portmanager

import (
	"fmt"
	"net"
	"sync"
)

// Manager hands out host ports and tracks which ones are currently held so
// a reserved port isn't handed back out from the OS to a second caller in
// the same process until it is released.
type Manager struct {
	mu      sync.Mutex
	held    map[int]struct{}
	minPort int
	maxPort int
}

// New returns a Manager. minPort/maxPort of 0 disables range restriction and
// lets the OS pick any ephemeral port.
func New(minPort, maxPort int) *Manager {
	return &Manager{
		held:    map[int]struct{}{},
		minPort: minPort,
		maxPort: maxPort,
	}
}

// Reserve binds to an available port, immediately closes the listener, and
// records the port as held so a caller can bind to it again shortly after
// without the Manager handing it straight back out. This is advisory only:
// nothing stops the OS from reassigning it to an unrelated process.
func (m *Manager) Reserve() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; attempt < 64; attempt++ {
		port, err := probeFreePort()
		if err != nil {
			return 0, err
		}
		if _, taken := m.held[port]; taken {
			continue
		}
		if m.minPort != 0 && (port < m.minPort || port > m.maxPort) {
			continue
		}
		m.held[port] = struct{}{}
		return port, nil
	}
	return 0, fmt.Errorf("portmanager: no free port found after 64 attempts")
}

// ReservePair reserves two distinct ports in one call, for environments that
// need both an HTTP and a messaging port (spec §6 docker environment).
func (m *Manager) ReservePair() (int, int, error) {
	a, err := m.Reserve()
	if err != nil {
		return 0, 0, err
	}
	b, err := m.Reserve()
	if err != nil {
		m.Release(a)
		return 0, 0, err
	}
	return a, b, nil
}

// Release frees a previously reserved port for reuse by this Manager.
func (m *Manager) Release(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, port)
}

func probeFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("probing free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
