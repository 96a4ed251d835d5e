package netutil

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/xixas/interview-app-sub000/internal/sentinel"
)

// maxPort is the highest valid TCP port number. The linear scan gives up
// with ErrPortExhausted once it passes this ceiling.
const maxPort = 65535

// scanOffset is the distance above the preferred port where the linear scan
// begins after the preferred port and every fallback are taken. Starting
// well above the preferred port avoids colliding with neighboring services
// that cluster around it.
const scanOffset = 100

// ErrPortExhausted is returned when no bindable port exists between the scan
// start and the maximum valid port number. This is fatal to startup: a
// backend service cannot be launched without a port.
const ErrPortExhausted = sentinel.Error("no available port found")

// Allocator finds bindable loopback ports for backend services and tracks
// ports it has already handed out so that two allocations within the same
// process never receive the same port (the probe listener is closed before
// the service binds, so the kernel alone cannot prevent reuse).
//
// Allocator is safe for concurrent use.
type Allocator struct {
	mu       sync.Mutex
	reserved map[int]struct{}
	log      *slog.Logger
}

// NewAllocator creates an Allocator ready for use.
// If logger is nil, slog.Default() is used as a fallback.
func NewAllocator(logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		reserved: make(map[int]struct{}),
		log:      logger,
	}
}

// Allocate returns a bindable loopback port for a service.
//
// The preferred port is probed first; if it binds, it is returned. Otherwise
// each fallback is probed in list order. If all are taken, ports are scanned
// linearly from preferred+scanOffset up to maxPort and the first bindable
// one is returned. ErrPortExhausted is returned when the scan passes maxPort
// without finding a free port.
//
// The returned port is recorded in the reservation map; call Release when
// the port is no longer needed (e.g., the service failed to start).
func (a *Allocator) Allocate(preferred int, fallbacks []int) (int, error) {
	if preferred <= 0 || preferred > maxPort {
		return 0, fmt.Errorf("preferred port %d out of range", preferred)
	}

	if a.tryReserve(preferred) {
		return preferred, nil
	}
	a.log.Debug("preferred port taken, trying fallbacks", "port", preferred)

	for _, port := range fallbacks {
		if a.tryReserve(port) {
			a.log.Debug("allocated fallback port", "port", port)
			return port, nil
		}
	}

	for port := preferred + scanOffset; port <= maxPort; port++ {
		if a.tryReserve(port) {
			a.log.Debug("allocated scanned port", "port", port, "preferred", preferred)
			return port, nil
		}
	}

	return 0, fmt.Errorf("scan ports %d-%d: %w", preferred+scanOffset, maxPort, ErrPortExhausted)
}

// Release removes a port from the reservation map, allowing it to be
// allocated again.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

// tryReserve probes the port with a bind test and, on success, records it in
// the reservation map. Returns false if the port is already reserved by this
// Allocator or is not bindable.
func (a *Allocator) tryReserve(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.reserved[port]; ok {
		return false
	}
	if !probePort(port) {
		return false
	}
	a.reserved[port] = struct{}{}
	return true
}

// probePort reports whether the port can be bound on the loopback interface.
// The listener is closed immediately; availability is a snapshot, which is
// why callers must also consult the reservation map.
func probePort(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
