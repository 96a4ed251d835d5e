// Package netutil provides port allocation and service health probing.
//
// Its central type, Allocator, finds a bindable loopback port for a backend
// service: it probes a preferred port, then a fallback list, then scans
// linearly above the preferred port. Allocated ports are tracked in a
// reservation map to prevent the TOCTOU race where two allocations receive
// the same port because the first probe listener was closed before the
// second probe ran.
//
// HealthProbe issues bounded HTTP GET health checks against already-running
// services, which lets a development setup reuse externally started backends
// instead of spawning duplicates.
package netutil
