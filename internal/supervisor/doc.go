// Package supervisor spawns and tracks the backend service child processes.
//
// Each service follows a fixed lifecycle: Stopped → Starting → {Running |
// Crashed}, and Running → Stopping → Stopped. A service becomes Running when
// its readiness marker appears on stdout; if the marker never appears within
// the readiness budget the service is marked Crashed but Start still
// resolves, so a slow or broken optional service never blocks overall
// application readiness. Crashed is terminal for a spawn attempt; there is
// no automatic restart.
package supervisor
