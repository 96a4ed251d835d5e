package orchestrator

// ResetPorts clears the cached port allocation so the next Start resolves
// it again. Test-only.
func (o *Orchestrator) ResetPorts() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ports = nil
	o.devReuse = false
}
