package orchestrator

import (
	"context"
	"fmt"

	"github.com/xixas/interview-app-sub000/internal/netutil"
)

// PortAllocation is the loopback port map handed to the renderer and to
// the child services.
type PortAllocation struct {
	API       int
	Evaluator int
	UI        int
}

// allocatePorts resolves the port map. In development mode it first probes
// the well-known ports for externally run services and reuses them when
// both answer healthy, skipping the bind tests entirely; the second return
// value reports that reuse.
func (o *Orchestrator) allocatePorts(ctx context.Context) (PortAllocation, bool, error) {
	if o.cfg.Mode == ModeDevelopment {
		probe := netutil.NewHealthProbe(o.log)
		urls := []string{
			netutil.HealthURL(o.cfg.APIPort, o.cfg.HealthPath),
			netutil.HealthURL(o.cfg.EvaluatorPort, o.cfg.HealthPath),
		}
		if probe.AllHealthy(ctx, urls) {
			o.log.Info("external development services detected, reusing their ports",
				"api", o.cfg.APIPort, "evaluator", o.cfg.EvaluatorPort)
			return PortAllocation{
				API:       o.cfg.APIPort,
				Evaluator: o.cfg.EvaluatorPort,
				UI:        o.cfg.UIPort,
			}, true, nil
		}
		o.log.Debug("no external services responding, allocating ports")
	}

	alloc := netutil.NewAllocator(o.log)
	api, err := alloc.Allocate(o.cfg.APIPort, o.cfg.APIFallbacks)
	if err != nil {
		return PortAllocation{}, false, fmt.Errorf("allocate api port: %w", err)
	}
	evaluator, err := alloc.Allocate(o.cfg.EvaluatorPort, o.cfg.EvaluatorFallbacks)
	if err != nil {
		return PortAllocation{}, false, fmt.Errorf("allocate evaluator port: %w", err)
	}

	ports := PortAllocation{API: api, Evaluator: evaluator, UI: o.cfg.UIPort}
	o.log.Info("ports allocated",
		"api", ports.API, "evaluator", ports.Evaluator, "ui", ports.UI)
	return ports, false, nil
}
