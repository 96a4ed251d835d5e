package netutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// healthProbeTimeout is the per-request cap for a health check against an
// already-running service. The request is aborted after this duration; a
// service that cannot answer its health endpoint within 5 seconds is treated
// as absent.
const healthProbeTimeout = 5 * time.Second

// HealthProbe checks whether backend services are already running and
// answering their health endpoint. It exists for development mode, where a
// developer runs the backends by hand and the orchestrator should reuse them
// rather than spawn duplicates.
type HealthProbe struct {
	client *http.Client
	log    *slog.Logger
}

// NewHealthProbe creates a HealthProbe with a bounded HTTP client.
// If logger is nil, slog.Default() is used as a fallback.
func NewHealthProbe(logger *slog.Logger) *HealthProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthProbe{
		client: &http.Client{
			Transport: &http.Transport{
				// DisableKeepAlives ensures each probe opens a fresh
				// connection that is closed after the response is read.
				// Probes are rare and targeted at services we may never
				// talk to again, so pooling buys nothing.
				DisableKeepAlives: true,
			},
			Timeout: healthProbeTimeout,
		},
		log: logger,
	}
}

// Healthy reports whether a GET against url returns an HTTP-OK class
// response within the probe timeout. Any transport error or non-2xx status
// is treated as not healthy.
func (p *HealthProbe) Healthy(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		p.log.Debug("health probe request build failed", "url", url, "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("health probe failed", "url", url, "error", err)
		return false
	}
	// Drain and close the body so the connection is released cleanly.
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) // best-effort drain
		_ = resp.Body.Close()
	}()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		p.log.Debug("health probe non-OK status", "url", url, "status", resp.StatusCode)
	}
	return ok
}

// AllHealthy reports whether every given endpoint answers healthy.
// It returns false on the first unhealthy endpoint.
func (p *HealthProbe) AllHealthy(ctx context.Context, urls []string) bool {
	for _, url := range urls {
		if !p.Healthy(ctx, url) {
			return false
		}
	}
	return len(urls) > 0
}

// HealthURL builds the health endpoint URL for a local service port.
func HealthURL(port int, path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}
