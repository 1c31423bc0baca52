// Package health probes each collaborator's /health endpoint on demand.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moonkev/flexgw/internal/registry"
	"golang.org/x/sync/errgroup"
)

const DefaultProbeTimeout = 3 * time.Second

// ServiceStatus is the probe result for one collaborator
type ServiceStatus struct {
	Name       string        `json:"name"`
	URL        string        `json:"url"`
	Healthy    bool          `json:"healthy"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency_ns"`
}

// Report aggregates one probe round. Healthy is true only when every
// collaborator answered 2xx.
type Report struct {
	Healthy   bool            `json:"healthy"`
	CheckedAt time.Time       `json:"checked_at"`
	Services  []ServiceStatus `json:"services"`
}

type Checker struct {
	entries []registry.ServiceEntry
	client  *http.Client
	timeout time.Duration
}

// NewChecker probes every registry entry through client
func NewChecker(reg *registry.Registry, client *http.Client, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Checker{entries: reg.Entries(), client: client, timeout: timeout}
}

// Check probes all collaborators concurrently. A failing probe never cancels
// its siblings.
func (c *Checker) Check(ctx context.Context) Report {
	statuses := make([]ServiceStatus, len(c.entries))

	var g errgroup.Group
	for i, entry := range c.entries {
		g.Go(func() error {
			statuses[i] = c.probe(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Healthy: true, CheckedAt: time.Now().UTC(), Services: statuses}
	for _, s := range statuses {
		if !s.Healthy {
			report.Healthy = false
		}
	}
	return report
}

func (c *Checker) probe(ctx context.Context, entry registry.ServiceEntry) ServiceStatus {
	target := entry.BaseAddress.String() + "/health"
	status := ServiceStatus{Name: entry.Name, URL: target}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	resp, err := c.client.Do(req)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	status.StatusCode = resp.StatusCode
	status.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !status.Healthy {
		status.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return status
}
