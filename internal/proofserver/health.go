// health.go - Component health of a proof server.
package proofserver

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the last check result of one component.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"lastCheck"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth is the aggregate reported by /health.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
	Uptime     time.Duration     `json:"uptime"`
	Version    string            `json:"version"`
}

// HealthChecker runs registered checks on demand.
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]*ComponentHealth
	checkers   map[string]func(ctx context.Context) error
	startTime  time.Time
	version    string
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*ComponentHealth),
		checkers:   make(map[string]func(ctx context.Context) error),
		startTime:  time.Now(),
		version:    version,
	}
}

// Register adds a check. A nil check marks a component that is only updated through Set.
func (hc *HealthChecker) Register(name string, check func(ctx context.Context) error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.components[name] = &ComponentHealth{Name: name, Status: Healthy, Message: "registered", LastCheck: time.Now()}
	if check != nil {
		hc.checkers[name] = check
	}
}

// Set overrides the status of a component until its next check.
func (hc *HealthChecker) Set(name string, status HealthStatus, message string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if component, exists := hc.components[name]; exists {
		component.Status = status
		component.Message = message
		component.LastCheck = time.Now()
	}
}

// Check runs every registered check and aggregates the results. The overall
// status is the worst component status.
func (hc *HealthChecker) Check(ctx context.Context) SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.components))
	for name, component := range hc.components {
		if check, exists := hc.checkers[name]; exists {
			start := time.Now()
			err := check(ctx)
			component.Latency = time.Since(start)
			component.LastCheck = time.Now()
			if err != nil {
				component.Status = Unhealthy
				component.Message = err.Error()
			} else {
				component.Status = Healthy
				component.Message = "ok"
			}
		}

		switch {
		case component.Status == Unhealthy:
			overall = Unhealthy
		case component.Status == Degraded && overall == Healthy:
			overall = Degraded
		}
		components = append(components, *component)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return SystemHealth{
		Status:     overall,
		Timestamp:  time.Now(),
		Components: components,
		Uptime:     time.Since(hc.startTime),
		Version:    hc.version,
	}
}
