package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency_ns"`
}

// HealthCheck represents a health check function.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth is the aggregate of every registered check.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Uptime     string            `json:"uptime"`
	Components []ComponentHealth `json:"components"`
}

// HealthMonitor runs registered health checks on demand.
type HealthMonitor struct {
	mu         sync.RWMutex
	startTime  time.Time
	components map[string]HealthCheck
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		startTime:  time.Now(),
		components: make(map[string]HealthCheck),
	}
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// Check runs every registered check. The system is unhealthy if any component
// is, degraded if any component is degraded.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(m.components))
	for k, v := range m.components {
		checks[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	health := SystemHealth{
		Status: HealthStatusHealthy,
		Uptime: time.Since(m.startTime).Round(time.Second).String(),
	}
	for _, name := range names {
		c := checks[name](ctx)
		c.Name = name
		health.Components = append(health.Components, c)
		switch c.Status {
		case HealthStatusUnhealthy:
			health.Status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if health.Status == HealthStatusHealthy {
				health.Status = HealthStatusDegraded
			}
		}
	}
	return health
}

// DatabaseHealthCheck creates a health check for database connections.
func DatabaseHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		health := ComponentHealth{LastCheck: time.Now()}

		start := time.Now()
		err := ping(ctx)
		health.Latency = time.Since(start)

		if err != nil {
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("Database ping failed: %v", err)
			return health
		}

		if health.Latency > 100*time.Millisecond {
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("Database slow: %v", health.Latency)
			return health
		}

		health.Status = HealthStatusHealthy
		health.Message = "Database healthy"
		return health
	}
}

// BreakerHealthCheck reports a gateway as unhealthy while its circuit is open
// and degraded while it is probing.
func BreakerHealthCheck(cb *CircuitBreaker) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		stats := cb.Stats()
		health := ComponentHealth{LastCheck: time.Now()}
		switch stats.State {
		case CircuitOpen:
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("Circuit open since %s", stats.LastStateChange.Format(time.RFC3339))
		case CircuitHalfOpen:
			health.Status = HealthStatusDegraded
			health.Message = "Circuit half-open, probing gateway"
		default:
			health.Status = HealthStatusHealthy
			health.Message = fmt.Sprintf("%d requests, %.1f%% failed", stats.TotalRequests, stats.FailureRate())
		}
		return health
	}
}
