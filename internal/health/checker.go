package health

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	ID            string
}

type Component string

const (
	ComponentRedis  Component = "redis"
	ComponentDB     Component = "db"
	ComponentQueue  Component = "queue"
	ComponentSolana Component = "solana"
)

// CheckFunc returns nil when the component is usable.
type CheckFunc func(ctx context.Context) error

type CheckResult struct {
	Timestamp time.Time `json:"timestamp"`
	Result    bool      `json:"result"`
}

type HealthChecks map[Component]CheckResult

type HealthStatus struct {
	Healthy bool         `json:"healthy"`
	Checks  HealthChecks `json:"checks"`
}

type Checker struct {
	config *Config
	probes map[Component]CheckFunc
	log    *slog.Logger

	mu     sync.RWMutex
	checks HealthChecks
}

func NewChecker(config *Config) *Checker {
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = time.Second
	}

	return &Checker{
		config: config,
		probes: map[Component]CheckFunc{},
		log:    slog.With("pod", config.ID, "component", "health"),
		checks: HealthChecks{},
	}
}

// Register adds a component. If this code gets executed, we assume that
// there was an initial successful check.
func (c *Checker) Register(component Component, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.probes[component] = check
	c.checks[component] = CheckResult{Timestamp: time.Now(), Result: true}
}

// RedisCheck pings a Redis client.
func RedisCheck(rdb *redis.Client) CheckFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

func (c *Checker) Run(ctx context.Context) {
	c.log.Debug("Starting the health checker...")

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug("Stopping health checker ...")
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll runs every registered probe once.
func (c *Checker) CheckAll(ctx context.Context) {
	c.mu.RLock()
	probes := maps.Clone(c.probes)
	c.mu.RUnlock()

	for component, check := range probes {
		checkCtx, cancel := context.WithTimeout(ctx, c.config.CheckTimeout)
		err := check(checkCtx)
		cancel()

		if err != nil {
			c.log.Warn("Component health check failed", "component", component, "error", err)
		}

		c.mu.Lock()
		c.checks[component] = CheckResult{
			Timestamp: time.Now(),
			Result:    err == nil,
		}
		c.mu.Unlock()
	}
}

func (c *Checker) GetHealthStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := true
	for component, check := range c.checks {
		if !check.Result {
			healthy = false
			c.log.Error("Component health check failed", "component", component)
		}
	}

	return HealthStatus{
		Healthy: healthy,
		Checks:  maps.Clone(c.checks),
	}
}
