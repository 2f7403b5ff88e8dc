// Package health reports the readiness of the bot's backing services.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Zimbwa03/nerdx-bot/internal/kv"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component is one checked subsystem with its result.
type Component struct {
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Report is the rolled-up health of the system.
type Report struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Config wires the checked dependencies. Nil/empty entries are skipped.
type Config struct {
	LedgerDB  *sql.DB
	HistoryDB *sql.DB
	KV        kv.Store
	AIBaseURL string

	DBTimeout    time.Duration
	HTTPTimeout  time.Duration
	MaxDBLatency time.Duration
}

// Checker runs the configured checks concurrently.
type Checker struct {
	cfg Config

	mu   sync.RWMutex
	last []Component
}

// New creates a checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxDBLatency == 0 {
		cfg.MaxDBLatency = 100 * time.Millisecond
	}
	return &Checker{cfg: cfg}
}

// Check runs all checks and returns the rollup.
func (c *Checker) Check(ctx context.Context) Report {
	var wg sync.WaitGroup
	results := make(chan Component, 8)

	if c.cfg.LedgerDB != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkDatabase(ctx, "ledger_db", c.cfg.LedgerDB)
		}()
	}
	if c.cfg.HistoryDB != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkDatabase(ctx, "history_db", c.cfg.HistoryDB)
		}()
	}
	if c.cfg.KV != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkKV(ctx)
		}()
	}
	if c.cfg.AIBaseURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkHTTPEndpoint(ctx, "ai_api", c.cfg.AIBaseURL)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	components := make([]Component, 0, 4)
	for comp := range results {
		components = append(components, comp)
	}

	c.mu.Lock()
	c.last = components
	c.mu.Unlock()

	return rollup(components)
}

// LastReport returns the rollup of the most recent Check.
func (c *Checker) LastReport() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.last) == 0 {
		return Report{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return rollup(c.last)
}

func (c *Checker) checkDatabase(ctx context.Context, name string, db *sql.DB) Component {
	comp := Component{Name: name, Type: "database", Timestamp: time.Now()}

	dbCtx, cancel := context.WithTimeout(ctx, c.cfg.DBTimeout)
	defer cancel()

	start := time.Now()
	err := db.PingContext(dbCtx)
	comp.Latency = time.Since(start)

	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "database unreachable"
		return comp
	}
	if comp.Latency > c.cfg.MaxDBLatency {
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("high latency: %v", comp.Latency)
		return comp
	}
	comp.Status = StatusHealthy
	comp.Message = "connected"
	return comp
}

func (c *Checker) checkKV(ctx context.Context) Component {
	comp := Component{Name: "kv_store", Type: "cache", Timestamp: time.Now()}

	kvCtx, cancel := context.WithTimeout(ctx, c.cfg.DBTimeout)
	defer cancel()

	start := time.Now()
	err := c.cfg.KV.Set(kvCtx, "health:probe", []byte("ok"), 10*time.Second)
	comp.Latency = time.Since(start)

	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "kv store unreachable"
		return comp
	}
	comp.Status = StatusHealthy
	comp.Message = "connected"
	return comp
}

func (c *Checker) checkHTTPEndpoint(ctx context.Context, name, baseURL string) Component {
	comp := Component{Name: name, Type: "http", Timestamp: time.Now()}

	client := &http.Client{Timeout: c.cfg.HTTPTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		return comp
	}

	start := time.Now()
	resp, err := client.Do(req)
	comp.Latency = time.Since(start)

	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "endpoint unreachable"
		return comp
	}
	defer resp.Body.Close()

	// any HTTP response means the service is up
	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("reachable (HTTP %d)", resp.StatusCode)
	return comp
}

func rollup(components []Component) Report {
	overall := StatusHealthy
	criticalDown := false
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == "database" || comp.Type == "cache" {
				criticalDown = true
			}
			overall = StatusDegraded
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	if criticalDown {
		overall = StatusUnhealthy
	}
	return Report{Status: overall, Timestamp: time.Now(), Components: components}
}
