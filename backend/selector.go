package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dhollinger/promptmend/providers"
	"github.com/dhollinger/promptmend/utils"
)

// healthCacheTTL bounds how long a positive or negative health verdict is
// reused. Short enough that a local server coming up is noticed between
// sessions.
const healthCacheTTL = 30 * time.Second

type cachedHealth struct {
	status    HealthStatus
	checkedAt time.Time
}

// Selector orders the configured backends and serves every generation call
// from the first one that works, falling through the chain on failure. It is
// a process-wide singleton shared by all sessions; the health cache is the
// only shared mutable state and is guarded for concurrent reads.
type Selector struct {
	clients []*Client
	logger  utils.Logger

	mu    sync.RWMutex
	cache map[string]cachedHealth
}

func NewSelector(logger utils.Logger, clients ...*Client) *Selector {
	return &Selector{
		clients: clients,
		logger:  logger,
		cache:   make(map[string]cachedHealth),
	}
}

func (s *Selector) health(ctx context.Context, c *Client) HealthStatus {
	s.mu.RLock()
	entry, ok := s.cache[c.Name()]
	s.mu.RUnlock()
	if ok && time.Since(entry.checkedAt) < healthCacheTTL {
		return entry.status
	}

	status := c.HealthCheck(ctx)

	s.mu.Lock()
	s.cache[c.Name()] = cachedHealth{status: status, checkedAt: time.Now()}
	s.mu.Unlock()
	return status
}

// Pick returns the first backend whose health check succeeds. When none do,
// the error aggregates every backend's failure reason.
func (s *Selector) Pick(ctx context.Context) (*Client, error) {
	var reasons []string
	for _, c := range s.clients {
		status := s.health(ctx, c)
		if status.Available {
			s.logger.Debug("Backend selected", "backend", c.Name(), "model", status.Model)
			return c, nil
		}
		s.logger.Warn("Backend unhealthy", "backend", c.Name(), "error", status.Error)
		reasons = append(reasons, fmt.Sprintf("%s: %s", c.Name(), status.Error))
	}
	return nil, NewError(ErrorTypeAllUnavailable,
		fmt.Sprintf("no backend available (%s)", strings.Join(reasons, "; ")), nil)
}

// Generate runs one generation call with fallback: a failure against one
// backend moves on to the next rather than aborting. The returned Result
// names the backend that actually served the call.
func (s *Selector) Generate(ctx context.Context, req providers.GenerateRequest) (*Result, error) {
	var reasons []string
	for _, c := range s.clients {
		status := s.health(ctx, c)
		if !status.Available {
			reasons = append(reasons, fmt.Sprintf("%s: %s", c.Name(), status.Error))
			continue
		}

		result, err := c.Generate(ctx, req)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, NewError(ErrorTypeUnavailable, "generation canceled", ctx.Err())
		}

		// A generation failure against a healthy-looking backend invalidates
		// its cached verdict so the next call re-probes it.
		s.mu.Lock()
		delete(s.cache, c.Name())
		s.mu.Unlock()

		s.logger.Warn("Backend failed mid-call, falling back", "backend", c.Name(), "error", err)
		reasons = append(reasons, fmt.Sprintf("%s: %v", c.Name(), err))
	}
	return nil, NewError(ErrorTypeAllUnavailable,
		fmt.Sprintf("no backend available (%s)", strings.Join(reasons, "; ")), nil)
}

// Health reports the status of every configured backend, bypassing nothing:
// the cache still applies so a health passthrough endpoint stays cheap.
func (s *Selector) Health(ctx context.Context) []HealthStatus {
	statuses := make([]HealthStatus, 0, len(s.clients))
	for _, c := range s.clients {
		statuses = append(statuses, s.health(ctx, c))
	}
	return statuses
}
