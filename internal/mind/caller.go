package mind

import (
	"context"
	"sync"

	"mindloop/internal/evidence"
	"mindloop/internal/logging"
	"mindloop/internal/types"
)

// Call states reported to the orchestrator.
const (
	StateOK      = "ok"
	StateError   = "error"
	StateSkipped = "skipped" // circuit open, call not attempted
)

// Result is the outcome of one guarded judgment call.
type Result struct {
	State    string
	Response map[string]any
	Err      error
}

// Caller guards a judgment client with a per-run circuit breaker. After
// Threshold consecutive failures the circuit opens: later calls return
// skipped without touching the provider, and exactly one circuit record is
// written to the evidence log.
type Caller struct {
	Client    types.MindClient
	Writer    *evidence.Writer
	Threshold int

	mu          sync.Mutex
	consecutive int
	open        bool
	totalCalls  int
	totalErrors int
}

// Open reports whether the circuit is open.
func (c *Caller) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Call invokes the named schema unless the circuit is open. Failures are
// recorded in the evidence log before they are returned.
func (c *Caller) Call(ctx context.Context, schema string, contextObj map[string]any) Result {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return Result{State: StateSkipped}
	}
	c.totalCalls++
	c.mu.Unlock()

	resp, err := c.Client.Invoke(ctx, schema, contextObj)
	if err == nil {
		c.mu.Lock()
		c.consecutive = 0
		c.mu.Unlock()
		return Result{State: StateOK, Response: resp}
	}

	c.mu.Lock()
	c.consecutive++
	c.totalErrors++
	consecutive := c.consecutive
	opening := !c.open && c.Threshold > 0 && consecutive >= c.Threshold
	if opening {
		c.open = true
	}
	c.mu.Unlock()

	logging.Get(logging.CategoryMind).Warnw("judgment call failed",
		"schema", schema, "consecutive", consecutive, "error", err)
	c.record(evidence.KindMindError, map[string]any{
		"schema":      schema,
		"error":       err.Error(),
		"consecutive": consecutive,
	})
	if opening {
		c.record(evidence.KindMindCircuit, map[string]any{
			"threshold":   c.Threshold,
			"last_schema": schema,
		})
		logging.Get(logging.CategoryMind).Warnw("circuit opened", "threshold", c.Threshold)
	}
	return Result{State: StateError, Err: err}
}

func (c *Caller) record(kind string, payload map[string]any) {
	if c.Writer == nil {
		return
	}
	if _, err := c.Writer.Append(kind, payload); err != nil {
		logging.Get(logging.CategoryMind).Warnw("evidence write failed", "kind", kind, "error", err)
	}
}

// Stats reports call counters for run summaries.
func (c *Caller) Stats() (calls, errors int, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCalls, c.totalErrors, c.open
}
