// Package strategy wraps a node's execution operation with retry,
// timeout, and skip-on-failure policy.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/synthos/orchestrator/internal/telemetry"
	"github.com/synthos/orchestrator/internal/workflow"
)

// Backoff is the fixed delay between retry attempts. It is a var rather
// than a baked-in constant so tests can shrink it.
var Backoff = 3 * time.Second

// Config carries one node's retry/timeout/skip policy. Metrics may be
// nil, in which case retry counts are not recorded.
type Config struct {
	NodeID        string
	NodeType      string
	RetryCount    int
	TimeoutMs     int
	SkipOnFailure bool
	Metrics       *telemetry.Metrics
}

// NodeTimeoutError reports that a single attempt at executing nodeID
// exceeded its configured timeout.
type NodeTimeoutError struct {
	NodeID    string
	TimeoutMs int
}

func (e *NodeTimeoutError) Error() string {
	return fmt.Sprintf("node %q timed out after %dms", e.NodeID, e.TimeoutMs)
}

// Operation is the node work a Strategy wraps: a single attempt at
// producing a NodeExecutionResult.
type Operation func(ctx context.Context) (*workflow.NodeExecutionResult, error)

// Run executes op up to cfg.RetryCount+1 times, racing each attempt
// against cfg.TimeoutMs (if set) and waiting Backoff between attempts. On
// exhaustion: if cfg.SkipOnFailure, it returns a synthetic failed result
// without an error; otherwise it returns the last error.
func Run(ctx context.Context, cfg Config, op Operation) (*workflow.NodeExecutionResult, error) {
	maxAttempts := cfg.RetryCount + 1
	var lastErr error
	var lastResult *workflow.NodeExecutionResult

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := runOnce(ctx, cfg, op)
		if err == nil {
			return result, nil
		}
		lastErr = err
		lastResult = result

		if attempt < maxAttempts {
			slog.Warn("node attempt failed, retrying", "nodeId", cfg.NodeID, "attempt", attempt, "maxAttempts", maxAttempts, "error", err)
			if cfg.Metrics != nil {
				cfg.Metrics.NodeRetried(cfg.NodeType)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(Backoff):
			}
		}
	}

	if cfg.SkipOnFailure {
		now := workflow.NowMillis()
		slog.Warn("node exhausted retries, skipping per policy", "nodeId", cfg.NodeID, "error", lastErr)
		return &workflow.NodeExecutionResult{
			Success:     false,
			Error:       lastErr.Error(),
			StartedAt:   now,
			CompletedAt: now,
		}, nil
	}

	if lastResult != nil {
		return lastResult, lastErr
	}
	return nil, lastErr
}

func runOnce(ctx context.Context, cfg Config, op Operation) (*workflow.NodeExecutionResult, error) {
	if cfg.TimeoutMs <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	type outcome struct {
		result *workflow.NodeExecutionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := op(attemptCtx)
		done <- outcome{r, err}
	}()

	select {
	case o := <-done:
		if errors.Is(o.err, context.DeadlineExceeded) {
			return nil, &NodeTimeoutError{NodeID: cfg.NodeID, TimeoutMs: cfg.TimeoutMs}
		}
		return o.result, o.err
	case <-attemptCtx.Done():
		return nil, &NodeTimeoutError{NodeID: cfg.NodeID, TimeoutMs: cfg.TimeoutMs}
	}
}
