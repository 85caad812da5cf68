package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/synthos/orchestrator/internal/workflow"
)

func TestRun_SucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := Run(context.Background(), Config{NodeID: "t1"}, func(ctx context.Context) (*workflow.NodeExecutionResult, error) {
		calls++
		return &workflow.NodeExecutionResult{Success: true}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success result")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRun_RetriesUpToRetryCountPlusOne(t *testing.T) {
	oldBackoff := Backoff
	Backoff = time.Millisecond
	defer func() { Backoff = oldBackoff }()

	calls := 0
	_, err := Run(context.Background(), Config{NodeID: "t1", RetryCount: 2}, func(ctx context.Context) (*workflow.NodeExecutionResult, error) {
		calls++
		return nil, errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts (retryCount+1), got %d", calls)
	}
}

func TestRun_SkipOnFailureReturnsSyntheticResult(t *testing.T) {
	oldBackoff := Backoff
	Backoff = time.Millisecond
	defer func() { Backoff = oldBackoff }()

	result, err := Run(context.Background(), Config{NodeID: "t1", RetryCount: 0, SkipOnFailure: true}, func(ctx context.Context) (*workflow.NodeExecutionResult, error) {
		return nil, errors.New("boom")
	})
	if err != nil {
		t.Fatalf("expected no error when skipOnFailure, got %v", err)
	}
	if result.Success {
		t.Fatal("expected synthetic result to be unsuccessful")
	}
	if result.Error != "boom" {
		t.Fatalf("expected synthetic error message 'boom', got %q", result.Error)
	}
	if result.StartedAt == 0 || result.CompletedAt == 0 {
		t.Fatal("expected synthetic result to carry timestamps")
	}
}

func TestRun_TimeoutCountsAsOneAttempt(t *testing.T) {
	oldBackoff := Backoff
	Backoff = time.Millisecond
	defer func() { Backoff = oldBackoff }()

	calls := 0
	_, err := Run(context.Background(), Config{NodeID: "t1", TimeoutMs: 10, RetryCount: 0}, func(ctx context.Context) (*workflow.NodeExecutionResult, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var timeoutErr *NodeTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected NodeTimeoutError, got %T: %v", err, err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt for the timed-out call, got %d", calls)
	}
}
