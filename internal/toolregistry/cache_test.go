package toolregistry

import (
	"context"
	"errors"
	"testing"
	"time"

	"aria/internal/agent/ports"
)

func TestCacheExecutorServesRepeatedCalls(t *testing.T) {
	delegate := &fakeTool{name: "lookup"}
	cached := NewCacheExecutor(delegate, CacheConfig{MaxSize: 8, TTL: time.Minute})

	call := ports.ToolCall{ID: "c1", Name: "lookup", Arguments: map[string]any{"q": "x"}}
	first, err := cached.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}

	call.ID = "c2"
	second, err := cached.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}

	if delegate.calls != 1 {
		t.Fatalf("expected single delegate call, got %d", delegate.calls)
	}
	if second.Content != first.Content {
		t.Fatalf("cache returned different content: %q vs %q", second.Content, first.Content)
	}
	if second.CallID != "c2" {
		t.Fatalf("cached result must carry the current call ID, got %q", second.CallID)
	}
}

func TestCacheExecutorKeyIgnoresArgumentOrder(t *testing.T) {
	delegate := &fakeTool{name: "lookup"}
	cached := NewCacheExecutor(delegate, CacheConfig{})

	_, _ = cached.Execute(context.Background(), ports.ToolCall{
		ID: "a", Name: "lookup",
		Arguments: map[string]any{"city": "Oslo", "units": "metric"},
	})
	_, _ = cached.Execute(context.Background(), ports.ToolCall{
		ID: "b", Name: "lookup",
		Arguments: map[string]any{"units": "metric", "city": "Oslo"},
	})

	if delegate.calls != 1 {
		t.Fatalf("same arguments in different order must share a cache key, calls=%d", delegate.calls)
	}
}

func TestCacheExecutorNeverCachesErrors(t *testing.T) {
	delegate := &fakeTool{name: "flaky", err: errors.New("boom")}
	cached := NewCacheExecutor(delegate, CacheConfig{})

	call := ports.ToolCall{ID: "c1", Name: "flaky"}
	if _, err := cached.Execute(context.Background(), call); err == nil {
		t.Fatalf("expected delegate error")
	}

	delegate.err = nil
	if _, err := cached.Execute(context.Background(), call); err != nil {
		t.Fatalf("expected success after delegate recovers: %v", err)
	}
	if delegate.calls != 2 {
		t.Fatalf("error results must not be cached, calls=%d", delegate.calls)
	}
}

func TestCacheExecutorSkipsErrorResults(t *testing.T) {
	delegate := &fakeTool{name: "lookup", result: &ports.ToolResult{
		Content: "Error: upstream unavailable",
		Error:   errors.New("upstream unavailable"),
	}}
	cached := NewCacheExecutor(delegate, CacheConfig{})

	for i := 0; i < 2; i++ {
		if _, err := cached.Execute(context.Background(), ports.ToolCall{ID: "c", Name: "lookup"}); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	if delegate.calls != 2 {
		t.Fatalf("results carrying tool errors must bypass the cache, calls=%d", delegate.calls)
	}
}

func TestCacheExecutorSkipsDangerousTools(t *testing.T) {
	delegate := &fakeTool{name: "mutate", dangerous: true}
	cached := NewCacheExecutor(delegate, CacheConfig{})

	for i := 0; i < 2; i++ {
		if _, err := cached.Execute(context.Background(), ports.ToolCall{ID: "c", Name: "mutate"}); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	if delegate.calls != 2 {
		t.Fatalf("dangerous tools must never be cached, calls=%d", delegate.calls)
	}
}

func TestCacheExecutorExcludeList(t *testing.T) {
	delegate := &fakeTool{name: "volatile"}
	cached := NewCacheExecutor(delegate, CacheConfig{ExcludeTools: []string{"volatile"}})

	for i := 0; i < 2; i++ {
		if _, err := cached.Execute(context.Background(), ports.ToolCall{ID: "c", Name: "volatile"}); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	if delegate.calls != 2 {
		t.Fatalf("excluded tools must bypass the cache, calls=%d", delegate.calls)
	}
}
