package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"ContentCrew/internal/llm"
)

type echoTool struct {
	name  string
	calls atomic.Int32
	err   error
}

func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "echo the query" }
func (e *echoTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{Name: e.name, Description: e.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (e *echoTool) Run(_ context.Context, args json.RawMessage) (string, error) {
	e.calls.Add(1)
	if e.err != nil {
		return "", e.err
	}
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	return "echo: " + in.Query, nil
}

func call(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "call", Type: "function", Function: llm.ToolCallFunction{Name: name, Arguments: args}}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg, err := NewRegistry(&echoTool{name: "a"}, &echoTool{name: "b"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := reg.Register(&echoTool{name: "a"}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if got := reg.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected names: %v", got)
	}
	schemas := reg.Schemas("b", "missing")
	if len(schemas) != 1 || schemas[0].Name != "b" {
		t.Fatalf("unexpected schemas: %+v", schemas)
	}
}

func TestInvokerRunsTool(t *testing.T) {
	tool := &echoTool{name: "echo"}
	reg, _ := NewRegistry(tool)
	inv := NewInvoker(reg)

	obs := inv.Invoke(context.Background(), call("echo", `{"query":"ia"}`))
	if obs.Err != nil || obs.Output != "echo: ia" {
		t.Fatalf("unexpected observation: %+v", obs)
	}
}

func TestInvokerUnknownToolListsAvailable(t *testing.T) {
	reg, _ := NewRegistry(&echoTool{name: "echo"})
	inv := NewInvoker(reg)

	obs := inv.Invoke(context.Background(), call("nope", `{}`))
	if obs.Err == nil {
		t.Fatalf("expected error for unknown tool")
	}
	if !strings.Contains(obs.Output, "echo") {
		t.Fatalf("observation should list available tools: %q", obs.Output)
	}
}

func TestInvokerInvalidArguments(t *testing.T) {
	tool := &echoTool{name: "echo"}
	reg, _ := NewRegistry(tool)
	inv := NewInvoker(reg)

	obs := inv.Invoke(context.Background(), call("echo", `{"query":`))
	if obs.Err == nil || !strings.HasPrefix(obs.Output, "Error:") {
		t.Fatalf("expected invalid argument observation, got %+v", obs)
	}
	if tool.calls.Load() != 0 {
		t.Fatalf("tool should not run with invalid arguments")
	}
}

func TestInvokerToolErrorBecomesObservation(t *testing.T) {
	reg, _ := NewRegistry(&echoTool{name: "echo", err: errors.New("upstream down")})
	inv := NewInvoker(reg)

	obs := inv.Invoke(context.Background(), call("echo", `{"query":"x"}`))
	if obs.Err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(obs.Output, "upstream down") {
		t.Fatalf("observation should carry the cause: %q", obs.Output)
	}
}

func TestInvokerUsesCache(t *testing.T) {
	tool := &echoTool{name: "echo"}
	reg, _ := NewRegistry(tool)
	inv := NewInvoker(reg, WithCache(NewMemoryCache(time.Minute)))

	first := inv.Invoke(context.Background(), call("echo", `{"query":"ia"}`))
	second := inv.Invoke(context.Background(), call("echo", `{"query":"ia"}`))
	if first.Cached || !second.Cached {
		t.Fatalf("expected second call to hit the cache: %+v %+v", first, second)
	}
	if second.Output != first.Output {
		t.Fatalf("cached output mismatch: %q vs %q", second.Output, first.Output)
	}
	if tool.calls.Load() != 1 {
		t.Fatalf("expected tool to run once, ran %d times", tool.calls.Load())
	}
}

func TestInvokerRateLimitHonoursContext(t *testing.T) {
	reg, _ := NewRegistry(&echoTool{name: "echo"})
	inv := NewInvoker(reg, WithRateLimit(0.001, 1))

	if obs := inv.Invoke(context.Background(), call("echo", `{"query":"a"}`)); obs.Err != nil {
		t.Fatalf("first call should pass: %+v", obs)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	obs := inv.Invoke(ctx, call("echo", `{"query":"b"}`))
	if obs.Err == nil {
		t.Fatalf("second call should be throttled")
	}
}

func TestMemoryCacheExpires(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	_ = cache.Set(context.Background(), "k", "v")
	if v, ok, _ := cache.Get(context.Background(), "k"); !ok || v != "v" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := cache.Get(context.Background(), "k"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestRedisCache(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cache := NewRedisCacheWithClient(client, "", time.Minute)
	defer cache.Close()

	ctx := context.Background()
	if _, ok, err := cache.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	if err := cache.Set(ctx, "k", "value"); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := cache.Get(ctx, "k")
	if err != nil || !ok || value != "value" {
		t.Fatalf("unexpected get: %q %v %v", value, ok, err)
	}
	if ttl := srv.TTL("contentcrew:tools:k"); ttl != time.Minute {
		t.Fatalf("unexpected ttl: %v", ttl)
	}
}
