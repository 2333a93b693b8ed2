package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	xerrors "ContentCrew/internal/errors"
	"ContentCrew/internal/llm"
	"ContentCrew/internal/observability/metrics"
	"ContentCrew/pkg/logger"
)

const defaultCallTimeout = 60 * time.Second

// Observation 是一次工具调用的结果，Output 会原样回填给大模型。
type Observation struct {
	Tool   string
	Output string
	Cached bool
	Err    error
}

// Invoker 负责执行大模型请求的工具调用：缓存、限流与超时都在这里处理。
type Invoker struct {
	registry    *Registry
	cache       Cache
	callTimeout time.Duration
	perSecond   rate.Limit
	burst       int
	logger      *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// InvokerOption 定义可选配置。
type InvokerOption func(*Invoker)

// WithCache 启用工具结果缓存。
func WithCache(cache Cache) InvokerOption {
	return func(i *Invoker) {
		i.cache = cache
	}
}

// WithRateLimit 为每个工具设置独立的令牌桶。perSecond 小于等于 0 表示不限流。
func WithRateLimit(perSecond float64, burst int) InvokerOption {
	return func(i *Invoker) {
		if perSecond <= 0 {
			i.perSecond = rate.Inf
			return
		}
		i.perSecond = rate.Limit(perSecond)
		if burst <= 0 {
			burst = 1
		}
		i.burst = burst
	}
}

// WithCallTimeout 设置单次工具调用的超时时间。
func WithCallTimeout(timeout time.Duration) InvokerOption {
	return func(i *Invoker) {
		if timeout > 0 {
			i.callTimeout = timeout
		}
	}
}

// WithInvokerLogger 指定日志输出。
func WithInvokerLogger(l *slog.Logger) InvokerOption {
	return func(i *Invoker) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInvoker 构造 Invoker。
func NewInvoker(registry *Registry, opts ...InvokerOption) *Invoker {
	if registry == nil {
		registry = &Registry{tools: map[string]Tool{}}
	}
	inv := &Invoker{
		registry:    registry,
		callTimeout: defaultCallTimeout,
		perSecond:   rate.Inf,
		burst:       1,
		limiters:    make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	if inv.logger == nil {
		inv.logger = logger.Named("tools")
	}
	return inv
}

// Registry 返回底层注册表。
func (i *Invoker) Registry() *Registry {
	return i.registry
}

// CallTimeout 返回单次工具调用的超时时间。
func (i *Invoker) CallTimeout() time.Duration {
	return i.callTimeout
}

// Invoke 执行一次工具调用。工具失败不会返回 Go 错误，而是生成一段
// 观察文本，让智能体自行决定下一步。
func (i *Invoker) Invoke(ctx context.Context, call llm.ToolCall) Observation {
	name := strings.TrimSpace(call.Function.Name)
	obs := Observation{Tool: name}

	tool, ok := i.registry.Get(name)
	if !ok {
		obs.Err = xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("未知工具 %q", name))
		obs.Output = fmt.Sprintf("Error: tool %q does not exist. Available tools: %s", name, strings.Join(i.registry.Names(), ", "))
		metrics.ObserveToolCall(name, "unknown")
		return obs
	}

	args := json.RawMessage(strings.TrimSpace(call.Function.Arguments))
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		obs.Err = xerrors.New(xerrors.CodeInvalidArgument, "工具参数不是合法的 JSON")
		obs.Output = fmt.Sprintf("Error: the arguments for %s must be a valid JSON object matching its schema.", name)
		metrics.ObserveToolCall(name, "invalid_args")
		return obs
	}

	key := CacheKey(name, args)
	if i.cache != nil {
		cached, hit, err := i.cache.Get(ctx, key)
		if err != nil {
			i.logger.Warn("读取工具缓存失败", slog.String("tool", name), slog.Any("error", err))
		} else if hit {
			obs.Output = cached
			obs.Cached = true
			metrics.ObserveToolCall(name, "cached")
			return obs
		}
	}

	if err := i.limiter(name).Wait(ctx); err != nil {
		obs.Err = xerrors.Wrap(xerrors.CodeToolFailure, err, "等待工具限流失败")
		obs.Output = fmt.Sprintf("Error: %s could not run: %v", name, err)
		metrics.ObserveToolCall(name, "error")
		return obs
	}

	callCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	defer cancel()

	start := time.Now()
	output, err := tool.Run(callCtx, args)
	if err != nil {
		obs.Err = xerrors.Wrap(xerrors.CodeToolFailure, err, fmt.Sprintf("工具 %s 执行失败", name))
		obs.Output = fmt.Sprintf("Error: %s failed: %v", name, err)
		i.logger.Warn("工具执行失败",
			slog.String("tool", name),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		metrics.ObserveToolCall(name, "error")
		return obs
	}

	obs.Output = output
	i.logger.Debug("工具执行完成",
		slog.String("tool", name),
		slog.Int("output_chars", len(output)),
		slog.Duration("duration", time.Since(start)))
	metrics.ObserveToolCall(name, "ok")

	if i.cache != nil {
		if err := i.cache.Set(ctx, key, output); err != nil {
			i.logger.Warn("写入工具缓存失败", slog.String("tool", name), slog.Any("error", err))
		}
	}
	return obs
}

func (i *Invoker) limiter(name string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()
	l, ok := i.limiters[name]
	if !ok {
		l = rate.NewLimiter(i.perSecond, i.burst)
		i.limiters[name] = l
	}
	return l
}
