package app

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"ContentCrew/internal/config"
	"ContentCrew/internal/crew"
	"ContentCrew/internal/knowledge"
	"ContentCrew/internal/llm"
	"ContentCrew/internal/llm/openai"
	"ContentCrew/internal/tools"
	"ContentCrew/internal/tools/scrape"
	"ContentCrew/internal/tools/serper"
	"ContentCrew/pkg/logger"
)

// Engine 汇总执行团队所需的组件，守护进程与命令行共用。
type Engine struct {
	Runner  *crew.Runner
	Catalog *crew.Catalog
	closers []func() error
}

// Close 释放缓存连接等资源。
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return stdErrors.Join(errs...)
}

// NewEngine 按配置构造大模型客户端、工具、知识库与团队目录。
func NewEngine(ctx context.Context, cfg *config.Config, opts ...crew.Option) (*Engine, error) {
	client, err := NewLLMClient(cfg.LLM)
	if err != nil {
		return nil, err
	}
	engine := &Engine{}
	invoker, closeTools, err := NewInvoker(ctx, cfg.Tools)
	if err != nil {
		return nil, err
	}
	if closeTools != nil {
		engine.closers = append(engine.closers, closeTools)
	}

	catalog, err := NewCatalog(cfg.Crews)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	engine.Catalog = catalog

	runnerOpts := []crew.Option{crew.WithLLMTimeout(time.Duration(cfg.LLM.TimeoutSeconds) * time.Second)}
	if cfg.Knowledge.Source != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			_ = engine.Close()
			return nil, err
		}
		runnerOpts = append(runnerOpts, crew.WithKnowledge(provider))
	}
	runnerOpts = append(runnerOpts, opts...)
	engine.Runner = crew.NewRunner(client, invoker, runnerOpts...)
	return engine, nil
}

// NewLLMClient 创建 OpenAI 兼容的大模型客户端。
func NewLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("未设置环境变量 %s", cfg.APIKeyEnv)
	}
	return openai.NewClient(openai.Config{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		Retries:     clientRetries(cfg.Retries),
		Temperature: cfg.Temperature,
	})
}

// clientRetries 把配置中的重试次数转换为 openai.Config 的约定：
// 0 表示使用默认值，负数表示不重试。
func clientRetries(configured *int) int {
	if configured == nil {
		return 0
	}
	if *configured <= 0 {
		return -1
	}
	return *configured
}

// NewInvoker 注册搜索与网页读取工具，并按配置启用缓存与限流。
// 返回的关闭函数可能为空。
func NewInvoker(ctx context.Context, cfg config.ToolsConfig) (*tools.Invoker, func() error, error) {
	search, err := serper.New(serper.Config{
		APIKey:  cfg.Serper.APIKey,
		Results: cfg.Serper.Results,
		Country: cfg.Serper.Country,
		Locale:  cfg.Serper.Locale,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("初始化搜索工具失败: %w", err)
	}
	reader := scrape.New(scrape.Config{
		MaxChars: cfg.Scrape.MaxChars,
		Timeout:  time.Duration(cfg.Scrape.TimeoutSeconds) * time.Second,
	})
	registry, err := tools.NewRegistry(search, reader)
	if err != nil {
		return nil, nil, err
	}

	opts := []tools.InvokerOption{
		tools.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		tools.WithCallTimeout(time.Duration(cfg.CallTimeoutSeconds) * time.Second),
	}
	var closer func() error
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	switch cfg.Cache.Driver {
	case "none":
	case "redis":
		cache, err := tools.NewRedisCache(ctx, tools.RedisCacheConfig{
			Address:  cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Key,
			TTL:      ttl,
		})
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, tools.WithCache(cache))
		closer = cache.Close
	default:
		opts = append(opts, tools.WithCache(tools.NewMemoryCache(ttl)))
	}
	logger.L().Debug("工具已注册",
		slog.Any("tools", registry.Names()),
		slog.String("cache", cfg.Cache.Driver),
	)
	return tools.NewInvoker(registry, opts...), closer, nil
}

// NewCatalog 载入内置的 LinkedIn 团队以及配置中列出的团队文件。
// 文件中的团队与内置团队同名时会报冲突。
func NewCatalog(cfg config.CrewsConfig) (*crew.Catalog, error) {
	catalog, err := crew.NewCatalog(crew.DefaultDefinition())
	if err != nil {
		return nil, err
	}
	for _, path := range cfg.Files {
		def, err := crew.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := catalog.Register(def); err != nil {
			return nil, err
		}
	}
	if cfg.Default != "" {
		if _, ok := catalog.Get(cfg.Default); !ok {
			return nil, fmt.Errorf("默认团队 %s 未注册", cfg.Default)
		}
	}
	return catalog, nil
}
