package config

import (
	stdErrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"ContentCrew/pkg/logger"
)

const (
	// DefaultPath 是未显式指定时读取的配置文件。
	DefaultPath = "configs/crew.yaml"
	// EnvConfigPath 可覆盖配置文件路径。
	EnvConfigPath = "CONTENTCREW_CONFIG"
)

// Config 描述了内容团队服务在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Tools     ToolsConfig     `yaml:"tools"`
	Crews     CrewsConfig     `yaml:"crews"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Log       logger.Config   `yaml:"log"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LLMConfig 用于配置 OpenAI 兼容接口的调用方式。
type LLMConfig struct {
	BaseURL        string   `yaml:"base_url"`
	Model          string   `yaml:"model"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	// Retries 未填写时为 2，填 0 关闭重试。
	Retries        *int     `yaml:"retries"`
	APIKeyEnv      string   `yaml:"api_key_env"`
	Temperature    *float64 `yaml:"temperature"`
	// APIKey 只从环境变量读取，不写入文件。
	APIKey string `yaml:"-"`
}

// ToolsConfig 汇总智能体可用工具的参数。
type ToolsConfig struct {
	Serper    SerperConfig    `yaml:"serper"`
	Scrape    ScrapeConfig    `yaml:"scrape"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	// CallTimeoutSeconds 限制任意一次工具调用的总耗时。
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
}

// SerperConfig 描述搜索工具。
type SerperConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Results   int    `yaml:"results"`
	Country   string `yaml:"country"`
	Locale    string `yaml:"locale"`
	APIKey    string `yaml:"-"`
}

// ScrapeConfig 描述网页读取工具。
type ScrapeConfig struct {
	MaxChars       int `yaml:"max_chars"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// RateLimitConfig 限制单个工具的调用频率，PerSecond 为 0 表示不限速。
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// CacheConfig 描述工具结果缓存。
type CacheConfig struct {
	Driver     string      `yaml:"driver"`
	TTLSeconds int         `yaml:"ttl_seconds"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig 是 Redis 连接的公共参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// CrewsConfig 列出额外加载的团队定义文件。
type CrewsConfig struct {
	Files   []string `yaml:"files"`
	Default string   `yaml:"default"`
}

// KnowledgeConfig 配置静态知识库。
type KnowledgeConfig struct {
	Source     string `yaml:"source"`
	MaxResults int    `yaml:"max_results"`
}

// StorageConfig 描述作业存储。
type StorageConfig struct {
	JobStore JobStoreConfig `yaml:"job_store"`
}

// JobStoreConfig 支持内存与 MySQL 两种驱动。
type JobStoreConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	Retries                int    `yaml:"retries"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `yaml:"conn_max_idle_time_seconds"`
	SkipMigrations         bool   `yaml:"skip_migrations"`
}

// QueueConfig 描述作业队列。
type QueueConfig struct {
	Driver            string         `yaml:"driver"`
	Workers           int            `yaml:"workers"`
	Buffer            int            `yaml:"buffer"`
	JobTimeoutSeconds int            `yaml:"job_timeout_seconds"`
	Redis             RedisConfig    `yaml:"redis"`
	RabbitMQ          RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// AlertingConfig 配置告警出口。
type AlertingConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Load 读取 YAML 配置。path 为空时依次尝试 CONTENTCREW_CONFIG 与默认路径，
// 文件不存在时使用默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(content))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	case stdErrors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.LLM.Retries == nil {
		retries := 2
		c.LLM.Retries = &retries
	} else if *c.LLM.Retries < 0 {
		*c.LLM.Retries = 0
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}

	if c.Tools.Serper.APIKeyEnv == "" {
		c.Tools.Serper.APIKeyEnv = "SERPER_API_KEY"
	}
	if c.Tools.Serper.Results <= 0 {
		c.Tools.Serper.Results = 10
	}
	if c.Tools.Scrape.MaxChars <= 0 {
		c.Tools.Scrape.MaxChars = 20000
	}
	if c.Tools.Scrape.TimeoutSeconds <= 0 {
		c.Tools.Scrape.TimeoutSeconds = 30
	}
	if c.Tools.CallTimeoutSeconds <= 0 {
		c.Tools.CallTimeoutSeconds = 60
	}
	if c.Tools.Cache.Driver == "" {
		c.Tools.Cache.Driver = "memory"
	}
	if c.Tools.Cache.TTLSeconds <= 0 {
		c.Tools.Cache.TTLSeconds = 3600
	}

	if c.Crews.Default == "" {
		c.Crews.Default = "linkedin"
	}
	for i, file := range c.Crews.Files {
		c.Crews.Files[i] = resolve(baseDir, file)
	}
	if c.Knowledge.Source != "" {
		c.Knowledge.Source = resolve(baseDir, c.Knowledge.Source)
	}
	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}

	if c.Storage.JobStore.Driver == "" {
		c.Storage.JobStore.Driver = "memory"
	}
	if c.Storage.JobStore.Retries <= 0 {
		c.Storage.JobStore.Retries = 3
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 128
	}
	if c.Queue.JobTimeoutSeconds <= 0 {
		c.Queue.JobTimeoutSeconds = 900
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Audit.Path != "" {
		c.Log.Audit.Path = resolve(baseDir, c.Log.Audit.Path)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
}

// applyEnv 用环境变量覆盖文件中的配置。
func (c *Config) applyEnv() {
	c.LLM.APIKey = os.Getenv(c.LLM.APIKeyEnv)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL_NAME"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("OPENAI_API_BASE"); v != "" {
		c.LLM.BaseURL = v
	}
	c.Tools.Serper.APIKey = os.Getenv(c.Tools.Serper.APIKeyEnv)
	if v := os.Getenv("SERPER_API_KEY"); v != "" && c.Tools.Serper.APIKey == "" {
		c.Tools.Serper.APIKey = v
	}
	if v := os.Getenv("CONTENTCREW_ADDR"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("CONTENTCREW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate 检查驱动名称与必填连接参数。
func (c *Config) Validate() error {
	var problems []string
	switch c.Storage.JobStore.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.JobStore.DSN) == "" {
			problems = append(problems, "storage.job_store.dsn 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("未知的作业存储驱动 %q", c.Storage.JobStore.Driver))
	}

	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.Redis.Address == "" {
			problems = append(problems, "queue.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			problems = append(problems, "queue.rabbitmq.url 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("未知的队列驱动 %q", c.Queue.Driver))
	}

	switch c.Tools.Cache.Driver {
	case "memory", "none":
	case "redis":
		if c.Tools.Cache.Redis.Address == "" {
			problems = append(problems, "tools.cache.redis.address 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("未知的缓存驱动 %q", c.Tools.Cache.Driver))
	}

	if c.Tools.RateLimit.PerSecond < 0 {
		problems = append(problems, "tools.rate_limit.per_second 不能为负数")
	}
	if len(problems) > 0 {
		return fmt.Errorf("配置无效: %s", strings.Join(problems, "; "))
	}
	return nil
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
