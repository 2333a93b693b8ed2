package crew

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	xerrors "ContentCrew/internal/errors"
	"ContentCrew/internal/knowledge"
	"ContentCrew/internal/llm"
	"ContentCrew/internal/observability/metrics"
	"ContentCrew/internal/tools"
	"ContentCrew/pkg/logger"
)

const contextSeparator = "\n\n----------\n\n"

// TaskOutput 记录单个任务的执行结果。
type TaskOutput struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	ExpectedOutput string `json:"expected_output"`
	Agent          string `json:"agent"`
	Raw            string `json:"raw"`
	Summary        string `json:"summary"`
}

// CrewOutput 是一次 kickoff 的完整输出，Raw 为最后一个任务的结果。
type CrewOutput struct {
	Raw         string       `json:"raw"`
	TasksOutput []TaskOutput `json:"tasks_output"`
	TokenUsage  llm.Usage    `json:"token_usage"`
}

// StepKind 区分智能体推理过程中的事件。
type StepKind string

const (
	StepToolCall    StepKind = "tool_call"
	StepFinalAnswer StepKind = "final_answer"
	StepEmptyReply  StepKind = "empty_reply"
	StepForcedFinal StepKind = "forced_final"
)

// Step 是推理过程中的一个事件，用于日志与回调。
type Step struct {
	Crew      string
	Task      string
	Agent     string
	Iteration int
	Kind      StepKind
	Tool      string
	Input     string
	Output    string
	Cached    bool
	// Err 在工具调用失败时非空，Output 中是回传给模型的错误文本。
	Err error
}

// Runner 负责执行团队定义。
type Runner struct {
	llm        llm.Client
	invoker    *tools.Invoker
	knowledge  knowledge.Provider
	llmTimeout time.Duration
	onStep     func(Step)
	logger     *slog.Logger
}

// Option 定义可选的 Runner 配置。
type Option func(*Runner)

// WithLLMTimeout 设置单次调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout < 0 {
			timeout = 0
		}
		r.llmTimeout = timeout
	}
}

// WithStepCallback 注册推理步骤回调。
func WithStepCallback(fn func(Step)) Option {
	return func(r *Runner) {
		r.onStep = fn
	}
}

// WithKnowledge 配置知识库，命中的片段会附加到任务提示中。
func WithKnowledge(provider knowledge.Provider) Option {
	return func(r *Runner) {
		r.knowledge = provider
	}
}

// WithLogger 替换默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner 创建 Runner。invoker 可以为空，此时智能体无法使用工具。
func NewRunner(client llm.Client, invoker *tools.Invoker, opts ...Option) *Runner {
	r := &Runner{
		llm:     client,
		invoker: invoker,
		logger:  logger.Named("crew"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Kickoff 校验并填充团队定义，然后按顺序执行全部任务。
func (r *Runner) Kickoff(ctx context.Context, c *Crew, inputs map[string]string) (*CrewOutput, error) {
	if r.llm == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := r.checkTools(c); err != nil {
		return nil, err
	}
	resolved, err := c.Interpolate(inputs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	r.logger.Info("团队开始执行",
		slog.String("crew", resolved.Name),
		slog.Int("tasks", len(resolved.Tasks)),
		slog.Int("agents", len(resolved.Agents)))

	out, err := r.run(ctx, resolved)
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	metrics.ObserveKickoff(resolved.Name, status)
	r.logger.Info("团队执行结束",
		slog.String("crew", resolved.Name),
		slog.String("status", status),
		slog.Duration("duration", time.Since(start)))
	return out, err
}

func (r *Runner) run(ctx context.Context, c *Crew) (*CrewOutput, error) {
	out := &CrewOutput{TasksOutput: make([]TaskOutput, 0, len(c.Tasks))}
	byName := make(map[string]string, len(c.Tasks))

	for i := range c.Tasks {
		task := &c.Tasks[i]
		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "团队执行被取消")
		}
		agent, _ := c.Agent(task.Agent)

		taskStart := time.Now()
		raw, usage, err := r.execute(ctx, c, agent, task, taskContext(task, out.TasksOutput, byName))
		out.TokenUsage.Add(usage)
		if err != nil {
			return nil, fmt.Errorf("任务 %s 执行失败: %w", taskLabel(task, i), err)
		}
		metrics.ObserveTask(c.Name, taskLabel(task, i), time.Since(taskStart))

		result := TaskOutput{
			Name:           task.Name,
			Description:    task.Description,
			ExpectedOutput: task.ExpectedOutput,
			Agent:          agent.Role,
			Raw:            raw,
			Summary:        summarize(task.Description),
		}
		if task.OutputFile != "" {
			if err := writeOutput(task.OutputFile, raw); err != nil {
				return nil, err
			}
		}
		out.TasksOutput = append(out.TasksOutput, result)
		if task.Name != "" {
			byName[task.Name] = raw
		}
	}

	out.Raw = out.TasksOutput[len(out.TasksOutput)-1].Raw
	return out, nil
}

func (r *Runner) checkTools(c *Crew) error {
	for _, agent := range c.Agents {
		for _, name := range agent.Tools {
			if r.invoker == nil {
				return invalid(c.Name, fmt.Sprintf("智能体 %s 声明了工具 %s，但未配置工具执行器", agent.Role, name))
			}
			if _, ok := r.invoker.Registry().Get(name); !ok {
				return invalid(c.Name, fmt.Sprintf("智能体 %s 声明了未注册的工具 %s", agent.Role, name))
			}
		}
	}
	return nil
}

// taskContext 汇总任务可见的前序输出：显式声明的上下文，或全部前序任务。
func taskContext(task *Task, previous []TaskOutput, byName map[string]string) string {
	parts := make([]string, 0, len(previous))
	if len(task.Context) > 0 {
		for _, name := range task.Context {
			if raw, ok := byName[name]; ok {
				parts = append(parts, raw)
			}
		}
	} else {
		for _, p := range previous {
			parts = append(parts, p.Raw)
		}
	}
	return strings.Join(parts, contextSeparator)
}

func taskLabel(task *Task, index int) string {
	if task.Name != "" {
		return task.Name
	}
	return fmt.Sprintf("task-%d", index+1)
}

func summarize(description string) string {
	words := strings.Fields(description)
	if len(words) > 10 {
		words = words[:10]
	}
	return strings.Join(words, " ") + "..."
}

func writeOutput(path, content string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建输出目录失败")
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务输出失败",
			xerrors.WithMetadata("path", path))
	}
	return nil
}
