package job

import (
	"context"
	"fmt"

	"ContentCrew/internal/crew"
	xerrors "ContentCrew/internal/errors"
)

// Executor 定义了处理器执行一次 kickoff 所需的能力。
type Executor interface {
	Execute(ctx context.Context, crewName string, inputs map[string]string) (*Result, error)
}

// Catalog 提供按名称查找团队定义的能力。
type Catalog interface {
	Get(name string) (*crew.Crew, bool)
}

// CrewExecutor 使用 crew.Runner 执行目录中的团队。
type CrewExecutor struct {
	runner  *crew.Runner
	catalog Catalog
}

// NewCrewExecutor 创建 CrewExecutor。
func NewCrewExecutor(runner *crew.Runner, catalog Catalog) *CrewExecutor {
	return &CrewExecutor{runner: runner, catalog: catalog}
}

// Execute 实现 Executor。
func (e *CrewExecutor) Execute(ctx context.Context, crewName string, inputs map[string]string) (*Result, error) {
	if e == nil || e.runner == nil || e.catalog == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "执行器未初始化")
	}
	def, ok := e.catalog.Get(crewName)
	if !ok {
		return nil, xerrors.New(xerrors.CodeCrewValidation, fmt.Sprintf("未知的团队 %s", crewName))
	}
	out, err := e.runner.Kickoff(ctx, def, inputs)
	if err != nil {
		return nil, err
	}
	return ResultFromOutput(out), nil
}

// ResultFromOutput 将团队输出转换为可持久化的结果。
func ResultFromOutput(out *crew.CrewOutput) *Result {
	if out == nil {
		return nil
	}
	result := &Result{
		Raw:              out.Raw,
		Tasks:            make([]TaskResult, 0, len(out.TasksOutput)),
		PromptTokens:     out.TokenUsage.PromptTokens,
		CompletionTokens: out.TokenUsage.CompletionTokens,
		TotalTokens:      out.TokenUsage.TotalTokens,
	}
	for _, t := range out.TasksOutput {
		result.Tasks = append(result.Tasks, TaskResult{Name: t.Name, Agent: t.Agent, Raw: t.Raw})
	}
	return result
}
