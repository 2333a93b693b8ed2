package crew

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"

	xerrors "ContentCrew/internal/errors"
	"ContentCrew/internal/llm"
	"ContentCrew/internal/observability/metrics"
	"ContentCrew/internal/tools"
)

const forceFinalPrompt = "Now it's time you MUST give your absolute best final answer. " +
	"You'll ignore all previous instructions, stop using any tools, and just return your absolute BEST Final answer."

const emptyReplyPrompt = "Your last reply was empty. Either use one of your tools or provide your complete final answer."

// execute 运行单个任务的推理循环，返回最终答案与 token 用量。
func (r *Runner) execute(ctx context.Context, c *Crew, agent *Agent, task *Task, taskCtx string) (string, llm.Usage, error) {
	var usage llm.Usage
	verbose := c.Verbose || agent.Verbose
	step := func(s Step) {
		s.Crew, s.Task, s.Agent = c.Name, task.Name, agent.Role
		r.emit(verbose, s)
	}

	var schemas []llm.ToolSchema
	if r.invoker != nil && len(agent.Tools) > 0 {
		schemas = r.invoker.Registry().Schemas(agent.Tools...)
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(agent, schemas)},
		{Role: llm.RoleUser, Content: r.userPrompt(agent, task, taskCtx)},
	}

	maxIter := agent.maxIter()
	for iter := 1; iter <= maxIter; iter++ {
		resp, err := r.chat(ctx, llm.ChatRequest{Messages: messages, Tools: schemas})
		if err != nil {
			return "", usage, err
		}
		usage.Add(resp.Usage)
		metrics.ObserveTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

		msg := resp.Message
		if len(msg.ToolCalls) > 0 {
			messages = append(messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   msg.Content,
				ToolCalls: msg.ToolCalls,
			})
			for _, call := range msg.ToolCalls {
				obs := r.dispatch(ctx, agent, call)
				messages = append(messages, llm.Message{
					Role:       llm.RoleTool,
					Name:       call.Function.Name,
					ToolCallID: call.ID,
					Content:    obs.Output,
				})
				step(Step{
					Iteration: iter,
					Kind:      StepToolCall,
					Tool:      call.Function.Name,
					Input:     call.Function.Arguments,
					Output:    obs.Output,
					Cached:    obs.Cached,
				})
			}
			continue
		}

		answer := strings.TrimSpace(msg.Content)
		if answer != "" {
			step(Step{Iteration: iter, Kind: StepFinalAnswer, Output: answer})
			return answer, usage, nil
		}
		step(Step{Iteration: iter, Kind: StepEmptyReply})
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: emptyReplyPrompt})
	}

	// 达到最大轮数后，去掉工具再请求一次最终答案。
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: forceFinalPrompt})
	resp, err := r.chat(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		if ctx.Err() != nil {
			return "", usage, err
		}
		return "", usage, xerrors.Wrap(xerrors.CodeMaxIterations, err,
			fmt.Sprintf("智能体 %s 超过最大推理轮数 %d", agent.Role, maxIter))
	}
	usage.Add(resp.Usage)
	metrics.ObserveTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	answer := strings.TrimSpace(resp.Message.Content)
	if answer == "" {
		return "", usage, xerrors.New(xerrors.CodeMaxIterations,
			fmt.Sprintf("智能体 %s 超过最大推理轮数 %d 且未给出最终答案", agent.Role, maxIter))
	}
	step(Step{Iteration: maxIter + 1, Kind: StepForcedFinal, Output: answer})
	return answer, usage, nil
}

// dispatch 只执行智能体声明过的工具，其余调用以错误观察返回给模型。
func (r *Runner) dispatch(ctx context.Context, agent *Agent, call llm.ToolCall) tools.Observation {
	name := strings.TrimSpace(call.Function.Name)
	if r.invoker == nil || len(agent.Tools) == 0 {
		metrics.ObserveToolCall(name, "unknown")
		return tools.Observation{
			Tool:   name,
			Output: "Error: no tools are available. Answer with what you already know.",
			Err:    xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("智能体 %s 没有可用工具", agent.Role)),
		}
	}
	if !agent.hasTool(name) {
		metrics.ObserveToolCall(name, "unknown")
		return tools.Observation{
			Tool:   name,
			Output: fmt.Sprintf("Error: tool %q does not exist. Available tools: %s", name, strings.Join(agent.Tools, ", ")),
			Err:    xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("智能体 %s 未声明工具 %q", agent.Role, name)),
		}
	}
	return r.invoker.Invoke(ctx, call)
}

func (r *Runner) chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	callCtx := ctx
	if r.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.llmTimeout)
		defer cancel()
	}
	resp, err := r.llm.Chat(callCtx, req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "大模型推理失败")
	}
	if resp == nil {
		return nil, xerrors.New(xerrors.CodeLLMFailure, "大模型返回空响应")
	}
	return resp, nil
}

func (r *Runner) emit(verbose bool, s Step) {
	if r.onStep != nil {
		r.onStep(s)
	}
	level := slog.LevelDebug
	if verbose {
		level = slog.LevelInfo
	}
	attrs := []slog.Attr{
		slog.String("crew", s.Crew),
		slog.String("task", s.Task),
		slog.String("agent", s.Agent),
		slog.Int("iteration", s.Iteration),
		slog.String("kind", string(s.Kind)),
	}
	if s.Tool != "" {
		attrs = append(attrs, slog.String("tool", s.Tool), slog.Bool("cached", s.Cached))
	}
	if s.Err != nil {
		attrs = append(attrs, slog.String("tool_error", s.Err.Error()))
	}
	r.logger.LogAttrs(context.Background(), level, "智能体步骤", attrs...)
}

func systemPrompt(agent *Agent, schemas []llm.ToolSchema) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s. %s\nYour personal goal is: %s", agent.Role, agent.Backstory, agent.Goal)
	if len(schemas) > 0 {
		sb.WriteString("\nYou ONLY have access to the following tools, and should NEVER make up tools that are not listed here:\n")
		for _, s := range schemas {
			fmt.Fprintf(&sb, "\nTool Name: %s\nTool Description: %s", s.Name, s.Description)
		}
	}
	return sb.String()
}

func (r *Runner) userPrompt(agent *Agent, task *Task, taskCtx string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current Task: %s\n\nThis is the expected criteria for your final answer: %s\n"+
		"you MUST return the actual complete content as the final answer, not a summary.",
		task.Description, task.ExpectedOutput)
	if strings.TrimSpace(taskCtx) != "" {
		fmt.Fprintf(&sb, "\n\nThis is the context you're working with:\n%s", taskCtx)
	}
	if r.knowledge != nil {
		snippets := r.knowledge.Query(task.Description, agent.Role)
		if len(snippets) > 0 {
			sb.WriteString("\n\nAdditional relevant knowledge:")
			for _, s := range snippets {
				switch {
				case s.Title != "" && s.Content != "":
					fmt.Fprintf(&sb, "\n- %s: %s", s.Title, s.Content)
				case s.Content != "":
					fmt.Fprintf(&sb, "\n- %s", s.Content)
				case s.Title != "":
					fmt.Fprintf(&sb, "\n- %s", s.Title)
				}
			}
		}
	}
	return sb.String()
}
