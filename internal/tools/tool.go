package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	xerrors "ContentCrew/internal/errors"
	"ContentCrew/internal/llm"
)

// Tool 是智能体可以调用的外部能力。
type Tool interface {
	Name() string
	Description() string
	Schema() llm.ToolSchema
	Run(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry 按名称保存可用工具。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建工具注册表，并注册传入的工具。
func NewRegistry(list ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(list))}
	for _, tool := range list {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册一个工具，名称重复时返回错误。
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具不能为空")
	}
	name := tool.Name()
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("工具 %s 已注册", name))
	}
	r.tools[name] = tool
	return nil
}

// Get 返回指定名称的工具。
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names 返回排序后的工具名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas 返回指定工具的 schema；未知名称会被忽略。
func (r *Registry) Schemas(names ...string) []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]llm.ToolSchema, 0, len(names))
	for _, name := range names {
		if tool, ok := r.tools[name]; ok {
			schemas = append(schemas, tool.Schema())
		}
	}
	return schemas
}
