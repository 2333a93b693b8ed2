package crew

import (
	"fmt"
	"strings"

	xerrors "ContentCrew/internal/errors"
)

// Process 定义任务的编排方式。
type Process string

const (
	// ProcessSequential 按声明顺序依次执行任务。
	ProcessSequential Process = "sequential"
	// ProcessHierarchical 需要管理者模型分派任务，目前不支持。
	ProcessHierarchical Process = "hierarchical"
)

// DefaultMaxIter 是智能体单个任务允许的最大推理轮数。
const DefaultMaxIter = 15

// Agent 描述一个扮演特定角色的智能体。
type Agent struct {
	Role            string   `yaml:"role" json:"role"`
	Goal            string   `yaml:"goal" json:"goal"`
	Backstory       string   `yaml:"backstory" json:"backstory"`
	Tools           []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	Verbose         bool     `yaml:"verbose,omitempty" json:"verbose,omitempty"`
	MaxIter         int      `yaml:"max_iter,omitempty" json:"max_iter,omitempty"`
	AllowDelegation bool     `yaml:"allow_delegation,omitempty" json:"allow_delegation,omitempty"`
}

// Task 描述分配给某个智能体的工作。
type Task struct {
	Name           string   `yaml:"name" json:"name"`
	Description    string   `yaml:"description" json:"description"`
	ExpectedOutput string   `yaml:"expected_output" json:"expected_output"`
	// Agent 为执行该任务的智能体角色名。
	Agent      string   `yaml:"agent" json:"agent"`
	Context    []string `yaml:"context,omitempty" json:"context,omitempty"`
	OutputFile string   `yaml:"output_file,omitempty" json:"output_file,omitempty"`
}

// Crew 由一组智能体与一组任务构成。
type Crew struct {
	Name    string  `yaml:"name" json:"name"`
	Agents  []Agent `yaml:"agents" json:"agents"`
	Tasks   []Task  `yaml:"tasks" json:"tasks"`
	Process Process `yaml:"process,omitempty" json:"process,omitempty"`
	Verbose bool    `yaml:"verbose,omitempty" json:"verbose,omitempty"`
}

func (a Agent) maxIter() int {
	if a.MaxIter <= 0 {
		return DefaultMaxIter
	}
	return a.MaxIter
}

func (a Agent) hasTool(name string) bool {
	for _, t := range a.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// Agent 根据角色查找智能体。
func (c *Crew) Agent(role string) (*Agent, bool) {
	for i := range c.Agents {
		if c.Agents[i].Role == role {
			return &c.Agents[i], true
		}
	}
	return nil, false
}

// Validate 校验团队定义的完整性。
func (c *Crew) Validate() error {
	if c == nil {
		return xerrors.New(xerrors.CodeCrewValidation, "团队定义不能为空")
	}
	switch c.Process {
	case "", ProcessSequential:
	case ProcessHierarchical:
		return xerrors.New(xerrors.CodeCrewValidation, "暂不支持 hierarchical 编排方式",
			xerrors.WithMetadata("crew", c.Name))
	default:
		return xerrors.New(xerrors.CodeCrewValidation, fmt.Sprintf("未知的编排方式 %q", c.Process),
			xerrors.WithMetadata("crew", c.Name))
	}
	if len(c.Agents) == 0 {
		return invalid(c.Name, "团队至少需要一个智能体")
	}
	if len(c.Tasks) == 0 {
		return invalid(c.Name, "团队至少需要一个任务")
	}

	roles := make(map[string]struct{}, len(c.Agents))
	for i, agent := range c.Agents {
		role := strings.TrimSpace(agent.Role)
		if role == "" {
			return invalid(c.Name, fmt.Sprintf("第 %d 个智能体缺少角色", i+1))
		}
		if _, dup := roles[role]; dup {
			return invalid(c.Name, fmt.Sprintf("智能体角色 %q 重复", role))
		}
		roles[role] = struct{}{}
	}

	seen := make(map[string]struct{}, len(c.Tasks))
	for i, task := range c.Tasks {
		label := task.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if strings.TrimSpace(task.Description) == "" {
			return invalid(c.Name, fmt.Sprintf("任务 %s 缺少描述", label))
		}
		if strings.TrimSpace(task.ExpectedOutput) == "" {
			return invalid(c.Name, fmt.Sprintf("任务 %s 缺少期望输出", label))
		}
		if _, ok := roles[strings.TrimSpace(task.Agent)]; !ok {
			return invalid(c.Name, fmt.Sprintf("任务 %s 引用了不存在的智能体 %q", label, task.Agent))
		}
		for _, ref := range task.Context {
			if _, ok := seen[ref]; !ok {
				return invalid(c.Name, fmt.Sprintf("任务 %s 的上下文 %q 必须是之前的任务", label, ref))
			}
		}
		if task.Name != "" {
			if _, dup := seen[task.Name]; dup {
				return invalid(c.Name, fmt.Sprintf("任务名称 %q 重复", task.Name))
			}
			seen[task.Name] = struct{}{}
		}
	}
	return nil
}

func invalid(crew, msg string) error {
	return xerrors.New(xerrors.CodeCrewValidation, msg, xerrors.WithMetadata("crew", crew))
}

// Clone 返回团队定义的深拷贝。
func (c *Crew) Clone() *Crew {
	out := *c
	out.Agents = make([]Agent, len(c.Agents))
	for i, a := range c.Agents {
		a.Tools = append([]string(nil), a.Tools...)
		out.Agents[i] = a
	}
	out.Tasks = make([]Task, len(c.Tasks))
	for i, t := range c.Tasks {
		t.Context = append([]string(nil), t.Context...)
		out.Tasks[i] = t
	}
	return &out
}
