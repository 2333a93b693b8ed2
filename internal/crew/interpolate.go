package crew

import (
	"regexp"
	"sort"
	"strings"

	xerrors "ContentCrew/internal/errors"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_-]*)\}`)

// Interpolate 将模板中的 {key} 替换为 inputs 中的值，空白值视为缺失。
// 非标识符形式的花括号内容（例如 JSON）保持原样。
func Interpolate(template string, inputs map[string]string) (string, error) {
	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		value, ok := inputs[key]
		if !ok || strings.TrimSpace(value) == "" {
			if missing == "" {
				missing = key
			}
			return match
		}
		return value
	})
	if missing != "" {
		return "", missingInput(missing)
	}
	return out, nil
}

// CheckInputs 校验 inputs 覆盖了全部占位符，规则与 Interpolate 一致。
func (c *Crew) CheckInputs(inputs map[string]string) error {
	for _, key := range c.Placeholders() {
		if strings.TrimSpace(inputs[key]) == "" {
			return missingInput(key)
		}
	}
	return nil
}

func missingInput(key string) error {
	return xerrors.New(xerrors.CodeMissingInput, "缺少输入参数 "+key,
		xerrors.WithMetadata("input", key))
}

// Placeholders 返回团队定义中引用的全部输入名称，按字母序排列。
func (c *Crew) Placeholders() []string {
	set := make(map[string]struct{})
	collect := func(s string) {
		for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			set[m[1]] = struct{}{}
		}
	}
	for _, a := range c.Agents {
		collect(a.Goal)
		collect(a.Backstory)
	}
	for _, t := range c.Tasks {
		collect(t.Description)
		collect(t.ExpectedOutput)
		collect(t.OutputFile)
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Interpolate 返回填充输入后的团队副本，原定义不变。
// 角色名不参与替换，以保证任务与智能体的绑定关系稳定。
func (c *Crew) Interpolate(inputs map[string]string) (*Crew, error) {
	out := c.Clone()
	for i := range out.Agents {
		a := &out.Agents[i]
		for _, field := range []*string{&a.Goal, &a.Backstory} {
			v, err := Interpolate(*field, inputs)
			if err != nil {
				return nil, err
			}
			*field = v
		}
	}
	for i := range out.Tasks {
		t := &out.Tasks[i]
		for _, field := range []*string{&t.Description, &t.ExpectedOutput, &t.OutputFile} {
			v, err := Interpolate(*field, inputs)
			if err != nil {
				return nil, err
			}
			*field = v
		}
	}
	return out, nil
}
