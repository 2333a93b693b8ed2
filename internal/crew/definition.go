package crew

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	xerrors "ContentCrew/internal/errors"
)

// DefaultName 是内置团队的名称。
const DefaultName = "linkedin"

// DefaultTopic 是命令行未指定主题时使用的默认主题。
const DefaultTopic = "O uso da IA para o mundo corporativo"

//go:embed definitions/linkedin.yaml
var defaultDefinition []byte

// Parse 解析 YAML 格式的团队定义并进行校验。
func Parse(data []byte) (*Crew, error) {
	var c Crew
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCrewValidation, err, "解析团队定义失败")
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return nil, xerrors.New(xerrors.CodeCrewValidation, "团队定义缺少名称")
	}
	if c.Process == "" {
		c.Process = ProcessSequential
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile 从文件加载团队定义。
func LoadFile(path string) (*Crew, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("读取团队定义 %s 失败", path))
	}
	return Parse(data)
}

// DefaultDefinition 返回内置的 LinkedIn 内容团队：检索、撰写、编辑。
func DefaultDefinition() *Crew {
	c, err := Parse(defaultDefinition)
	if err != nil {
		panic(fmt.Sprintf("内置团队定义无效: %v", err))
	}
	return c
}

// Catalog 保存按名称注册的团队定义，可并发读取。
type Catalog struct {
	mu    sync.RWMutex
	crews map[string]*Crew
}

// NewCatalog 创建团队目录。
func NewCatalog(list ...*Crew) (*Catalog, error) {
	cat := &Catalog{crews: make(map[string]*Crew)}
	for _, c := range list {
		if err := cat.Register(c); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

// Register 注册团队定义，名称重复时返回冲突错误。
func (c *Catalog) Register(def *Crew) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.Name == "" {
		return xerrors.New(xerrors.CodeCrewValidation, "团队定义缺少名称")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.crews[def.Name]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("团队 %s 已注册", def.Name))
	}
	c.crews[def.Name] = def
	return nil
}

// Get 根据名称查找团队定义。
func (c *Catalog) Get(name string) (*Crew, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.crews[name]
	return def, ok
}

// List 返回全部团队定义，按名称排序。
func (c *Catalog) List() []*Crew {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Crew, 0, len(c.crews))
	for _, def := range c.crews {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
