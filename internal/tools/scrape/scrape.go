package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"ContentCrew/internal/llm"
)

const (
	// ToolName 与大模型约定的工具名称。
	ToolName = "read_website_content"

	defaultMaxChars  = 20000
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodyBytes     = 5 << 20
)

// Config 控制抓取行为。
type Config struct {
	MaxChars  int
	Timeout   time.Duration
	UserAgent string
}

// Tool 抓取网页并提取正文文本。
type Tool struct {
	maxChars   int
	userAgent  string
	httpClient *http.Client
}

// New 创建抓取工具。
func New(cfg Config) *Tool {
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Tool{maxChars: maxChars, userAgent: ua, httpClient: &http.Client{Timeout: timeout}}
}

// Name 实现 tools.Tool。
func (t *Tool) Name() string { return ToolName }

// Description 实现 tools.Tool。
func (t *Tool) Description() string {
	return "A tool that can be used to read a website content given its website_url."
}

// Schema 实现 tools.Tool。
func (t *Tool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        ToolName,
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"website_url": {
					"type": "string",
					"description": "Mandatory website url to read the file"
				}
			},
			"required": ["website_url"]
		}`),
	}
}

// Run 下载页面并返回可读文本。
func (t *Tool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		WebsiteURL string `json:"website_url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("解析抓取参数失败: %w", err)
	}
	target := strings.TrimSpace(params.WebsiteURL)
	if target == "" {
		return "", errors.New("website_url 不能为空")
	}
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("无效的网址: %s", target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("构建抓取请求失败: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("抓取网页失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("网页返回错误状态 %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	if !isHTML(resp.Header.Get("Content-Type")) {
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("读取网页内容失败: %w", err)
		}
		return truncate(collapse(string(raw)), t.maxChars), nil
	}

	doc, err := html.Parse(body)
	if err != nil {
		return "", fmt.Errorf("解析 HTML 失败: %w", err)
	}
	title, text := Extract(doc)
	out := text
	if title != "" {
		out = "Title: " + title + "\n\n" + text
	}
	return truncate(out, t.maxChars), nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Template: true,
	atom.Iframe:   true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Article: true, atom.Section: true, atom.Header: true, atom.Footer: true,
	atom.Blockquote: true, atom.Pre: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
}

// Extract 返回文档标题与正文文本，正文按块级元素分行。
func Extract(doc *html.Node) (string, string) {
	var title string
	var lines []string
	var current strings.Builder

	flush := func() {
		line := collapse(current.String())
		if line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			current.WriteString(n.Data)
			current.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.DataAtom] {
			flush()
		}
	}

	// 标题位于 head 中，需要单独查找。
	var findTitle func(n *html.Node)
	findTitle = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
			title = collapse(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findTitle(c)
		}
	}
	findTitle(doc)
	walk(doc)
	flush()

	return title, strings.Join(lines, "\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
