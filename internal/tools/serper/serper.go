package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ContentCrew/internal/llm"
)

const (
	// ToolName 与大模型约定的工具名称。
	ToolName = "search_internet"

	defaultEndpoint = "https://google.serper.dev/search"
	defaultResults  = 10
	defaultTimeout  = 30 * time.Second
)

// Config 描述 Serper 搜索的调用参数。
type Config struct {
	APIKey   string
	Endpoint string
	Results  int
	Country  string
	Locale   string
	Timeout  time.Duration
}

// Tool 通过 Serper.dev 的 Google 搜索接口检索互联网内容。
type Tool struct {
	apiKey     string
	endpoint   string
	results    int
	country    string
	locale     string
	httpClient *http.Client
}

// New 创建搜索工具。
func New(cfg Config) (*Tool, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Serper API Key")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	results := cfg.Results
	if results <= 0 {
		results = defaultResults
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Tool{
		apiKey:     apiKey,
		endpoint:   endpoint,
		results:    results,
		country:    cfg.Country,
		locale:     cfg.Locale,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name 实现 tools.Tool。
func (t *Tool) Name() string { return ToolName }

// Description 实现 tools.Tool。
func (t *Tool) Description() string {
	return "A tool that can be used to search the internet with a search_query. Returns titles, links and snippets of the top results."
}

// Schema 实现 tools.Tool。
func (t *Tool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        ToolName,
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"search_query": {
					"type": "string",
					"description": "Mandatory search query you want to use to search the internet"
				}
			},
			"required": ["search_query"]
		}`),
	}
}

type searchRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
	GL  string `json:"gl,omitempty"`
	HL  string `json:"hl,omitempty"`
}

type organicResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Date     string `json:"date"`
	Position int    `json:"position"`
}

type searchResponse struct {
	KnowledgeGraph *struct {
		Title       string `json:"title"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"knowledgeGraph"`
	Organic       []organicResult `json:"organic"`
	PeopleAlsoAsk []struct {
		Question string `json:"question"`
		Snippet  string `json:"snippet"`
		Link     string `json:"link"`
	} `json:"peopleAlsoAsk"`
}

// Run 执行一次搜索，返回格式化后的结果文本。
func (t *Tool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		SearchQuery string `json:"search_query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("解析搜索参数失败: %w", err)
	}
	query := strings.TrimSpace(params.SearchQuery)
	if query == "" {
		return "", errors.New("search_query 不能为空")
	}

	resp, err := t.search(ctx, query)
	if err != nil {
		return "", err
	}
	return format(resp, t.results), nil
}

func (t *Tool) search(ctx context.Context, query string) (*searchResponse, error) {
	body, err := json.Marshal(searchRequest{Q: query, Num: t.results, GL: t.country, HL: t.locale})
	if err != nil {
		return nil, fmt.Errorf("序列化搜索请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("构建搜索请求失败: %w", err)
	}
	req.Header.Set("X-API-KEY", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 Serper 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("Serper 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 Serper 响应失败: %w", err)
	}
	return &decoded, nil
}

func format(resp *searchResponse, limit int) string {
	var sb strings.Builder
	if kg := resp.KnowledgeGraph; kg != nil && kg.Title != "" {
		fmt.Fprintf(&sb, "Knowledge Graph: %s", kg.Title)
		if kg.Type != "" {
			fmt.Fprintf(&sb, " (%s)", kg.Type)
		}
		sb.WriteString("\n")
		if kg.Description != "" {
			sb.WriteString(kg.Description)
			sb.WriteString("\n")
		}
		sb.WriteString("\n---\n")
	}

	count := 0
	for _, item := range resp.Organic {
		if count >= limit {
			break
		}
		if item.Link == "" {
			continue
		}
		if count > 0 {
			sb.WriteString("\n---\n")
		}
		fmt.Fprintf(&sb, "Title: %s\nLink: %s\nSnippet: %s", item.Title, item.Link, item.Snippet)
		if item.Date != "" {
			fmt.Fprintf(&sb, "\nDate: %s", item.Date)
		}
		count++
	}

	if len(resp.PeopleAlsoAsk) > 0 {
		sb.WriteString("\n\nPeople also ask:")
		for _, q := range resp.PeopleAlsoAsk {
			fmt.Fprintf(&sb, "\n- %s", q.Question)
			if q.Snippet != "" {
				fmt.Fprintf(&sb, ": %s", q.Snippet)
			}
		}
	}

	if sb.Len() == 0 {
		return "No results found."
	}
	return strings.TrimSpace(sb.String())
}
