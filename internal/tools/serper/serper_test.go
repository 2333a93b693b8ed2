package serper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestRunFormatsResults(t *testing.T) {
	var captured searchRequest
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("X-API-KEY")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"knowledgeGraph": {"title": "Inteligência artificial", "type": "Campo de estudo"},
			"organic": [
				{"title": "IA nas empresas", "link": "https://example.com/a", "snippet": "Adoção cresce", "date": "2 days ago"},
				{"title": "Sem link", "snippet": "ignorado"},
				{"title": "Tendências 2026", "link": "https://example.com/b", "snippet": "Agentes"},
				{"title": "Excedente", "link": "https://example.com/c", "snippet": "fora do limite"}
			],
			"peopleAlsoAsk": [{"question": "Como a IA ajuda empresas?", "snippet": "Automação"}]
		}`))
	}))
	defer srv.Close()

	tool, err := New(Config{APIKey: "secret", Endpoint: srv.URL, Results: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	out, err := tool.Run(context.Background(), json.RawMessage(`{"search_query":"IA corporativa"}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if apiKey != "secret" {
		t.Fatalf("missing api key header: %q", apiKey)
	}
	if captured.Q != "IA corporativa" || captured.Num != 2 {
		t.Fatalf("unexpected request: %+v", captured)
	}
	for _, want := range []string{
		"Knowledge Graph: Inteligência artificial (Campo de estudo)",
		"Title: IA nas empresas\nLink: https://example.com/a\nSnippet: Adoção cresce\nDate: 2 days ago",
		"Title: Tendências 2026",
		"- Como a IA ajuda empresas?: Automação",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Excedente") || strings.Contains(out, "Sem link") {
		t.Fatalf("output should respect the limit and skip results without links:\n%s", out)
	}
}

func TestRunRequiresQuery(t *testing.T) {
	tool, _ := New(Config{APIKey: "secret"})
	if _, err := tool.Run(context.Background(), json.RawMessage(`{"search_query":"  "}`)); err == nil {
		t.Fatalf("expected error for blank query")
	}
}

func TestRunPropagatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	tool, _ := New(Config{APIKey: "secret", Endpoint: srv.URL})
	_, err := tool.Run(context.Background(), json.RawMessage(`{"search_query":"x"}`))
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

func TestFormatEmpty(t *testing.T) {
	if got := format(&searchResponse{}, 10); got != "No results found." {
		t.Fatalf("unexpected empty format: %q", got)
	}
}
