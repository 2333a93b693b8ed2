package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStaticProviderQuery(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "tom", Content: "Use linguagem acessível", Keywords: []string{"LinkedIn"}},
		{Title: "seo", Content: "Inclua palavras-chave", Tags: []string{"seo"}},
		{Title: "revisão", Content: "Cheque a gramática", Keywords: []string{"linkedin"}, Roles: []string{"Editor de Conteúdo"}},
		{Title: "geral", Content: "Cite as fontes"},
	}, 5)

	got := provider.Query("Escreva um artigo para o LinkedIn", "Redator de Conteúdo")
	if len(got) != 2 || got[0].Title != "tom" || got[1].Title != "geral" {
		t.Fatalf("unexpected snippets for writer: %+v", got)
	}

	got = provider.Query("Revise o artigo do LinkedIn", "editor de conteúdo")
	if len(got) != 3 || got[1].Title != "revisão" {
		t.Fatalf("unexpected snippets for editor: %+v", got)
	}
}

func TestStaticProviderMaxResults(t *testing.T) {
	provider := NewStaticProvider([]Snippet{{Title: "a"}, {Title: "b"}, {Title: "c"}, {Title: "d"}}, 0)
	if got := provider.Query("qualquer", ""); len(got) != 3 {
		t.Fatalf("expected default limit of 3, got %d", len(got))
	}

	var nilProvider *StaticProvider
	if got := nilProvider.Query("x", "y"); got != nil {
		t.Fatalf("nil provider should return nil")
	}
}

func TestLoadStaticProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	if err := os.WriteFile(path, []byte(`[{"title":"t","content":"c","keywords":["ia"]}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	provider, err := LoadStaticProvider(path, 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := provider.Query("o uso da ia", ""); len(got) != 1 || got[0].Content != "c" {
		t.Fatalf("unexpected query result: %+v", got)
	}

	if _, err := LoadStaticProvider("", 1); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := LoadStaticProvider(filepath.Join(t.TempDir(), "missing.json"), 1); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
