package crew

import (
	"strings"
	"testing"

	xerrors "ContentCrew/internal/errors"
)

func validCrew() *Crew {
	return &Crew{
		Name: "test",
		Agents: []Agent{
			{Role: "Pesquisador", Goal: "Pesquisar {tema}", Backstory: "Especialista em {tema}"},
			{Role: "Redator", Goal: "Escrever", Backstory: "Escritor"},
		},
		Tasks: []Task{
			{Name: "pesquisa", Description: "Pesquise {tema}", ExpectedOutput: "Notas", Agent: "Pesquisador"},
			{Name: "texto", Description: "Escreva", ExpectedOutput: "Post sobre {tema}", Agent: "Redator", Context: []string{"pesquisa"}},
		},
	}
}

func TestValidate(t *testing.T) {
	if err := validCrew().Validate(); err != nil {
		t.Fatalf("valid crew rejected: %v", err)
	}

	cases := map[string]func(c *Crew){
		"no agents":         func(c *Crew) { c.Agents = nil },
		"no tasks":          func(c *Crew) { c.Tasks = nil },
		"empty role":        func(c *Crew) { c.Agents[0].Role = " " },
		"duplicate role":    func(c *Crew) { c.Agents[1].Role = "Pesquisador" },
		"unknown agent":     func(c *Crew) { c.Tasks[0].Agent = "Fantasma" },
		"forward context":   func(c *Crew) { c.Tasks[0].Context = []string{"texto"} },
		"unknown context":   func(c *Crew) { c.Tasks[1].Context = []string{"outra"} },
		"empty description": func(c *Crew) { c.Tasks[0].Description = "" },
		"empty expected":    func(c *Crew) { c.Tasks[1].ExpectedOutput = "" },
		"duplicate task":    func(c *Crew) { c.Tasks[1].Name = "pesquisa"; c.Tasks[1].Context = nil },
		"hierarchical":      func(c *Crew) { c.Process = ProcessHierarchical },
		"unknown process":   func(c *Crew) { c.Process = "parallel" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validCrew()
			mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if code := xerrors.CodeOf(err); code != xerrors.CodeCrewValidation {
				t.Fatalf("expected CREW_VALIDATION, got %s", code)
			}
		})
	}
}

func TestInterpolate(t *testing.T) {
	got, err := Interpolate(`Fale sobre {tema} em {idioma}. JSON: {"a": 1}`, map[string]string{"tema": "IA", "idioma": "português"})
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if got != `Fale sobre IA em português. JSON: {"a": 1}` {
		t.Fatalf("unexpected result: %q", got)
	}

	_, err = Interpolate("{tema} e {publico}", map[string]string{"tema": "IA"})
	if xerrors.CodeOf(err) != xerrors.CodeMissingInput {
		t.Fatalf("expected MISSING_INPUT, got %v", err)
	}
	if e, _ := xerrors.From(err); e.Metadata()["input"] != "publico" {
		t.Fatalf("missing key not reported: %v", e.Metadata())
	}
}

func TestBlankInputsCountAsMissing(t *testing.T) {
	blank := map[string]string{"tema": "   "}
	if _, err := Interpolate("Fale sobre {tema}", blank); xerrors.CodeOf(err) != xerrors.CodeMissingInput {
		t.Fatalf("Interpolate should reject a blank value, got %v", err)
	}
	if err := validCrew().CheckInputs(blank); xerrors.CodeOf(err) != xerrors.CodeMissingInput {
		t.Fatalf("CheckInputs should reject a blank value, got %v", err)
	}
	if _, err := validCrew().Interpolate(blank); xerrors.CodeOf(err) != xerrors.CodeMissingInput {
		t.Fatalf("crew interpolation should reject a blank value, got %v", err)
	}
	if err := validCrew().CheckInputs(map[string]string{"tema": "IA"}); err != nil {
		t.Fatalf("complete inputs rejected: %v", err)
	}
}

func TestCrewInterpolateLeavesOriginalUntouched(t *testing.T) {
	c := validCrew()
	resolved, err := c.Interpolate(map[string]string{"tema": "IA"})
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if resolved.Agents[0].Goal != "Pesquisar IA" || resolved.Tasks[1].ExpectedOutput != "Post sobre IA" {
		t.Fatalf("unexpected interpolation: %+v", resolved)
	}
	if c.Agents[0].Goal != "Pesquisar {tema}" {
		t.Fatalf("original mutated: %q", c.Agents[0].Goal)
	}
	resolved.Tasks[1].Context[0] = "changed"
	if c.Tasks[1].Context[0] != "pesquisa" {
		t.Fatalf("clone shares context slice")
	}
}

func TestPlaceholders(t *testing.T) {
	got := validCrew().Placeholders()
	if strings.Join(got, ",") != "tema" {
		t.Fatalf("unexpected placeholders: %v", got)
	}
}

func TestDefaultDefinition(t *testing.T) {
	c := DefaultDefinition()
	if c.Name != DefaultName || c.Process != ProcessSequential {
		t.Fatalf("unexpected default crew: %s %s", c.Name, c.Process)
	}
	roles := []string{"Buscador de Conteúdo", "Redator de Conteúdo", "Editor de Conteúdo"}
	for i, role := range roles {
		if c.Agents[i].Role != role {
			t.Fatalf("agent %d: got %q want %q", i, c.Agents[i].Role, role)
		}
		if len(c.Agents[i].Tools) != 2 {
			t.Fatalf("agent %s should carry both tools", role)
		}
	}
	names := []string{"buscar", "redigir", "editar"}
	for i, name := range names {
		if c.Tasks[i].Name != name || c.Tasks[i].Agent != roles[i] {
			t.Fatalf("task %d: %+v", i, c.Tasks[i])
		}
	}
	if got := c.Placeholders(); len(got) != 1 || got[0] != "tema" {
		t.Fatalf("default crew should only need tema, got %v", got)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("name: x\nmanager_llm: gpt\nagents: []\ntasks: []\n"))
	if xerrors.CodeOf(err) != xerrors.CodeCrewValidation {
		t.Fatalf("expected CREW_VALIDATION, got %v", err)
	}
}

func TestCatalog(t *testing.T) {
	cat, err := NewCatalog(DefaultDefinition())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if err := cat.Register(DefaultDefinition()); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := cat.Register(validCrew()); err != nil {
		t.Fatalf("register: %v", err)
	}
	list := cat.List()
	if len(list) != 2 || list[0].Name != DefaultName || list[1].Name != "test" {
		t.Fatalf("unexpected list: %v", list)
	}
	if _, ok := cat.Get("missing"); ok {
		t.Fatalf("unexpected hit")
	}
}
