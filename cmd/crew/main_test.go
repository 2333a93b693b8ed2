package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ContentCrew/internal/crew"
	"ContentCrew/sdk/go/crewclient"
)

func TestParseInputs(t *testing.T) {
	inputs, err := parseInputs(crew.DefaultTopic, []string{"publico=executivos", "tema=outro"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if inputs["tema"] != "outro" || inputs["publico"] != "executivos" {
		t.Fatalf("unexpected inputs: %+v", inputs)
	}
	if _, err := parseInputs("", []string{"sem-igual"}); err == nil {
		t.Fatalf("expected error for malformed pair")
	}
}

func TestValidateCommand(t *testing.T) {
	var out bytes.Buffer
	if err := newApp(&out).Run([]string{"crew", "validate"}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), `"linkedin"`) || !strings.Contains(out.String(), "placeholders: tema") {
		t.Fatalf("unexpected output: %s", out.String())
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("name: x\nprocess: hierarchical\nagents: []\ntasks: []\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := newApp(&out).Run([]string{"crew", "validate", "--crew-file", bad}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestSubmitAndWait(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			var sub crewclient.Submission
			_ = json.NewDecoder(r.Body).Decode(&sub)
			if sub.Inputs["tema"] != crew.DefaultTopic {
				t.Errorf("unexpected inputs: %+v", sub.Inputs)
			}
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(crewclient.Kickoff{ID: "k-1", Status: "pending"})
		default:
			polls++
			k := crewclient.Kickoff{ID: "k-1", Status: "running"}
			if polls > 1 {
				k = crewclient.Kickoff{ID: "k-1", Status: "succeeded", Finished: true, Result: &crewclient.Result{Raw: "Post final"}}
			}
			_ = json.NewEncoder(w).Encode(k)
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := newApp(&out).RunContext(context.Background(), []string{"crew", "submit", "--server", srv.URL, "--wait", "--interval", "10ms"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if strings.TrimSpace(out.String()) != "Post final" {
		t.Fatalf("unexpected output: %q", out.String())
	}
}
