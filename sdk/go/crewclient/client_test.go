package crewclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitSendsInputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/kickoffs" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var sub Submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			t.Errorf("unexpected body: %v", err)
		}
		if sub.Inputs["tema"] != "IA" {
			t.Errorf("unexpected inputs: %+v", sub.Inputs)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Kickoff{ID: "k-1", Crew: "linkedin", Status: "pending"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	kickoff, err := client.Submit(context.Background(), Submission{Inputs: map[string]string{"tema": "IA"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if kickoff.ID != "k-1" || kickoff.Status != "pending" {
		t.Fatalf("unexpected kickoff: %+v", kickoff)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"JOB_NOT_FOUND","message":"job not found"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.Get(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.Code != "JOB_NOT_FOUND" || apiErr.Message != "job not found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestListEncodesFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "failed,succeeded" || q.Get("limit") != "5" || q.Get("has_result") != "true" || q.Get("order") != "asc" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"kickoffs": []Kickoff{{ID: "a"}, {ID: "b"}}})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	has := true
	list, err := client.List(context.Background(), ListOptions{Limit: 5, Statuses: []string{"failed", "succeeded"}, HasResult: &has, Ascending: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestWaitPollsUntilFinished(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		k := Kickoff{ID: "k-1", Status: "running"}
		if n >= 3 {
			k.Status = "succeeded"
			k.Finished = true
			k.Result = &Result{Raw: "post"}
		}
		_ = json.NewEncoder(w).Encode(k)
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	kickoff, err := client.Wait(ctx, "k-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !kickoff.Succeeded() || kickoff.Result.Raw != "post" || calls.Load() != 3 {
		t.Fatalf("unexpected kickoff after %d calls: %+v", calls.Load(), kickoff)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("localhost", nil); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}
