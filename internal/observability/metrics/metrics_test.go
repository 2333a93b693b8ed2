package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequestCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(httpErrors.WithLabelValues("test_handler", http.MethodGet))

	ObserveHTTPRequest("test_handler", http.MethodGet, http.StatusOK, 10*time.Millisecond)
	ObserveHTTPRequest("test_handler", http.MethodGet, http.StatusBadGateway, 20*time.Millisecond)

	if got := testutil.ToFloat64(httpRequests.WithLabelValues("test_handler", http.MethodGet, "502")); got < 1 {
		t.Fatalf("expected 502 request to be counted, got %v", got)
	}
	after := testutil.ToFloat64(httpErrors.WithLabelValues("test_handler", http.MethodGet))
	if after-before != 1 {
		t.Fatalf("expected exactly one error to be recorded, got %v", after-before)
	}
}

func TestHandlerExposesDomainMetrics(t *testing.T) {
	ObserveToolCall("search_internet", "ok")
	ObserveKickoff("linkedin", "succeeded")
	ObserveTokens(12, 3)
	ObserveTask("linkedin", "buscar", time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`contentcrew_tool_calls_total{outcome="ok",tool="search_internet"}`,
		`contentcrew_kickoffs_total{crew="linkedin",status="succeeded"}`,
		`contentcrew_llm_tokens_total{kind="prompt"}`,
		`contentcrew_task_duration_seconds_count{crew="linkedin",task="buscar"}`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
