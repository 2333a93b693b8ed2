package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "ContentCrew/internal/errors"
)

func sampleEvent() Event {
	return Event{
		Code:       xerrors.CodeMaxIterations,
		Message:    "agente sem resposta",
		Severity:   xerrors.SeverityWarning,
		JobID:      "job-1",
		Crew:       "linkedin",
		Attempts:   1,
		MaxRetries: 3,
		Metadata:   map[string]string{"stage": "terminal"},
		OccurredAt: time.Unix(1700000000, 0),
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	if err := n.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"code":"MAX_ITERATIONS"`, `"job_id":"job-1"`, `"meta.stage":"terminal"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %s: %s", want, out)
		}
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Code != "MAX_ITERATIONS" || got.JobID != "job-1" || !strings.Contains(got.Text, "agente sem resposta") {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := (&WebhookNotifier{URL: srv.URL}).Notify(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected error for 502")
	}
	if err := (&WebhookNotifier{}).Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("unconfigured webhook should be skipped: %v", err)
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Channel() Channel { return ChannelWebhook }
func (f *failingNotifier) Notify(context.Context, Event) error {
	f.calls++
	return errors.New("down")
}

func TestFanoutJoinsErrors(t *testing.T) {
	failing := &failingNotifier{}
	var buf bytes.Buffer
	d := NewFanout(&LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}, failing, nil)

	err := d.Notify(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "channel webhook") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if failing.calls != 1 || buf.Len() == 0 {
		t.Fatalf("all notifiers should be called")
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("nil dispatcher should be a no-op")
	}
}
