package job

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	jobs := []*Job{
		{ID: "j1", Crew: "linkedin", Inputs: map[string]string{"tema": "IA"}, Status: StatusPending, MaxRetries: 3},
		{ID: "j2", Crew: "linkedin", Inputs: map[string]string{"tema": "cloud"}, Status: StatusPending, MaxRetries: 3},
		{ID: "j3", Crew: "newsletter", Inputs: map[string]string{"tema": "dados"}, Status: StatusPending, MaxRetries: 3},
	}
	for _, job := range jobs {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create job %s: %v", job.ID, err)
		}
	}

	if err := store.MarkFailed(ctx, "j2", CodeJobProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "j3", Result{Raw: "post pronto"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["j1"].UpdatedAt = base.Unix()
	store.jobs["j2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["j3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "j3" || all[2].ID != "j1" {
		t.Fatalf("expected newest first, got %v", ids(all))
	}

	asc, _ := store.List(ctx, BuildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(2)}))
	if len(asc) != 2 || asc[0].ID != "j1" {
		t.Fatalf("unexpected ascending page: %v", ids(asc))
	}

	failed, _ := store.List(ctx, BuildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if len(failed) != 1 || failed[0].ID != "j2" {
		t.Fatalf("unexpected failed list: %v", ids(failed))
	}

	withResult, _ := store.List(ctx, BuildListOptions([]ListOption{WithResultPresence(true)}))
	if len(withResult) != 1 || withResult[0].ID != "j3" {
		t.Fatalf("unexpected result list: %v", ids(withResult))
	}

	byCrew, _ := store.List(ctx, BuildListOptions([]ListOption{WithCrew("linkedin")}))
	if len(byCrew) != 2 {
		t.Fatalf("unexpected crew filter: %v", ids(byCrew))
	}

	byQuery, _ := store.List(ctx, BuildListOptions([]ListOption{WithQuery("CLOUD")}))
	if len(byQuery) != 1 || byQuery[0].ID != "j2" {
		t.Fatalf("unexpected query filter: %v", ids(byQuery))
	}

	recent, _ := store.List(ctx, BuildListOptions([]ListOption{WithUpdatedSince(base.Add(15 * time.Second))}))
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent jobs, got %d", len(recent))
	}

	page, _ := store.List(ctx, BuildListOptions([]ListOption{WithOffset(5)}))
	if len(page) != 0 {
		t.Fatalf("offset past the end should be empty")
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_ = store.Create(ctx, &Job{ID: id, Crew: "linkedin", Status: StatusPending, MaxRetries: 2})
	}
	_, _ = store.Claim(ctx, "a")
	_ = store.MarkSucceeded(ctx, "b", Result{Raw: "ok"})

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Running != 1 || stats.Succeeded != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestUpdatedAt == 0 || stats.NewestUpdatedAt < stats.OldestUpdatedAt {
		t.Fatalf("unexpected timestamps: %+v", stats)
	}
}

func TestMemoryStoreClaimSemantics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Job{ID: "j", Crew: "linkedin", Status: StatusPending, MaxRetries: 2})

	job, err := store.Claim(ctx, "j")
	if err != nil || job.Status != StatusRunning || job.Attempts != 1 {
		t.Fatalf("first claim: %+v %v", job, err)
	}
	if _, err := store.Claim(ctx, "j"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}

	_ = store.MarkFailed(ctx, "j", CodeJobProcessing, "boom", false)
	job, err = store.Claim(ctx, "j")
	if err != nil || job.Attempts != 2 {
		t.Fatalf("retry claim: %+v %v", job, err)
	}

	_ = store.MarkFailed(ctx, "j", CodeJobProcessing, "boom", false)
	if _, err := store.Claim(ctx, "j"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}

	_ = store.Create(ctx, &Job{ID: "done", Crew: "linkedin", Status: StatusPending, MaxRetries: 2})
	_ = store.MarkSucceeded(ctx, "done", Result{Raw: "ok"})
	if _, err := store.Claim(ctx, "done"); !errors.Is(err, ErrJobCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}

	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreTerminalFailureClosesRetries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Job{ID: "j", Crew: "linkedin", Status: StatusPending, MaxRetries: 3})
	_, _ = store.Claim(ctx, "j")
	_ = store.MarkFailed(ctx, "j", "MAX_ITERATIONS", "sem resposta", true)

	job, _ := store.Get(ctx, "j")
	if !job.Finished() || job.MaxRetries != 1 || job.ErrorCode != "MAX_ITERATIONS" {
		t.Fatalf("terminal failure should finish the job: %+v", job)
	}
	if _, err := store.Claim(ctx, "j"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("terminal job must not be claimed again, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	inputs := map[string]string{"tema": "IA"}
	_ = store.Create(ctx, &Job{ID: "j", Crew: "linkedin", Inputs: inputs, Status: StatusPending, MaxRetries: 1})
	inputs["tema"] = "mutated"

	got, _ := store.Get(ctx, "j")
	got.Inputs["tema"] = "changed"
	again, _ := store.Get(ctx, "j")
	if again.Inputs["tema"] != "IA" {
		t.Fatalf("store leaked internal state: %v", again.Inputs)
	}
}

func ids(jobs []*Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
