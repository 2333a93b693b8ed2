package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestNewUsesRegisteredAttributes(t *testing.T) {
	err := New(CodeLLMFailure, "falhou")
	if !err.Retryable() || !err.ShouldAlert() || err.Severity() != SeverityWarning {
		t.Fatalf("unexpected attributes: retry=%v alert=%v sev=%s", err.Retryable(), err.ShouldAlert(), err.Severity())
	}
	if err.Error() != "[LLM_FAILURE] falhou" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	err := New(CodeCrewValidation, "x", WithRetryable(true), WithAlert(true), WithSeverity(SeverityCritical), WithMetadata("crew", "linkedin"))
	if !err.Retryable() || !err.ShouldAlert() || err.Severity() != SeverityCritical {
		t.Fatalf("options ignored")
	}
	if err.Metadata()["crew"] != "linkedin" {
		t.Fatalf("metadata lost: %v", err.Metadata())
	}
}

func TestWrapPreservesChain(t *testing.T) {
	wrapped := fmt.Errorf("任务 buscar 执行失败: %w", Wrap(CodeTimeout, context.DeadlineExceeded, "超时"))

	if CodeOf(wrapped) != CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %s", CodeOf(wrapped))
	}
	if !stdErrors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatalf("cause not reachable")
	}
	if !stdErrors.Is(wrapped, New(CodeTimeout, "other")) {
		t.Fatalf("errors.Is should compare codes")
	}
	if !RetryableError(wrapped) || !ShouldAlert(wrapped) {
		t.Fatalf("attributes not resolved through chain")
	}
}

func TestPlainErrors(t *testing.T) {
	plain := stdErrors.New("plain")
	if CodeOf(plain) != CodeUnknown || RetryableError(plain) || ShouldAlert(plain) {
		t.Fatalf("plain errors should map to non-retryable unknown")
	}
	if _, ok := From(nil); ok {
		t.Fatalf("nil should not convert")
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	const code Code = "TEST_ONLY"
	Register(code, Attributes{Message: "test", Severity: SeverityInfo, Retryable: true})
	if !New(code, "").Retryable() {
		t.Fatalf("registered attributes not applied")
	}
}
