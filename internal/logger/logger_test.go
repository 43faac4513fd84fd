package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"local", "dev", "docker", "prod"} {
		if _, err := NewLogger(env); err != nil {
			t.Errorf("%s: unexpected error: %v", env, err)
		}
	}
	if _, err := NewLogger("staging"); err == nil {
		t.Error("expected error for unknown env")
	}
	if _, err := NewLogger("local", "loud"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected a non-nil logger")
	}
}

func TestWith_AddsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := ContextWithLogger(context.Background(), zap.New(core))

	ctx = With(ctx, zap.String("session_id", "s-1"))
	FromContext(ctx).Info("page served")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["session_id"]; got != "s-1" {
		t.Errorf("session_id = %v, want s-1", got)
	}
}
