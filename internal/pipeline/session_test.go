package pipeline

import (
	"testing"

	"github.com/livepatch/livepatch/internal/crashctx"
)

func TestNewSessionStampsDistinctIDs(t *testing.T) {
	crash := &crashctx.Context{}
	a := NewSession(crash)
	b := NewSession(crash)
	if a.ID == "" || b.ID == "" {
		t.Fatalf("expected non-empty session IDs")
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct session IDs across calls, got %s twice", a.ID)
	}
}
