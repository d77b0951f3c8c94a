package agent

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/livepatch/livepatch/internal/config"
	"github.com/livepatch/livepatch/internal/fingerprint"
	"github.com/livepatch/livepatch/internal/modechan"
)

func TestGuardWiresThroughToRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"{}"}`))
	}))
	defer srv.Close()

	root := t.TempDir()
	cfg := config.Default()
	cfg.SourceRoots = []string{filepath.Join(root, "src")}

	a, err := New(root, cfg.SourceRoots[0], srv.URL, "gpt5", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fp := fingerprint.FP{Module: "demo", Name: "Divide"}
	fn := func(a, b int) int { return a / b }
	guarded, err := a.Guard(fp, fn, "func Divide(a, b int) int { return a / b }")
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	g := guarded.(func(int, int) int)
	if got := g(10, 2); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if !a.Registry.IsGuarded(fp) {
		t.Fatalf("expected fingerprint to be guarded")
	}
	mode, _ := a.Mode.Read()
	if mode != modechan.Safe {
		t.Fatalf("expected mode to remain SAFE on the happy path, got %s", mode)
	}
}
