package instrument

import (
	"path/filepath"
	"testing"

	"github.com/livepatch/livepatch/internal/config"
	"github.com/livepatch/livepatch/internal/fingerprint"
	"github.com/livepatch/livepatch/internal/modechan"
	"github.com/livepatch/livepatch/internal/patchstore"
)

func testDeps(t *testing.T, onEntry EntryPoint) (Deps, string) {
	t.Helper()
	dir := t.TempDir()
	ch := modechan.New(filepath.Join(dir, "process_mode"))
	if err := ch.Init(); err != nil {
		t.Fatalf("init mode channel: %v", err)
	}
	store := patchstore.NewStore(dir, dir)
	return Deps{Mode: ch, Store: store, Ignore: config.Default(), OnEntry: onEntry}, dir
}

// P2: semantic transparency on the happy path.
func TestGuardHappyPathTransparent(t *testing.T) {
	deps, dir := testDeps(t, nil)
	fp := fingerprint.FP{Module: "demo", Name: "Add"}
	reg := NewRegistry(nil)

	add := func(a, b int) int { return a + b }
	guarded, err := Guard(reg, fp, add, deps, filepath.Join(dir, "patch.so"))
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	fn := guarded.(func(int, int) int)
	if got := fn(2, 3); got != 5 {
		t.Fatalf("fn(2,3) = %d, want 5", got)
	}
}

// P1: idempotence of instrumentation.
func TestGuardIdempotent(t *testing.T) {
	deps, dir := testDeps(t, nil)
	fp := fingerprint.FP{Module: "demo", Name: "Add"}
	reg := NewRegistry(nil)
	add := func(a, b int) int { return a + b }

	first, err := Guard(reg, fp, add, deps, filepath.Join(dir, "patch.so"))
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	second, err := Guard(reg, fp, add, deps, filepath.Join(dir, "patch.so"))
	if err != nil {
		t.Fatalf("Guard (second): %v", err)
	}
	if first.(func(int, int) int)(1, 1) != second.(func(int, int) int)(1, 1) {
		t.Fatalf("guarded values diverge across repeated Guard calls")
	}
	if !reg.IsGuarded(fp) {
		t.Fatalf("expected fingerprint to be marked guarded")
	}
}

// B4 / TargetIgnorable: ignore-list panics never transition mode out of SAFE.
func TestGuardIgnoreListNeverTransitionsMode(t *testing.T) {
	var entered bool
	deps, dir := testDeps(t, func(fingerprint.FP, any, map[string]any, map[string]any) { entered = true })
	deps.Ignore.IgnoreList = []config.IgnoreRule{{MessageSubstring: "benign"}}
	fp := fingerprint.FP{Module: "demo", Name: "Boom"}
	reg := NewRegistry(nil)

	boom := func() { panic("benign condition") }
	guarded, err := Guard(reg, fp, boom, deps, filepath.Join(dir, "patch.so"))
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	guarded.(func())()

	mode, err := deps.Mode.Read()
	if err != nil {
		t.Fatalf("read mode: %v", err)
	}
	if mode != modechan.Safe {
		t.Fatalf("mode = %s, want SAFE", mode)
	}
	if entered {
		t.Fatalf("ignored panic must not invoke the repair entry point")
	}
}

// P4: mode monotonicity - SAFE -> REPAIR on an uncaught, non-ignored panic.
func TestGuardTransitionsToRepairAndInvokesEntry(t *testing.T) {
	var gotFP fingerprint.FP
	deps, dir := testDeps(t, func(fp fingerprint.FP, _ any, _, _ map[string]any) { gotFP = fp })
	fp := fingerprint.FP{Module: "demo", Name: "Div"}
	reg := NewRegistry(nil)

	div := func(a, b int) int { return a / b }
	guarded, err := Guard(reg, fp, div, deps, filepath.Join(dir, "patch.so"))
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}

	func() {
		defer func() { _ = recover() }()
		guarded.(func(int, int) int)(1, 0)
	}()

	mode, err := deps.Mode.Read()
	if err != nil {
		t.Fatalf("read mode: %v", err)
	}
	if mode != modechan.Repair {
		t.Fatalf("mode = %s, want REPAIR", mode)
	}
	if gotFP != fp {
		t.Fatalf("entry point fingerprint = %+v, want %+v", gotFP, fp)
	}
}

// Re-entrant panic while already in REPAIR mode must propagate without
// invoking the entry point again.
func TestGuardNoOpWhileAlreadyRepairing(t *testing.T) {
	calls := 0
	deps, dir := testDeps(t, func(fingerprint.FP, any, map[string]any, map[string]any) { calls++ })
	if err := deps.Mode.Write(modechan.Repair); err != nil {
		t.Fatalf("seed mode: %v", err)
	}
	fp := fingerprint.FP{Module: "demo", Name: "Div"}
	reg := NewRegistry(nil)
	div := func(a, b int) int { return a / b }
	guarded, err := Guard(reg, fp, div, deps, filepath.Join(dir, "patch.so"))
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}

	func() {
		defer func() { _ = recover() }()
		guarded.(func(int, int) int)(1, 0)
	}()

	if calls != 0 {
		t.Fatalf("entry point invoked %d times while mode=REPAIR, want 0", calls)
	}
}

// B1: zero-argument function.
func TestGuardZeroArgFunction(t *testing.T) {
	deps, dir := testDeps(t, nil)
	fp := fingerprint.FP{Module: "demo", Name: "Ping"}
	reg := NewRegistry(nil)
	called := false
	ping := func() { called = true }
	guarded, err := Guard(reg, fp, ping, deps, filepath.Join(dir, "patch.so"))
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	guarded.(func())()
	if !called {
		t.Fatalf("zero-arg guarded function was not invoked")
	}
}
