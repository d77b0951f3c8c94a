// Package instrument implements the Instrumenter (C2): a reflect-based
// wrapper-closure mechanism that plays the role of bytecode rewriting in
// runtimes without direct bytecode access.
//
// Contract, restated for Go: Guard(fp, fn) returns a function
// value of fn's exact signature that preserves semantics on all
// non-panicking paths, adds no observable state on the happy path besides
// the registry entry itself, and guarantees that any panic propagating out
// of fn's body is intercepted exactly once at the function boundary.
package instrument

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/livepatch/livepatch/internal/fingerprint"
)

// EntryPoint is invoked by the epilogue on the first SAFE->REPAIR
// transition for a given fingerprint. It is supplied by the caller (the
// repair pipeline, C5a) so that instrument has no dependency on pipeline
// internals.
type EntryPoint func(fp fingerprint.FP, panicValue any, args, kwargs map[string]any)

// Registry tracks guarded function values by fingerprint, enforcing
// idempotence (P1): Guard(Guard(fn)) == Guard(fn).
type Registry struct {
	mu       sync.RWMutex
	guarded  map[string]reflect.Value // fp.Key() -> current live dispatch target
	original map[string]reflect.Value // fp.Key() -> original, never-patched body
	patched  map[string]bool          // fp.Key() -> true once rebound to a patch
	entry    EntryPoint
}

// NewRegistry builds an empty Registry holding entry. The epilogue itself
// invokes the EntryPoint passed to Guard in Deps.OnEntry.
func NewRegistry(entry EntryPoint) *Registry {
	return &Registry{
		guarded:  map[string]reflect.Value{},
		original: map[string]reflect.Value{},
		patched:  map[string]bool{},
		entry:    entry,
	}
}

// IsGuarded reports whether fp has already been wrapped (idempotence check,
// the Go analogue of the "__instrumented__" sentinel constant).
func (r *Registry) IsGuarded(fp fingerprint.FP) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.guarded[fp.Key()]
	return ok
}

// Rebind replaces the live dispatch target for fp with patched. It is
// called by the patch loader once a validated patch is available.
func (r *Registry) Rebind(fp fingerprint.FP, patched reflect.Value) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fp.Key()
	orig, ok := r.original[key]
	if !ok {
		return fmt.Errorf("instrument: rebind unknown fingerprint %s", key)
	}
	if patched.Type() != orig.Type() {
		return fmt.Errorf("instrument: rebind %s: signature mismatch: have %s, want %s", key, patched.Type(), orig.Type())
	}
	r.guarded[key] = patched
	r.patched[key] = true
	return nil
}

// Reset clears a fingerprint's patch, falling back to the original body.
func (r *Registry) Reset(fp fingerprint.FP) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fp.Key()
	if orig, ok := r.original[key]; ok {
		r.guarded[key] = orig
	}
	delete(r.patched, key)
}

func (r *Registry) live(key string) (reflect.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.guarded[key]
	return v, ok
}

// Original returns the never-patched body registered for fp, so a caller
// building a Crash Context (e.g. for Val-2's buggy-vs-patched comparison)
// can compare candidate behavior against it.
func (r *Registry) Original(fp fingerprint.FP) (reflect.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.original[fp.Key()]
	return v, ok
}
