package instrument

import (
	"fmt"
	"reflect"

	"github.com/livepatch/livepatch/internal/config"
	"github.com/livepatch/livepatch/internal/errclass"
	"github.com/livepatch/livepatch/internal/fingerprint"
	"github.com/livepatch/livepatch/internal/modechan"
	"github.com/livepatch/livepatch/internal/patchstore"
)

// Deps are the externalized collaborators the guarded wrapper consults on
// every call and on every panic.
type Deps struct {
	Mode    *modechan.Channel
	Store   *patchstore.Store
	Ignore  config.Config
	OnEntry EntryPoint
}

// Guard wraps fn (any func value) with the patch-dispatch prologue and the
// try/except epilogue, returning a function value of the exact
// same reflect.Type (preserving arity, P6). shieldedPatchPath is consulted
// on entry; it need not exist yet.
//
// Guard is idempotent with respect to r: calling Guard twice for the same
// fingerprint returns the same guarded value without re-wrapping it (P1).
func Guard(r *Registry, fp fingerprint.FP, fn any, deps Deps, shieldedPatchPath string) (any, error) {
	if r.IsGuarded(fp) {
		v, _ := r.live(fp.Key())
		return v.Interface(), nil
	}

	orig := reflect.ValueOf(fn)
	if orig.Kind() != reflect.Func {
		return nil, fmt.Errorf("instrument: Guard(%s): not a function value: %s", fp.Key(), orig.Kind())
	}
	t := orig.Type()

	wrapped := reflect.MakeFunc(t, func(args []reflect.Value) (results []reflect.Value) {
		return dispatch(r, fp, t, orig, args, deps, shieldedPatchPath)
	})

	r.mu.Lock()
	r.original[fp.Key()] = orig
	r.guarded[fp.Key()] = wrapped
	r.mu.Unlock()

	return wrapped.Interface(), nil
}

// dispatch implements one call through the guarded wrapper: prologue then
// body then epilogue.
func dispatch(r *Registry, fp fingerprint.FP, t reflect.Type, orig reflect.Value, args []reflect.Value, deps Deps, shieldedPatchPath string) (results []reflect.Value) {
	target := orig

	// Prologue.
	if deps.Mode != nil && deps.Store != nil && patchstore.Exists(shieldedPatchPath) {
		mode, err := deps.Mode.Read()
		if err == nil && mode == modechan.Safe {
			if patched, err := deps.Store.Load(shieldedPatchPath, t); err == nil {
				if err := r.Rebind(fp, patched); err == nil {
					target, _ = r.live(fp.Key())
				}
			}
		}
	}

	// Epilogue: recover exactly once at this function boundary.
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		results = handlePanic(r, fp, t, rec, args, deps)
	}()

	return target.Call(args)
}

func handlePanic(r *Registry, fp fingerprint.FP, t reflect.Type, rec any, args []reflect.Value, deps Deps) []reflect.Value {
	typeName, message := describePanic(rec)

	if deps.Ignore.IsIgnored(typeName, message) {
		// TargetIgnorable: swallow after returning mode to SAFE, return zero
		// values matching the function's result signature.
		if deps.Mode != nil {
			_ = deps.Mode.Write(modechan.Safe)
		}
		return zeroResults(t)
	}

	mode := modechan.Safe
	if deps.Mode != nil {
		if m, err := deps.Mode.Read(); err == nil {
			mode = m
		}
	}

	switch mode {
	case modechan.Safe:
		if deps.Mode != nil {
			_ = deps.Mode.Write(modechan.Repair)
		}
		if deps.OnEntry != nil {
			deps.OnEntry(fp, rec, argsToMap(args), nil)
		}
		panic(errclass.TargetRecoverable(fmt.Sprintf("%s: %s", typeName, message), asError(rec)))
	case modechan.Repair:
		// Already inside a repair session: let it propagate to kill the child.
		panic(rec)
	default:
		panic(rec)
	}
}

func describePanic(rec any) (typeName, message string) {
	switch v := rec.(type) {
	case error:
		return fmt.Sprintf("%T", v), v.Error()
	case fmt.Stringer:
		return fmt.Sprintf("%T", v), v.String()
	default:
		return fmt.Sprintf("%T", v), fmt.Sprint(v)
	}
}

func asError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return fmt.Errorf("%v", rec)
}

func zeroResults(t reflect.Type) []reflect.Value {
	out := make([]reflect.Value, t.NumOut())
	for i := range out {
		out[i] = reflect.Zero(t.Out(i))
	}
	return out
}

// argsToMap captures positional args as a map keyed by index, the closest
// Go analogue of Python's captured positional-args tuple when the original
// parameter names are not available via reflection alone.
func argsToMap(args []reflect.Value) map[string]any {
	out := make(map[string]any, len(args))
	for i, a := range args {
		out[fmt.Sprintf("arg%d", i)] = safeInterface(a)
	}
	return out
}

func safeInterface(v reflect.Value) any {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	return v.Interface()
}
