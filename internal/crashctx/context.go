// Package crashctx captures the Crash Context: the
// exception/panic, traceback, captured arguments, and a filtered view of
// referenced globals, plus the frame-selection rule that retargets a
// closure's panic to its enclosing top-level function.
package crashctx

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"github.com/livepatch/livepatch/internal/errclass"
	"github.com/livepatch/livepatch/internal/fingerprint"
)

// Context is the single-use, pipeline-consumed Crash Context.
type Context struct {
	Fingerprint   fingerprint.FP
	TypeName      string
	Message       string
	Traceback     []Frame
	Args          map[string]any
	Kwargs        map[string]any
	Locals        map[string]any
	Globals       map[string]any
	OriginSource  string
	TargetLine    int
}

// Frame is one entry of the captured call stack.
type Frame struct {
	Function string
	File     string
	Line     int
}

var closureSuffix = regexp.MustCompile(`\.func\d+(\.\d+)*$`)

// IsClosure reports whether a runtime-reported function name is a Go
// compiler-synthesized closure (lexically nested inside another top-level
// function).
func IsClosure(funcName string) bool {
	return closureSuffix.MatchString(funcName)
}

// Capture walks the goroutine's call stack (skip frames above the
// recover() point) and selects the first frame satisfying the
// frame-selection rule: under a user-declared source root, not under the
// tool's own install directory, not under the module cache, and not a
// compiled/extension source.
//
// toolInstallRoot and moduleCacheRoot let the selection rule exclude the
// tool's own frames and vendored/cached dependency frames.
func Capture(skip int, accept func(file string) bool, toolInstallRoot, moduleCacheRoot string) ([]Frame, *Frame, error) {
	const maxFrames = 64
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil, nil, errclass.OutOfScope("crashctx: no call stack available", nil)
	}
	framesIter := runtime.CallersFrames(pcs[:n])

	var all []Frame
	var selected *Frame
	for {
		f, more := framesIter.Next()
		fr := Frame{Function: f.Function, File: f.File, Line: f.Line}
		all = append(all, fr)

		if selected == nil && inScope(fr, accept, toolInstallRoot, moduleCacheRoot) {
			cp := fr
			selected = &cp
		}
		if !more {
			break
		}
	}
	if selected == nil {
		return all, nil, errclass.OutOfScope("crashctx: no frame resolves to an in-scope top-level function", nil)
	}
	return all, selected, nil
}

func inScope(fr Frame, accept func(string) bool, toolInstallRoot, moduleCacheRoot string) bool {
	if fr.File == "" {
		return false
	}
	if toolInstallRoot != "" && strings.HasPrefix(fr.File, toolInstallRoot) {
		return false
	}
	if moduleCacheRoot != "" && strings.HasPrefix(fr.File, moduleCacheRoot) {
		return false
	}
	if strings.HasSuffix(fr.File, ".so") || strings.HasSuffix(fr.File, ".a") {
		return false
	}
	if accept != nil && !accept(fr.File) {
		return false
	}
	return true
}

// RetargetClosure implements the closure-escape rule: if the
// selected frame is a closure, walk the stack upward, among the frames
// already captured by Capture, for the frame of the top-level function that
// lexically encloses it (the closure's name with its .funcN/.N suffixes
// removed). If none exists on the live stack, the closure has escaped its
// defining call and repair must abort with OutOfScope.
func RetargetClosure(all []Frame, selectedIdx int) (*Frame, error) {
	if selectedIdx < 0 || selectedIdx >= len(all) {
		return nil, errclass.OutOfScope("crashctx: selected frame index out of range", nil)
	}
	sel := all[selectedIdx]
	if !IsClosure(sel.Function) {
		return &sel, nil
	}
	outer := sel.Function
	for IsClosure(outer) {
		outer = closureSuffix.ReplaceAllString(outer, "")
	}
	for i := selectedIdx + 1; i < len(all); i++ {
		if all[i].Function == outer {
			cp := all[i]
			return &cp, nil
		}
	}
	return nil, errclass.OutOfScope(
		fmt.Sprintf("crashctx: closure %s escaped its defining call; no enclosing top-level frame on the live stack", sel.Function),
		nil,
	)
}

// FilterGlobals restricts candidateGlobals to names referenced (per
// referencedNames) and not shadowed by locals, matching the
// "filtered view of module globals restricted to names referenced in the
// function's bytecode and not shadowed by locals or built-ins". Go has no
// bytecode introspection of referenced names at runtime; referencedNames is
// supplied by the caller (typically derived via go/ast from the origin
// source captured alongside the crash).
func FilterGlobals(candidateGlobals, locals map[string]any, referencedNames map[string]bool) map[string]any {
	out := map[string]any{}
	for name, v := range candidateGlobals {
		if !referencedNames[name] {
			continue
		}
		if _, shadowed := locals[name]; shadowed {
			continue
		}
		out[name] = v
	}
	return out
}
