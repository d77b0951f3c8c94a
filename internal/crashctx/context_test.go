package crashctx

import "testing"

func TestIsClosure(t *testing.T) {
	cases := map[string]bool{
		"pkg.TopLevel":              false,
		"pkg.Outer.func1":           true,
		"pkg.Outer.func1.1":         true,
		"pkg.(*Type).Method":        false,
		"pkg.Outer.func2.func3":     true,
	}
	for name, want := range cases {
		if got := IsClosure(name); got != want {
			t.Errorf("IsClosure(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRetargetClosureFindsEnclosingFrame(t *testing.T) {
	frames := []Frame{
		{Function: "pkg.Outer.func1", File: "a.go", Line: 10},
		{Function: "pkg.Outer", File: "a.go", Line: 5},
		{Function: "runtime.main", File: "proc.go", Line: 1},
	}
	got, err := RetargetClosure(frames, 0)
	if err != nil {
		t.Fatalf("RetargetClosure: %v", err)
	}
	if got.Function != "pkg.Outer" {
		t.Fatalf("retargeted to %q, want pkg.Outer", got.Function)
	}
}

// B5 / scenario 4: closure-escaped nested function with no enclosing frame
// aborts as OutOfScope.
func TestRetargetClosureEscapedAborts(t *testing.T) {
	frames := []Frame{
		{Function: "pkg.Outer.func1", File: "a.go", Line: 10},
		{Function: "runtime.goexit", File: "proc.go", Line: 1},
	}
	_, err := RetargetClosure(frames, 0)
	if err == nil {
		t.Fatalf("expected OutOfScope error for escaped closure, got nil")
	}
}

func TestFilterGlobalsExcludesShadowedAndUnreferenced(t *testing.T) {
	globals := map[string]any{"conf": 1, "unused": 2, "shadowed": 3}
	locals := map[string]any{"shadowed": "local"}
	referenced := map[string]bool{"conf": true, "shadowed": true}

	out := FilterGlobals(globals, locals, referenced)
	if _, ok := out["unused"]; ok {
		t.Fatalf("unreferenced global %q leaked into filtered set", "unused")
	}
	if _, ok := out["shadowed"]; ok {
		t.Fatalf("shadowed global %q leaked into filtered set", "shadowed")
	}
	if v, ok := out["conf"]; !ok || v != 1 {
		t.Fatalf("expected referenced, unshadowed global 'conf' to survive filtering")
	}
}
