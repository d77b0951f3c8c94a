package validator

import (
	"reflect"
	"testing"
)

func TestOrderedArgsMapsPositionalKeys(t *testing.T) {
	fnType := reflect.TypeOf(func(a, b int) int { return a + b })
	args := map[string]any{"arg0": 3, "arg1": 4}
	out := orderedArgs(fnType, args)
	if len(out) != 2 {
		t.Fatalf("expected 2 args, got %d", len(out))
	}
	if out[0].Interface().(int) != 3 || out[1].Interface().(int) != 4 {
		t.Fatalf("expected (3, 4), got (%v, %v)", out[0], out[1])
	}
}

func TestOrderedArgsZerosMissingKeys(t *testing.T) {
	fnType := reflect.TypeOf(func(a, b int) int { return a + b })
	args := map[string]any{"arg0": 3}
	out := orderedArgs(fnType, args)
	if out[1].Interface().(int) != 0 {
		t.Fatalf("expected missing arg to zero-value, got %v", out[1])
	}
}

func TestCallPanicsDetectsPanic(t *testing.T) {
	divide := reflect.ValueOf(func(a, b int) int { return a / b })
	args := []reflect.Value{reflect.ValueOf(1), reflect.ValueOf(0)}
	if !callPanics(divide, args) {
		t.Fatalf("expected division by zero to panic")
	}
}

func TestCallPanicsFalseOnSuccess(t *testing.T) {
	add := reflect.ValueOf(func(a, b int) int { return a + b })
	args := []reflect.Value{reflect.ValueOf(1), reflect.ValueOf(2)}
	if callPanics(add, args) {
		t.Fatalf("expected a normal call to not panic")
	}
}

func TestMutateArgsMutatesAllArgs(t *testing.T) {
	args := map[string]any{"arg0": 1, "arg1": "hello"}
	out, count := mutateArgs(args, 42, 0)
	if count != 2 {
		t.Fatalf("expected both args to be mutated, got count=%d", count)
	}
	if _, ok := out["arg0"].(int); !ok {
		t.Fatalf("expected arg0 to remain an int")
	}
	if _, ok := out["arg1"].(string); !ok {
		t.Fatalf("expected arg1 to remain a string")
	}
}
