// Package validator implements the two-phase Validator: Val-1
// re-executes a candidate directly against the captured crash inputs,
// Val-2 mutation-fuzzes both the buggy and the candidate function and
// rejects any candidate that panics on a mutated input the buggy function
// ran without panicking (a regression), within a bounded wall-clock budget.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/klauspost/cpuid/v2"

	"github.com/livepatch/livepatch/internal/config"
	"github.com/livepatch/livepatch/internal/crashctx"
	"github.com/livepatch/livepatch/internal/errclass"
	"github.com/livepatch/livepatch/internal/fingerprint"
	"github.com/livepatch/livepatch/internal/mutator"
	"github.com/livepatch/livepatch/internal/patchstore"
	"github.com/livepatch/livepatch/internal/wdir"
)

// Result is the outcome of running both validation phases on one candidate.
type Result struct {
	Val1OK bool
	Val2OK bool
	Reason string
}

// OK reports whether the candidate passed both phases.
func (r Result) OK() bool { return r.Val1OK && r.Val2OK }

// Validator drives Val-1 and Val-2 for one repairable site.
type Validator struct {
	Dir   *wdir.Dir
	Store *patchstore.Store
	Cfg   config.Validator
}

// New builds a Validator bound to a WDIR and a patch store.
func New(dir *wdir.Dir, store *patchstore.Store, cfg config.Validator) *Validator {
	return &Validator{Dir: dir, Store: store, Cfg: cfg}
}

// Buggy is the original (unpatched) callable under test, used by Val-2 to
// distinguish pre-existing crashes from candidate-introduced regressions.
type Buggy struct {
	Fn   reflect.Value
	Type reflect.Type
}

// Validate runs Val-1 then, only if Val-1 passes, Val-2.
func (v *Validator) Validate(ctx context.Context, fp fingerprint.FP, crash *crashctx.Context, buggy Buggy, candidateSource string) (Result, error) {
	barePath := v.Dir.BarePatch(fp.Key())
	if err := v.Store.Compile(fp, candidateSource, patchstore.Bare, barePath); err != nil {
		return Result{Reason: "candidate failed to compile"}, err
	}

	patched, err := v.Store.Load(barePath, buggy.Type)
	if err != nil {
		return Result{Reason: "candidate plugin failed to load"}, err
	}

	if err := v.runVal1(patched, crash); err != nil {
		return Result{Val1OK: false, Reason: err.Error()}, nil
	}

	ok, reason, err := v.runVal2(ctx, patched, buggy, crash)
	if err != nil {
		return Result{Val1OK: true, Val2OK: false, Reason: reason}, err
	}
	return Result{Val1OK: true, Val2OK: ok, Reason: reason}, nil
}

// runVal1 re-invokes the candidate directly against the captured args
//: success iff the call completes without panicking.
func (v *Validator) runVal1(patched reflect.Value, crash *crashctx.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errclass.Val1Failure(fmt.Sprintf("candidate panicked on original inputs: %v", r), nil)
		}
	}()
	in := orderedArgs(patched.Type(), crash.Args)
	patched.Call(in)
	return nil
}

// runVal2 fuzzes both functions in parallel iterations bounded by
// Cfg.MaxMutationDuration wall-clock time. A worker pool sized off the host's logical
// core count keeps each iteration independent so regressions are found
// without unbounded serial latency.
func (v *Validator) runVal2(ctx context.Context, patched reflect.Value, buggy Buggy, crash *crashctx.Context) (ok bool, reason string, err error) {
	deadline := v.Cfg.MaxMutationDuration
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	baseSeed := uint64(time.Now().UnixNano())

	workers := cpuid.CPU.LogicalCores
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers < 1 {
		workers = 1
	}
	if workers > 16 {
		workers = 16
	}

	var (
		mu          sync.Mutex
		regressed   bool
		regressMsg  string
		iterations  int
		interesting []map[string]any
		wg          sync.WaitGroup
	)

	iterCh := make(chan int)
	go func() {
		defer close(iterCh)
		for i := 0; ; i++ {
			select {
			case <-runCtx.Done():
				return
			case iterCh <- i:
			}
		}
	}()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range iterCh {
				mu.Lock()
				if regressed {
					mu.Unlock()
					return
				}
				mu.Unlock()

				mutated, mutCount := mutateArgs(crash.Args, baseSeed, i)
				if mutCount == 0 {
					continue
				}

				buggyPanicked := callPanics(buggy.Fn, orderedArgs(buggy.Type, mutated))
				if buggyPanicked {
					continue // pre-existing crash, not a regression
				}

				patchedPanicked := callPanics(patched, orderedArgs(patched.Type(), mutated))

				mu.Lock()
				iterations++
				if patchedPanicked {
					regressed = true
					regressMsg = "candidate regressed on a mutated input the buggy function tolerated"
				} else {
					interesting = append(interesting, mutated)
				}
				mu.Unlock()

				if patchedPanicked {
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()

	if err := v.recordInteresting(interesting); err != nil {
		return false, "", errclass.Infrastructure("validator: record interesting inputs", err)
	}

	if regressed {
		return false, regressMsg, nil
	}
	if iterations == 0 {
		return true, "no mutations exercised within budget", nil
	}
	return true, fmt.Sprintf("%d mutation iterations with no regression", iterations), nil
}

func callPanics(fn reflect.Value, args []reflect.Value) (panicked bool) {
	defer func() {
		if recover() != nil {
			panicked = true
		}
	}()
	fn.Call(args)
	return false
}

// mutateArgs applies one mutation to each argument of a copy of args,
// returning the number of arguments actually mutated; the configured
// MinMutationsPerArg and MaxMutationsPerArg are not consulted. baseSeed
// anchors the run to wall-clock time (time.Now().UnixNano()
// at the start of the fuzz loop); iteration gives each parallel worker a
// distinct, reproducible-within-run stream.
func mutateArgs(args map[string]any, baseSeed uint64, iteration int) (map[string]any, int) {
	m := mutator.New(baseSeed, iteration)
	out := make(map[string]any, len(args))
	mutated := 0
	for k, v := range args {
		n, ok := m.Mutate(v)
		if ok {
			out[k] = n
			mutated++
		} else {
			out[k] = v
		}
	}
	return out, mutated
}

// orderedArgs maps the Args map (keyed "arg0", "arg1", ...) back onto a
// positional reflect.Value slice matching fnType's arity.
func orderedArgs(fnType reflect.Type, args map[string]any) []reflect.Value {
	n := fnType.NumIn()
	out := make([]reflect.Value, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("arg%d", i)
		v, ok := args[key]
		pt := fnType.In(i)
		if !ok || v == nil {
			out[i] = reflect.Zero(pt)
			continue
		}
		rv := reflect.ValueOf(v)
		if rv.Type().AssignableTo(pt) {
			out[i] = rv
		} else if rv.Type().ConvertibleTo(pt) {
			out[i] = rv.Convert(pt)
		} else {
			out[i] = reflect.Zero(pt)
		}
	}
	return out
}

func (v *Validator) recordInteresting(samples []map[string]any) error {
	if len(samples) == 0 {
		return nil
	}
	b, err := json.Marshal(samples)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(v.Dir.InterestingInputs(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return f.Sync()
}
