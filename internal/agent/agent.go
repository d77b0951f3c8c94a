// Package agent wires the in-process components (C2 Instrumenter, C5a
// Repair Pipeline, C5b Validator) together into the single EntryPoint the
// Guard epilogue invokes on a SAFE->REPAIR transition. It is the glue a
// target program's init() registers against; the supervisor (C4) runs as a
// separate process and never imports this package.
package agent

import (
	"context"
	"os"
	"reflect"

	"github.com/livepatch/livepatch/internal/config"
	"github.com/livepatch/livepatch/internal/crashctx"
	"github.com/livepatch/livepatch/internal/errclass"
	"github.com/livepatch/livepatch/internal/fingerprint"
	"github.com/livepatch/livepatch/internal/instrument"
	"github.com/livepatch/livepatch/internal/modechan"
	"github.com/livepatch/livepatch/internal/oracle"
	"github.com/livepatch/livepatch/internal/patchstore"
	"github.com/livepatch/livepatch/internal/pipeline"
	"github.com/livepatch/livepatch/internal/telemetry"
	"github.com/livepatch/livepatch/internal/validator"
	"github.com/livepatch/livepatch/internal/wdir"
)

// Agent is the in-process runtime every instrumented site shares. It holds
// exactly one of each collaborator a process needs: the function registry,
// the repair pipeline, the validator, and the Mode Channel and patch store
// both sides consult.
type Agent struct {
	Dir      *wdir.Dir
	Mode     *modechan.Channel
	Registry *instrument.Registry
	Store    *patchstore.Store
	Cfg      config.Config
	Pipe     *pipeline.Pipeline
	Val      *validator.Validator
	Log      *telemetry.Log

	sources map[string]string
}

// New builds an Agent bound to wdirRoot with the given run configuration,
// constructing the oracle client for the named backend model.
func New(wdirRoot, sourceRoot, oracleBaseURL, model string, cfg config.Config) (*Agent, error) {
	dir, err := wdir.Open(wdirRoot)
	if err != nil {
		return nil, err
	}
	mode := modechan.New(dir.ProcessMode())
	store := patchstore.NewStore(dir.PatchFileDir(), dir.Root)
	log := telemetry.Open(dir.ReporterSyncLog())

	oc := oracle.New(oracleBaseURL, model)
	pipe := pipeline.New(oc, cfg.Pipeline, log)
	val := validator.New(dir, store, cfg.Validator)

	a := &Agent{
		Dir:      dir,
		Mode:     mode,
		Registry: nil,
		Store:    store,
		Cfg:      cfg,
		Pipe:     pipe,
		Val:      val,
		Log:      log,
		sources:  map[string]string{},
	}
	a.Registry = instrument.NewRegistry(a.onEntry)
	return a, nil
}

// Guard instruments fn under fingerprint fp, recording its pretty-printed
// origin source (used by every tree-of-thought prompt and by Val-1/Val-2's
// plugin compilation) alongside it.
func (a *Agent) Guard(fp fingerprint.FP, fn any, source string) (any, error) {
	a.sources[fp.Key()] = source
	originPath := a.Dir.OriginSource(fp.Key())
	if err := os.WriteFile(originPath, []byte(source), 0o644); err != nil {
		return nil, errclass.Infrastructure("agent: write origin source", err)
	}
	deps := instrument.Deps{Mode: a.Mode, Store: a.Store, Ignore: a.Cfg, OnEntry: a.onEntry}
	return instrument.Guard(a.Registry, fp, fn, deps, a.Dir.ShieldedPatch(fp.Key()))
}

// onEntry is invoked synchronously by the epilogue on the first
// SAFE->REPAIR transition for fp. It runs the full repair pipeline to
// completion (blocking the panicking goroutine) before returning, so that
// by the time the epilogue re-panics and the process dies, the Mode
// Channel already records VAL_OK or VAL_FAIL for the supervisor to act on.
func (a *Agent) onEntry(fp fingerprint.FP, panicValue any, args, kwargs map[string]any) {
	ctx := context.Background()

	typeName, message := describe(panicValue)
	source := a.sources[fp.Key()]

	all, selected, err := crashctx.Capture(2, a.acceptFrame, "", "")
	if err == nil && crashctx.IsClosure(selected.Function) {
		for i, f := range all {
			if f == *selected {
				selected, err = crashctx.RetargetClosure(all, i)
				break
			}
		}
	}
	if err != nil {
		a.event("repair_out_of_scope", fp, map[string]any{"error": err.Error()})
		_ = a.Mode.CompareAndWrite(modechan.Repair, modechan.ValFail)
		return
	}
	traceback := all

	crash := &crashctx.Context{
		Fingerprint:  fp,
		TypeName:     typeName,
		Message:      message,
		Traceback:    traceback,
		Args:         args,
		Kwargs:       kwargs,
		OriginSource: source,
	}

	outcome, err := a.Pipe.Run(ctx, crash, pipeline.Options{}, a.validateCandidate(fp))
	if err != nil || outcome == nil || !outcome.Success {
		a.event("repair_failed", fp, nil)
		_ = a.Mode.CompareAndWrite(modechan.Repair, modechan.ValFail)
		return
	}

	a.event("repair_succeeded", fp, map[string]any{"reason": outcome.Reason})
	_ = a.Mode.CompareAndWrite(modechan.Repair, modechan.ValOK)
}

// validateCandidate closes over fp to build a pipeline.ValidateFunc that
// compiles the candidate as both the bare (Val-1/Val-2) and shielded
// (live-dispatch) plugin variants, running both validation phases before
// persisting the shielded variant for the instrumentation prologue to load.
func (a *Agent) validateCandidate(fp fingerprint.FP) pipeline.ValidateFunc {
	return func(ctx context.Context, crash *crashctx.Context, cand pipeline.Candidate) (bool, string, error) {
		orig, ok := a.Registry.Original(fp)
		if !ok {
			return false, "", errclass.Infrastructure("agent: no original function registered for "+fp.Key(), nil)
		}
		res, err := a.Val.Validate(ctx, fp, crash, validator.Buggy{Fn: orig, Type: orig.Type()}, cand.PatchedCode)
		if err != nil {
			return false, res.Reason, err
		}
		if !res.OK() {
			return false, res.Reason, nil
		}

		shieldedPath := a.Dir.ShieldedPatch(fp.Key())
		if err := a.Store.Compile(fp, cand.PatchedCode, patchstore.Shielded, shieldedPath); err != nil {
			return false, "shielded variant failed to compile", err
		}
		digest := fingerprint.Digest([]byte(cand.PatchedCode))
		if err := os.WriteFile(a.Dir.PatchDigest(fp.Key()), []byte(digest), 0o644); err != nil {
			return false, "", errclass.Infrastructure("agent: write patch digest", err)
		}
		return true, res.Reason, nil
	}
}

func (a *Agent) acceptFrame(file string) bool {
	for _, root := range a.Cfg.SourceRoots {
		if root != "" && len(file) >= len(root) && file[:len(root)] == root {
			return true
		}
	}
	return len(a.Cfg.SourceRoots) == 0
}

func describe(rec any) (typeName, message string) {
	switch v := rec.(type) {
	case error:
		return reflect.TypeOf(v).String(), v.Error()
	default:
		return reflect.TypeOf(v).String(), ""
	}
}

func (a *Agent) event(kind string, fp fingerprint.FP, extra map[string]any) {
	if a.Log == nil {
		return
	}
	_ = a.Log.Append(telemetry.Event{Kind: kind, Fn: fp.Key(), Extra: extra})
}
