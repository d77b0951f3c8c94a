package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/livepatch/livepatch/internal/config"
	"github.com/livepatch/livepatch/internal/crashctx"
	"github.com/livepatch/livepatch/internal/errclass"
	"github.com/livepatch/livepatch/internal/oracle"
	"github.com/livepatch/livepatch/internal/pipeline/schema"
	"github.com/livepatch/livepatch/internal/telemetry"
)

// Options selects the ablations: single-shot (bypass
// tree-of-thought entirely), without-dynamic-context (omit the exception
// message/traceback from prompts), and without-feedback (no diff
// injection, and no further feedback rounds after the first failure).
type Options struct {
	SingleShot            bool
	WithoutDynamicContext bool
	WithoutFeedback       bool
}

// ValidateFunc is supplied by the caller (the Validator, C5b) so that
// pipeline has no direct dependency on validation internals. It returns
// whether candidate passed Val-1 and Val-2.
type ValidateFunc func(ctx context.Context, crash *crashctx.Context, candidate Candidate) (ok bool, reason string, err error)

// Pipeline orchestrates the tree-of-thought stages over an LLM oracle.
type Pipeline struct {
	Oracle *oracle.Client
	Cfg    config.Pipeline
	Log    *telemetry.Log
}

// New builds a Pipeline.
func New(o *oracle.Client, cfg config.Pipeline, log *telemetry.Log) *Pipeline {
	return &Pipeline{Oracle: o, Cfg: cfg, Log: log}
}

// Run executes the Repair Pipeline entry point: invoked
// from inside the instrumented except-handler on the first SAFE->REPAIR
// transition. It returns the terminal Outcome; callers transition the Mode
// Channel to VAL_OK or VAL_FAIL based on it.
func (p *Pipeline) Run(ctx context.Context, crash *crashctx.Context, opts Options, validate ValidateFunc) (*Outcome, error) {
	p.event("pipeline_start", crash, nil)

	if opts.SingleShot {
		return p.runSingleShot(ctx, crash, opts, validate)
	}

	sess := NewSession(crash)
	p.event("session_started", crash, map[string]any{"session_id": sess.ID})

	desc, rationale, err := p.comprehend(ctx, crash, opts)
	if err != nil {
		p.event("comprehend_exhausted", crash, map[string]any{"error": err.Error()})
		return &Outcome{Success: false, Reason: "comprehend exhausted retry budget"}, nil
	}
	sess.RootCauseDesc, sess.RootCauseRationale = desc, rationale

	locations, err := p.faultLocalize(ctx, crash, opts)
	if err != nil {
		p.event("fault_localize_exhausted", crash, map[string]any{"error": err.Error()})
		return &Outcome{Success: false, Reason: "fault-localize exhausted retry budget"}, nil
	}
	sess.Locations = locations

	for round := 1; round <= p.Cfg.MaxRecursion; round++ {
		sess.Round = round
		p.event("feedback_round_start", crash, map[string]any{"round": round})

		strategies, err := p.suggestRepair(ctx, crash, sess, opts)
		if err != nil {
			p.event("suggest_repair_exhausted", crash, map[string]any{"round": round, "error": err.Error()})
			break
		}
		sess.Strategies = strategies

		candidates, err := p.generatePatch(ctx, crash, sess, opts)
		if err != nil {
			p.event("generate_patch_exhausted", crash, map[string]any{"round": round, "error": err.Error()})
			break
		}

		for _, cand := range candidates {
			ok, reason, verr := validate(ctx, crash, cand)
			if verr != nil {
				p.event("validate_error", crash, map[string]any{"round": round, "error": verr.Error()})
				continue
			}
			if ok {
				p.event("pipeline_success", crash, map[string]any{"round": round})
				return &Outcome{Success: true, Candidate: &cand, Reason: reason}, nil
			}
			p.event("candidate_rejected", crash, map[string]any{"round": round, "reason": reason})
			sess.FailedDiffs = append(sess.FailedDiffs, unifiedDiff(crash.Fingerprint.Key(), crash.OriginSource, cand.PatchedCode))
		}

		if opts.WithoutFeedback {
			break
		}
	}

	p.event("pipeline_exhausted", crash, map[string]any{"rounds": sess.Round})
	return &Outcome{Success: false, Reason: "exhausted feedback rounds without a validated patch"}, nil
}

func (p *Pipeline) runSingleShot(ctx context.Context, crash *crashctx.Context, opts Options, validate ValidateFunc) (*Outcome, error) {
	parsed, err := p.callStage(ctx, schema.GeneratePatch, singleShotSystemMsg, singleShotPrompt(crash, opts.WithoutDynamicContext))
	if err != nil {
		return &Outcome{Success: false, Reason: "single-shot oracle call exhausted retry budget"}, nil
	}
	cand := Candidate{PatchedCode: str(parsed["patched_code"]), Rationale: str(parsed["rationale"])}
	ok, reason, err := validate(ctx, crash, cand)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Outcome{Success: false, Reason: reason}, nil
	}
	return &Outcome{Success: true, Candidate: &cand, Reason: reason}, nil
}

func (p *Pipeline) comprehend(ctx context.Context, crash *crashctx.Context, opts Options) (string, string, error) {
	maxTrial := p.Cfg.MaxTrial
	if maxTrial <= 0 {
		maxTrial = 1
	}
	var samples []map[string]any
	for i := 0; i < maxTrial; i++ {
		parsed, err := p.callStage(ctx, schema.Comprehend, comprehendSystemMsg, comprehendPrompt(crash, opts.WithoutDynamicContext))
		if err != nil {
			continue
		}
		samples = append(samples, parsed)
	}
	if len(samples) == 0 {
		return "", "", errclass.OracleProtocol("comprehend: all samples failed", nil)
	}
	agg, err := p.callStage(ctx, schema.Comprehend, comprehendSystemMsg, comprehendAggregatePrompt(samples))
	if err != nil {
		agg = samples[0]
	}
	return str(agg["exception_description"]), str(agg["rationale"]), nil
}

func (p *Pipeline) faultLocalize(ctx context.Context, crash *crashctx.Context, opts Options) ([]FaultLocation, error) {
	branchNum := orDefault(p.Cfg.FLBranchNum, 3)
	selectNum := orDefault(p.Cfg.FLSelectNum, 1)

	var candidates []FaultLocation
	for i := 0; i < branchNum; i++ {
		parsed, err := p.callStage(ctx, schema.FaultLocalize, faultLocalizeSystemMsg, faultLocalizePrompt(crash, &Session{RootCauseDesc: "", RootCauseRationale: ""}, opts.WithoutDynamicContext))
		if err != nil {
			continue
		}
		loc := FaultLocation{Snippet: str(parsed["snippet"]), Rationale: str(parsed["rationale"])}
		score, err := p.judgeScore(ctx, judgeFaultLocationPrompt(crash, loc.Snippet, loc.Rationale))
		if err == nil {
			loc.Score = score
		}
		candidates = append(candidates, loc)
	}
	if len(candidates) == 0 {
		return nil, errclass.OracleProtocol("fault-localize: all branches failed", nil)
	}
	return topByScore(candidates, selectNum, func(f FaultLocation) float64 { return f.Score }), nil
}

func (p *Pipeline) suggestRepair(ctx context.Context, crash *crashctx.Context, sess *Session, opts Options) ([]Strategy, error) {
	branchNum := orDefault(p.Cfg.SRBranchNum, 3)
	selectNum := orDefault(p.Cfg.SRSelectNum, 1)

	var all []Strategy
	for _, loc := range sess.Locations {
		var perLocation []Strategy
		for i := 0; i < branchNum; i++ {
			parsed, err := p.callStage(ctx, schema.SuggestRepair, suggestRepairSystemMsg,
				suggestRepairPrompt(crash, loc, sess.FailedDiffs, opts.WithoutFeedback, opts.WithoutDynamicContext))
			if err != nil {
				continue
			}
			strat := Strategy{
				Location:         loc,
				Summary:          str(parsed["summary"]),
				DetailedStrategy: str(parsed["detailed_strategy"]),
				Rationale:        str(parsed["rationale"]),
			}
			score, err := p.judgeScore(ctx, judgeStrategyPrompt(crash, strat))
			if err == nil {
				strat.Score = score
			}
			perLocation = append(perLocation, strat)
		}
		all = append(all, topByScore(perLocation, selectNum, func(s Strategy) float64 { return s.Score })...)
	}
	if len(all) == 0 {
		return nil, errclass.OracleProtocol("suggest-repair: no strategies survived", nil)
	}
	return all, nil
}

func (p *Pipeline) generatePatch(ctx context.Context, crash *crashctx.Context, sess *Session, opts Options) ([]Candidate, error) {
	candidatesPerStrategy := orDefault(p.Cfg.GeneratePerStrategy, 3)
	var out []Candidate
	for _, strat := range sess.Strategies {
		for i := 0; i < candidatesPerStrategy; i++ {
			parsed, err := p.callStage(ctx, schema.GeneratePatch, generatePatchSystemMsg, generatePatchPrompt(crash, strat, opts.WithoutDynamicContext))
			if err != nil {
				continue
			}
			out = append(out, Candidate{
				PatchedCode: str(parsed["patched_code"]),
				Rationale:   str(parsed["rationale"]),
				Location:    strat.Location.Snippet,
				Strategy:    strat.Summary,
			})
		}
	}
	if len(out) == 0 {
		return nil, errclass.OracleProtocol("generate-patch: no candidates survived", nil)
	}
	return out, nil
}

func (p *Pipeline) judgeScore(ctx context.Context, prompt string) (float64, error) {
	parsed, err := p.callStage(ctx, schema.JudgeScore, judgeSystemMsg, prompt)
	if err != nil {
		return 0, err
	}
	f, ok := parsed["score"].(float64)
	if !ok {
		return 0, fmt.Errorf("pipeline: judge score is not a number")
	}
	return f, nil
}

// callStage issues one oracle call, applying the bounded JSON-decode retry
// budget item 4 (default 10, configurable via
// config.Pipeline.JSONRetryBudget): on schema/decode failure, an
// auto-correcting "fix your JSON" instruction is appended and the call is
// retried.
func (p *Pipeline) callStage(ctx context.Context, kind schema.Kind, systemMsg, prompt string) (map[string]any, error) {
	retries := p.Cfg.JSONRetryBudget
	if retries <= 0 {
		retries = 10
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		raw, err := p.Oracle.Complete(ctx, oracle.Request{SystemMsg: systemMsg, Prompt: prompt})
		if err != nil {
			lastErr = err
			continue
		}
		parsed, err := schema.Validate(kind, raw)
		if err != nil {
			lastErr = errclass.OracleProtocol(fmt.Sprintf("%s decode/validate attempt %d", kind, attempt), err)
			prompt = prompt + "\n\nYour previous response was not valid JSON matching the required schema. Respond with JSON only, matching the schema exactly."
			continue
		}
		return parsed, nil
	}
	return nil, lastErr
}

func (p *Pipeline) event(kind string, crash *crashctx.Context, extra map[string]any) {
	if p.Log == nil {
		return
	}
	_ = p.Log.Append(telemetry.Event{Kind: kind, Fn: crash.Fingerprint.Key(), Extra: extra})
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// topByScore returns the top n elements by score(e) descending; ties are
// broken by arrival order (stable sort), matching the tie-break rule.
func topByScore[T any](items []T, n int, score func(T) float64) []T {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return score(items[idx[a]]) > score(items[idx[b]])
	})
	if n > len(idx) {
		n = len(idx)
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = items[idx[i]]
	}
	return out
}
