package pipeline

import (
	"fmt"
	"strings"

	"github.com/livepatch/livepatch/internal/crashctx"
)

// Prompt templates come in two variants — with and without dynamic context
// (the exception message/traceback) — to support the without-dynamic-context
// ablation.

func dynamicContext(crash *crashctx.Context, withoutDynamic bool) string {
	if withoutDynamic {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Exception: %s\nMessage: %s\n", crash.TypeName, crash.Message)
	sb.WriteString("Traceback:\n")
	for _, f := range crash.Traceback {
		fmt.Fprintf(&sb, "  %s (%s:%d)\n", f.Function, f.File, f.Line)
	}
	return sb.String()
}

const comprehendSystemMsg = "You analyze a program crash and explain its root cause. Respond with a single JSON object: {\"exception_description\": string, \"rationale\": string}."

func comprehendPrompt(crash *crashctx.Context, withoutDynamic bool) string {
	return fmt.Sprintf(
		"%s\nFunction source:\n%s\n\nExplain the root cause of this crash.",
		dynamicContext(crash, withoutDynamic), crash.OriginSource,
	)
}

func comprehendAggregatePrompt(samples []map[string]any) string {
	var sb strings.Builder
	sb.WriteString("Several independent analyses of the same crash follow. Reduce them to a single best {\"exception_description\", \"rationale\"}.\n")
	for i, s := range samples {
		fmt.Fprintf(&sb, "\nAnalysis %d:\ndescription: %v\nrationale: %v\n", i+1, s["exception_description"], s["rationale"])
	}
	return sb.String()
}

const faultLocalizeSystemMsg = "You pinpoint the exact code responsible for a crash. Respond with a single JSON object: {\"snippet\": string, \"rationale\": string}."

func faultLocalizePrompt(crash *crashctx.Context, sess *Session, withoutDynamic bool) string {
	return fmt.Sprintf(
		"%s\nRoot cause: %s (%s)\nFunction source:\n%s\n\nIdentify the specific code snippet at fault.",
		dynamicContext(crash, withoutDynamic), sess.RootCauseDesc, sess.RootCauseRationale, crash.OriginSource,
	)
}

const judgeSystemMsg = "You score a candidate on a scale from 0 to 1 for how well it addresses the stated problem. Respond with a single JSON object: {\"score\": number}."

func judgeFaultLocationPrompt(crash *crashctx.Context, snippet, rationale string) string {
	return fmt.Sprintf(
		"Crash: %s: %s\nCandidate fault location:\n%s\nRationale: %s\n\nScore how precisely this snippet identifies the bug (0=unrelated, 1=exact).",
		crash.TypeName, crash.Message, snippet, rationale,
	)
}

const suggestRepairSystemMsg = "You propose a fix strategy for a located bug. Respond with a single JSON object: {\"summary\": string, \"detailed_strategy\": string, \"rationale\": string}."

func suggestRepairPrompt(crash *crashctx.Context, loc FaultLocation, failedDiffs []string, withoutFeedback, withoutDynamic bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\nFault location:\n%s\nLocalization rationale: %s\n", dynamicContext(crash, withoutDynamic), loc.Snippet, loc.Rationale)
	if !withoutFeedback && len(failedDiffs) > 0 {
		sb.WriteString("\nThe following previously attempted patches failed validation; avoid repeating them:\n")
		for i, d := range failedDiffs {
			fmt.Fprintf(&sb, "\n--- failed attempt %d ---\n%s\n", i+1, d)
		}
	}
	sb.WriteString("\nPropose a fix strategy.")
	return sb.String()
}

func judgeStrategyPrompt(crash *crashctx.Context, s Strategy) string {
	return fmt.Sprintf(
		"Crash: %s: %s\nCandidate strategy:\nSummary: %s\nDetail: %s\nRationale: %s\n\nScore how likely this strategy is to fix the bug without regressions (0=bad, 1=excellent).",
		crash.TypeName, crash.Message, s.Summary, s.DetailedStrategy, s.Rationale,
	)
}

const generatePatchSystemMsg = "You rewrite a Go function to implement the given fix strategy. Respond with a single JSON object: {\"patched_code\": string, \"rationale\": string}. patched_code must be a complete, compilable replacement for the function."

func generatePatchPrompt(crash *crashctx.Context, strat Strategy, withoutDynamic bool) string {
	return fmt.Sprintf(
		"%s\nOriginal function:\n%s\nFix strategy: %s\nDetail: %s\n\nRewrite the complete function to implement this strategy.",
		dynamicContext(crash, withoutDynamic), crash.OriginSource, strat.Summary, strat.DetailedStrategy,
	)
}

const singleShotSystemMsg = "You fix a crashing Go function in one shot. Respond with a single JSON object: {\"patched_code\": string, \"rationale\": string}."

func singleShotPrompt(crash *crashctx.Context, withoutDynamic bool) string {
	return fmt.Sprintf(
		"%s\nFunction source:\n%s\n\nRewrite the complete function so it no longer crashes on the given inputs.",
		dynamicContext(crash, withoutDynamic), crash.OriginSource,
	)
}
