// Package pipeline implements the repair pipeline: the four-stage
// tree-of-thought (comprehend, fault-localize, suggest-repair,
// generate-patch) orchestrated over the LLM oracle, plus the bounded
// feedback loop across MAX_RECURSION rounds.
package pipeline

import (
	"github.com/oklog/ulid/v2"

	"github.com/livepatch/livepatch/internal/crashctx"
)

// Candidate is one full-function-rewrite proposal from Generate-patch.
type Candidate struct {
	PatchedCode string
	Rationale   string
	Location    string // the fault-localized snippet this candidate addresses
	Strategy    string // the suggest-repair summary this candidate implements
}

// FaultLocation is one kept Fault-localize result.
type FaultLocation struct {
	Snippet   string
	Rationale string
	Score     float64
}

// Strategy is one kept Suggest-repair result for a given FaultLocation.
type Strategy struct {
	Location         FaultLocation
	Summary          string
	DetailedStrategy string
	Rationale        string
	Score            float64
}

// Session is one repair attempt: crash context, root-cause summary,
// fault-localization candidates, fix strategies, prior-failed-patch
// diffs, and a feedback round index bounded by
// MAX_RECURSION. Owned by the pipeline; discarded at session end.
type Session struct {
	ID    string
	Crash *crashctx.Context

	RootCauseDesc      string
	RootCauseRationale string

	Locations  []FaultLocation
	Strategies []Strategy

	FailedDiffs []string
	Round       int

	Result *Outcome
}

// NewSession starts a repair session for crash, stamping a ULID identifier.
func NewSession(crash *crashctx.Context) *Session {
	return &Session{ID: ulid.Make().String(), Crash: crash}
}

// Outcome is the terminal state of a Session.
type Outcome struct {
	Success   bool
	Candidate *Candidate
	Reason    string
}
