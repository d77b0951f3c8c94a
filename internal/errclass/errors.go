// Package errclass gives the runtime's behavioral error taxonomy concrete
// Go types: a small typed-error-plus-classification hierarchy rather than
// sentinel values.
package errclass

import (
	"fmt"
	"strings"
)

// Kind enumerates the error taxonomy.
type Kind string

const (
	KindTargetRecoverable Kind = "target_recoverable"
	KindTargetIgnorable   Kind = "target_ignorable"
	KindOutOfScope        Kind = "out_of_scope"
	KindOracleProtocol    Kind = "oracle_protocol"
	KindPatchInvalid      Kind = "patch_invalid"
	KindVal1Failure       Kind = "val1_failure"
	KindVal2Failure       Kind = "val2_failure"
	KindInfrastructure    Kind = "infrastructure"
)

// Classified is implemented by every error type in this package.
type Classified interface {
	error
	Classify() Kind
}

type base struct {
	kind Kind
	msg  string
	err  error
}

func (b *base) Classify() Kind { return b.kind }

func (b *base) Error() string {
	msg := strings.TrimSpace(b.msg)
	if b.err != nil {
		if msg == "" {
			return fmt.Sprintf("%s: %v", b.kind, b.err)
		}
		return fmt.Sprintf("%s: %s: %v", b.kind, msg, b.err)
	}
	if msg == "" {
		return string(b.kind)
	}
	return fmt.Sprintf("%s: %s", b.kind, msg)
}

func (b *base) Unwrap() error { return b.err }

func newErr(kind Kind, msg string, err error) Classified {
	return &base{kind: kind, msg: msg, err: err}
}

// TargetRecoverable wraps a panic raised from an instrumented function under
// a user-project source root. Triggers repair.
func TargetRecoverable(msg string, cause error) Classified {
	return newErr(KindTargetRecoverable, msg, cause)
}

// TargetIgnorable wraps a panic whose value matches the configured ignore
// list. Swallowed after returning mode to SAFE.
func TargetIgnorable(msg string, cause error) Classified {
	return newErr(KindTargetIgnorable, msg, cause)
}

// OutOfScope wraps a panic from a frame that does not resolve to any
// in-scope top-level function. Repair is abandoned.
func OutOfScope(msg string, cause error) Classified {
	return newErr(KindOutOfScope, msg, cause)
}

// OracleProtocol wraps malformed JSON from the LLM oracle.
func OracleProtocol(msg string, cause error) Classified {
	return newErr(KindOracleProtocol, msg, cause)
}

// PatchInvalid wraps a candidate that failed to compile into a plugin.
func PatchInvalid(msg string, cause error) Classified {
	return newErr(KindPatchInvalid, msg, cause)
}

// Val1Failure wraps a patched function raising on the original inputs.
func Val1Failure(msg string, cause error) Classified {
	return newErr(KindVal1Failure, msg, cause)
}

// Val2Failure wraps a patched function raising on a mutated input that the
// buggy function did not raise on (a regression).
func Val2Failure(msg string, cause error) Classified {
	return newErr(KindVal2Failure, msg, cause)
}

// Infrastructure wraps a CRIU/filesystem/oracle-connectivity failure. The
// supervisor kills the child and exits non-zero on these.
func Infrastructure(msg string, cause error) Classified {
	return newErr(KindInfrastructure, msg, cause)
}

// IsInfrastructure reports whether err classifies as Infrastructure.
func IsInfrastructure(err error) bool {
	c, ok := err.(Classified)
	return ok && c.Classify() == KindInfrastructure
}

// IsOutOfScope reports whether err classifies as OutOfScope.
func IsOutOfScope(err error) bool {
	c, ok := err.(Classified)
	return ok && c.Classify() == KindOutOfScope
}
