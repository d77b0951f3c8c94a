// Package fingerprint identifies repairable function sites and content-hashes
// their source text to enforce that a function's shielded and bare patch
// variants are compiled from identical source.
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// FP is a Function Fingerprint: (module path, function qualified name).
// Unique per repairable site; created at first instrumentation and never
// destroyed (patches persist across restores).
type FP struct {
	Module string
	Name   string
}

// Key returns the canonical on-disk identifier ({module}.{name}, sanitized)
// used to name patch_file/{fn}_* artifacts.
func (f FP) Key() string {
	mod := strings.NewReplacer("/", "__", ".", "_").Replace(strings.TrimSpace(f.Module))
	name := strings.TrimSpace(f.Name)
	if mod == "" {
		return name
	}
	return mod + "." + name
}

func (f FP) String() string { return f.Key() }

// Empty reports whether the fingerprint carries no identifying information.
func (f FP) Empty() bool { return f.Module == "" && f.Name == "" }

// Digest returns the BLAKE3 hex digest of source, used as the sidecar value
// proving the shielded and bare plugin variants share an origin.
func Digest(source []byte) string {
	sum := blake3.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// VerifyPair checks that origin hashes to wantDigest, the digest persisted
// in the sidecar file.
func VerifyPair(origin, wantDigest string) error {
	got := Digest([]byte(origin))
	if got != wantDigest {
		return fmt.Errorf("fingerprint: digest mismatch: origin hashes to %s, sidecar records %s", got, wantDigest)
	}
	return nil
}
