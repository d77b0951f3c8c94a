// Package wdir defines the Working Directory layout, the only inter-process
// contract between the supervisor, the instrumented child, and the repair
// pipeline.
package wdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir is a bound Working Directory root.
type Dir struct {
	Root string
}

// Open binds a Dir to root without touching the filesystem.
func Open(root string) (*Dir, error) {
	root = filepath.Clean(root)
	if root == "" || root == "." {
		return nil, fmt.Errorf("wdir: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("wdir: resolve %q: %w", root, err)
	}
	return &Dir{Root: abs}, nil
}

// Reset clears and recreates the WDIR sub-layout (supervisor startup step 1).
func (d *Dir) Reset() error {
	if err := os.RemoveAll(d.Root); err != nil {
		return fmt.Errorf("wdir: reset %s: %w", d.Root, err)
	}
	for _, sub := range []string{
		"",
		"patch_file",
		"tmp",
		"mutation",
		"log",
		"instrumented",
		"checkpoints0",
	} {
		if err := os.MkdirAll(filepath.Join(d.Root, sub), 0o755); err != nil {
			return fmt.Errorf("wdir: mkdir %s: %w", sub, err)
		}
	}
	return nil
}

// ProcessMode is the Mode Channel file path (C1).
func (d *Dir) ProcessMode() string { return filepath.Join(d.Root, "process_mode") }

// CheckpointDir returns the directory for checkpoint N of generation R.
func (d *Dir) CheckpointDir(generation, n int) string {
	return filepath.Join(d.Root, fmt.Sprintf("checkpoints%d", generation), fmt.Sprintf("%d", n))
}

// CheckpointGenRoot returns the root directory for an entire generation.
func (d *Dir) CheckpointGenRoot(generation int) string {
	return filepath.Join(d.Root, fmt.Sprintf("checkpoints%d", generation))
}

// PatchFileDir is patch_file/.
func (d *Dir) PatchFileDir() string { return filepath.Join(d.Root, "patch_file") }

// OriginSource returns the path of fn's pretty-printed original source.
func (d *Dir) OriginSource(fn string) string {
	return filepath.Join(d.PatchFileDir(), fn+"_origin.go")
}

// ShieldedPatch returns the path of the shielded (live-dispatch) compiled patch.
func (d *Dir) ShieldedPatch(fn string) string {
	return filepath.Join(d.PatchFileDir(), fn+"_patch.so")
}

// BarePatch returns the path of the bare (unshielded) compiled patch used by Val-1.
func (d *Dir) BarePatch(fn string) string {
	return filepath.Join(d.PatchFileDir(), fn+"_val1_patch.so")
}

// PatchDigest returns the path of the sidecar digest proving invariant 1:
// the shielded and bare variants were compiled from the same source text.
func (d *Dir) PatchDigest(fn string) string {
	return filepath.Join(d.PatchFileDir(), fn+".digest")
}

// FileMatcherSnapshot is tmp/file_matcher, the serialized in-scope file predicate.
func (d *Dir) FileMatcherSnapshot() string { return filepath.Join(d.Root, "tmp", "file_matcher") }

// InterestingInputs is mutation/interesting_inputs.json, the append-only
// log of mutated arguments that did not crash the buggy function.
func (d *Dir) InterestingInputs() string {
	return filepath.Join(d.Root, "mutation", "interesting_inputs.json")
}

// ReporterSyncLog and TimeProfileLog are the non-core telemetry files.
func (d *Dir) ReporterSyncLog() string { return filepath.Join(d.Root, "log", "reporter_sync.json") }
func (d *Dir) TimeProfileLog() string  { return filepath.Join(d.Root, "log", "time_profile.json") }

// InstrumentedDump returns the debug-dump path for a module's instrumented form.
func (d *Dir) InstrumentedDump(module string) string {
	return filepath.Join(d.Root, "instrumented", module)
}
