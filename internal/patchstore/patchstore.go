// Package patchstore compiles LLM-generated candidate source into Go
// plugins and loads them back — a loadable, swappable compiled function
// body. A plugin is built once with `go build -buildmode=plugin` and
// exports a single `Patched` symbol matching the guarded function's
// signature.
package patchstore

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"plugin"
	"reflect"
	"strings"
	"time"

	"github.com/livepatch/livepatch/internal/errclass"
	"github.com/livepatch/livepatch/internal/fingerprint"
)

// Variant distinguishes the shielded patch (loaded by the instrumentation
// prologue as the live dispatch target) from the bare patch (used by Val-1
// and Val-2). The shielded variant differs only by a fingerprint marker
// comment (see shieldSource); the panic-catching epilogue lives in
// instrument.Guard.
type Variant int

const (
	Shielded Variant = iota
	Bare
)

// Store compiles and caches plugin-backed patches for a single WDIR.
type Store struct {
	patchFileDir string
	buildDir     string

	cache map[string]*plugin.Plugin
}

// NewStore binds a Store to patchFileDir (WDIR's patch_file/).
func NewStore(patchFileDir, buildDir string) *Store {
	return &Store{patchFileDir: patchFileDir, buildDir: buildDir, cache: map[string]*plugin.Plugin{}}
}

// Compile builds source (a full function rewrite) into a plugin exporting
// Patched, writing it to outPath. For the Shielded variant a fingerprint
// marker comment is prepended to source before compilation (see
// shieldSource); the Bare variant compiles source as given.
func (s *Store) Compile(fp fingerprint.FP, source string, variant Variant, outPath string) error {
	src := source
	if variant == Shielded {
		src = shieldSource(fp, source)
	}

	dir, err := os.MkdirTemp(s.buildDir, "patch-*")
	if err != nil {
		return errclass.Infrastructure("patchstore: mktemp", err)
	}
	defer os.RemoveAll(dir)

	goFile := filepath.Join(dir, "patch.go")
	if err := os.WriteFile(goFile, []byte(src), 0o644); err != nil {
		return errclass.Infrastructure("patchstore: write candidate source", err)
	}
	modFile := filepath.Join(dir, "go.mod")
	if err := os.WriteFile(modFile, []byte("module patch\n\ngo 1.25\n"), 0o644); err != nil {
		return errclass.Infrastructure("patchstore: write module stub", err)
	}

	cmd := exec.Command("go", "build", "-buildmode=plugin", "-o", outPath, goFile)
	cmd.Dir = dir
	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return errclass.PatchInvalid(fmt.Sprintf("compile candidate for %s: %s", fp.Key(), out.String()), err)
	}
	return nil
}

// Load opens a previously compiled plugin and returns its Patched symbol as
// a reflect.Value, verifying it matches wantType (preserving P6 arity).
func (s *Store) Load(path string, wantType reflect.Type) (reflect.Value, error) {
	if p, ok := s.cache[path]; ok {
		return symbolValue(p, wantType)
	}
	p, err := plugin.Open(path)
	if err != nil {
		return reflect.Value{}, errclass.PatchInvalid(fmt.Sprintf("open plugin %s", path), err)
	}
	s.cache[path] = p
	return symbolValue(p, wantType)
}

func symbolValue(p *plugin.Plugin, wantType reflect.Type) (reflect.Value, error) {
	sym, err := p.Lookup("Patched")
	if err != nil {
		return reflect.Value{}, errclass.PatchInvalid("plugin missing Patched symbol", err)
	}
	v := reflect.ValueOf(sym)
	if wantType != nil {
		// Plugin symbols for funcs are typically already the func value;
		// some build configurations export **func instead, so dereference
		// once if needed.
		if v.Kind() == reflect.Ptr && v.Type().Elem() == wantType {
			v = v.Elem()
		}
		if v.Type() != wantType {
			return reflect.Value{}, fmt.Errorf("patchstore: Patched has type %s, want %s", v.Type(), wantType)
		}
	}
	return v, nil
}

// Exists reports whether a compiled patch is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// shieldSource wraps body's candidate source in the epilogue: the
// generated source is expected to define `func Patched(...)`.
// Shielding here means recording which fingerprint owns the plugin so the
// epilogue installed by instrument.Guard (which wraps the *call site*, not
// the compiled body) can attribute panics correctly; Go's plugin boundary
// means the epilogue lives in the caller, so shielding is a metadata
// annotation rather than a source transform, unlike the bytecode original.
func shieldSource(fp fingerprint.FP, source string) string {
	marker := fmt.Sprintf("// livepatch:shielded fingerprint=%s generated=%s\n", fp.Key(), time.Now().UTC().Format(time.RFC3339))
	return marker + source
}
