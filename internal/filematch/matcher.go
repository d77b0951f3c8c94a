// Package filematch implements the Import Interceptor's file predicate
//: it accepts source files under a declared root and rejects
// compiled-extension suffixes, standard-library/module-cache locations, and
// a blocklist of infrastructure glob patterns. WriteTo and ReadFrom persist
// the predicate as tmp/file_matcher; no other package in this module
// writes or reads that file.
package filematch

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// compiledExtSuffixes are never instrumented; the finder defers to the next
// loader for these.
var compiledExtSuffixes = []string{".so", ".a", ".dll", ".dylib"}

// Matcher is the serializable in-scope file predicate.
type Matcher struct {
	Roots     []string `msgpack:"roots"`
	Blocklist []string `msgpack:"blocklist"`

	goroot string
	gopath string
}

// New builds a Matcher from user-declared source roots and a blocklist of
// doublestar glob patterns (e.g. "**/vendor/**", "**/*_test.go").
func New(roots, blocklist []string) (*Matcher, error) {
	m := &Matcher{}
	for _, r := range roots {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("filematch: resolve root %q: %w", r, err)
		}
		m.Roots = append(m.Roots, filepath.Clean(abs))
	}
	if len(m.Roots) == 0 {
		return nil, fmt.Errorf("filematch: at least one source root is required")
	}
	m.Blocklist = append([]string{}, blocklist...)
	m.resolveEnv()
	return m, nil
}

func (m *Matcher) resolveEnv() {
	m.goroot = strings.TrimSpace(runtime.GOROOT())
	m.gopath = strings.TrimSpace(os.Getenv("GOPATH"))
	if m.gopath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			m.gopath = filepath.Join(home, "go")
		}
	}
}

// Accept reports whether path is in-scope for instrumentation.
func (m *Matcher) Accept(path string) bool {
	if m == nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)

	for _, suf := range compiledExtSuffixes {
		if strings.HasSuffix(abs, suf) {
			return false
		}
	}
	if m.goroot != "" && isDescendant(abs, m.goroot) {
		return false
	}
	if m.gopath != "" && isDescendant(abs, filepath.Join(m.gopath, "pkg", "mod")) {
		return false
	}

	underRoot := false
	for _, r := range m.Roots {
		if isDescendant(abs, r) {
			underRoot = true
			break
		}
	}
	if !underRoot {
		return false
	}

	for _, pat := range m.Blocklist {
		ok, err := doublestar.Match(pat, abs)
		if err == nil && ok {
			return false
		}
		// Also match against the path relative to each root, so patterns
		// like "**/vendor/**" work without requiring an absolute prefix.
		for _, r := range m.Roots {
			if rel, rerr := filepath.Rel(r, abs); rerr == nil {
				if ok, err := doublestar.Match(pat, filepath.ToSlash(rel)); err == nil && ok {
					return false
				}
			}
		}
	}
	return true
}

func isDescendant(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// Marshal serializes the predicate (tmp/file_matcher) so the child can
// deserialize an identical definition.
func (m *Matcher) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("filematch: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal rebuilds a Matcher from bytes produced by Marshal.
func Unmarshal(b []byte) (*Matcher, error) {
	var m Matcher
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("filematch: unmarshal: %w", err)
	}
	m.resolveEnv()
	return &m, nil
}

// WriteTo persists the predicate to path (tmp/file_matcher).
func (m *Matcher) WriteTo(path string) error {
	b, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("filematch: mkdir for %s: %w", path, err)
	}
	return os.WriteFile(path, b, 0o644)
}

// ReadFrom loads a Matcher previously persisted with WriteTo.
func ReadFrom(path string) (*Matcher, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("filematch: read %s: %w", path, err)
	}
	return Unmarshal(b)
}
