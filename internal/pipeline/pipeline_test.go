package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/livepatch/livepatch/internal/config"
	"github.com/livepatch/livepatch/internal/crashctx"
	"github.com/livepatch/livepatch/internal/fingerprint"
	"github.com/livepatch/livepatch/internal/oracle"
)

func fakeOracle(t *testing.T, response string) *oracle.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		quoted, _ := json.Marshal(response)
		w.Write([]byte(`{"response":` + string(quoted) + `}`))
	}))
	t.Cleanup(srv.Close)
	return oracle.New(srv.URL, "gpt5")
}

func demoCrash() *crashctx.Context {
	return &crashctx.Context{
		Fingerprint:  fingerprint.FP{Module: "demo", Name: "Divide"},
		TypeName:     "runtime.Error",
		Message:      "integer divide by zero",
		OriginSource: "func Divide(a, b int) int { return a / b }",
		Args:         map[string]any{"arg0": 1, "arg1": 0},
	}
}

func TestRunSingleShotValidatesFirstCandidate(t *testing.T) {
	oc := fakeOracle(t, `{"patched_code":"func Patched(a, b int) int { if b == 0 { return 0 }; return a / b }","rationale":"guard the divisor"}`)
	p := New(oc, config.Default().Pipeline, nil)

	validated := false
	outcome, err := p.Run(context.Background(), demoCrash(), Options{SingleShot: true}, func(ctx context.Context, crash *crashctx.Context, cand Candidate) (bool, string, error) {
		validated = true
		return true, "looks good", nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !validated {
		t.Fatalf("expected validate to be invoked")
	}
	if outcome == nil || !outcome.Success {
		t.Fatalf("expected a successful outcome, got %+v", outcome)
	}
}

func TestRunSingleShotPropagatesValidationFailure(t *testing.T) {
	oc := fakeOracle(t, `{"patched_code":"func Patched(a, b int) int { return a / b }","rationale":"no change"}`)
	p := New(oc, config.Default().Pipeline, nil)

	outcome, err := p.Run(context.Background(), demoCrash(), Options{SingleShot: true}, func(ctx context.Context, crash *crashctx.Context, cand Candidate) (bool, string, error) {
		return false, "still divides by zero", nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome == nil || outcome.Success {
		t.Fatalf("expected a failed outcome, got %+v", outcome)
	}
}

func TestTopByScoreOrdersDescending(t *testing.T) {
	type item struct {
		name  string
		score float64
	}
	items := []item{{"a", 0.2}, {"b", 0.9}, {"c", 0.5}}
	top := topByScore(items, 2, func(i item) float64 { return i.score })
	if len(top) != 2 || top[0].name != "b" || top[1].name != "c" {
		t.Fatalf("unexpected order: %+v", top)
	}
}
