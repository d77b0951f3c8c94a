package pipeline

import (
	"fmt"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// unifiedDiff renders a unified diff of origin vs. candidate, the
// "unified-diff strings of all failed candidates" the feedback loop
// carries into the next round's Suggest-repair prompts. Grounded on the
// pack's own use of hexops/gotextdiff for origin-vs-actual comparisons
// (joeycumines-go-utilpkg/logiface and sql/export/mysql test helpers).
func unifiedDiff(fn, origin, candidate string) string {
	edits := myers.ComputeEdits(span.URIFromPath(fn), origin, candidate)
	unified := gotextdiff.ToUnified(fn+".orig", fn+".patch", origin, edits)
	return fmt.Sprint(unified)
}
