package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CanonicalLines renders a payload as sorted "field: value" lines. Values are
// JSON encoded so strings and numbers stay distinguishable.
func (p Payload) CanonicalLines() []string {
	if len(p) == 0 {
		return []string{"(empty)"}
	}
	lines := make([]string, 0, len(p))
	for _, field := range p.Fields() {
		lines = append(lines, fmt.Sprintf("%s: %s", field, canonicalValue(p[field])))
	}
	return lines
}

func canonicalValue(v any) string {
	if v == nil {
		return "null"
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(encoded)
}

// DiffSnapshots produces a unified diff between two payload snapshots. A nil
// snapshot is treated as absent rather than empty.
func DiffSnapshots(baseLabel string, base Payload, targetLabel string, target Payload) string {
	return buildUnifiedDiff(baseLabel, targetLabel, snapshotLines(base), snapshotLines(target))
}

// SnapshotDiff is the unified diff of the entry's before and after snapshots.
func (e AuditEntry) SnapshotDiff() string {
	label := fmt.Sprintf("%s#%d", e.UniqueID, e.LogID)
	return DiffSnapshots(label+" before", e.BeforeSnapshot, label+" after", e.AfterSnapshot)
}

func snapshotLines(p Payload) []string {
	if p == nil {
		return nil
	}
	return p.CanonicalLines()
}

type diffOp struct {
	prefix string
	line   string
}

func buildUnifiedDiff(baseLabel, targetLabel string, baseLines, targetLines []string) string {
	ops := diffLines(baseLines, targetLines)

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("--- %s\n", baseLabel))
	builder.WriteString(fmt.Sprintf("+++ %s\n", targetLabel))
	builder.WriteString(fmt.Sprintf("@@ -1,%d +1,%d @@\n", len(baseLines), len(targetLines)))
	for _, operation := range ops {
		builder.WriteString(operation.prefix)
		builder.WriteString(operation.line)
		builder.WriteString("\n")
	}

	return builder.String()
}

// diffLines walks a longest-common-subsequence table to emit keep/remove/add ops.
func diffLines(base, target []string) []diffOp {
	m := len(base)
	n := len(target)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if base[i] == target[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else {
				dp[i][j] = max(dp[i+1][j], dp[i][j+1])
			}
		}
	}

	ops := make([]diffOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		switch {
		case base[i] == target[j]:
			ops = append(ops, diffOp{prefix: " ", line: base[i]})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			ops = append(ops, diffOp{prefix: "-", line: base[i]})
			i++
		default:
			ops = append(ops, diffOp{prefix: "+", line: target[j]})
			j++
		}
	}
	for ; i < m; i++ {
		ops = append(ops, diffOp{prefix: "-", line: base[i]})
	}
	for ; j < n; j++ {
		ops = append(ops, diffOp{prefix: "+", line: target[j]})
	}

	return ops
}
