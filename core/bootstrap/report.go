package bootstrap

import (
	"fmt"
	"strings"
)

// Rejection records one snapshot row the codec or gateway refused.
type Rejection struct {
	Table  string
	Index  int
	Reason string
}

// Report is the acceptance artifact of a bootstrap run: how many tables were
// reconciled, how many steps ran, and exactly which rows were rejected and
// why. A test suite checks this against a known legacy fixture.
type Report struct {
	TablesMigrated int
	StepsApplied   int
	RowsIngested   int
	RowsRejected   []Rejection
	// SkippedTables lists snapshot tables with no registered kind. Their data
	// is left untouched, never silently dropped.
	SkippedTables []string
}

// String renders the report for operators and logs.
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "tables migrated: %d, steps applied: %d, rows ingested: %d, rows rejected: %d",
		r.TablesMigrated, r.StepsApplied, r.RowsIngested, len(r.RowsRejected))
	for _, rej := range r.RowsRejected {
		fmt.Fprintf(&sb, "\n  rejected %s[%d]: %s", rej.Table, rej.Index, rej.Reason)
	}
	if len(r.SkippedTables) > 0 {
		fmt.Fprintf(&sb, "\n  skipped tables (no registered kind): %s", strings.Join(r.SkippedTables, ", "))
	}
	return sb.String()
}
