// Package evaluator decides, per condition kind, whether a condition is met
// given a snapshot of the ledger and the clock. Evaluation is pure: parse
// failures make a condition un-evaluable, never an error.
package evaluator

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"trustcert/internal/certificate/models"
	ledger "trustcert/internal/ledger/models"
)

// Snapshot is the evidence a re-evaluation pass reads. Chains holds the
// subject's records per category, oldest first.
type Snapshot struct {
	Now    time.Time
	Chains map[string][]*ledger.RecordVersion
}

// timeLayouts are tried in order; the bare date comes last.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// Evaluate returns the outcome for one condition. Met conditions and approval
// conditions are never re-decided here.
func Evaluate(cond *models.Condition, snap Snapshot) models.Outcome {
	if cond.Met {
		return models.Outcome{}
	}
	switch cond.Kind {
	case models.KindTime:
		return evaluateTime(cond.Target, snap.Now)
	case models.KindAttendance, models.KindGrade:
		category, _ := cond.Kind.Category()
		return evaluateRecord(cond.Target, snap.Chains[category])
	case models.KindApproval:
		return models.Outcome{}
	default:
		return models.Outcome{}
	}
}

// Categories lists the ledger categories the unmet conditions need.
func Categories(conds []*models.Condition) []string {
	var out []string
	for _, cond := range conds {
		if cond.Met {
			continue
		}
		if category, ok := cond.Kind.Category(); ok && !slices.Contains(out, category) {
			out = append(out, category)
		}
	}
	return out
}

// ParseTarget reads a time target as a timestamp, falling back to a calendar
// date. Zone-less values are UTC.
func ParseTarget(target string) (time.Time, bool) {
	target = strings.TrimSpace(target)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, target); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func evaluateTime(target string, now time.Time) models.Outcome {
	at, ok := ParseTarget(target)
	if !ok {
		return models.Outcome{}
	}
	if now.Before(at) {
		return models.Outcome{Evaluable: true}
	}
	return models.Outcome{Met: true, Observed: now.UTC().Format(time.RFC3339), Evaluable: true}
}

// evaluateRecord compares the latest record with target: numerically when
// both parse, else by exact string equality. Meets-or-exceeds either way.
func evaluateRecord(target string, chain []*ledger.RecordVersion) models.Outcome {
	if len(chain) == 0 {
		return models.Outcome{Evaluable: true}
	}
	current := chain[len(chain)-1].Value
	return models.Outcome{Met: Meets(current, target), Observed: current, Evaluable: true}
}

// Meets reports current ≥ target for numbers, current == target otherwise.
func Meets(current, target string) bool {
	cur, errCur := strconv.ParseFloat(strings.TrimSpace(current), 64)
	tgt, errTgt := strconv.ParseFloat(strings.TrimSpace(target), 64)
	if errCur == nil && errTgt == nil {
		return cur >= tgt
	}
	return current == target
}
