package authorization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/claimbot/claimbot/internal/domain/claim"
)

// Status is the portal state of one service column.
type Status string

const (
	Available   Status = "available"
	Unavailable Status = "unavailable"
	Authorized  Status = "authorized"
)

// ParseStatus reads a status cell. Anything unrecognized is unavailable.
func ParseStatus(text string) Status {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(t, "authorized"):
		return Authorized
	case strings.Contains(t, "unavailable"), strings.Contains(t, "not available"):
		return Unavailable
	case strings.Contains(t, "available"):
		return Available
	}
	return Unavailable
}

// Outcome is the action taken for the patient's authorization.
type Outcome string

const (
	UseExisting    Outcome = "use_existing"
	DeleteExisting Outcome = "delete_existing"
	Issue          Outcome = "issue"
	ExamAuthorized Outcome = "exam_authorized"
	NotAvailable   Outcome = "unavailable"
)

// Input is everything the decision depends on.
type Input struct {
	Desired  []int
	Statuses map[int]Status
	Index    map[claim.Service]int
	PlanName string
}

// Decision is the outcome plus the columns it applies to. Abort is set when
// the invoice cannot proceed with this outcome.
type Decision struct {
	Outcome Outcome
	Columns []int
	Abort   bool
	Reason  string
}

// Decide maps the coverage state to exactly one outcome. It is pure.
func Decide(in Input) Decision {
	desired := uniqueSorted(in.Desired)
	if len(desired) == 0 {
		return Decision{Outcome: NotAvailable, Abort: true, Reason: "no billable service columns"}
	}

	var unavailable []int
	for _, col := range desired {
		if st, ok := in.Statuses[col]; !ok || st == Unavailable {
			unavailable = append(unavailable, col)
		}
	}

	if len(unavailable) > 0 {
		examCol, ok := in.Index[claim.Exam]
		if ok && !contains(unavailable, examCol) && in.Statuses[examCol] == Authorized {
			d := Decision{Outcome: ExamAuthorized, Columns: []int{examCol}}
			if !IsExamPlus(in.PlanName) {
				d.Abort = true
				d.Reason = fmt.Sprintf("exam authorized but materials unavailable on plan %q", in.PlanName)
			}
			return d
		}
		return Decision{
			Outcome: NotAvailable,
			Columns: unavailable,
			Abort:   true,
			Reason:  fmt.Sprintf("service columns %v unavailable", unavailable),
		}
	}

	var authorized []int
	for col, st := range in.Statuses {
		if st == Authorized {
			authorized = append(authorized, col)
		}
	}
	sort.Ints(authorized)

	if equalInts(authorized, desired) {
		return Decision{Outcome: UseExisting, Columns: desired}
	}
	for _, col := range authorized {
		if contains(desired, col) {
			return Decision{Outcome: DeleteExisting, Columns: authorized}
		}
	}

	var issue []int
	for _, col := range desired {
		if in.Statuses[col] == Available {
			issue = append(issue, col)
		}
	}
	return Decision{Outcome: Issue, Columns: issue}
}

// IsExamPlus reports whether the plan may claim an exam without materials.
func IsExamPlus(plan string) bool {
	return strings.EqualFold(strings.TrimSpace(plan), claim.ExamPlusPlan)
}

func uniqueSorted(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
