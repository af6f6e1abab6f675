package authorization

import (
	"reflect"
	"testing"

	"github.com/claimbot/claimbot/internal/domain/claim"
)

func TestNormalizeLabel(t *testing.T) {
	tests := map[string]string{
		"Exam":                   "exam",
		"Contact Lens\nServices": "contact_lens_service",
		"Lenses":                 "lens",
		"Frame/Frames":           "frame_frame",
		"  Contact-Lenses\t":     "contact_lens",
		"":                       "",
	}
	for in, want := range tests {
		if got := NormalizeLabel(in); got != want {
			t.Errorf("NormalizeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalLabel(t *testing.T) {
	tests := []struct {
		label string
		want  claim.Service
		ok    bool
	}{
		{"Exam", claim.Exam, true},
		{"Eye Exams", claim.Exam, true},
		{"Contact Lens Services", claim.ContactService, true},
		{"Contact Lens Exam", claim.ContactService, true},
		{"Lenses", claim.Lens, true},
		{"Frames", claim.Frame, true},
		{"Contact Lenses", claim.Contacts, true},
		{"Contacts", claim.Contacts, true},
		{"Coverage Period", "", false},
	}
	for _, tt := range tests {
		got, ok := CanonicalLabel(tt.label)
		if got != tt.want || ok != tt.ok {
			t.Errorf("CanonicalLabel(%q) = (%q, %v), want (%q, %v)", tt.label, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIndexMapFromLabels_FirstMatchWins(t *testing.T) {
	got := IndexMapFromLabels([]string{"Exam", "Contact Lens Services", "Lenses", "Frames", "Contact Lenses", "Exam"})
	want := map[claim.Service]int{
		claim.Exam: 0, claim.ContactService: 1, claim.Lens: 2, claim.Frame: 3, claim.Contacts: 4,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IndexMapFromLabels = %v, want %v", got, want)
	}
}

func TestDesiredColumns(t *testing.T) {
	index := map[claim.Service]int{claim.Exam: 0, claim.Lens: 2, claim.Frame: 3}
	cols, missing := DesiredColumns(claim.NewServiceSet(claim.Frame, claim.Exam, claim.Contacts), index)
	if !reflect.DeepEqual(cols, []int{0, 3}) {
		t.Errorf("cols = %v", cols)
	}
	if !reflect.DeepEqual(missing, []claim.Service{claim.Contacts}) {
		t.Errorf("missing = %v", missing)
	}
}

var defaultIndex = map[claim.Service]int{claim.Exam: 0, claim.ContactService: 1, claim.Lens: 2, claim.Frame: 3}

func TestDecide_IssueIgnoresUnrelatedAuthorization(t *testing.T) {
	d := Decide(Input{
		Desired:  []int{0, 2},
		Statuses: map[int]Status{0: Available, 1: Authorized, 2: Available},
		Index:    defaultIndex,
		PlanName: "VSP Choice",
	})
	if d.Outcome != Issue || d.Abort {
		t.Fatalf("outcome = %+v, want issue", d)
	}
	if !reflect.DeepEqual(d.Columns, []int{0, 2}) {
		t.Errorf("columns = %v, want [0 2]", d.Columns)
	}
}

func TestDecide_DeleteExisting(t *testing.T) {
	d := Decide(Input{
		Desired:  []int{0, 2},
		Statuses: map[int]Status{0: Authorized, 1: Unavailable, 2: Available, 3: Authorized},
		Index:    defaultIndex,
	})
	if d.Outcome != DeleteExisting || d.Abort {
		t.Errorf("outcome = %+v, want delete_existing", d)
	}
}

func TestDecide_ExamAuthorizedOnExamPlus(t *testing.T) {
	in := Input{
		Desired:  []int{0, 2, 3},
		Statuses: map[int]Status{0: Authorized, 2: Unavailable, 3: Unavailable},
		Index:    defaultIndex,
		PlanName: "VSP Exam Plus Plan",
	}
	d := Decide(in)
	if d.Outcome != ExamAuthorized || d.Abort {
		t.Fatalf("outcome = %+v, want actionable exam_authorized", d)
	}

	in.PlanName = "VSP Choice"
	d = Decide(in)
	if d.Outcome != ExamAuthorized || !d.Abort || d.Reason == "" {
		t.Errorf("non exam-plus plan must abort: %+v", d)
	}
}

func TestDecide_UseExisting(t *testing.T) {
	d := Decide(Input{
		Desired:  []int{2, 0},
		Statuses: map[int]Status{0: Authorized, 1: Available, 2: Authorized},
		Index:    defaultIndex,
	})
	if d.Outcome != UseExisting {
		t.Errorf("outcome = %s, want use_existing", d.Outcome)
	}
}

func TestDecide_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"nothing desired", Input{Statuses: map[int]Status{0: Available}, Index: defaultIndex}},
		{"exam unavailable", Input{
			Desired:  []int{0, 2},
			Statuses: map[int]Status{0: Unavailable, 2: Available},
			Index:    defaultIndex,
		}},
		{"exam only available", Input{
			Desired:  []int{0, 2},
			Statuses: map[int]Status{0: Available, 2: Unavailable},
			Index:    defaultIndex,
			PlanName: "VSP Exam Plus Plan",
		}},
		{"missing status", Input{
			Desired:  []int{0, 4},
			Statuses: map[int]Status{0: Available},
			Index:    defaultIndex,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.in)
			if d.Outcome != NotAvailable || !d.Abort {
				t.Errorf("outcome = %+v, want aborting unavailable", d)
			}
		})
	}
}

func TestDecide_TotalAndDeterministic(t *testing.T) {
	valid := map[Outcome]bool{UseExisting: true, DeleteExisting: true, Issue: true, ExamAuthorized: true, NotAvailable: true}
	states := []Status{Available, Unavailable, Authorized}
	plans := []string{"", "VSP Exam Plus Plan", "VSP Signature"}
	desiredSets := [][]int{nil, {0}, {0, 2}, {1, 2, 3}, {0, 1, 2, 3}}

	for _, plan := range plans {
		for _, desired := range desiredSets {
			// every status assignment for columns 0..3
			for mask := 0; mask < 81; mask++ {
				statuses := make(map[int]Status, 4)
				m := mask
				for col := 0; col < 4; col++ {
					statuses[col] = states[m%3]
					m /= 3
				}
				in := Input{Desired: desired, Statuses: statuses, Index: defaultIndex, PlanName: plan}
				a, b := Decide(in), Decide(in)
				if !valid[a.Outcome] {
					t.Fatalf("invalid outcome %q for %+v", a.Outcome, in)
				}
				if !reflect.DeepEqual(a, b) {
					t.Fatalf("non-deterministic decision for %+v", in)
				}
			}
		}
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"Available":     Available,
		" AUTHORIZED ":  Authorized,
		"Unavailable":   Unavailable,
		"Not Available": Unavailable,
		"":              Unavailable,
	}
	for in, want := range tests {
		if got := ParseStatus(in); got != want {
			t.Errorf("ParseStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
