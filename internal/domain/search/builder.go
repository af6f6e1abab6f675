package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/claimbot/claimbot/internal/domain/normalize"
	"github.com/claimbot/claimbot/internal/domain/patient"
)

// ErrMissingDOS is returned when the patient has no insurance date of service.
var ErrMissingDOS = errors.New("insurance date of service is required for member search")

// Filter post-processes the candidate list, e.g. through an LLM. A filter may
// reorder or drop candidates but never invent new ones.
type Filter interface {
	FilterCandidates(ctx context.Context, candidates []Candidate) ([]Candidate, error)
}

// Words that mark a plan name as a product rather than a person.
var planVocabulary = map[string]bool{
	"vsp": true, "plan": true, "choice": true, "signature": true, "exam": true,
	"plus": true, "advantage": true, "enhanced": true, "basic": true,
	"vision": true, "insurance": true, "network": true, "care": true,
}

// Insurance keys whose values are dates and never member identifiers.
var dateKeys = map[string]bool{"dos": true, "dob": true}

type nameTriple struct {
	first string
	last  string
	dob   string
	born  time.Time
	dated bool
}

func (n nameTriple) pairKey() string {
	return normalize.NameKey(n.first) + "|" + normalize.NameKey(n.last)
}

func (n nameTriple) key() string {
	return n.pairKey() + "|" + n.dob
}

// Build enumerates the member-search candidates for p in priority order:
// full member ids, then name+DOB (oldest first), then name+last4.
func Build(p *patient.Patient) ([]Candidate, error) {
	dos := strings.TrimSpace(p.Insurance.DOS)
	if dos == "" {
		return nil, ErrMissingDOS
	}

	fullIDs, last4 := idPool(p.Insurance.StringValues())
	triples := nameTriples(p)

	var out []Candidate
	seen := make(map[string]bool)
	emit := func(c Candidate) {
		k := c.Key()
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, c)
	}

	for _, id := range fullIDs {
		emit(Candidate{DOS: dos, MemberID: id})
	}
	for _, n := range triples {
		if n.dated {
			emit(Candidate{DOS: dos, FirstName: n.first, LastName: n.last, DOB: n.dob})
		}
	}
	for _, n := range uniquePairs(triples) {
		for _, l4 := range last4 {
			emit(Candidate{DOS: dos, FirstName: n.first, LastName: n.last, SSNLast4: l4})
		}
	}
	return out, nil
}

// ApplyFilter runs the optional filter over candidates. The returned list is
// always usable: on any filter failure it is the unfiltered input and err
// reports why the filter was skipped.
func ApplyFilter(ctx context.Context, candidates []Candidate, f Filter) ([]Candidate, error) {
	if f == nil || len(candidates) == 0 {
		return candidates, nil
	}
	filtered, err := f.FilterCandidates(ctx, candidates)
	if err != nil {
		return candidates, err
	}
	if err := Restrict(candidates, filtered); err != nil {
		return candidates, err
	}
	if len(filtered) == 0 {
		return candidates, ErrEmptyFilterResult
	}
	return filtered, nil
}

// ErrEmptyFilterResult is returned when a filter drops every candidate.
var ErrEmptyFilterResult = errors.New("filter returned no candidates")

// ErrUnknownCandidate is returned when a filtered list contains a tuple that
// was not in the input.
var ErrUnknownCandidate = errors.New("filtered candidate not present in input")

// Restrict checks that every filtered candidate is well formed and was
// present in the original list.
func Restrict(original, filtered []Candidate) error {
	known := make(map[string]bool, len(original))
	for _, c := range original {
		known[c.Key()] = true
	}
	for _, c := range filtered {
		if err := c.Validate(); err != nil {
			return err
		}
		if !known[c.Key()] {
			return ErrUnknownCandidate
		}
	}
	return nil
}

// idPool collects digit runs of at least four digits from the insurance
// values. Runs of nine or more are full member ids; every run contributes its
// last four digits.
func idPool(values map[string]string) (fullIDs, last4 []string) {
	fullSeen := make(map[string]bool)
	l4Seen := make(map[string]bool)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := values[k]
		if dateKeys[k] || normalize.LooksLikeDate(v) {
			continue
		}
		for _, run := range normalize.DigitRuns(v, 4) {
			if len(run) >= 9 && !fullSeen[run] {
				fullSeen[run] = true
				fullIDs = append(fullIDs, run)
			}
			if l4 := normalize.Last4(run); l4 != "" && !l4Seen[l4] {
				l4Seen[l4] = true
				last4 = append(last4, l4)
			}
		}
	}
	sort.Slice(fullIDs, func(i, j int) bool {
		if len(fullIDs[i]) != len(fullIDs[j]) {
			return len(fullIDs[i]) < len(fullIDs[j])
		}
		return fullIDs[i] < fullIDs[j]
	})
	sort.Strings(last4)
	return fullIDs, last4
}

// nameTriples harvests every unique name/DOB triple, dated triples first
// ordered by DOB ascending, then undated triples in discovery order.
func nameTriples(p *patient.Patient) []nameTriple {
	var raw []nameTriple
	add := func(first, last, dob string) {
		first = normalize.Name(first)
		last = normalize.Name(last)
		if first == "" || last == "" {
			return
		}
		n := nameTriple{first: first, last: last}
		if d, ok := normalize.SearchDOB(dob); ok {
			n.dob = d
			n.born, n.dated = normalize.ParseDate(d)
		}
		raw = append(raw, n)
	}

	add(p.FirstName, p.LastName, p.DateOfBirth())
	if first, last, ok := normalize.PolicyHolder(p.Insurance.PolicyHolder); ok {
		add(first, last, p.Insurance.PolicyHolderDOB)
	}
	if first, last, ok := planHolderName(p.Insurance.PlanName); ok {
		add(first, last, "")
	}
	for _, c := range p.Insurance.SearchCombinations {
		add(c.FirstName, c.LastName, c.DOB)
	}
	for _, f := range p.Family {
		add(f.FirstName, f.LastName, f.DOB)
	}

	seen := make(map[string]bool)
	var unique []nameTriple
	for _, n := range raw {
		if seen[n.key()] {
			continue
		}
		seen[n.key()] = true
		unique = append(unique, n)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		a, b := unique[i], unique[j]
		if a.dated != b.dated {
			return a.dated
		}
		if !a.dated {
			return false
		}
		return a.born.Before(b.born)
	})
	return unique
}

func uniquePairs(triples []nameTriple) []nameTriple {
	seen := make(map[string]bool)
	var out []nameTriple
	for _, n := range triples {
		if seen[n.pairKey()] {
			continue
		}
		seen[n.pairKey()] = true
		out = append(out, n)
	}
	return out
}

// planHolderName reads a plan-name field as "First Last" when it looks like a
// person: a space, no digits, and no plan vocabulary.
func planHolderName(plan string) (first, last string, ok bool) {
	plan = strings.TrimSpace(plan)
	if !strings.Contains(plan, " ") || normalize.HasDigit(plan) {
		return "", "", false
	}
	fields := strings.Fields(normalize.Name(plan))
	if len(fields) < 2 {
		return "", "", false
	}
	for _, f := range fields {
		if planVocabulary[strings.ToLower(f)] {
			return "", "", false
		}
	}
	return fields[0], fields[len(fields)-1], true
}
