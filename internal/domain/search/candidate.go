// Package search builds the ordered list of member-search tuples probed
// against the payer portal for one patient.
package search

import (
	"errors"
	"fmt"
	"strings"

	"github.com/claimbot/claimbot/internal/domain/normalize"
)

// Kind is the shape of a candidate, in emission priority order.
type Kind int

const (
	KindMemberID Kind = iota
	KindNameDOB
	KindNameLast4
)

func (k Kind) String() string {
	switch k {
	case KindMemberID:
		return "member_id"
	case KindNameDOB:
		return "name_dob"
	case KindNameLast4:
		return "name_last4"
	}
	return "unknown"
}

// ErrInvalidCandidate is returned when a candidate matches none of the three
// accepted shapes.
var ErrInvalidCandidate = errors.New("invalid search candidate")

// Candidate is one payer member-search tuple. Exactly one of the three shapes
// is populated; DOS is always present.
type Candidate struct {
	DOS       string `json:"dos"`
	MemberID  string `json:"member_id,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	DOB       string `json:"dob,omitempty"`
	SSNLast4  string `json:"ssn_last4,omitempty"`
}

// Kind classifies the candidate by its populated fields.
func (c Candidate) Kind() Kind {
	switch {
	case c.MemberID != "":
		return KindMemberID
	case c.DOB != "":
		return KindNameDOB
	}
	return KindNameLast4
}

// Validate checks that the candidate is exactly one of the accepted shapes.
func (c Candidate) Validate() error {
	if strings.TrimSpace(c.DOS) == "" {
		return fmt.Errorf("%w: dos is required", ErrInvalidCandidate)
	}
	hasName := c.FirstName != "" || c.LastName != ""
	switch {
	case c.MemberID != "":
		if hasName || c.DOB != "" || c.SSNLast4 != "" {
			return fmt.Errorf("%w: member_id must stand alone", ErrInvalidCandidate)
		}
		if len(c.MemberID) < 9 {
			return fmt.Errorf("%w: member_id shorter than 9 characters", ErrInvalidCandidate)
		}
	case c.DOB != "":
		if c.FirstName == "" || c.LastName == "" || c.SSNLast4 != "" {
			return fmt.Errorf("%w: name+dob needs first, last and no ssn", ErrInvalidCandidate)
		}
		if _, ok := normalize.ParseDate(c.DOB); !ok {
			return fmt.Errorf("%w: dob %q", ErrInvalidCandidate, c.DOB)
		}
	case c.SSNLast4 != "":
		if c.FirstName == "" || c.LastName == "" {
			return fmt.Errorf("%w: name+last4 needs first and last", ErrInvalidCandidate)
		}
		if len(c.SSNLast4) != 4 || !normalize.IsDigits(c.SSNLast4) {
			return fmt.Errorf("%w: ssn_last4 must be exactly 4 digits", ErrInvalidCandidate)
		}
	default:
		return fmt.Errorf("%w: no identifying fields", ErrInvalidCandidate)
	}
	return nil
}

// Key is the key-sorted tuple used for equality. Names compare
// case-insensitively.
func (c Candidate) Key() string {
	parts := []string{"dob=" + c.DOB, "dos=" + c.DOS}
	if c.FirstName != "" {
		parts = append(parts, "first_name="+strings.ToLower(c.FirstName))
	}
	if c.LastName != "" {
		parts = append(parts, "last_name="+strings.ToLower(c.LastName))
	}
	parts = append(parts, "member_id="+c.MemberID, "ssn_last4="+c.SSNLast4)
	return strings.Join(parts, "&")
}

func (c Candidate) String() string {
	switch c.Kind() {
	case KindMemberID:
		return fmt.Sprintf("member_id(%s)", c.MemberID)
	case KindNameDOB:
		return fmt.Sprintf("name_dob(%s %s %s)", c.FirstName, c.LastName, c.DOB)
	}
	return fmt.Sprintf("name_last4(%s %s %s)", c.FirstName, c.LastName, c.SSNLast4)
}
