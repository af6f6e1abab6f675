// Package patient holds the in-memory record of one patient-invoice pair as it
// is filled by the EHR scrape phases and read back while completing the payer
// claim form.
package patient

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/claimbot/claimbot/internal/domain/normalize"
)

var (
	ErrMissingName = errors.New("patient first and last name are required")
	ErrMissingDOS  = errors.New("insurance date of service is required")
)

// Person is a name/DOB triple, used for family members and explicit search
// combinations.
type Person struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	DOB       string `json:"dob,omitempty"`
}

// Billing carries the values computed from the aggregate right before the
// claim form is filled.
type Billing struct {
	Copay        decimal.Decimal `json:"copay"`
	DoctorID     string          `json:"doctor_id"`
	Diagnosis    string          `json:"diagnosis"`
	ContactUnits int             `json:"contact_units"`
	ExamOnly     bool            `json:"exam_only"`
}

// Patient is the aggregate root of one claim submission.
type Patient struct {
	InvoiceID string `json:"invoice_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	dob       string

	Insurance    Insurance    `json:"insurance"`
	Demographics Demographics `json:"demographics"`
	Medical      Medical      `json:"medical"`
	Frame        Frame        `json:"frame"`
	Lens         Lens         `json:"lens"`
	Contacts     Contacts     `json:"contacts"`

	Claims []ClaimItem `json:"claims"`
	Family []Person    `json:"family,omitempty"`

	HasOpticalOrder     bool    `json:"has_optical_order"`
	HasFrame            bool    `json:"has_frame"`
	Success             bool    `json:"success"`
	AuthorizationNumber string  `json:"authorization_number,omitempty"`
	Billing             Billing `json:"billing"`
}

// New creates an empty aggregate for an invoice. Identity is filled by the
// invoice-details scrape.
func New(invoiceID string) *Patient {
	return &Patient{InvoiceID: invoiceID}
}

// SetName stores the cleaned first and last name.
func (p *Patient) SetName(first, last string) {
	p.FirstName = normalize.Name(first)
	p.LastName = normalize.Name(last)
}

// SetDateOfBirth normalizes and stores the date of birth. Accepts MM/DD/YYYY
// or YYYY-MM-DD.
func (p *Patient) SetDateOfBirth(s string) error {
	dob, err := normalize.DOB(s)
	if err != nil {
		return err
	}
	p.dob = dob
	return nil
}

// DateOfBirth returns the normalized MM/DD/YYYY date of birth, or "".
func (p *Patient) DateOfBirth() string { return p.dob }

// DateOfBirthTime is the parsed view of DateOfBirth.
func (p *Patient) DateOfBirthTime() (time.Time, bool) {
	if p.dob == "" {
		return time.Time{}, false
	}
	return normalize.ParseDate(p.dob)
}

// IdentityKey is the (last, first, DOB) deduplication key. It is empty until
// the DOB is known.
func (p *Patient) IdentityKey() string {
	if p.dob == "" {
		return ""
	}
	return strings.Join([]string{normalize.NameKey(p.LastName), normalize.NameKey(p.FirstName), p.dob}, "|")
}

// FullName returns "First Last".
func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Validate checks the identity invariant.
func (p *Patient) Validate() error {
	if p.FirstName == "" || p.LastName == "" {
		return ErrMissingName
	}
	return nil
}

// ReadyForClaim checks the invariants required before submitting a claim.
func (p *Patient) ReadyForClaim() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Insurance.DOS) == "" {
		return ErrMissingDOS
	}
	return nil
}

// AddClaimItem validates and appends a claim line.
func (p *Patient) AddClaimItem(item ClaimItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	p.Claims = append(p.Claims, item)
	return nil
}

// AddFamilyMember records a family member triple scraped from the patient page.
func (p *Patient) AddFamilyMember(first, last, dob string) {
	p.Family = append(p.Family, Person{
		FirstName: normalize.Name(first),
		LastName:  normalize.Name(last),
		DOB:       strings.TrimSpace(dob),
	})
}

// ClearMaterials drops the optical-order flags so only exam services are
// claimed.
func (p *Patient) ClearMaterials() {
	p.HasOpticalOrder = false
	p.HasFrame = false
}

func (p *Patient) GetInsurance(key string) string { return p.Insurance.Get(key) }
func (p *Patient) AddInsurance(key, value string) { p.Insurance.Set(key, value) }
func (p *Patient) GetDemographics(key string) string { return p.Demographics.Get(key) }
func (p *Patient) AddDemographics(key, value string) { p.Demographics.Set(key, value) }
func (p *Patient) GetMedicalData(key string) string { return p.Medical.Get(key) }
func (p *Patient) AddMedicalData(key, value string) { p.Medical.Set(key, value) }
func (p *Patient) GetFrames(key string) string { return p.Frame.Get(key) }
func (p *Patient) AddFrames(key, value string) { p.Frame.Set(key, value) }
func (p *Patient) GetLenses(key string) string { return p.Lens.Get(key) }
func (p *Patient) AddLenses(key, value string) { p.Lens.Set(key, value) }
func (p *Patient) GetContacts(key string) string { return p.Contacts.Get(key) }
func (p *Patient) AddContacts(key, value string) { p.Contacts.Set(key, value) }

// Session binds one Patient to a browser session for the lifetime of an
// invoice.
type Session struct {
	SessionID string
	Cookies   []*http.Cookie
	Patient   *Patient
}

// NewSession creates a session with a fresh identifier.
func NewSession(p *Patient) *Session {
	return &Session{SessionID: uuid.New().String(), Patient: p}
}
