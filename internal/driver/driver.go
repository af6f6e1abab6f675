// Package driver declares the collaborators the claim workflow drives: the
// EHR, the payer portal, the candidate filter, the clock and the artifact
// store. Concrete browser drivers live in internal/ehr and internal/payer.
package driver

import (
	"context"
	"time"

	"github.com/claimbot/claimbot/internal/domain/authorization"
	"github.com/claimbot/claimbot/internal/domain/claim"
	"github.com/claimbot/claimbot/internal/domain/patient"
	"github.com/claimbot/claimbot/internal/domain/search"
)

// InvoiceQuery narrows the EHR invoice dashboard search. Zero fields are not
// applied.
type InvoiceQuery struct {
	InvoiceNumber string
	Payor         string
	From          time.Time
	To            time.Time
}

// EHR drives the practice management system.
type EHR interface {
	Login(ctx context.Context) error
	NavigateToInvoiceDashboard(ctx context.Context) error
	SearchInvoice(ctx context.Context, q InvoiceQuery) error
	InvoiceResults(ctx context.Context) ([]string, error)
	OpenInvoice(ctx context.Context, invoiceID string) (bool, error)
	CloseInvoiceTabs(ctx context.Context, invoiceID string) error
	CheckForDocument(ctx context.Context) (bool, error)

	ScrapeInvoiceDetails(ctx context.Context, p *patient.Patient) error
	ClickPatientNameLink(ctx context.Context) error
	ScrapeDemographics(ctx context.Context, p *patient.Patient) error
	ScrapeFamilyDemographics(ctx context.Context, p *patient.Patient) error
	ExpandInsurance(ctx context.Context) error
	SelectInsurance(ctx context.Context, name string) (bool, error)
	ScrapeInsurance(ctx context.Context, p *patient.Patient) error
	ExpandOpticalOrders(ctx context.Context) error
	OpenOpticalOrder(ctx context.Context, p *patient.Patient) error
	ScrapeFrameData(ctx context.Context, p *patient.Patient) error
	ScrapeLensData(ctx context.Context, p *patient.Patient) error
	ScrapeOpticalCopay(ctx context.Context, p *patient.Patient) error
	GetWholesalePrice(ctx context.Context, p *patient.Patient) error

	UploadDocument(ctx context.Context, path string) error
	NavigatePatientPage(ctx context.Context) error
	ClosePatientTab(ctx context.Context) error
}

// Location selects which practice login is used on the payer portal.
type Location string

const (
	LocationPrimary Location = "primary"
	LocationBorger  Location = "borger"
)

// Payer drives the vision-plan portal.
type Payer interface {
	Login(ctx context.Context, loc Location) error
	NavigateToMemberSearch(ctx context.Context) error
	SearchMember(ctx context.Context, c search.Candidate) (bool, error)

	NavigateToAuthorizations(ctx context.Context) error
	SelectPatient(ctx context.Context, p *patient.Patient) (bool, error)
	SelectAuthorization(ctx context.Context, p *patient.Patient) (bool, error)
	DeleteAuthorization(ctx context.Context, p *patient.Patient) (bool, error)
	GetServiceIndexMap(ctx context.Context) (map[claim.Service]int, error)
	GetServiceStatuses(ctx context.Context) (map[int]authorization.Status, error)
	IsExamAuthorized(ctx context.Context) (bool, error)
	SelectServices(ctx context.Context, columns []int) (bool, error)
	IssueAuthorization(ctx context.Context) (bool, error)
	GetConfirmationNumber(ctx context.Context) (string, error)
	GetPlanName(ctx context.Context, p *patient.Patient) (string, error)

	NavigateToClaim(ctx context.Context) error
	SetDOS(ctx context.Context, p *patient.Patient) error
	SetDoctor(ctx context.Context, p *patient.Patient) error
	SubmitExam(ctx context.Context, p *patient.Patient) error
	SubmitCL(ctx context.Context, p *patient.Patient) error
	SubmitFrame(ctx context.Context, p *patient.Patient) error
	SubmitLens(ctx context.Context, p *patient.Patient) error
	SendRx(ctx context.Context, p *patient.Patient) error
	DiseaseReporting(ctx context.Context, p *patient.Patient) error
	Calculate(ctx context.Context, p *patient.Patient) error
	FillPricing(ctx context.Context, p *patient.Patient) error
	FillCopayAndFSA(ctx context.Context, p *patient.Patient) error
	SetGender(ctx context.Context, p *patient.Patient) error
	FillAddress(ctx context.Context, p *patient.Patient) error
	ClickSubmitClaim(ctx context.Context) (bool, error)

	// LastScreenshotPath is the confirmation artifact captured after submit.
	LastScreenshotPath() string
}

// CandidateFilter reorders or narrows member-search candidates.
type CandidateFilter interface {
	FilterCandidates(ctx context.Context, candidates []search.Candidate) ([]search.Candidate, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ArtifactStore keeps confirmation artifacts for submitted claims.
type ArtifactStore interface {
	Save(ctx context.Context, invoiceID, srcPath string) (string, error)
}
