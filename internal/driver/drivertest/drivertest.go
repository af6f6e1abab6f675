// Package drivertest provides recording fakes of the driver contracts for
// workflow and batch tests.
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/claimbot/claimbot/internal/domain/authorization"
	"github.com/claimbot/claimbot/internal/domain/claim"
	"github.com/claimbot/claimbot/internal/domain/patient"
	"github.com/claimbot/claimbot/internal/domain/search"
	"github.com/claimbot/claimbot/internal/driver"
)

// ErrInjected is returned by a fake method listed in Errs with a nil error.
var ErrInjected = errors.New("injected driver failure")

// recorder is shared by both fakes.
type recorder struct {
	mu    sync.Mutex
	Calls []string
	// Errs maps a method name to the error it returns.
	Errs map[string]error
	// PanicOn makes the named method panic.
	PanicOn string
}

func (r *recorder) call(name string) error {
	r.mu.Lock()
	r.Calls = append(r.Calls, name)
	r.mu.Unlock()
	if r.PanicOn == name {
		panic(fmt.Sprintf("fake %s panicked", name))
	}
	if err, ok := r.Errs[name]; ok {
		if err == nil {
			return ErrInjected
		}
		return err
	}
	return nil
}

// Called reports whether name was invoked.
func (r *recorder) Called(name string) bool {
	return r.Count(name) > 0
}

// Count returns how many times name was invoked.
func (r *recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.Calls {
		if c == name {
			n++
		}
	}
	return n
}

// Position returns the index of the first call to name, or -1.
func (r *recorder) Position(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.Calls {
		if c == name {
			return i
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// EHR
// ---------------------------------------------------------------------------

// EHR is a scripted driver.EHR.
type EHR struct {
	recorder

	// Results is returned by InvoiceResults.
	Results []string
	// Documents marks invoices that already carry a document.
	Documents map[string]bool
	// Missing marks invoices OpenInvoice cannot find.
	Missing map[string]bool
	// Fill populates the patient during ScrapeInvoiceDetails.
	Fill func(p *patient.Patient)
	// InsuranceFound is returned by SelectInsurance.
	InsuranceFound bool

	Uploaded []string
	Queries  []driver.InvoiceQuery
	current  string
}

var _ driver.EHR = (*EHR)(nil)

func NewEHR() *EHR {
	return &EHR{
		recorder:       recorder{Errs: map[string]error{}},
		Documents:      map[string]bool{},
		Missing:        map[string]bool{},
		InsuranceFound: true,
	}
}

func (f *EHR) Login(context.Context) error { return f.call("Login") }

func (f *EHR) NavigateToInvoiceDashboard(context.Context) error {
	return f.call("NavigateToInvoiceDashboard")
}

func (f *EHR) SearchInvoice(_ context.Context, q driver.InvoiceQuery) error {
	f.Queries = append(f.Queries, q)
	return f.call("SearchInvoice")
}

func (f *EHR) InvoiceResults(context.Context) ([]string, error) {
	if err := f.call("InvoiceResults"); err != nil {
		return nil, err
	}
	return append([]string(nil), f.Results...), nil
}

func (f *EHR) OpenInvoice(_ context.Context, id string) (bool, error) {
	if err := f.call("OpenInvoice"); err != nil {
		return false, err
	}
	if err := f.call("OpenInvoice:" + id); err != nil {
		return false, err
	}
	if f.Missing[id] {
		return false, nil
	}
	f.current = id
	return true, nil
}

func (f *EHR) CloseInvoiceTabs(_ context.Context, id string) error {
	f.current = ""
	return f.call("CloseInvoiceTabs")
}

func (f *EHR) CheckForDocument(context.Context) (bool, error) {
	if err := f.call("CheckForDocument"); err != nil {
		return false, err
	}
	return f.Documents[f.current], nil
}

func (f *EHR) ScrapeInvoiceDetails(_ context.Context, p *patient.Patient) error {
	if err := f.call("ScrapeInvoiceDetails"); err != nil {
		return err
	}
	if f.Fill != nil {
		f.Fill(p)
	}
	return nil
}

func (f *EHR) ClickPatientNameLink(context.Context) error { return f.call("ClickPatientNameLink") }

func (f *EHR) ScrapeDemographics(context.Context, *patient.Patient) error {
	return f.call("ScrapeDemographics")
}

func (f *EHR) ScrapeFamilyDemographics(context.Context, *patient.Patient) error {
	return f.call("ScrapeFamilyDemographics")
}

func (f *EHR) ExpandInsurance(context.Context) error { return f.call("ExpandInsurance") }

func (f *EHR) SelectInsurance(context.Context, string) (bool, error) {
	if err := f.call("SelectInsurance"); err != nil {
		return false, err
	}
	return f.InsuranceFound, nil
}

func (f *EHR) ScrapeInsurance(context.Context, *patient.Patient) error {
	return f.call("ScrapeInsurance")
}

func (f *EHR) ExpandOpticalOrders(context.Context) error { return f.call("ExpandOpticalOrders") }

func (f *EHR) OpenOpticalOrder(context.Context, *patient.Patient) error {
	return f.call("OpenOpticalOrder")
}

func (f *EHR) ScrapeFrameData(context.Context, *patient.Patient) error {
	return f.call("ScrapeFrameData")
}

func (f *EHR) ScrapeLensData(context.Context, *patient.Patient) error {
	return f.call("ScrapeLensData")
}

func (f *EHR) ScrapeOpticalCopay(context.Context, *patient.Patient) error {
	return f.call("ScrapeOpticalCopay")
}

func (f *EHR) GetWholesalePrice(context.Context, *patient.Patient) error {
	return f.call("GetWholesalePrice")
}

func (f *EHR) UploadDocument(_ context.Context, path string) error {
	if err := f.call("UploadDocument"); err != nil {
		return err
	}
	f.Uploaded = append(f.Uploaded, path)
	return nil
}

func (f *EHR) NavigatePatientPage(context.Context) error { return f.call("NavigatePatientPage") }

func (f *EHR) ClosePatientTab(context.Context) error { return f.call("ClosePatientTab") }

// ---------------------------------------------------------------------------
// Payer
// ---------------------------------------------------------------------------

// Payer is a scripted driver.Payer.
type Payer struct {
	recorder

	// Match decides whether a member search hits. Nil matches nothing.
	Match func(c search.Candidate) bool
	// Index is returned by GetServiceIndexMap.
	Index map[claim.Service]int
	// Statuses are returned by successive GetServiceStatuses calls; the last
	// entry repeats.
	Statuses []map[int]authorization.Status
	Plan     string
	// Confirmation is returned by GetConfirmationNumber.
	Confirmation string
	// Reject makes the named bool-returning method return false.
	Reject map[string]bool
	// Screenshot is returned by LastScreenshotPath after a submit.
	Screenshot string

	Searched []search.Candidate
	Selected [][]int
	// Seen captures the patient passed to FillCopayAndFSA.
	Seen        *patient.Patient
	statusReads int
	submitted   bool
}

var _ driver.Payer = (*Payer)(nil)

func NewPayer() *Payer {
	return &Payer{
		recorder: recorder{Errs: map[string]error{}},
		Reject:   map[string]bool{},
	}
}

func (f *Payer) boolCall(name string) (bool, error) {
	if err := f.call(name); err != nil {
		return false, err
	}
	return !f.Reject[name], nil
}

func (f *Payer) Login(context.Context, driver.Location) error { return f.call("Login") }

func (f *Payer) NavigateToMemberSearch(context.Context) error {
	return f.call("NavigateToMemberSearch")
}

func (f *Payer) SearchMember(_ context.Context, c search.Candidate) (bool, error) {
	f.Searched = append(f.Searched, c)
	if err := f.call("SearchMember"); err != nil {
		return false, err
	}
	return f.Match != nil && f.Match(c), nil
}

func (f *Payer) NavigateToAuthorizations(context.Context) error {
	return f.call("NavigateToAuthorizations")
}

func (f *Payer) SelectPatient(context.Context, *patient.Patient) (bool, error) {
	return f.boolCall("SelectPatient")
}

func (f *Payer) SelectAuthorization(context.Context, *patient.Patient) (bool, error) {
	return f.boolCall("SelectAuthorization")
}

func (f *Payer) DeleteAuthorization(context.Context, *patient.Patient) (bool, error) {
	return f.boolCall("DeleteAuthorization")
}

func (f *Payer) GetServiceIndexMap(context.Context) (map[claim.Service]int, error) {
	if err := f.call("GetServiceIndexMap"); err != nil {
		return nil, err
	}
	return f.Index, nil
}

func (f *Payer) GetServiceStatuses(context.Context) (map[int]authorization.Status, error) {
	if err := f.call("GetServiceStatuses"); err != nil {
		return nil, err
	}
	if len(f.Statuses) == 0 {
		return map[int]authorization.Status{}, nil
	}
	i := f.statusReads
	if i >= len(f.Statuses) {
		i = len(f.Statuses) - 1
	}
	f.statusReads++
	return f.Statuses[i], nil
}

func (f *Payer) IsExamAuthorized(context.Context) (bool, error) {
	return f.boolCall("IsExamAuthorized")
}

func (f *Payer) SelectServices(_ context.Context, cols []int) (bool, error) {
	f.Selected = append(f.Selected, append([]int(nil), cols...))
	return f.boolCall("SelectServices")
}

func (f *Payer) IssueAuthorization(context.Context) (bool, error) {
	return f.boolCall("IssueAuthorization")
}

func (f *Payer) GetConfirmationNumber(context.Context) (string, error) {
	if err := f.call("GetConfirmationNumber"); err != nil {
		return "", err
	}
	return f.Confirmation, nil
}

func (f *Payer) GetPlanName(context.Context, *patient.Patient) (string, error) {
	if err := f.call("GetPlanName"); err != nil {
		return "", err
	}
	return f.Plan, nil
}

func (f *Payer) NavigateToClaim(context.Context) error { return f.call("NavigateToClaim") }

func (f *Payer) SetDOS(context.Context, *patient.Patient) error    { return f.call("SetDOS") }
func (f *Payer) SetDoctor(context.Context, *patient.Patient) error { return f.call("SetDoctor") }
func (f *Payer) SubmitExam(context.Context, *patient.Patient) error {
	return f.call("SubmitExam")
}
func (f *Payer) SubmitCL(context.Context, *patient.Patient) error    { return f.call("SubmitCL") }
func (f *Payer) SubmitFrame(context.Context, *patient.Patient) error { return f.call("SubmitFrame") }
func (f *Payer) SubmitLens(context.Context, *patient.Patient) error  { return f.call("SubmitLens") }
func (f *Payer) SendRx(context.Context, *patient.Patient) error      { return f.call("SendRx") }
func (f *Payer) DiseaseReporting(context.Context, *patient.Patient) error {
	return f.call("DiseaseReporting")
}
func (f *Payer) Calculate(context.Context, *patient.Patient) error   { return f.call("Calculate") }
func (f *Payer) FillPricing(context.Context, *patient.Patient) error { return f.call("FillPricing") }

func (f *Payer) FillCopayAndFSA(_ context.Context, p *patient.Patient) error {
	f.Seen = p
	return f.call("FillCopayAndFSA")
}

func (f *Payer) SetGender(context.Context, *patient.Patient) error   { return f.call("SetGender") }
func (f *Payer) FillAddress(context.Context, *patient.Patient) error { return f.call("FillAddress") }

func (f *Payer) ClickSubmitClaim(context.Context) (bool, error) {
	ok, err := f.boolCall("ClickSubmitClaim")
	f.submitted = ok && err == nil
	return ok, err
}

func (f *Payer) LastScreenshotPath() string {
	if !f.submitted {
		return ""
	}
	return f.Screenshot
}

// ---------------------------------------------------------------------------
// Artifact store, filter and clock
// ---------------------------------------------------------------------------

// Artifacts records saves and returns "<dir>/<invoice>.png".
type Artifacts struct {
	Dir   string
	Err   error
	Saved map[string]string
}

func (a *Artifacts) Save(_ context.Context, invoiceID, src string) (string, error) {
	if a.Err != nil {
		return "", a.Err
	}
	if a.Saved == nil {
		a.Saved = map[string]string{}
	}
	dst := a.Dir + "/" + invoiceID + ".png"
	a.Saved[invoiceID] = src
	return dst, nil
}

// FilterFunc adapts a function to driver.CandidateFilter.
type FilterFunc func(ctx context.Context, c []search.Candidate) ([]search.Candidate, error)

func (f FilterFunc) FilterCandidates(ctx context.Context, c []search.Candidate) ([]search.Candidate, error) {
	return f(ctx, c)
}

// Clock is a settable driver.Clock that advances by Step on each read.
type Clock struct {
	T    time.Time
	Step time.Duration
}

func (c *Clock) Now() time.Time {
	t := c.T
	c.T = c.T.Add(c.Step)
	return t
}
