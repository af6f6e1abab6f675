// Package workflow files one vision claim end to end: it scrapes the invoice
// from the EHR, finds the member and authorization on the payer portal, fills
// and submits the claim and attaches the confirmation back to the invoice.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/claimbot/claimbot/internal/domain/authorization"
	"github.com/claimbot/claimbot/internal/domain/claim"
	"github.com/claimbot/claimbot/internal/domain/patient"
	"github.com/claimbot/claimbot/internal/domain/search"
	"github.com/claimbot/claimbot/internal/driver"
	"github.com/claimbot/claimbot/internal/platform/hipaa"
	"github.com/claimbot/claimbot/internal/platform/telemetry"
)

// InsuranceName is the EHR insurance entry the claim is filed against.
const InsuranceName = "VSP"

const cleanupTimeout = 30 * time.Second

// Deps are the collaborators of a Workflow. Filter, Clock and Stats are
// optional.
type Deps struct {
	EHR       driver.EHR
	Payer     driver.Payer
	Artifacts driver.ArtifactStore
	Filter    driver.CandidateFilter
	Clock     driver.Clock
	Stats     *telemetry.Stats
}

// Workflow runs the per-invoice claim state machine.
type Workflow struct {
	ehr       driver.EHR
	payer     driver.Payer
	artifacts driver.ArtifactStore
	filter    driver.CandidateFilter
	clock     driver.Clock
	stats     *telemetry.Stats
	logger    zerolog.Logger
}

func New(d Deps, logger zerolog.Logger) *Workflow {
	clock := d.Clock
	if clock == nil {
		clock = driver.SystemClock{}
	}
	return &Workflow{
		ehr:       d.EHR,
		payer:     d.Payer,
		artifacts: d.Artifacts,
		filter:    d.Filter,
		clock:     clock,
		stats:     d.Stats,
		logger:    logger,
	}
}

// invoiceRun is the mutable state of one Submit call.
type invoiceRun struct {
	w          *Workflow
	p          *patient.Patient
	res        *Result
	log        zerolog.Logger
	phase      Phase
	patientTab bool
	examOnly   bool
}

// Submit processes one invoice. The returned Result is never nil; err is a
// *PhaseError when the invoice was aborted. Navigation cleanup runs on every
// exit path, including panics, which are re-raised for the caller.
func (w *Workflow) Submit(ctx context.Context, invoiceID string) (*Result, error) {
	start := w.clock.Now()
	p := patient.New(invoiceID)
	session := patient.NewSession(p)
	r := &invoiceRun{
		w:     w,
		p:     p,
		res:   &Result{Invoice: invoiceID},
		phase: PhaseInit,
		log: w.logger.With().
			Str("invoice", invoiceID).
			Str("session", session.SessionID).
			Logger(),
	}
	defer func() { r.res.Duration = w.clock.Now().Sub(start) }()
	defer r.cleanup(ctx)

	if err := r.run(ctx); err != nil {
		if r.res.Exit == "" {
			r.res.Exit = ExitAbortError
		}
		return r.res, err
	}
	return r.res, nil
}

func (r *invoiceRun) enter(phase Phase) {
	r.phase = phase
	r.log.Debug().Str("phase", string(phase)).Msg("phase")
}

func (r *invoiceRun) fail(err error) error {
	switch {
	case errors.Is(err, ErrNoMember):
		r.res.Exit = ExitAbortNoMember
	case errors.Is(err, ErrAuthUnavailable), errors.Is(err, ErrAuthFailed):
		r.res.Exit = ExitAbortNoAuth
	case errors.Is(err, ErrSubmitFailed):
		r.res.Exit = ExitAbortSubmit
	default:
		r.res.Exit = ExitAbortError
	}
	return &PhaseError{Invoice: r.p.InvoiceID, Phase: r.phase, Err: err}
}

func (r *invoiceRun) run(ctx context.Context) error {
	ok, err := r.w.ehr.OpenInvoice(ctx, r.p.InvoiceID)
	if err != nil {
		return r.fail(fmt.Errorf("open invoice: %w", err))
	}
	if !ok {
		return r.fail(ErrInvoiceNotFound)
	}

	r.enter(PhaseDocCheck)
	has, err := r.w.ehr.CheckForDocument(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("check documents: %w", err))
	}
	if has {
		r.res.Exit = ExitDoneSkip
		r.log.Info().Msg("invoice already has a document, skipping")
		return nil
	}

	r.enter(PhaseScrape)
	if err := r.scrape(ctx); err != nil {
		return r.fail(err)
	}

	r.enter(PhaseClassify)
	r.res.Services = claim.Classify(r.p.Claims)
	r.log.Info().Str("services", r.res.Services.String()).Int("lines", len(r.p.Claims)).Msg("classified claim")

	r.enter(PhasePayerSearch)
	if err := r.findMember(ctx); err != nil {
		return r.fail(err)
	}

	r.enter(PhaseAuthDecide)
	if err := r.authorize(ctx); err != nil {
		return r.fail(err)
	}

	r.enter(PhaseClaimFill)
	if err := r.fillClaim(ctx); err != nil {
		return r.fail(err)
	}

	r.enter(PhaseSubmit)
	ok, err = r.w.payer.ClickSubmitClaim(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("%w: %w", ErrSubmitFailed, err))
	}
	if !ok {
		return r.fail(ErrSubmitFailed)
	}
	r.p.Success = true

	r.enter(PhaseAttach)
	r.attach(ctx)

	r.enter(PhaseDone)
	r.res.Exit = ExitDoneOK
	r.log.Info().
		Str("authorization", r.p.AuthorizationNumber).
		Bool("exam_only", r.examOnly).
		Msg("claim submitted")
	return nil
}

// ---------------------------------------------------------------------------
// SCRAPE
// ---------------------------------------------------------------------------

func (r *invoiceRun) scrape(ctx context.Context) error {
	e, p := r.w.ehr, r.p

	if err := e.ScrapeInvoiceDetails(ctx, p); err != nil {
		return fmt.Errorf("scrape invoice details: %w", err)
	}
	if err := e.ClickPatientNameLink(ctx); err != nil {
		return fmt.Errorf("open patient: %w", err)
	}
	r.patientTab = true

	if err := e.ScrapeDemographics(ctx, p); err != nil {
		return fmt.Errorf("scrape demographics: %w", err)
	}
	if err := e.ScrapeFamilyDemographics(ctx, p); err != nil {
		r.log.Warn().Err(err).Msg("family demographics unavailable")
	}
	if err := e.ExpandInsurance(ctx); err != nil {
		return fmt.Errorf("expand insurance: %w", err)
	}
	selected, err := e.SelectInsurance(ctx, InsuranceName)
	if err != nil {
		return fmt.Errorf("select insurance: %w", err)
	}
	if !selected {
		r.log.Warn().Str("insurance", InsuranceName).Msg("insurance entry not found, using the active plan")
	}
	if err := e.ScrapeInsurance(ctx, p); err != nil {
		return fmt.Errorf("scrape insurance: %w", err)
	}

	if p.HasOpticalOrder {
		if err := r.scrapeOpticalOrder(ctx); err != nil {
			return err
		}
	}

	if err := e.ClosePatientTab(ctx); err != nil {
		return fmt.Errorf("close patient tab: %w", err)
	}
	r.patientTab = false

	if err := p.ReadyForClaim(); err != nil {
		if errors.Is(err, patient.ErrMissingDOS) {
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return err
	}

	r.log.Debug().
		Interface("insurance", hipaa.Redact("insurance", p.Insurance.StringValues(), func(k string) bool {
			_, extra := p.Insurance.Extra[k]
			return !extra
		})).
		Str("patient", hipaa.MaskPersonName(p.FullName())).
		Str("dob", hipaa.MaskDOB(p.DateOfBirth())).
		Bool("optical_order", p.HasOpticalOrder).
		Msg("scraped patient")
	return nil
}

func (r *invoiceRun) scrapeOpticalOrder(ctx context.Context) error {
	e, p := r.w.ehr, r.p
	if err := e.ExpandOpticalOrders(ctx); err != nil {
		return fmt.Errorf("expand optical orders: %w", err)
	}
	if err := e.OpenOpticalOrder(ctx, p); err != nil {
		return fmt.Errorf("open optical order: %w", err)
	}
	if p.HasFrame {
		if err := e.ScrapeFrameData(ctx, p); err != nil {
			return fmt.Errorf("scrape frame: %w", err)
		}
	}
	if err := e.ScrapeLensData(ctx, p); err != nil {
		return fmt.Errorf("scrape lens: %w", err)
	}
	if err := e.ScrapeOpticalCopay(ctx, p); err != nil {
		return fmt.Errorf("scrape optical copay: %w", err)
	}
	if p.HasFrame {
		// wholesale price is optional pricing data
		if err := e.GetWholesalePrice(ctx, p); err != nil {
			r.log.Warn().Err(err).Msg("wholesale price unavailable")
		}
	}
	if err := e.NavigatePatientPage(ctx); err != nil {
		return fmt.Errorf("return to patient page: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// PAYER_SEARCH
// ---------------------------------------------------------------------------

func (r *invoiceRun) findMember(ctx context.Context) error {
	candidates, err := search.Build(r.p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if r.w.filter != nil {
		filtered, ferr := search.ApplyFilter(ctx, candidates, r.w.filter)
		if ferr != nil {
			r.log.Warn().Err(ferr).Msg("candidate filter skipped")
		}
		candidates = filtered
	}
	r.log.Info().Int("candidates", len(candidates)).Msg("searching payer member")

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		hit, err := r.probe(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			r.log.Warn().Err(err).Int("candidate", i).Str("kind", c.Kind().String()).Msg("member search failed")
			continue
		}
		if hit {
			r.res.Candidate = c
			r.log.Info().Int("candidate", i).Str("kind", c.Kind().String()).Msg("member found")
			return nil
		}
	}
	return ErrNoMember
}

// probe searches one candidate and selects the patient row on a hit.
func (r *invoiceRun) probe(ctx context.Context, c search.Candidate) (bool, error) {
	pay := r.w.payer
	if err := pay.NavigateToMemberSearch(ctx); err != nil {
		return false, fmt.Errorf("member search page: %w", err)
	}
	found, err := pay.SearchMember(ctx, c)
	r.w.stats.SearchProbe(c.Kind().String(), found && err == nil)
	if err != nil || !found {
		return false, err
	}
	selected, err := pay.SelectPatient(ctx, r.p)
	if err != nil {
		return false, fmt.Errorf("select patient: %w", err)
	}
	return selected, nil
}

// ---------------------------------------------------------------------------
// AUTH_DECIDE
// ---------------------------------------------------------------------------

func (r *invoiceRun) authorize(ctx context.Context) error {
	pay := r.w.payer

	plan, err := pay.GetPlanName(ctx, r.p)
	if err != nil {
		r.log.Warn().Err(err).Msg("plan name unavailable")
	}
	if plan != "" {
		r.p.Insurance.PlanName = plan
	}

	deleted := false
	for {
		d, err := r.decide(ctx)
		if err != nil {
			return err
		}
		r.res.Decision = d
		r.log.Info().
			Str("outcome", string(d.Outcome)).
			Ints("columns", d.Columns).
			Str("plan", r.p.Insurance.PlanName).
			Msg("authorization decision")

		switch d.Outcome {
		case authorization.NotAvailable:
			return fmt.Errorf("%w: %s", ErrAuthUnavailable, d.Reason)

		case authorization.ExamAuthorized:
			if d.Abort {
				return fmt.Errorf("%w: %s", ErrAuthUnavailable, d.Reason)
			}
			r.examOnly = true
			r.res.Services = r.res.Services.ExamOnly()
			return r.useExisting(ctx)

		case authorization.UseExisting:
			return r.useExisting(ctx)

		case authorization.DeleteExisting:
			if deleted {
				return fmt.Errorf("%w: authorization still present after delete", ErrAuthFailed)
			}
			if err := r.deleteAndReenter(ctx); err != nil {
				return err
			}
			deleted = true

		case authorization.Issue:
			return r.issue(ctx, d.Columns)

		default:
			return fmt.Errorf("%w: unknown outcome %q", ErrAuthFailed, d.Outcome)
		}
	}
}

func (r *invoiceRun) decide(ctx context.Context) (authorization.Decision, error) {
	pay := r.w.payer
	index, err := pay.GetServiceIndexMap(ctx)
	if err != nil {
		return authorization.Decision{}, fmt.Errorf("read service columns: %w", err)
	}
	statuses, err := pay.GetServiceStatuses(ctx)
	if err != nil {
		return authorization.Decision{}, fmt.Errorf("read service statuses: %w", err)
	}
	desired, missing := authorization.DesiredColumns(r.res.Services, index)
	if len(missing) > 0 {
		r.log.Warn().Interface("services", missing).Msg("package has no column for billed services")
	}
	return authorization.Decide(authorization.Input{
		Desired:  desired,
		Statuses: statuses,
		Index:    index,
		PlanName: r.p.Insurance.PlanName,
	}), nil
}

func (r *invoiceRun) useExisting(ctx context.Context) error {
	pay := r.w.payer
	if err := pay.NavigateToAuthorizations(ctx); err != nil {
		return fmt.Errorf("authorizations page: %w", err)
	}
	ok, err := pay.SelectAuthorization(ctx, r.p)
	if err != nil {
		return fmt.Errorf("%w: select authorization: %w", ErrAuthFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: existing authorization not found", ErrAuthFailed)
	}
	return nil
}

// deleteAndReenter removes every authorization for the patient and returns to
// the coverage view of the matched member.
func (r *invoiceRun) deleteAndReenter(ctx context.Context) error {
	pay := r.w.payer
	if err := pay.NavigateToAuthorizations(ctx); err != nil {
		return fmt.Errorf("authorizations page: %w", err)
	}
	ok, err := pay.DeleteAuthorization(ctx, r.p)
	if err != nil {
		return fmt.Errorf("%w: delete authorization: %w", ErrAuthFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: delete authorization", ErrAuthFailed)
	}
	r.log.Info().Msg("deleted existing authorizations")

	hit, err := r.probe(ctx, r.res.Candidate)
	if err != nil {
		return fmt.Errorf("%w: re-enter coverage: %w", ErrAuthFailed, err)
	}
	if !hit {
		return fmt.Errorf("%w: member not found on re-entry", ErrAuthFailed)
	}
	return nil
}

func (r *invoiceRun) issue(ctx context.Context, columns []int) error {
	pay := r.w.payer
	ok, err := pay.SelectServices(ctx, columns)
	if err != nil {
		return fmt.Errorf("%w: select services: %w", ErrAuthFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: select services %v", ErrAuthFailed, columns)
	}
	ok, err = pay.IssueAuthorization(ctx)
	if err != nil {
		return fmt.Errorf("%w: issue: %w", ErrAuthFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: issue rejected", ErrAuthFailed)
	}

	number, err := pay.GetConfirmationNumber(ctx)
	if err != nil || number == "" {
		r.log.Warn().Err(err).Msg("authorization issued without a readable confirmation number")
	}
	r.p.AuthorizationNumber = number
	r.res.AuthorizationNumber = number
	return nil
}

// ---------------------------------------------------------------------------
// CLAIM_FILL
// ---------------------------------------------------------------------------

type fillStep struct {
	name string
	when bool
	fn   func(context.Context, *patient.Patient) error
}

func (r *invoiceRun) fillClaim(ctx context.Context) error {
	pay, p, svc := r.w.payer, r.p, r.res.Services
	claim.Prepare(p, r.examOnly)

	if err := pay.NavigateToClaim(ctx); err != nil {
		return fmt.Errorf("claim form: %w", err)
	}

	materials := !r.examOnly
	steps := []fillStep{
		{"dos", true, pay.SetDOS},
		{"doctor", true, pay.SetDoctor},
		{"exam", svc.Has(claim.Exam), pay.SubmitExam},
		{"contact lens", svc.Has(claim.ContactService) || (materials && svc.Has(claim.Contacts)), pay.SubmitCL},
		{"frame", materials && svc.Has(claim.Frame), pay.SubmitFrame},
		{"lens", materials && svc.Has(claim.Lens), pay.SubmitLens},
		{"rx", materials && (svc.Has(claim.Lens) || svc.Has(claim.Contacts)), pay.SendRx},
		{"diagnosis", true, pay.DiseaseReporting},
		{"calculate", true, pay.Calculate},
		{"pricing", true, pay.FillPricing},
		{"copay", true, pay.FillCopayAndFSA},
		{"gender", true, pay.SetGender},
		{"address", true, pay.FillAddress},
	}
	for _, s := range steps {
		if !s.when {
			continue
		}
		if err := s.fn(ctx, p); err != nil {
			return fmt.Errorf("fill %s: %w", s.name, err)
		}
	}
	r.log.Debug().
		Str("doctor", p.Billing.DoctorID).
		Str("diagnosis", p.Billing.Diagnosis).
		Str("copay", claim.FormatAmount(p.Billing.Copay)).
		Int("contact_units", p.Billing.ContactUnits).
		Msg("claim form filled")
	return nil
}

// ---------------------------------------------------------------------------
// ATTACH
// ---------------------------------------------------------------------------

// attach never fails the invoice; errors are kept on the result.
func (r *invoiceRun) attach(ctx context.Context) {
	err := r.storeAndUpload(ctx)
	if err == nil {
		return
	}
	r.res.AttachErr = &PhaseError{Invoice: r.p.InvoiceID, Phase: PhaseAttach, Err: err}
	r.log.Error().Err(err).Msg("claim submitted but confirmation was not attached")
}

func (r *invoiceRun) storeAndUpload(ctx context.Context) error {
	src := r.w.payer.LastScreenshotPath()
	if src == "" {
		return fmt.Errorf("%w: no confirmation captured", ErrAttachFailed)
	}
	path := src
	if r.w.artifacts != nil {
		stored, err := r.w.artifacts.Save(ctx, r.p.InvoiceID, src)
		if err != nil {
			return fmt.Errorf("%w: store artifact: %w", ErrAttachFailed, err)
		}
		path = stored
	}
	r.res.Artifact = path
	if err := r.w.ehr.UploadDocument(ctx, path); err != nil {
		return fmt.Errorf("%w: upload: %w", ErrAttachFailed, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Cleanup
// ---------------------------------------------------------------------------

// cleanup restores the EHR to the invoice dashboard. It runs on a context
// detached from cancellation so an interrupted run still leaves a known page.
func (r *invoiceRun) cleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	e := r.w.ehr
	if r.patientTab {
		if err := e.ClosePatientTab(ctx); err != nil {
			r.log.Warn().Err(err).Msg("cleanup: close patient tab")
		}
	}
	if err := e.CloseInvoiceTabs(ctx, r.p.InvoiceID); err != nil {
		r.log.Warn().Err(err).Msg("cleanup: close invoice tabs")
	}
	if err := e.NavigateToInvoiceDashboard(ctx); err != nil {
		r.log.Warn().Err(err).Msg("cleanup: return to dashboard")
	}
}
