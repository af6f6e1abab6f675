// Package vsp drives the VSP Eyefinity provider portal: member search,
// authorizations and the claim form. Selectors come from the "vsp" section of
// the selector catalog.
package vsp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/claimbot/claimbot/internal/domain/authorization"
	"github.com/claimbot/claimbot/internal/domain/claim"
	"github.com/claimbot/claimbot/internal/domain/normalize"
	"github.com/claimbot/claimbot/internal/domain/patient"
	"github.com/claimbot/claimbot/internal/domain/search"
	"github.com/claimbot/claimbot/internal/driver"
	"github.com/claimbot/claimbot/internal/platform/browser"
	"github.com/claimbot/claimbot/internal/platform/fallback"
	"github.com/claimbot/claimbot/internal/platform/hipaa"
	"github.com/claimbot/claimbot/internal/platform/selectors"
)

const (
	// PageName is the portal's main tab.
	PageName = "vsp"
	// ReportPage is the claim report window opened after submit.
	ReportPage = "vsp-report"
)

var (
	ErrLoginFailed     = errors.New("vsp: login failed")
	ErrUnknownLocation = errors.New("vsp: unknown location")
	ErrNoDoctor        = errors.New("vsp: rendering doctor not offered")
	ErrNoCoverage      = errors.New("vsp: coverage table is empty")
)

var required = []string{
	"login.username", "login.password", "login.submit", "login.done",
	"nav.member_search", "nav.authorizations",
	"member.ready", "member.dos", "member.member_id", "member.first_name", "member.last_name",
	"member.dob", "member.last4", "member.search", "member.result_rows", "member.result_row",
	"coverage.header_rows", "coverage.status_rows", "coverage.service_checkbox",
	"coverage.issue", "coverage.issued", "coverage.confirmation_number",
	"auth.ready", "auth.rows", "auth.row_link", "auth.delete",
	"claim.start", "claim.ready", "claim.dos", "claim.doctor",
	"claim.exam_code", "claim.diagnosis", "claim.calculate",
	"claim.line_rows", "claim.line_charge", "claim.patient_paid", "claim.fsa",
	"claim.submit", "claim.submitted",
}

// Credentials log into the portal. BorgerUsername is used for the Borger
// location.
type Credentials struct {
	Username       string
	BorgerUsername string
	Password       string
}

func (c Credentials) username(loc driver.Location) (string, error) {
	switch loc {
	case driver.LocationPrimary, "":
		return c.Username, nil
	case driver.LocationBorger:
		return c.BorgerUsername, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLocation, loc)
}

// Driver implements driver.Payer.
type Driver struct {
	pages   browser.Pages
	sel     *selectors.Catalog
	creds   Credentials
	baseURL string
	logger  zerolog.Logger

	screenshot string
}

var _ driver.Payer = (*Driver)(nil)

// New validates the catalog section and returns a driver. baseURL overrides
// the catalog's urls.login when set.
func New(pages browser.Pages, catalog *selectors.Catalog, baseURL string, creds Credentials, logger zerolog.Logger) (*Driver, error) {
	if err := catalog.Require(required...); err != nil {
		return nil, err
	}
	if baseURL == "" {
		u, err := catalog.Text("urls.login")
		if err != nil {
			return nil, fmt.Errorf("vsp: no login url: %w", err)
		}
		baseURL = u
	}
	return &Driver{
		pages:   pages,
		sel:     catalog,
		creds:   creds,
		baseURL: baseURL,
		logger:  logger.With().Str("driver", "vsp").Logger(),
	}, nil
}

func (d *Driver) page() (browser.Page, error) {
	return d.pages.Page(PageName)
}

func (d *Driver) s(key string) []string {
	alts, _ := d.sel.Get(key)
	return alts
}

func (d *Driver) f(key string, args ...any) []string {
	alts, _ := d.sel.Format(key, args...)
	return alts
}

func (d *Driver) one(key string) string {
	s, _ := d.sel.One(key)
	return s
}

func (d *Driver) column(key string, def int) int {
	v, err := d.sel.Text(key)
	if err != nil {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return def
	}
	return n
}

// fillIf fills an optional field when both the selector and the value exist.
func (d *Driver) fillIf(ctx context.Context, pg browser.Page, key, value string) error {
	sels := d.s(key)
	if len(sels) == 0 || value == "" {
		return nil
	}
	if err := pg.Fill(ctx, value, sels...); err != nil {
		return fmt.Errorf("vsp: %s: %w", key, err)
	}
	return nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// LastScreenshotPath is the confirmation captured by the last successful
// ClickSubmitClaim. It is reset by NavigateToClaim.
func (d *Driver) LastScreenshotPath() string { return d.screenshot }

// ---------------------------------------------------------------------------
// Session and member search
// ---------------------------------------------------------------------------

func (d *Driver) Login(ctx context.Context, loc driver.Location) error {
	user, err := d.creds.username(loc)
	if err != nil {
		return err
	}
	pg, err := d.page()
	if err != nil {
		return err
	}
	if err := pg.Navigate(ctx, d.baseURL); err != nil {
		return fmt.Errorf("vsp: open login page: %w", err)
	}
	if err := pg.Fill(ctx, user, d.s("login.username")...); err != nil {
		return fmt.Errorf("vsp: username: %w", err)
	}
	if err := pg.Fill(ctx, d.creds.Password, d.s("login.password")...); err != nil {
		return fmt.Errorf("vsp: password: %w", err)
	}
	if err := pg.Click(ctx, d.s("login.submit")...); err != nil {
		return fmt.Errorf("vsp: submit login: %w", err)
	}
	if !pg.Visible(ctx, d.s("login.done")...) {
		return ErrLoginFailed
	}
	d.logger.Info().Str("location", string(loc)).Msg("logged in")
	return nil
}

func (d *Driver) NavigateToMemberSearch(ctx context.Context) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if err := pg.Click(ctx, d.s("nav.member_search")...); err != nil {
		return fmt.Errorf("vsp: member search menu: %w", err)
	}
	if !pg.Visible(ctx, d.s("member.ready")...) {
		return errors.New("vsp: member search did not load")
	}
	return nil
}

// SearchMember fills the search form for one candidate. Fields the candidate
// does not use are cleared.
func (d *Driver) SearchMember(ctx context.Context, c search.Candidate) (bool, error) {
	pg, err := d.page()
	if err != nil {
		return false, err
	}
	fields := []struct {
		key, value string
	}{
		{"member.dos", c.DOS},
		{"member.member_id", c.MemberID},
		{"member.first_name", c.FirstName},
		{"member.last_name", c.LastName},
		{"member.dob", c.DOB},
		{"member.last4", c.SSNLast4},
	}
	for _, f := range fields {
		if err := pg.Fill(ctx, f.value, d.s(f.key)...); err != nil {
			return false, fmt.Errorf("vsp: %s: %w", f.key, err)
		}
	}
	if err := pg.Click(ctx, d.s("member.search")...); err != nil {
		return false, fmt.Errorf("vsp: run member search: %w", err)
	}
	if pg.Visible(ctx, d.s("member.no_results")...) {
		return false, nil
	}
	n, err := pg.Count(ctx, d.one("member.result_rows"))
	if err != nil {
		return false, fmt.Errorf("vsp: member results: %w", err)
	}
	d.logger.Debug().Str("candidate", c.Kind().String()).Int("results", n).Msg("member search")
	return n > 0, nil
}

// SelectPatient opens the result row whose name matches the patient. A single
// result is taken as the patient when no row matches by name.
func (d *Driver) SelectPatient(ctx context.Context, p *patient.Patient) (bool, error) {
	pg, err := d.page()
	if err != nil {
		return false, err
	}
	rows, err := pg.Table(ctx, d.one("member.result_rows"))
	if err != nil {
		return false, fmt.Errorf("vsp: member results: %w", err)
	}
	nameCol := d.column("member.columns.name", 0)
	match := -1
	var candidates []int
	for i, r := range rows {
		name := cell(r, nameCol)
		if name == "" {
			continue
		}
		candidates = append(candidates, i)
		if nameMatches(name, p.FirstName, p.LastName) {
			match = i
			break
		}
	}
	if match < 0 && len(candidates) == 1 {
		match = candidates[0]
	}
	if match < 0 {
		d.logger.Info().Str("patient", hipaa.MaskPersonName(p.FullName())).Int("results", len(candidates)).Msg("no result row matches the patient")
		return false, nil
	}
	if err := pg.Click(ctx, d.f("member.result_row", match+1)...); err != nil {
		return false, fmt.Errorf("vsp: open member: %w", err)
	}
	return true, nil
}

// nameMatches accepts "Last, First" and "First Last" portal renderings.
func nameMatches(portal, first, last string) bool {
	if f, l, ok := normalize.PolicyHolder(portal); ok {
		return normalize.NameKey(l) == normalize.NameKey(last) && normalize.NameKey(f) == normalize.NameKey(normalize.FirstWord(first))
	}
	words := strings.Fields(normalize.NameKey(portal))
	if len(words) < 2 {
		return false
	}
	return words[0] == normalize.NameKey(normalize.FirstWord(first)) && words[len(words)-1] == normalize.NameKey(last)
}

// ---------------------------------------------------------------------------
// Coverage and authorizations
// ---------------------------------------------------------------------------

func (d *Driver) GetPlanName(ctx context.Context, _ *patient.Patient) (string, error) {
	pg, err := d.page()
	if err != nil {
		return "", err
	}
	return fallback.Text(ctx,
		fallback.Step[string]{Name: "plan field", Run: func(ctx context.Context) (string, error) {
			return pg.Text(ctx, d.s("coverage.plan_name")...)
		}},
		fallback.Step[string]{Name: "coverage summary", Run: func(ctx context.Context) (string, error) {
			sel := d.one("coverage.summary_rows")
			if sel == "" {
				return "", nil
			}
			labels, err := pg.Labels(ctx, sel)
			if err != nil {
				return "", err
			}
			for k, v := range labels {
				if strings.Contains(strings.ToLower(k), "plan") {
					return v, nil
				}
			}
			return "", nil
		}},
	)
}

// GetServiceIndexMap reads the header row of the coverage package.
func (d *Driver) GetServiceIndexMap(ctx context.Context) (map[claim.Service]int, error) {
	pg, err := d.page()
	if err != nil {
		return nil, err
	}
	rows, err := pg.Table(ctx, d.one("coverage.header_rows"))
	if err != nil {
		return nil, fmt.Errorf("vsp: coverage header: %w", err)
	}
	for _, r := range rows {
		if index := authorization.IndexMapFromLabels(r); len(index) > 0 {
			return index, nil
		}
	}
	return nil, ErrNoCoverage
}

// GetServiceStatuses reads the availability row, one status per column.
func (d *Driver) GetServiceStatuses(ctx context.Context) (map[int]authorization.Status, error) {
	pg, err := d.page()
	if err != nil {
		return nil, err
	}
	rows, err := pg.Table(ctx, d.one("coverage.status_rows"))
	if err != nil {
		return nil, fmt.Errorf("vsp: coverage statuses: %w", err)
	}
	for _, r := range rows {
		if len(r) == 0 {
			continue
		}
		out := make(map[int]authorization.Status, len(r))
		for i, text := range r {
			out[i] = authorization.ParseStatus(text)
		}
		return out, nil
	}
	return nil, ErrNoCoverage
}

func (d *Driver) IsExamAuthorized(ctx context.Context) (bool, error) {
	index, err := d.GetServiceIndexMap(ctx)
	if err != nil {
		return false, err
	}
	col, ok := index[claim.Exam]
	if !ok {
		return false, nil
	}
	statuses, err := d.GetServiceStatuses(ctx)
	if err != nil {
		return false, err
	}
	return statuses[col] == authorization.Authorized, nil
}

// SelectServices ticks the checkbox of every column. It reports false when a
// checkbox is missing.
func (d *Driver) SelectServices(ctx context.Context, columns []int) (bool, error) {
	pg, err := d.page()
	if err != nil {
		return false, err
	}
	for _, col := range columns {
		sels := d.f("coverage.service_checkbox", col+1)
		if !pg.Visible(ctx, sels...) {
			d.logger.Warn().Int("column", col).Msg("service checkbox not shown")
			return false, nil
		}
		if err := pg.Click(ctx, sels...); err != nil {
			return false, fmt.Errorf("vsp: select column %d: %w", col, err)
		}
	}
	return true, nil
}

func (d *Driver) IssueAuthorization(ctx context.Context) (bool, error) {
	pg, err := d.page()
	if err != nil {
		return false, err
	}
	if err := pg.AcceptDialogs(ctx); err != nil {
		return false, fmt.Errorf("vsp: accept dialogs: %w", err)
	}
	if err := pg.Click(ctx, d.s("coverage.issue")...); err != nil {
		return false, fmt.Errorf("vsp: issue authorization: %w", err)
	}
	return pg.Visible(ctx, d.s("coverage.issued")...), nil
}

// GetConfirmationNumber returns the digits of the issued authorization.
func (d *Driver) GetConfirmationNumber(ctx context.Context) (string, error) {
	pg, err := d.page()
	if err != nil {
		return "", err
	}
	text, err := pg.Text(ctx, d.s("coverage.confirmation_number")...)
	if err != nil {
		return "", fmt.Errorf("vsp: confirmation number: %w", err)
	}
	if runs := normalize.DigitRuns(text, 6); len(runs) > 0 {
		return runs[0], nil
	}
	return strings.TrimSpace(text), nil
}

func (d *Driver) NavigateToAuthorizations(ctx context.Context) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if err := pg.Click(ctx, d.s("nav.authorizations")...); err != nil {
		return fmt.Errorf("vsp: authorizations menu: %w", err)
	}
	if !pg.Visible(ctx, d.s("auth.ready")...) {
		return errors.New("vsp: authorizations did not load")
	}
	return nil
}

// authRows returns the one-based rows of the authorization list that belong
// to the patient.
func (d *Driver) authRows(ctx context.Context, pg browser.Page, p *patient.Patient) ([]int, error) {
	rows, err := pg.Table(ctx, d.one("auth.rows"))
	if err != nil {
		return nil, fmt.Errorf("vsp: authorization list: %w", err)
	}
	nameCol := d.column("auth.columns.name", 0)
	dosCol := d.column("auth.columns.dos", -1)
	var out []int
	for i, r := range rows {
		if !nameMatches(cell(r, nameCol), p.FirstName, p.LastName) {
			continue
		}
		if dosCol >= 0 && p.Insurance.DOS != "" {
			if dos, ok := normalize.SearchDOB(cell(r, dosCol)); ok && dos != p.Insurance.DOS {
				continue
			}
		}
		out = append(out, i+1)
	}
	return out, nil
}

func (d *Driver) SelectAuthorization(ctx context.Context, p *patient.Patient) (bool, error) {
	pg, err := d.page()
	if err != nil {
		return false, err
	}
	rows, err := d.authRows(ctx, pg, p)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	if err := pg.Click(ctx, d.f("auth.row_link", rows[0])...); err != nil {
		return false, fmt.Errorf("vsp: open authorization: %w", err)
	}
	return true, nil
}

// DeleteAuthorization removes every authorization of the patient, bottom row
// first so earlier row numbers stay valid.
func (d *Driver) DeleteAuthorization(ctx context.Context, p *patient.Patient) (bool, error) {
	pg, err := d.page()
	if err != nil {
		return false, err
	}
	rows, err := d.authRows(ctx, pg, p)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	if err := pg.AcceptDialogs(ctx); err != nil {
		return false, fmt.Errorf("vsp: accept dialogs: %w", err)
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if err := pg.Click(ctx, d.f("auth.delete", rows[i])...); err != nil {
			return false, fmt.Errorf("vsp: delete authorization row %d: %w", rows[i], err)
		}
	}
	left, err := d.authRows(ctx, pg, p)
	if err != nil {
		return false, err
	}
	return len(left) == 0, nil
}

// ---------------------------------------------------------------------------
// Claim form
// ---------------------------------------------------------------------------

func (d *Driver) NavigateToClaim(ctx context.Context) error {
	d.screenshot = ""
	pg, err := d.page()
	if err != nil {
		return err
	}
	if err := pg.Click(ctx, d.s("claim.start")...); err != nil {
		return fmt.Errorf("vsp: start claim: %w", err)
	}
	if !pg.Visible(ctx, d.s("claim.ready")...) {
		return errors.New("vsp: claim form did not load")
	}
	return nil
}

func (d *Driver) SetDOS(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if p.Insurance.DOS == "" {
		return patient.ErrMissingDOS
	}
	return pg.Fill(ctx, p.Insurance.DOS, d.s("claim.dos")...)
}

func (d *Driver) SetDoctor(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	npi := p.Billing.DoctorID
	if npi == "" {
		npi = claim.DoctorID(p.Medical.Provider)
	}
	ok, err := pg.SelectOption(ctx, npi, d.s("claim.doctor")...)
	if err != nil {
		return fmt.Errorf("vsp: doctor: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDoctor, npi)
	}
	return nil
}

func (d *Driver) SubmitExam(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	exams := claim.ItemsFor(p.Claims, claim.Exam)
	if len(exams) == 0 {
		return nil
	}
	if err := pg.Fill(ctx, exams[0].Code(), d.s("claim.exam_code")...); err != nil {
		return fmt.Errorf("vsp: exam code: %w", err)
	}
	return d.fillIf(ctx, pg, "claim.exam_modifier", exams[0].Modifier)
}

// SubmitCL fills the contact lens section: the fitting service and, unless
// the claim is exam only, the material with its unit count.
func (d *Driver) SubmitCL(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if svc := claim.ItemsFor(p.Claims, claim.ContactService); len(svc) > 0 {
		if err := d.fillIf(ctx, pg, "claim.cl_service_code", svc[0].Code()); err != nil {
			return err
		}
	}
	if p.Billing.ExamOnly {
		return nil
	}
	materials := claim.ItemsFor(p.Claims, claim.Contacts)
	if len(materials) == 0 {
		return nil
	}
	if err := d.fillIf(ctx, pg, "claim.cl_material_code", materials[0].Code()); err != nil {
		return err
	}
	if err := d.fillIf(ctx, pg, "claim.cl_brand", p.Contacts.Brand); err != nil {
		return err
	}
	if p.Billing.ContactUnits > 0 {
		if err := d.fillIf(ctx, pg, "claim.cl_units", strconv.Itoa(p.Billing.ContactUnits)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) SubmitFrame(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if sels := d.s("claim.frame_supplier"); len(sels) > 0 {
		if _, err := pg.SelectOption(ctx, "Doctor", sels...); err != nil {
			return fmt.Errorf("vsp: frame supplier: %w", err)
		}
	}
	frames := claim.ItemsFor(p.Claims, claim.Frame)
	code := ""
	if len(frames) > 0 {
		code = frames[0].Code()
	}
	fields := []struct{ key, value string }{
		{"claim.frame_code", code},
		{"claim.frame_manufacturer", p.Frame.Manufacturer},
		{"claim.frame_collection", p.Frame.Collection},
		{"claim.frame_model", p.Frame.Model},
		{"claim.frame_color", p.Frame.Color},
		{"claim.frame_eye_size", p.Frame.EyeSize},
		{"claim.frame_bridge", p.Frame.Bridge},
		{"claim.frame_temple", p.Frame.Temple},
		{"claim.frame_wholesale", p.Frame.WholesalePrice},
	}
	for _, f := range fields {
		if err := d.fillIf(ctx, pg, f.key, f.value); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) SubmitLens(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	code := p.Lens.VCode
	if code == "" {
		if lenses := claim.ItemsFor(p.Claims, claim.Lens); len(lenses) > 0 {
			code = lenses[0].Code()
		}
	}
	fields := []struct{ key, value string }{
		{"claim.lens_code", code},
		{"claim.lens_material", p.Lens.Material},
		{"claim.lens_design", p.Lens.Design},
		{"claim.lens_tint", p.Lens.Tint},
		{"claim.lens_coating", p.Lens.Coating},
		{"claim.lens_segment_height", p.Lens.SegmentHeight},
	}
	for _, f := range fields {
		if err := d.fillIf(ctx, pg, f.key, f.value); err != nil {
			return err
		}
	}
	return nil
}

var rxFields = []string{
	"od_sphere", "od_cylinder", "od_axis", "od_add",
	"os_sphere", "os_cylinder", "os_axis", "os_add",
	"pd",
}

func (d *Driver) SendRx(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	for _, k := range rxFields {
		if err := d.fillIf(ctx, pg, "claim.rx."+k, p.Medical.Get(k)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) DiseaseReporting(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	dx := p.Billing.Diagnosis
	if dx == "" {
		dx = claim.Diagnosis(p.Medical.Dx)
	}
	if err := pg.Fill(ctx, dx, d.s("claim.diagnosis")...); err != nil {
		return fmt.Errorf("vsp: diagnosis: %w", err)
	}
	return nil
}

func (d *Driver) Calculate(ctx context.Context, _ *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if err := pg.Click(ctx, d.s("claim.calculate")...); err != nil {
		return fmt.Errorf("vsp: calculate: %w", err)
	}
	return nil
}

// FillPricing writes the billed amount of each invoice line into the service
// line with the same code. Lines the form does not list are skipped.
func (d *Driver) FillPricing(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	rows, err := pg.Table(ctx, d.one("claim.line_rows"))
	if err != nil {
		return fmt.Errorf("vsp: service lines: %w", err)
	}
	codeCol := d.column("claim.columns.code", 0)
	billed := make(map[string]patient.ClaimItem, len(p.Claims))
	for _, c := range p.Claims {
		if _, ok := billed[c.Code()]; !ok {
			billed[c.Code()] = c
		}
	}
	for i, r := range rows {
		item, ok := billed[strings.ToUpper(cell(r, codeCol))]
		if !ok {
			continue
		}
		if err := pg.Fill(ctx, claim.FormatAmount(item.BilledAmount), d.f("claim.line_charge", i+1)...); err != nil {
			return fmt.Errorf("vsp: charge for %s: %w", item.Code(), err)
		}
	}
	return nil
}

func (d *Driver) FillCopayAndFSA(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	amount := claim.FormatAmount(p.Billing.Copay)
	if err := pg.Fill(ctx, amount, d.s("claim.patient_paid")...); err != nil {
		return fmt.Errorf("vsp: patient paid: %w", err)
	}
	if err := pg.Fill(ctx, amount, d.s("claim.fsa")...); err != nil {
		return fmt.Errorf("vsp: fsa: %w", err)
	}
	return nil
}

func (d *Driver) SetGender(ctx context.Context, p *patient.Patient) error {
	sels := d.s("claim.gender")
	if len(sels) == 0 {
		return nil
	}
	var label string
	switch strings.ToUpper(strings.TrimSpace(p.Demographics.Gender)) {
	case "M", "MALE":
		label = "Male"
	case "F", "FEMALE":
		label = "Female"
	default:
		return nil
	}
	pg, err := d.page()
	if err != nil {
		return err
	}
	if _, err := pg.SelectOption(ctx, label, sels...); err != nil {
		return fmt.Errorf("vsp: gender: %w", err)
	}
	return nil
}

func (d *Driver) FillAddress(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	dem := p.Demographics
	fields := []struct{ key, value string }{
		{"claim.address", dem.Address},
		{"claim.address2", dem.Address2},
		{"claim.city", dem.City},
		{"claim.zip", dem.Zip},
	}
	for _, f := range fields {
		if err := d.fillIf(ctx, pg, f.key, f.value); err != nil {
			return err
		}
	}
	if sels := d.s("claim.state"); len(sels) > 0 && dem.State != "" {
		if _, err := pg.SelectOption(ctx, dem.State, sels...); err != nil {
			return fmt.Errorf("vsp: state: %w", err)
		}
	}
	return nil
}

// ClickSubmitClaim submits the form and captures the confirmation. The claim
// report window is preferred over the on-page confirmation when it opens.
func (d *Driver) ClickSubmitClaim(ctx context.Context) (bool, error) {
	pg, err := d.page()
	if err != nil {
		return false, err
	}
	if err := pg.AcceptDialogs(ctx); err != nil {
		return false, fmt.Errorf("vsp: accept dialogs: %w", err)
	}
	if err := pg.Click(ctx, d.s("claim.submit")...); err != nil {
		return false, fmt.Errorf("vsp: submit claim: %w", err)
	}
	if !pg.Visible(ctx, d.s("claim.submitted")...) {
		if msg, err := pg.Text(ctx, d.s("claim.errors")...); err == nil {
			d.logger.Warn().Str("portal_error", msg).Msg("claim rejected")
		}
		return false, nil
	}

	shot, err := pg.Screenshot(ctx, "claim_confirmation")
	if err != nil {
		d.logger.Warn().Err(err).Msg("confirmation screenshot failed")
	} else {
		d.screenshot = shot
	}

	if link := d.s("claim.report_link"); len(link) > 0 {
		if path, err := d.captureReport(ctx, link); err != nil {
			d.logger.Warn().Err(err).Msg("claim report unavailable, keeping the page screenshot")
		} else {
			d.screenshot = path
		}
	}
	return true, nil
}

func (d *Driver) captureReport(ctx context.Context, link []string) (string, error) {
	report, err := d.pages.Follow(ctx, PageName, ReportPage, link...)
	if err != nil {
		return "", err
	}
	defer d.pages.ClosePage(ReportPage)
	return report.Screenshot(ctx, "claim_report")
}
