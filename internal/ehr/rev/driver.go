// Package rev drives the RevolutionEHR web application through the shared
// browser session. Every selector comes from the "rev" section of the
// selector catalog; the package only knows the order of the steps.
package rev

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/claimbot/claimbot/internal/domain/claim"
	"github.com/claimbot/claimbot/internal/domain/normalize"
	"github.com/claimbot/claimbot/internal/domain/patient"
	"github.com/claimbot/claimbot/internal/driver"
	"github.com/claimbot/claimbot/internal/platform/browser"
	"github.com/claimbot/claimbot/internal/platform/fallback"
	"github.com/claimbot/claimbot/internal/platform/selectors"
)

// PageName is the browser tab the EHR runs in. Invoices and patients open as
// in-app tabs of the same page.
const PageName = "rev"

var (
	ErrLoginFailed      = errors.New("rev: login failed")
	ErrNoPatientName    = errors.New("rev: invoice has no patient name")
	ErrNoOpticalOrder   = errors.New("rev: no optical order on patient")
	ErrUploadNotVisible = errors.New("rev: uploaded document did not appear")
)

// required lists the catalog keys the driver cannot work without.
var required = []string{
	"login.username", "login.password", "login.submit", "login.done",
	"nav.invoices",
	"dashboard.ready", "dashboard.payor", "dashboard.invoice_number", "dashboard.search",
	"dashboard.rows", "dashboard.invoice_link",
	"invoice.header", "invoice.close", "invoice.documents_tab", "invoice.document_rows",
	"invoice.patient_name", "invoice.patient_link", "invoice.item_rows",
	"invoice.upload", "invoice.file_input", "invoice.upload_save",
	"patient.header", "patient.close", "patient.summary_tab", "patient.demographics_rows",
	"patient.insurance_tab", "patient.insurance_rows", "patient.insurance_row",
	"patient.insurance_detail_rows", "patient.family_tab", "patient.family_rows",
	"patient.optical_tab", "patient.optical_rows", "patient.optical_row",
	"optical.frame_rows", "optical.lens_rows", "optical.rx_rows",
}

// Credentials log into the EHR.
type Credentials struct {
	Username string
	Password string
}

// Driver implements driver.EHR.
type Driver struct {
	pages   browser.Pages
	sel     *selectors.Catalog
	creds   Credentials
	baseURL string
	logger  zerolog.Logger

	invoice string
}

var _ driver.EHR = (*Driver)(nil)

// New validates the catalog section and returns a driver. baseURL overrides
// the catalog's urls.login when set.
func New(pages browser.Pages, catalog *selectors.Catalog, baseURL string, creds Credentials, logger zerolog.Logger) (*Driver, error) {
	if err := catalog.Require(required...); err != nil {
		return nil, err
	}
	if baseURL == "" {
		u, err := catalog.Text("urls.login")
		if err != nil {
			return nil, fmt.Errorf("rev: no login url: %w", err)
		}
		baseURL = u
	}
	return &Driver{
		pages:   pages,
		sel:     catalog,
		creds:   creds,
		baseURL: baseURL,
		logger:  logger.With().Str("driver", "rev").Logger(),
	}, nil
}

func (d *Driver) page() (browser.Page, error) {
	return d.pages.Page(PageName)
}

// s returns the alternatives for a catalog key; optional keys yield nil.
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

// column reads a zero-based column index from the catalog.
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

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ---------------------------------------------------------------------------
// Session and dashboard
// ---------------------------------------------------------------------------

func (d *Driver) Login(ctx context.Context) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if err := pg.Navigate(ctx, d.baseURL); err != nil {
		return fmt.Errorf("rev: open login page: %w", err)
	}
	if err := pg.Fill(ctx, d.creds.Username, d.s("login.username")...); err != nil {
		return fmt.Errorf("rev: username: %w", err)
	}
	if err := pg.Fill(ctx, d.creds.Password, d.s("login.password")...); err != nil {
		return fmt.Errorf("rev: password: %w", err)
	}
	if err := pg.Click(ctx, d.s("login.submit")...); err != nil {
		return fmt.Errorf("rev: submit login: %w", err)
	}
	if !pg.Visible(ctx, d.s("login.done")...) {
		return ErrLoginFailed
	}
	d.logger.Info().Msg("logged in")
	return nil
}

func (d *Driver) NavigateToInvoiceDashboard(ctx context.Context) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if pg.Visible(ctx, d.s("dashboard.ready")...) {
		return nil
	}
	if err := pg.Click(ctx, d.s("nav.invoices")...); err != nil {
		return fmt.Errorf("rev: invoices menu: %w", err)
	}
	if !pg.Visible(ctx, d.s("dashboard.ready")...) {
		return errors.New("rev: invoice dashboard did not load")
	}
	return nil
}

func (d *Driver) SearchInvoice(ctx context.Context, q driver.InvoiceQuery) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	fields := []struct {
		key, value string
	}{
		{"dashboard.invoice_number", q.InvoiceNumber},
		{"dashboard.payor", q.Payor},
	}
	if !q.From.IsZero() {
		fields = append(fields, struct{ key, value string }{"dashboard.date_from", q.From.Format(normalize.DateLayout)})
	}
	if !q.To.IsZero() {
		fields = append(fields, struct{ key, value string }{"dashboard.date_to", q.To.Format(normalize.DateLayout)})
	}
	for _, f := range fields {
		sels := d.s(f.key)
		if len(sels) == 0 {
			continue
		}
		// Blank fields are cleared so a previous search does not leak in.
		if err := pg.Fill(ctx, f.value, sels...); err != nil {
			return fmt.Errorf("rev: search field %s: %w", f.key, err)
		}
	}
	if err := pg.Click(ctx, d.s("dashboard.search")...); err != nil {
		return fmt.Errorf("rev: run invoice search: %w", err)
	}
	return nil
}

func (d *Driver) InvoiceResults(ctx context.Context) ([]string, error) {
	pg, err := d.page()
	if err != nil {
		return nil, err
	}
	rows, err := pg.Table(ctx, d.one("dashboard.rows"))
	if err != nil {
		return nil, fmt.Errorf("rev: invoice results: %w", err)
	}
	col := d.column("dashboard.invoice_column", 0)
	var ids []string
	for _, r := range rows {
		id := cell(r, col)
		if id == "" || !normalize.IsDigits(id) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *Driver) OpenInvoice(ctx context.Context, invoiceID string) (bool, error) {
	pg, err := d.page()
	if err != nil {
		return false, err
	}
	if err := pg.Click(ctx, d.f("dashboard.invoice_link", invoiceID)...); err != nil {
		// Not on the current result page: search for it directly.
		if serr := d.SearchInvoice(ctx, driver.InvoiceQuery{InvoiceNumber: invoiceID}); serr != nil {
			return false, serr
		}
		if err := pg.Click(ctx, d.f("dashboard.invoice_link", invoiceID)...); err != nil {
			d.logger.Debug().Err(err).Str("invoice", invoiceID).Msg("invoice link not found")
			return false, nil
		}
	}
	if !pg.Visible(ctx, d.f("invoice.header", invoiceID)...) {
		return false, nil
	}
	d.invoice = invoiceID
	return true, nil
}

func (d *Driver) CloseInvoiceTabs(ctx context.Context, invoiceID string) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if d.invoice == invoiceID {
		d.invoice = ""
	}
	closeSel := d.f("invoice.close", invoiceID)
	if !pg.Visible(ctx, closeSel...) {
		return nil
	}
	return pg.Click(ctx, closeSel...)
}

func (d *Driver) CheckForDocument(ctx context.Context) (bool, error) {
	pg, err := d.page()
	if err != nil {
		return false, err
	}
	if err := pg.Click(ctx, d.s("invoice.documents_tab")...); err != nil {
		return false, fmt.Errorf("rev: documents tab: %w", err)
	}
	n, err := pg.Count(ctx, d.one("invoice.document_rows"))
	if err != nil {
		return false, fmt.Errorf("rev: count documents: %w", err)
	}
	return n > 0, nil
}

// ---------------------------------------------------------------------------
// Invoice scrape
// ---------------------------------------------------------------------------

func (d *Driver) ScrapeInvoiceDetails(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}

	name, err := pg.Text(ctx, d.s("invoice.patient_name")...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoPatientName, err)
	}
	first, last, ok := normalize.PolicyHolder(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoPatientName, name)
	}
	p.SetName(first, last)

	if v, err := pg.Text(ctx, d.s("invoice.provider")...); err == nil {
		p.Medical.Provider = v
	}
	if v, err := pg.Text(ctx, d.s("invoice.diagnosis")...); err == nil {
		p.Medical.Dx = v
	}

	rows, err := pg.Table(ctx, d.one("invoice.item_rows"))
	if err != nil {
		return fmt.Errorf("rev: invoice lines: %w", err)
	}
	d.addClaimLines(p, rows)

	dos, err := fallback.Text(ctx,
		fallback.Step[string]{Name: "service date", Run: func(ctx context.Context) (string, error) {
			return pg.Text(ctx, d.s("invoice.service_date")...)
		}},
		fallback.Step[string]{Name: "line date", Run: func(context.Context) (string, error) {
			for _, c := range p.Claims {
				if c.DateOfService != "" {
					return c.DateOfService, nil
				}
			}
			return "", nil
		}},
	)
	if err != nil {
		d.logger.Warn().Err(err).Msg("invoice has no date of service")
	} else if norm, ok := normalize.SearchDOB(dos); ok {
		p.Insurance.DOS = norm
	}

	for _, c := range p.Claims {
		svc, ok := claim.ClassifyCode(c.Code())
		if !ok {
			continue
		}
		switch svc {
		case claim.Frame:
			p.HasFrame = true
			p.HasOpticalOrder = true
		case claim.Lens:
			p.HasOpticalOrder = true
		case claim.Contacts:
			if p.Contacts.Brand == "" {
				p.Contacts.Brand = c.Description
			}
			if size, ok := claim.PackSize(c.Description); ok && p.Contacts.PackSize == "" {
				p.Contacts.PackSize = strconv.Itoa(size)
			}
		}
	}
	return nil
}

// addClaimLines parses the invoice line table. Header rows and lines that
// fail validation are skipped.
func (d *Driver) addClaimLines(p *patient.Patient, rows [][]string) {
	var (
		codeCol  = d.column("invoice.columns.code", 0)
		descCol  = d.column("invoice.columns.description", 1)
		qtyCol   = d.column("invoice.columns.quantity", 2)
		amtCol   = d.column("invoice.columns.amount", 3)
		copayCol = d.column("invoice.columns.copay", 4)
		modCol   = d.column("invoice.columns.modifier", -1)
		dateCol  = d.column("invoice.columns.date", -1)
	)
	for _, r := range rows {
		code := cell(r, codeCol)
		if code == "" || !normalize.HasDigit(code) {
			continue
		}
		qty := 1
		if q := cell(r, qtyCol); q != "" {
			if n, err := strconv.Atoi(q); err == nil {
				qty = n
			}
		}
		amount, err := patient.ParseAmount(cell(r, amtCol))
		if err != nil {
			d.logger.Warn().Err(err).Str("code", code).Msg("skipping invoice line")
			continue
		}
		item, err := patient.NewClaimItem(code, cell(r, descCol), amount.Abs(), qty)
		if err != nil {
			d.logger.Warn().Err(err).Str("code", code).Msg("skipping invoice line")
			continue
		}
		item.Modifier = cell(r, modCol)
		if dos, ok := normalize.SearchDOB(cell(r, dateCol)); ok {
			item.DateOfService = dos
		}
		if c := cell(r, copayCol); c != "" {
			if copay, err := patient.ParseAmount(c); err == nil {
				item = item.WithCopay(copay)
			}
		}
		if err := p.AddClaimItem(item); err != nil {
			d.logger.Warn().Err(err).Str("code", code).Msg("skipping invoice line")
		}
	}
}

// ---------------------------------------------------------------------------
// Patient page
// ---------------------------------------------------------------------------

func (d *Driver) ClickPatientNameLink(ctx context.Context) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if err := pg.Click(ctx, d.s("invoice.patient_link")...); err != nil {
		return fmt.Errorf("rev: patient link: %w", err)
	}
	if !pg.Visible(ctx, d.s("patient.header")...) {
		return errors.New("rev: patient page did not open")
	}
	return nil
}

// demographicLabels maps EHR labels to demographics keys.
var demographicLabels = map[string]string{
	"gender":         "gender",
	"sex":            "gender",
	"address":        "address",
	"address line 1": "address",
	"address 1":      "address",
	"address line 2": "address2",
	"address 2":      "address2",
	"city":           "city",
	"state":          "state",
	"zip":            "zip",
	"zip code":       "zip",
	"postal code":    "zip",
	"phone":          "phone",
	"home phone":     "phone",
	"cell phone":     "phone",
	"email":          "email",
}

var dobLabels = []string{"date of birth", "dob", "birth date"}

func (d *Driver) ScrapeDemographics(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	labels, err := pg.Labels(ctx, d.one("patient.demographics_rows"))
	if err != nil {
		return fmt.Errorf("rev: demographics: %w", err)
	}
	lower := lowerKeys(labels)

	dob, err := fallback.Text(ctx,
		fallback.Step[string]{Name: "demographics table", Run: func(context.Context) (string, error) {
			return firstLabel(lower, dobLabels...), nil
		}},
		fallback.Step[string]{Name: "dob field", Run: func(ctx context.Context) (string, error) {
			return pg.Text(ctx, d.s("patient.dob")...)
		}},
	)
	if err != nil {
		return fmt.Errorf("rev: date of birth: %w", err)
	}
	if err := p.SetDateOfBirth(dob); err != nil {
		return fmt.Errorf("rev: date of birth: %w", err)
	}

	for label, value := range lower {
		if key, ok := demographicLabels[label]; ok {
			if p.Demographics.Get(key) == "" {
				p.Demographics.Set(key, value)
			}
			continue
		}
		if contains(dobLabels, label) || label == "name" {
			continue
		}
		p.Demographics.Set(label, value)
	}
	return nil
}

func (d *Driver) ScrapeFamilyDemographics(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if err := pg.Click(ctx, d.s("patient.family_tab")...); err != nil {
		return fmt.Errorf("rev: family tab: %w", err)
	}
	rows, err := pg.Table(ctx, d.one("patient.family_rows"))
	if err != nil {
		return fmt.Errorf("rev: family members: %w", err)
	}
	nameCol := d.column("patient.family_columns.name", 0)
	dobCol := d.column("patient.family_columns.dob", 1)
	for _, r := range rows {
		first, last, ok := normalize.PolicyHolder(cell(r, nameCol))
		if !ok {
			continue
		}
		p.AddFamilyMember(first, last, cell(r, dobCol))
	}
	return pg.Click(ctx, d.s("patient.summary_tab")...)
}

func (d *Driver) ExpandInsurance(ctx context.Context) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if err := pg.Click(ctx, d.s("patient.insurance_tab")...); err != nil {
		return fmt.Errorf("rev: insurance tab: %w", err)
	}
	return nil
}

// SelectInsurance opens the first active insurance whose row mentions name.
func (d *Driver) SelectInsurance(ctx context.Context, name string) (bool, error) {
	pg, err := d.page()
	if err != nil {
		return false, err
	}
	rows, err := pg.Table(ctx, d.one("patient.insurance_rows"))
	if err != nil {
		return false, fmt.Errorf("rev: insurance list: %w", err)
	}
	want := strings.ToLower(name)
	match := -1
	for i, r := range rows {
		line := strings.ToLower(strings.Join(r, " "))
		if !strings.Contains(line, want) || strings.Contains(line, "inactive") {
			continue
		}
		match = i
		break
	}
	if match < 0 {
		return false, nil
	}
	// nth-child is one-based.
	if err := pg.Click(ctx, d.f("patient.insurance_row", match+1)...); err != nil {
		return false, fmt.Errorf("rev: open insurance: %w", err)
	}
	return true, nil
}

// insuranceLabels maps EHR labels to insurance keys.
var insuranceLabels = map[string]string{
	"policy holder":      "policy_holder",
	"policyholder":       "policy_holder",
	"subscriber":         "policy_holder",
	"policy holder dob":  "dob",
	"subscriber dob":     "dob",
	"policy holder dob.": "dob",
	"plan":               "plan_name",
	"plan name":          "plan_name",
	"policy #":           "policy_number",
	"policy number":      "policy_number",
	"member id":          "member_id",
	"member #":           "member_id",
	"group #":            "group_number",
	"group number":       "group_number",
	"insurance company":  "carrier",
	"carrier":            "carrier",
	"relationship":       "relationship",
	"ssn":                "ssn",
	"subscriber ssn":     "ssn",
}

func (d *Driver) ScrapeInsurance(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	labels, err := pg.Labels(ctx, d.one("patient.insurance_detail_rows"))
	if err != nil {
		return fmt.Errorf("rev: insurance details: %w", err)
	}
	if len(labels) == 0 {
		return errors.New("rev: insurance details are empty")
	}
	for label, value := range lowerKeys(labels) {
		if value == "" {
			continue
		}
		if key, ok := insuranceLabels[label]; ok {
			p.Insurance.Set(key, value)
			continue
		}
		p.Insurance.Set(label, value)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Optical order
// ---------------------------------------------------------------------------

func (d *Driver) ExpandOpticalOrders(ctx context.Context) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if err := pg.Click(ctx, d.s("patient.optical_tab")...); err != nil {
		return fmt.Errorf("rev: optical orders tab: %w", err)
	}
	return nil
}

// OpenOpticalOrder opens the order dated on the invoice DOS, or the newest
// order when none matches.
func (d *Driver) OpenOpticalOrder(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	rows, err := pg.Table(ctx, d.one("patient.optical_rows"))
	if err != nil {
		return fmt.Errorf("rev: optical orders: %w", err)
	}
	dateCol := d.column("patient.optical_columns.date", 1)
	match := -1
	for i, r := range rows {
		if len(r) == 0 || !normalize.LooksLikeDate(cell(r, dateCol)) {
			continue
		}
		if match < 0 {
			match = i
		}
		if dos, ok := normalize.SearchDOB(cell(r, dateCol)); ok && dos == p.Insurance.DOS {
			match = i
			break
		}
	}
	if match < 0 {
		return ErrNoOpticalOrder
	}
	if err := pg.Click(ctx, d.f("patient.optical_row", match+1)...); err != nil {
		return fmt.Errorf("rev: open optical order: %w", err)
	}
	return nil
}

var frameLabels = map[string]string{
	"manufacturer": "manufacturer",
	"collection":   "collection",
	"model":        "model",
	"style":        "model",
	"color":        "color",
	"eye":          "eye_size",
	"eye size":     "eye_size",
	"a":            "eye_size",
	"bridge":       "bridge",
	"dbl":          "bridge",
	"temple":       "temple",
	"type":         "frame_type",
	"frame type":   "frame_type",
}

func (d *Driver) ScrapeFrameData(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	labels, err := pg.Labels(ctx, d.one("optical.frame_rows"))
	if err != nil {
		return fmt.Errorf("rev: frame details: %w", err)
	}
	applyLabels(labels, frameLabels, p.Frame.Set)
	return nil
}

var lensLabels = map[string]string{
	"material":       "material",
	"lens material":  "material",
	"design":         "design",
	"lens type":      "design",
	"style":          "design",
	"tint":           "tint",
	"coating":        "coating",
	"ar coating":     "coating",
	"seg height":     "segment_height",
	"segment height": "segment_height",
}

func (d *Driver) ScrapeLensData(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	labels, err := pg.Labels(ctx, d.one("optical.lens_rows"))
	if err != nil {
		return fmt.Errorf("rev: lens details: %w", err)
	}
	applyLabels(labels, lensLabels, p.Lens.Set)
	for _, c := range p.Claims {
		if svc, ok := claim.ClassifyCode(c.Code()); ok && svc == claim.Lens && p.Lens.VCode == "" {
			p.Lens.VCode = c.Code()
		}
	}

	rows, err := pg.Table(ctx, d.one("optical.rx_rows"))
	if err != nil {
		return fmt.Errorf("rev: prescription: %w", err)
	}
	d.applyRx(p, rows)

	if pd, err := pg.Text(ctx, d.s("optical.pd")...); err == nil {
		p.Medical.PD = pd
	}
	return nil
}

// applyRx reads the OD and OS rows of the prescription grid.
func (d *Driver) applyRx(p *patient.Patient, rows [][]string) {
	sph := d.column("optical.rx_columns.sphere", 1)
	cyl := d.column("optical.rx_columns.cylinder", 2)
	axis := d.column("optical.rx_columns.axis", 3)
	add := d.column("optical.rx_columns.add", 4)
	for _, r := range rows {
		eye := strings.ToUpper(cell(r, 0))
		var prefix string
		switch {
		case strings.HasPrefix(eye, "OD"):
			prefix = "od_"
		case strings.HasPrefix(eye, "OS"):
			prefix = "os_"
		default:
			continue
		}
		p.Medical.Set(prefix+"sphere", cell(r, sph))
		p.Medical.Set(prefix+"cylinder", cell(r, cyl))
		p.Medical.Set(prefix+"axis", cell(r, axis))
		p.Medical.Set(prefix+"add", cell(r, add))
	}
}

// ScrapeOpticalCopay applies the order's patient copay to the material lines
// that carry none.
func (d *Driver) ScrapeOpticalCopay(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	text, err := pg.Text(ctx, d.s("optical.copay")...)
	if err != nil {
		d.logger.Debug().Err(err).Msg("optical order shows no copay")
		return nil
	}
	amount, err := patient.ParseAmount(text)
	if err != nil {
		return fmt.Errorf("rev: optical copay: %w", err)
	}
	for i, c := range p.Claims {
		svc, ok := claim.ClassifyCode(c.Code())
		if !ok || !svc.IsMaterial() || c.Copay.Valid {
			continue
		}
		p.Claims[i] = c.WithCopay(amount)
		break
	}
	return nil
}

func (d *Driver) GetWholesalePrice(ctx context.Context, p *patient.Patient) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	if err := pg.Click(ctx, d.s("optical.frame_link")...); err != nil {
		return fmt.Errorf("rev: frame inventory link: %w", err)
	}
	price, err := pg.Text(ctx, d.s("optical.wholesale")...)
	if back := pg.Click(ctx, d.s("optical.back")...); back != nil {
		d.logger.Debug().Err(back).Msg("return from frame inventory")
	}
	if err != nil {
		return fmt.Errorf("rev: wholesale price: %w", err)
	}
	amount, err := patient.ParseAmount(price)
	if err != nil {
		return fmt.Errorf("rev: wholesale price: %w", err)
	}
	p.Frame.WholesalePrice = claim.FormatAmount(amount)
	return nil
}

// ---------------------------------------------------------------------------
// Documents and navigation
// ---------------------------------------------------------------------------

// UploadDocument attaches path to the open invoice in the Insurance folder.
func (d *Driver) UploadDocument(ctx context.Context, path string) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	before, _ := pg.Count(ctx, d.one("invoice.document_rows"))
	if err := pg.Click(ctx, d.s("invoice.documents_tab")...); err != nil {
		return fmt.Errorf("rev: documents tab: %w", err)
	}
	if err := pg.Click(ctx, d.s("invoice.upload")...); err != nil {
		return fmt.Errorf("rev: upload dialog: %w", err)
	}
	if err := pg.Upload(ctx, path, d.s("invoice.file_input")...); err != nil {
		return fmt.Errorf("rev: choose file: %w", err)
	}
	if folder := d.s("invoice.folder"); len(folder) > 0 {
		ok, err := pg.SelectOption(ctx, "Insurance", folder...)
		if err != nil {
			return fmt.Errorf("rev: document folder: %w", err)
		}
		if !ok {
			d.logger.Warn().Msg("no Insurance folder, using the default folder")
		}
	}
	if err := pg.Click(ctx, d.s("invoice.upload_save")...); err != nil {
		return fmt.Errorf("rev: save upload: %w", err)
	}
	after, err := pg.Count(ctx, d.one("invoice.document_rows"))
	if err != nil {
		return fmt.Errorf("rev: count documents: %w", err)
	}
	if after <= before {
		return ErrUploadNotVisible
	}
	d.logger.Info().Str("invoice", d.invoice).Msg("confirmation attached")
	return nil
}

func (d *Driver) NavigatePatientPage(ctx context.Context) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	return pg.Click(ctx, d.s("patient.summary_tab")...)
}

func (d *Driver) ClosePatientTab(ctx context.Context) error {
	pg, err := d.page()
	if err != nil {
		return err
	}
	closeSel := d.s("patient.close")
	if !pg.Visible(ctx, closeSel...) {
		return nil
	}
	return pg.Click(ctx, closeSel...)
}

// ---------------------------------------------------------------------------
// Label helpers
// ---------------------------------------------------------------------------

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

func firstLabel(m map[string]string, labels ...string) string {
	for _, l := range labels {
		if v := m[l]; v != "" {
			return v
		}
	}
	return ""
}

// applyLabels stores known labels under their key and everything else under
// the label itself, which lands in the namespace's Extra map.
func applyLabels(labels, known map[string]string, set func(key, value string)) {
	for label, value := range lowerKeys(labels) {
		if value == "" {
			continue
		}
		if key, ok := known[label]; ok {
			set(key, value)
			continue
		}
		set(label, value)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
