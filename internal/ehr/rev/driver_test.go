package rev

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/claimbot/claimbot/internal/domain/patient"
	"github.com/claimbot/claimbot/internal/driver"
	"github.com/claimbot/claimbot/internal/platform/browser/browsertest"
	"github.com/claimbot/claimbot/internal/platform/selectors"
)

const testCatalog = `
rev:
  urls:
    login: https://rev.example.test/login
  login:
    username: "#user"
    password: "#pass"
    submit: ["#login", "button[type=submit]"]
    done: "#home"
  nav:
    invoices: "#nav-invoices"
  dashboard:
    ready: "#invoice-search"
    payor: "#payor"
    invoice_number: "#invoice-number"
    date_from: "#from"
    search: "#search"
    rows: "#results tr"
    invoice_link: "a[data-invoice='%s']"
    invoice_column: "1"
  invoice:
    header: "#invoice-%s"
    close: "#close-invoice-%s"
    documents_tab: "#documents"
    document_rows: "#documents tr"
    patient_name: "#patient-name"
    patient_link: "#patient-link"
    provider: "#provider"
    diagnosis: "#dx"
    service_date: "#service-date"
    item_rows: "#items tr"
    columns:
      code: "0"
      description: "1"
      quantity: "2"
      amount: "3"
      copay: "4"
      date: "5"
    upload: "#upload"
    file_input: "#file"
    folder: "#folder"
    upload_save: "#upload-save"
  patient:
    header: "#patient"
    close: "#close-patient"
    summary_tab: "#summary"
    demographics_rows: "#demographics tr"
    dob: "#dob"
    family_tab: "#family"
    family_rows: "#family tr"
    insurance_tab: "#insurance"
    insurance_rows: "#insurance-list tr"
    insurance_row: "#insurance-list tr:nth-child(%d)"
    insurance_detail_rows: "#insurance-detail tr"
    optical_tab: "#optical"
    optical_rows: "#orders tr"
    optical_row: "#orders tr:nth-child(%d) a"
  optical:
    frame_rows: "#frame tr"
    lens_rows: "#lens tr"
    rx_rows: "#rx tr"
    pd: "#pd"
    copay: "#order-copay"
    frame_link: "#frame-link"
    wholesale: "#wholesale"
    back: "#back"
`

func newTestDriver(t *testing.T) (*Driver, *browsertest.Page) {
	t.Helper()
	cat, err := selectors.Read(strings.NewReader(testCatalog), "yaml")
	if err != nil {
		t.Fatalf("read catalog: %v", err)
	}
	pages := browsertest.NewPages()
	d, err := New(pages, cat.Section("rev"), "", Credentials{Username: "u", Password: "p"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, pages.Get(PageName)
}

func TestNew_RequiresSelectors(t *testing.T) {
	cat, err := selectors.Read(strings.NewReader("rev:\n  login:\n    username: '#u'\n"), "yaml")
	if err != nil {
		t.Fatal(err)
	}
	_, err = New(browsertest.NewPages(), cat.Section("rev"), "https://x", Credentials{}, zerolog.Nop())
	if !errors.Is(err, selectors.ErrMissingSelector) {
		t.Fatalf("expected ErrMissingSelector, got %v", err)
	}
	if !strings.Contains(err.Error(), "rev.login.password") {
		t.Errorf("error should name the missing key: %v", err)
	}
}

func TestLogin(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Shown["#home"] = true

	if err := d.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if len(pg.URLs) != 1 || pg.URLs[0] != "https://rev.example.test/login" {
		t.Errorf("URLs = %v", pg.URLs)
	}
	if pg.Filled["#user"] != "u" || pg.Filled["#pass"] != "p" {
		t.Errorf("credentials not filled: %v", pg.Filled)
	}
	if !pg.Did("click #login") {
		t.Errorf("submit not clicked: %v", pg.Actions)
	}
}

func TestLogin_Failed(t *testing.T) {
	d, _ := newTestDriver(t)
	if err := d.Login(context.Background()); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("expected ErrLoginFailed, got %v", err)
	}
}

func TestLogin_SubmitFallsBackToSecondSelector(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Shown["#home"] = true
	pg.Absent["#login"] = true

	if err := d.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !pg.Did("click button[type=submit]") {
		t.Errorf("fallback selector not used: %v", pg.Actions)
	}
}

func TestNavigateToInvoiceDashboard(t *testing.T) {
	t.Run("already there", func(t *testing.T) {
		d, pg := newTestDriver(t)
		pg.Shown["#invoice-search"] = true
		if err := d.NavigateToInvoiceDashboard(context.Background()); err != nil {
			t.Fatal(err)
		}
		if pg.Did("click #nav-invoices") {
			t.Error("menu should not be clicked")
		}
	})
	t.Run("via menu", func(t *testing.T) {
		d, pg := newTestDriver(t)
		pg.OnClick["#nav-invoices"] = func(p *browsertest.Page) { p.Shown["#invoice-search"] = true }
		if err := d.NavigateToInvoiceDashboard(context.Background()); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("never loads", func(t *testing.T) {
		d, _ := newTestDriver(t)
		if err := d.NavigateToInvoiceDashboard(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestSearchAndResults(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Tables["#results tr"] = [][]string{
		{"", "Invoice #", "Patient"},
		{"", "1001", "Doe, Jane"},
		{"", "1002", "Roe, Rick"},
		{"", "", "empty"},
	}
	ctx := context.Background()

	err := d.SearchInvoice(ctx, driver.InvoiceQuery{Payor: "vision"})
	if err != nil {
		t.Fatalf("SearchInvoice: %v", err)
	}
	if pg.Filled["#payor"] != "vision" {
		t.Errorf("payor = %q", pg.Filled["#payor"])
	}
	if _, ok := pg.Filled["#from"]; ok {
		t.Error("zero From should not be filled")
	}
	if !pg.Did("click #search") {
		t.Error("search not run")
	}

	ids, err := d.InvoiceResults(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ids, ",") != "1001,1002" {
		t.Errorf("ids = %v", ids)
	}
}

func TestOpenAndCloseInvoice(t *testing.T) {
	d, pg := newTestDriver(t)
	ctx := context.Background()
	pg.Shown["#invoice-1001"] = true
	pg.Shown["#close-invoice-1001"] = true

	ok, err := d.OpenInvoice(ctx, "1001")
	if err != nil || !ok {
		t.Fatalf("OpenInvoice = %v, %v", ok, err)
	}
	if err := d.CloseInvoiceTabs(ctx, "1001"); err != nil {
		t.Fatal(err)
	}
	if !pg.Did("click #close-invoice-1001") {
		t.Errorf("close not clicked: %v", pg.Actions)
	}
}

func TestOpenInvoice_NotFound(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Absent["a[data-invoice='404']"] = true

	ok, err := d.OpenInvoice(context.Background(), "404")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("missing invoice reported as opened")
	}
	if pg.Filled["#invoice-number"] != "404" {
		t.Error("driver should search for the invoice before giving up")
	}
}

func TestCheckForDocument(t *testing.T) {
	d, pg := newTestDriver(t)
	ctx := context.Background()

	has, err := d.CheckForDocument(ctx)
	if err != nil || has {
		t.Fatalf("empty compartment = %v, %v", has, err)
	}
	pg.Counts["#documents tr"] = 2
	has, err = d.CheckForDocument(ctx)
	if err != nil || !has {
		t.Fatalf("two documents = %v, %v", has, err)
	}
}

func TestRowSelectorsMissingFromCatalog(t *testing.T) {
	cat, err := selectors.Read(strings.NewReader("rev:\n  invoice:\n    documents_tab: '#documents'\n"), "yaml")
	if err != nil {
		t.Fatal(err)
	}
	pages := browsertest.NewPages()
	d := &Driver{pages: pages, sel: cat.Section("rev"), logger: zerolog.Nop()}
	ctx := context.Background()

	has, err := d.CheckForDocument(ctx)
	if err != nil || has {
		t.Errorf("CheckForDocument = %v, %v", has, err)
	}
	if ids, err := d.InvoiceResults(ctx); err != nil || len(ids) != 0 {
		t.Errorf("InvoiceResults = %v, %v", ids, err)
	}
}

func TestScrapeInvoiceDetails(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Texts["#patient-name"] = "Doe, Jane Q"
	pg.Texts["#provider"] = "Dr. Smith"
	pg.Texts["#dx"] = "H52.13"
	pg.Tables["#items tr"] = [][]string{
		{"Code", "Description", "Qty", "Amount", "Copay"},
		{"92014", "Comprehensive exam", "1", "$150.00", "$10.00"},
		{"V2020", "Frame", "1", "$120.00", ""},
		{"V2100", "Single vision lens", "2", "$80.00", ""},
		{"V2520", "Acuvue 90 pack", "2", "$90.00", ""},
		{"BAD", "broken", "0", "$1", ""},
	}
	pg.Texts["#service-date"] = "2026-03-04"

	p := patient.New("1001")
	if err := d.ScrapeInvoiceDetails(context.Background(), p); err != nil {
		t.Fatalf("ScrapeInvoiceDetails: %v", err)
	}
	if p.FirstName != "Jane" || p.LastName != "Doe" {
		t.Errorf("name = %q %q", p.FirstName, p.LastName)
	}
	if p.Insurance.DOS != "03/04/2026" {
		t.Errorf("DOS = %q", p.Insurance.DOS)
	}
	if len(p.Claims) != 4 {
		t.Fatalf("claims = %d, want 4", len(p.Claims))
	}
	if !p.Claims[0].Copay.Valid || p.Claims[0].Copay.Decimal.StringFixed(2) != "10.00" {
		t.Errorf("exam copay = %v", p.Claims[0].Copay)
	}
	if p.Claims[2].Quantity != 2 {
		t.Errorf("lens quantity = %d", p.Claims[2].Quantity)
	}
	if !p.HasOpticalOrder || !p.HasFrame {
		t.Errorf("optical flags = %v/%v", p.HasOpticalOrder, p.HasFrame)
	}
	if p.Contacts.PackSize != "90" {
		t.Errorf("pack size = %q", p.Contacts.PackSize)
	}
	if p.Medical.Provider != "Dr. Smith" || p.Medical.Dx != "H52.13" {
		t.Errorf("medical = %+v", p.Medical)
	}
}

func TestScrapeInvoiceDetails_DOSFromLine(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Texts["#patient-name"] = "Doe, Jane"
	pg.Tables["#items tr"] = [][]string{
		{"92014", "Exam", "1", "150.00", "", "03/04/2026"},
	}

	p := patient.New("1001")
	if err := d.ScrapeInvoiceDetails(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.Insurance.DOS != "03/04/2026" {
		t.Errorf("DOS = %q", p.Insurance.DOS)
	}
	if p.HasOpticalOrder {
		t.Error("exam-only invoice flagged with an optical order")
	}
}

func TestScrapeInvoiceDetails_NoName(t *testing.T) {
	d, _ := newTestDriver(t)
	err := d.ScrapeInvoiceDetails(context.Background(), patient.New("1"))
	if !errors.Is(err, ErrNoPatientName) {
		t.Fatalf("expected ErrNoPatientName, got %v", err)
	}
}

func TestScrapeDemographics(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Tables["#demographics tr"] = [][]string{
		{"Date of Birth:", "1980-05-06"},
		{"Sex", "F"},
		{"Address Line 1", "1 Main St"},
		{"Zip Code", "30301"},
		{"Preferred Language", "English"},
	}
	p := patient.New("1")
	if err := d.ScrapeDemographics(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.DateOfBirth() != "05/06/1980" {
		t.Errorf("dob = %q", p.DateOfBirth())
	}
	if p.Demographics.Gender != "F" || p.Demographics.Address != "1 Main St" || p.Demographics.Zip != "30301" {
		t.Errorf("demographics = %+v", p.Demographics)
	}
	if p.Demographics.Get("preferred language") != "English" {
		t.Errorf("unknown label not kept: %v", p.Demographics.Extra)
	}
}

func TestScrapeDemographics_DOBFallbackField(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Texts["#dob"] = "05/06/1980"
	p := patient.New("1")
	if err := d.ScrapeDemographics(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.DateOfBirth() != "05/06/1980" {
		t.Errorf("dob = %q", p.DateOfBirth())
	}
}

func TestScrapeFamilyDemographics(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Tables["#family tr"] = [][]string{
		{"Name", "DOB"},
		{"Doe, John A", "01/02/1975"},
		{"Doe, Jill", "03/04/2010"},
	}
	p := patient.New("1")
	if err := d.ScrapeFamilyDemographics(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if len(p.Family) != 2 || p.Family[0].FirstName != "John" || p.Family[1].DOB != "03/04/2010" {
		t.Errorf("family = %+v", p.Family)
	}
	if !pg.Did("click #summary") {
		t.Error("driver should return to the summary tab")
	}
}

func TestSelectInsurance(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Tables["#insurance-list tr"] = [][]string{
		{"VSP Vision", "Inactive"},
		{"Medicare", "Active"},
		{"VSP Vision Care", "Active"},
	}
	ctx := context.Background()

	ok, err := d.SelectInsurance(ctx, "vsp")
	if err != nil || !ok {
		t.Fatalf("SelectInsurance = %v, %v", ok, err)
	}
	if !pg.Did("click #insurance-list tr:nth-child(3)") {
		t.Errorf("wrong row opened: %v", pg.Actions)
	}

	ok, err = d.SelectInsurance(ctx, "eyemed")
	if err != nil || ok {
		t.Fatalf("absent insurance = %v, %v", ok, err)
	}
}

func TestScrapeInsurance(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Tables["#insurance-detail tr"] = [][]string{
		{"Policy Holder", "Doe, John"},
		{"Policy Holder DOB", "01/02/1975"},
		{"Plan Name", "VSP Choice"},
		{"Member ID", "123456789"},
		{"Employer", "Acme"},
	}
	p := patient.New("1")
	if err := d.ScrapeInsurance(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	in := p.Insurance
	if in.PolicyHolder != "Doe, John" || in.PolicyHolderDOB != "01/02/1975" || in.PlanName != "VSP Choice" || in.MemberID != "123456789" {
		t.Errorf("insurance = %+v", in)
	}
	if in.Get("employer") != "Acme" {
		t.Errorf("extra = %v", in.Extra)
	}
}

func TestScrapeInsurance_Empty(t *testing.T) {
	d, _ := newTestDriver(t)
	if err := d.ScrapeInsurance(context.Background(), patient.New("1")); err == nil {
		t.Fatal("expected error for an empty panel")
	}
}

func TestOpenOpticalOrder(t *testing.T) {
	rows := [][]string{
		{"Order", "Date"},
		{"A-2", "03/10/2026"},
		{"A-1", "03/04/2026"},
	}
	tests := []struct {
		name string
		dos  string
		want string
	}{
		{"matches the service date", "03/04/2026", "click #orders tr:nth-child(3) a"},
		{"newest when no date matches", "01/01/2026", "click #orders tr:nth-child(2) a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, pg := newTestDriver(t)
			pg.Tables["#orders tr"] = rows
			p := patient.New("1")
			p.Insurance.DOS = tt.dos
			if err := d.OpenOpticalOrder(context.Background(), p); err != nil {
				t.Fatal(err)
			}
			if !pg.Did(tt.want) {
				t.Errorf("actions = %v", pg.Actions)
			}
		})
	}

	d, _ := newTestDriver(t)
	if err := d.OpenOpticalOrder(context.Background(), patient.New("1")); !errors.Is(err, ErrNoOpticalOrder) {
		t.Errorf("expected ErrNoOpticalOrder, got %v", err)
	}
}

func TestScrapeFrameAndLens(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Tables["#frame tr"] = [][]string{
		{"Manufacturer", "Luxottica"},
		{"Model", "RB5154"},
		{"Eye Size", "51"},
		{"Rim", "Full"},
	}
	pg.Tables["#lens tr"] = [][]string{
		{"Lens Material", "Polycarbonate"},
		{"AR Coating", "Crizal"},
	}
	pg.Tables["#rx tr"] = [][]string{
		{"", "Sph", "Cyl", "Axis", "Add"},
		{"OD", "-1.25", "-0.50", "180", ""},
		{"OS", "-1.00", "", "", ""},
	}
	pg.Texts["#pd"] = "62"

	p := patient.New("1")
	item, _ := patient.NewClaimItem("V2100", "SV lens", mustAmount(t, "80"), 2)
	_ = p.AddClaimItem(item)
	ctx := context.Background()

	if err := d.ScrapeFrameData(ctx, p); err != nil {
		t.Fatal(err)
	}
	if p.Frame.Manufacturer != "Luxottica" || p.Frame.Model != "RB5154" || p.Frame.EyeSize != "51" {
		t.Errorf("frame = %+v", p.Frame)
	}
	if p.Frame.Get("rim") != "Full" {
		t.Errorf("frame extra = %v", p.Frame.Extra)
	}

	if err := d.ScrapeLensData(ctx, p); err != nil {
		t.Fatal(err)
	}
	if p.Lens.Material != "Polycarbonate" || p.Lens.Coating != "Crizal" || p.Lens.VCode != "V2100" {
		t.Errorf("lens = %+v", p.Lens)
	}
	if p.Medical.ODSphere != "-1.25" || p.Medical.ODAxis != "180" || p.Medical.OSSphere != "-1.00" || p.Medical.PD != "62" {
		t.Errorf("rx = %+v", p.Medical)
	}
}

func TestScrapeOpticalCopay(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Texts["#order-copay"] = "$25.00"

	p := patient.New("1")
	exam, _ := patient.NewClaimItem("92014", "Exam", mustAmount(t, "150"), 1)
	lens, _ := patient.NewClaimItem("V2100", "Lens", mustAmount(t, "80"), 1)
	_ = p.AddClaimItem(exam)
	_ = p.AddClaimItem(lens)

	if err := d.ScrapeOpticalCopay(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.Claims[0].Copay.Valid {
		t.Error("exam line should not receive the optical copay")
	}
	if !p.Claims[1].Copay.Valid || p.Claims[1].Copay.Decimal.StringFixed(2) != "25.00" {
		t.Errorf("lens copay = %v", p.Claims[1].Copay)
	}
}

func TestGetWholesalePrice(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Texts["#wholesale"] = "$42.5"
	p := patient.New("1")
	if err := d.GetWholesalePrice(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.Frame.WholesalePrice != "42.50" {
		t.Errorf("wholesale = %q", p.Frame.WholesalePrice)
	}
	if !pg.Did("click #back") {
		t.Error("driver should return to the order")
	}
}

func TestUploadDocument(t *testing.T) {
	d, pg := newTestDriver(t)
	pg.Options["#folder"] = []string{"General", "Insurance"}
	pg.OnClick["#upload-save"] = func(p *browsertest.Page) { p.Counts["#documents tr"] = 1 }

	if err := d.UploadDocument(context.Background(), "/tmp/confirm.png"); err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if len(pg.Uploaded) != 1 || pg.Uploaded[0] != "/tmp/confirm.png" {
		t.Errorf("uploaded = %v", pg.Uploaded)
	}
	if pg.Filled["#folder"] != "Insurance" {
		t.Errorf("folder = %q", pg.Filled["#folder"])
	}
}

func TestUploadDocument_NotVisible(t *testing.T) {
	d, _ := newTestDriver(t)
	err := d.UploadDocument(context.Background(), "/tmp/confirm.png")
	if !errors.Is(err, ErrUploadNotVisible) {
		t.Fatalf("expected ErrUploadNotVisible, got %v", err)
	}
}

func TestClosePatientTab(t *testing.T) {
	d, pg := newTestDriver(t)
	ctx := context.Background()

	if err := d.ClosePatientTab(ctx); err != nil {
		t.Fatal(err)
	}
	if pg.Did("click #close-patient") {
		t.Error("nothing to close")
	}
	pg.Shown["#close-patient"] = true
	if err := d.ClosePatientTab(ctx); err != nil {
		t.Fatal(err)
	}
	if !pg.Did("click #close-patient") {
		t.Error("patient tab not closed")
	}
}

func mustAmount(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}
