package claim

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/claimbot/claimbot/internal/domain/patient"
)

// Rendering-provider NPIs keyed by a substring of the scraped provider name.
const (
	DoctorFitch         = "1740293919"
	DoctorHollingsworth = "1639335516"
	DoctorDefault       = "1891366597"
)

// DefaultDiagnosis is used when the chart has no refractive (H52.*) diagnosis.
const DefaultDiagnosis = "H52.223"

// ExamPlusPlan is the only plan allowed to claim an exam while materials are
// unavailable.
const ExamPlusPlan = "VSP Exam Plus Plan"

// PackSizes are the contact-lens box sizes recognized in line descriptions.
var PackSizes = []int{6, 12, 24, 30, 60, 90}

var copayPrefixes = []string{"92004", "92014", "92015", "V25"}

// DoctorID maps the scraped provider string to the rendering provider NPI.
func DoctorID(provider string) string {
	switch {
	case strings.Contains(provider, "Fitch"):
		return DoctorFitch
	case strings.Contains(provider, "Hollingsworth"):
		return DoctorHollingsworth
	}
	return DoctorDefault
}

// Diagnosis returns the diagnosis code to report: the first comma-separated
// entry of dx when it is an H52 code, otherwise DefaultDiagnosis.
func Diagnosis(dx string) string {
	first := strings.TrimSpace(strings.SplitN(dx, ",", 2)[0])
	if !strings.HasPrefix(strings.ToUpper(first), "H52.") {
		return DefaultDiagnosis
	}
	return strings.ToUpper(first)
}

// HasLensCode reports whether any line is a spectacle lens (V21/V22 prefix).
func HasLensCode(items []patient.ClaimItem) bool {
	for _, item := range items {
		c := item.Code()
		if strings.HasPrefix(c, "V21") || strings.HasPrefix(c, "V22") {
			return true
		}
	}
	return false
}

// Copay computes the patient-paid amount written to the claim. Optical
// invoices (any V21/V22 line) are exempt; otherwise the absolute copays of the
// exam and contact-lens lines are summed.
func Copay(items []patient.ClaimItem) decimal.Decimal {
	total := decimal.Zero
	if HasLensCode(items) {
		return total
	}
	for _, item := range items {
		if !item.Copay.Valid || !hasAnyPrefix(item.Code(), copayPrefixes) {
			continue
		}
		total = total.Add(item.Copay.Decimal.Abs())
	}
	return total
}

// FormatAmount renders an amount the way the claim form expects ("35.00").
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

var packUnitRe = regexp.MustCompile(`(?i)^\s*(pk|pack|box|bx|ct|count)\b`)

// PackSize returns the box size mentioned in a description. A number tagged
// with a pack unit ("90pk", "6 pack") wins over a bare one; digits that belong
// to a decimal or a signed value ("-6.00", "BC 8.6") are never sizes.
func PackSize(description string) (int, bool) {
	var bare []int
	for _, tok := range integerTokens(description) {
		if !isPackSize(tok.value) {
			continue
		}
		if packUnitRe.MatchString(description[tok.end:]) {
			return tok.value, true
		}
		bare = append(bare, tok.value)
	}
	if len(bare) > 0 {
		return bare[0], true
	}
	return 0, false
}

func isPackSize(n int) bool {
	for _, size := range PackSizes {
		if n == size {
			return true
		}
	}
	return false
}

type integerToken struct {
	value int
	end   int
}

// integerTokens returns the standalone integers of s: digit runs not touching
// a decimal point or preceded by a sign.
func integerTokens(s string) []integerToken {
	var out []integerToken
	for i := 0; i < len(s); {
		if !isDigit(s[i]) {
			i++
			continue
		}
		start := i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		if start > 0 && strings.IndexByte(".+-", s[start-1]) >= 0 {
			continue
		}
		if i < len(s) && s[i] == '.' {
			continue
		}
		n, err := strconv.Atoi(s[start:i])
		if err != nil {
			continue
		}
		out = append(out, integerToken{value: n, end: i})
	}
	return out
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// ContactUnits returns pack size × quantity for the first contact-lens (V25x)
// line, or 0 when no line or no pack size is found.
func ContactUnits(items []patient.ClaimItem) int {
	for _, item := range items {
		if !strings.HasPrefix(item.Code(), "V25") {
			continue
		}
		size, ok := PackSize(item.Description)
		if !ok {
			return 0
		}
		return size * item.Quantity
	}
	return 0
}

// Prepare computes the billing view on p. examOnly forces the copay to zero
// and drops the materials flags, in that order.
func Prepare(p *patient.Patient, examOnly bool) {
	p.Billing.DoctorID = DoctorID(p.Medical.Provider)
	p.Billing.Diagnosis = Diagnosis(p.Medical.Dx)
	p.Billing.ContactUnits = ContactUnits(p.Claims)
	p.Billing.Copay = Copay(p.Claims)
	p.Billing.ExamOnly = examOnly
	if examOnly {
		p.Billing.Copay = decimal.Zero
		p.ClearMaterials()
	}
}
