// Package normalize centralizes the string cleanup rules shared by the patient
// aggregate and the member-search builder: dates of birth, person names and
// numeric identifiers scraped from the EHR.
package normalize

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidDateFormat is returned when a date is neither MM/DD/YYYY nor YYYY-MM-DD.
var ErrInvalidDateFormat = errors.New("invalid date format")

// DateLayout is the canonical date layout used by both portals.
const DateLayout = "01/02/2006"

const isoLayout = "2006-01-02"

var (
	usDateRe  = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	compactRe = regexp.MustCompile(`^\d{8}$`)
	digitRun  = regexp.MustCompile(`\d+`)
	spaceRun  = regexp.MustCompile(`\s+`)
)

// DOB normalizes a date of birth to MM/DD/YYYY. Only MM/DD/YYYY and
// YYYY-MM-DD inputs are accepted.
func DOB(s string) (string, error) {
	s = strings.TrimSpace(s)
	switch {
	case usDateRe.MatchString(s):
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return "", ErrInvalidDateFormat
		}
		return t.Format(DateLayout), nil
	case isoDateRe.MatchString(s):
		t, err := time.Parse(isoLayout, s)
		if err != nil {
			return "", ErrInvalidDateFormat
		}
		return t.Format(DateLayout), nil
	}
	return "", ErrInvalidDateFormat
}

// SearchDOB is the lenient variant used when harvesting search candidates.
// MM/DD/YYYY is kept, MMDDYYYY and YYYY-MM-DD are reformatted, and every other
// shape is discarded (ok == false).
func SearchDOB(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if compactRe.MatchString(s) {
		s = s[0:2] + "/" + s[2:4] + "/" + s[4:8]
	}
	out, err := DOB(s)
	if err != nil {
		return "", false
	}
	return out, true
}

// ParseDate parses a canonical MM/DD/YYYY date.
func ParseDate(s string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// LooksLikeDate reports whether s is a date in any of the accepted shapes.
func LooksLikeDate(s string) bool {
	s = strings.TrimSpace(s)
	if usDateRe.MatchString(s) || isoDateRe.MatchString(s) {
		return true
	}
	// MM/DD/YY as printed on some insurance cards.
	if len(s) == 8 && s[2] == '/' && s[5] == '/' {
		_, err := time.Parse("01/02/06", s)
		return err == nil
	}
	return false
}

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Name cleans a scraped person name: diacritics are folded, punctuation is
// removed, whitespace collapsed, and leading/trailing non-letters trimmed.
// Case is preserved.
func Name(s string) string {
	folded, _, err := transform.String(foldDiacritics, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range folded {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	out := spaceRun.ReplaceAllString(b.String(), " ")
	return strings.TrimFunc(out, func(r rune) bool { return !unicode.IsLetter(r) })
}

// FirstWord returns the first whitespace-separated token of a cleaned name,
// dropping middle names and initials.
func FirstWord(s string) string {
	fields := strings.Fields(Name(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// NameKey is the case-insensitive comparison key for a cleaned name.
func NameKey(s string) string {
	return strings.ToLower(Name(s))
}

// PolicyHolder splits a "Last, First" string. ok is false when either part
// is empty after cleaning.
func PolicyHolder(s string) (first, last string, ok bool) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	last = Name(parts[0])
	first = FirstWord(parts[1])
	if first == "" || last == "" {
		return "", "", false
	}
	return first, last, true
}

// DigitRuns returns every maximal run of at least min digits in s.
func DigitRuns(s string, min int) []string {
	var out []string
	for _, run := range digitRun.FindAllString(s, -1) {
		if len(run) >= min {
			out = append(out, run)
		}
	}
	return out
}

// Last4 returns the trailing four digits of a digit run.
func Last4(run string) string {
	if len(run) < 4 {
		return ""
	}
	return run[len(run)-4:]
}

// IsDigits reports whether s is non-empty and all ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// HasDigit reports whether s contains any digit.
func HasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
