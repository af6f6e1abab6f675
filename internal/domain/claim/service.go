// Package claim holds the pure billing rules applied to an invoice: service
// classification, copay, diagnosis, rendering doctor and contact-lens units.
package claim

import (
	"sort"
	"strings"

	"github.com/claimbot/claimbot/internal/domain/patient"
)

// Service is one canonical payer service column.
type Service string

const (
	Exam           Service = "exam"
	ContactService Service = "contact_service"
	Lens           Service = "lens"
	Frame          Service = "frame"
	Contacts       Service = "contacts"
)

// AllServices lists the services in portal column order.
var AllServices = []Service{Exam, ContactService, Lens, Frame, Contacts}

// IsMaterial reports whether s is a materials (non-exam) service.
func (s Service) IsMaterial() bool {
	return s == Lens || s == Frame || s == Contacts
}

// ServiceSet is a deduplicated set of services.
type ServiceSet map[Service]struct{}

// NewServiceSet builds a set from the given services.
func NewServiceSet(services ...Service) ServiceSet {
	set := make(ServiceSet, len(services))
	for _, s := range services {
		set[s] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s ServiceSet) Has(svc Service) bool {
	_, ok := s[svc]
	return ok
}

// Sorted returns the members in AllServices order.
func (s ServiceSet) Sorted() []Service {
	out := make([]Service, 0, len(s))
	for _, svc := range AllServices {
		if s.Has(svc) {
			out = append(out, svc)
		}
	}
	return out
}

// Equal reports whether both sets have the same members.
func (s ServiceSet) Equal(o ServiceSet) bool {
	if len(s) != len(o) {
		return false
	}
	for svc := range s {
		if !o.Has(svc) {
			return false
		}
	}
	return true
}

// String renders the set as a comma-separated list.
func (s ServiceSet) String() string {
	names := make([]string, 0, len(s))
	for _, svc := range s.Sorted() {
		names = append(names, string(svc))
	}
	return strings.Join(names, ",")
}

// ExamOnly drops every materials service.
func (s ServiceSet) ExamOnly() ServiceSet {
	out := make(ServiceSet)
	for svc := range s {
		if !svc.IsMaterial() {
			out[svc] = struct{}{}
		}
	}
	return out
}

var examCodes = map[string]bool{"92004": true, "92014": true, "92015": true}

var examPrefixes = []string{"99", "S062", "S602"}

// V278 covers V2781 (progressive) and V2784 (polycarbonate).
var lensPrefixes = []string{"V21", "V22", "V23", "V278"}

var frameCodes = map[string]bool{"V2020": true, "V2025": true}

// ClassifyCode maps one upper-cased procedure code to its service.
func ClassifyCode(code string) (Service, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	switch {
	case examCodes[c] || hasAnyPrefix(c, examPrefixes):
		return Exam, true
	case strings.HasPrefix(c, "9231"):
		return ContactService, true
	case hasAnyPrefix(c, lensPrefixes):
		return Lens, true
	case frameCodes[c]:
		return Frame, true
	case strings.HasPrefix(c, "V252"):
		return Contacts, true
	}
	return "", false
}

// Classify returns the set of services billed by the claim lines. Lines that
// match no rule are ignored.
func Classify(items []patient.ClaimItem) ServiceSet {
	set := make(ServiceSet)
	for _, item := range items {
		if svc, ok := ClassifyCode(item.Code()); ok {
			set[svc] = struct{}{}
		}
	}
	return set
}

// ItemsFor returns the lines classified as svc, in invoice order.
func ItemsFor(items []patient.ClaimItem, svc Service) []patient.ClaimItem {
	var out []patient.ClaimItem
	for _, item := range items {
		if got, ok := ClassifyCode(item.Code()); ok && got == svc {
			out = append(out, item)
		}
	}
	return out
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// SortServices orders a slice in AllServices order.
func SortServices(services []Service) {
	rank := make(map[Service]int, len(AllServices))
	for i, s := range AllServices {
		rank[s] = i
	}
	sort.SliceStable(services, func(i, j int) bool { return rank[services[i]] < rank[services[j]] })
}
