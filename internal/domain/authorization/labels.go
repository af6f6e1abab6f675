// Package authorization decides how the payer authorization for a patient is
// obtained from the service columns of the active coverage package.
package authorization

import (
	"sort"
	"strings"

	"github.com/claimbot/claimbot/internal/domain/claim"
)

var labelReplacer = strings.NewReplacer("/", " ", "-", " ", "\n", " ", "\t", " ")

var singular = map[string]string{
	"services": "service",
	"lenses":   "lens",
	"frames":   "frame",
	"exams":    "exam",
	"contacts": "contact",
}

// NormalizeLabel lower-cases a header label, turns separators into spaces and
// joins the singularized words with underscores.
func NormalizeLabel(label string) string {
	words := strings.Fields(labelReplacer.Replace(strings.ToLower(label)))
	for i, w := range words {
		if s, ok := singular[w]; ok {
			words[i] = s
		}
	}
	return strings.Join(words, "_")
}

// CanonicalLabel maps a portal column header to the service it authorizes.
func CanonicalLabel(label string) (claim.Service, bool) {
	norm := NormalizeLabel(label)
	if norm == "" {
		return "", false
	}
	contact := strings.Contains(norm, "contact")
	switch {
	case contact && (strings.Contains(norm, "service") || strings.Contains(norm, "exam")):
		return claim.ContactService, true
	case strings.Contains(norm, "exam"):
		return claim.Exam, true
	case contact:
		return claim.Contacts, true
	case strings.Contains(norm, "lens"):
		return claim.Lens, true
	case strings.Contains(norm, "frame"):
		return claim.Frame, true
	}
	return "", false
}

// IndexMapFromLabels builds the service → column index map from the header
// labels in column order. The first column matching a service wins.
func IndexMapFromLabels(labels []string) map[claim.Service]int {
	out := make(map[claim.Service]int)
	for i, label := range labels {
		svc, ok := CanonicalLabel(label)
		if !ok {
			continue
		}
		if _, taken := out[svc]; !taken {
			out[svc] = i
		}
	}
	return out
}

// DesiredColumns maps the patient's services to column indices in ascending
// order. Services the package has no column for are returned in missing.
func DesiredColumns(services claim.ServiceSet, index map[claim.Service]int) (cols []int, missing []claim.Service) {
	for _, svc := range services.Sorted() {
		col, ok := index[svc]
		if !ok {
			missing = append(missing, svc)
			continue
		}
		cols = append(cols, col)
	}
	sort.Ints(cols)
	return cols, missing
}
