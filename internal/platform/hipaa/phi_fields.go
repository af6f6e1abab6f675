package hipaa

import (
	"strings"
	"unicode"
)

// MaskKind is how a PHI value is reduced before it reaches a log line.
type MaskKind int

const (
	MaskNone MaskKind = iota
	// MaskName keeps initials.
	MaskName
	// MaskIdentifier keeps the last four characters.
	MaskIdentifier
	// MaskDate keeps the year.
	MaskDate
	// MaskFull replaces the value entirely.
	MaskFull
)

// PHIFieldConfig lists the PHI keys of one patient namespace.
type PHIFieldConfig struct {
	Namespace string
	Fields    map[string]MaskKind
}

// DefaultPHIFields covers the namespaces scraped from the EHR that carry
// Safe Harbor identifiers. Clinical and product fields are not PHI on their
// own and are logged as is.
func DefaultPHIFields() []PHIFieldConfig {
	return []PHIFieldConfig{
		{
			Namespace: "insurance",
			Fields: map[string]MaskKind{
				"policy_holder": MaskName,
				"dob":           MaskDate,
				"policy_number": MaskIdentifier,
				"group_number":  MaskIdentifier,
				"member_id":     MaskIdentifier,
				"ssn":           MaskIdentifier,
			},
		},
		{
			Namespace: "demographics",
			Fields: map[string]MaskKind{
				"address":  MaskFull,
				"address2": MaskFull,
				"city":     MaskFull,
				"zip":      MaskFull,
				"phone":    MaskIdentifier,
				"email":    MaskFull,
			},
		},
		{
			Namespace: "candidate",
			Fields: map[string]MaskKind{
				"member_id":  MaskIdentifier,
				"first_name": MaskName,
				"last_name":  MaskName,
				"dob":        MaskDate,
			},
		},
	}
}

// PHIFieldPaths returns "<namespace>.<field>" → mask for fast look-up.
func PHIFieldPaths() map[string]MaskKind {
	paths := make(map[string]MaskKind, 16)
	for _, c := range DefaultPHIFields() {
		for f, k := range c.Fields {
			paths[c.Namespace+"."+f] = k
		}
	}
	return paths
}

var fieldPaths = PHIFieldPaths()

// Redact returns a copy of values with every PHI key of namespace masked.
// Unknown extra keys are masked fully since their content is not known.
func Redact(namespace string, values map[string]string, known func(key string) bool) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		kind, ok := fieldPaths[namespace+"."+k]
		if !ok && known != nil && !known(k) {
			kind = MaskFull
		}
		out[k] = Mask(kind, v)
	}
	return out
}

// Mask applies kind to v.
func Mask(kind MaskKind, v string) string {
	if v == "" {
		return ""
	}
	switch kind {
	case MaskName:
		return MaskPersonName(v)
	case MaskIdentifier:
		return MaskID(v)
	case MaskDate:
		return MaskDOB(v)
	case MaskFull:
		return "***"
	}
	return v
}

// MaskPersonName reduces a name to its initials ("Smith, Bob" → "S. B.").
func MaskPersonName(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return !unicode.IsLetter(r) })
	initials := make([]string, 0, len(words))
	for _, w := range words {
		initials = append(initials, strings.ToUpper(string([]rune(w)[0]))+".")
	}
	return strings.Join(initials, " ")
}

// MaskID keeps the last four characters of an identifier.
func MaskID(id string) string {
	id = strings.TrimSpace(id)
	r := []rune(id)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}

// MaskDOB keeps only a trailing or leading four-digit year.
func MaskDOB(dob string) string {
	dob = strings.TrimSpace(dob)
	switch {
	case len(dob) >= 4 && isYear(dob[len(dob)-4:]):
		return "**/**/" + dob[len(dob)-4:]
	case len(dob) >= 4 && isYear(dob[:4]):
		return dob[:4] + "-**-**"
	}
	return "***"
}

func isYear(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
