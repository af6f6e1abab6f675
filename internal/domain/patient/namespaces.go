package patient

import (
	"sort"
	"strings"
)

// Each namespace is a closed record: recognized keys map onto struct fields
// and anything else is kept in Extra so unexpected scraped fields survive.

type namespace interface {
	fields() map[string]*string
	extra() *map[string]string
}

func getKey(ns namespace, key string) string {
	key = canonicalKey(key)
	if f, ok := ns.fields()[key]; ok {
		return *f
	}
	return (*ns.extra())[key]
}

func setKey(ns namespace, key, value string) {
	key = canonicalKey(key)
	value = strings.TrimSpace(value)
	if f, ok := ns.fields()[key]; ok {
		*f = value
		return
	}
	m := ns.extra()
	if *m == nil {
		*m = make(map[string]string)
	}
	(*m)[key] = value
}

func keysOf(ns namespace) []string {
	var keys []string
	for k, f := range ns.fields() {
		if *f != "" {
			keys = append(keys, k)
		}
	}
	for k := range *ns.extra() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func canonicalKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(key)
}

// Insurance holds the coverage fields scraped from the EHR insurance panel.
type Insurance struct {
	DOS             string `json:"dos"`
	PolicyHolder    string `json:"policy_holder"`
	PolicyHolderDOB string `json:"dob"`
	PlanName        string `json:"plan_name"`
	PolicyNumber    string `json:"policy_number"`
	GroupNumber     string `json:"group_number"`
	MemberID        string `json:"member_id"`
	Carrier         string `json:"carrier"`
	Relationship    string `json:"relationship"`
	SSN             string `json:"ssn"`

	SearchCombinations []Person          `json:"search_combinations,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

func (i *Insurance) fields() map[string]*string {
	return map[string]*string{
		"dos":           &i.DOS,
		"policy_holder": &i.PolicyHolder,
		"dob":           &i.PolicyHolderDOB,
		"plan_name":     &i.PlanName,
		"policy_number": &i.PolicyNumber,
		"group_number":  &i.GroupNumber,
		"member_id":     &i.MemberID,
		"carrier":       &i.Carrier,
		"relationship":  &i.Relationship,
		"ssn":           &i.SSN,
	}
}

func (i *Insurance) extra() *map[string]string { return &i.Extra }

// Get returns the value stored under key.
func (i *Insurance) Get(key string) string { return getKey(i, key) }

// Set stores value under key. "search_combinations" accepts
// "Last, First, MM/DD/YYYY" entries separated by ";".
func (i *Insurance) Set(key, value string) {
	if canonicalKey(key) == "search_combinations" {
		i.SearchCombinations = append(i.SearchCombinations, parseCombinations(value)...)
		return
	}
	setKey(i, key, value)
}

// Keys lists the populated keys in sorted order.
func (i *Insurance) Keys() []string { return keysOf(i) }

// StringValues returns every populated string value keyed by name, including
// Extra entries.
func (i *Insurance) StringValues() map[string]string {
	out := make(map[string]string)
	for _, k := range i.Keys() {
		out[k] = i.Get(k)
	}
	return out
}

func parseCombinations(value string) []Person {
	var out []Person
	for _, entry := range strings.Split(value, ";") {
		parts := strings.Split(entry, ",")
		if len(parts) < 2 {
			continue
		}
		p := Person{
			LastName:  strings.TrimSpace(parts[0]),
			FirstName: strings.TrimSpace(parts[1]),
		}
		if len(parts) > 2 {
			p.DOB = strings.TrimSpace(parts[2])
		}
		if p.FirstName == "" || p.LastName == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Demographics holds contact and gender data from the patient page.
type Demographics struct {
	Gender   string `json:"gender"`
	Address  string `json:"address"`
	Address2 string `json:"address2"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`

	Extra map[string]string `json:"extra,omitempty"`
}

func (d *Demographics) fields() map[string]*string {
	return map[string]*string{
		"gender":   &d.Gender,
		"address":  &d.Address,
		"address2": &d.Address2,
		"city":     &d.City,
		"state":    &d.State,
		"zip":      &d.Zip,
		"phone":    &d.Phone,
		"email":    &d.Email,
	}
}

func (d *Demographics) extra() *map[string]string { return &d.Extra }

func (d *Demographics) Get(key string) string { return getKey(d, key) }
func (d *Demographics) Set(key, value string) { setKey(d, key, value) }
func (d *Demographics) Keys() []string { return keysOf(d) }

// Medical holds the diagnosis, rendering provider and spectacle Rx.
type Medical struct {
	Dx         string `json:"dx"`
	Provider   string `json:"provider"`
	ODSphere   string `json:"od_sphere"`
	ODCylinder string `json:"od_cylinder"`
	ODAxis     string `json:"od_axis"`
	ODAdd      string `json:"od_add"`
	OSSphere   string `json:"os_sphere"`
	OSCylinder string `json:"os_cylinder"`
	OSAxis     string `json:"os_axis"`
	OSAdd      string `json:"os_add"`
	PD         string `json:"pd"`

	Extra map[string]string `json:"extra,omitempty"`
}

func (m *Medical) fields() map[string]*string {
	return map[string]*string{
		"dx":          &m.Dx,
		"provider":    &m.Provider,
		"od_sphere":   &m.ODSphere,
		"od_cylinder": &m.ODCylinder,
		"od_axis":     &m.ODAxis,
		"od_add":      &m.ODAdd,
		"os_sphere":   &m.OSSphere,
		"os_cylinder": &m.OSCylinder,
		"os_axis":     &m.OSAxis,
		"os_add":      &m.OSAdd,
		"pd":          &m.PD,
	}
}

func (m *Medical) extra() *map[string]string { return &m.Extra }

func (m *Medical) Get(key string) string { return getKey(m, key) }
func (m *Medical) Set(key, value string) { setKey(m, key, value) }
func (m *Medical) Keys() []string { return keysOf(m) }

// Frame describes the frame on the optical order.
type Frame struct {
	Manufacturer   string `json:"manufacturer"`
	Collection     string `json:"collection"`
	Model          string `json:"model"`
	Color          string `json:"color"`
	EyeSize        string `json:"eye_size"`
	Bridge         string `json:"bridge"`
	Temple         string `json:"temple"`
	WholesalePrice string `json:"wholesale_price"`
	FrameType      string `json:"frame_type"`

	Extra map[string]string `json:"extra,omitempty"`
}

func (f *Frame) fields() map[string]*string {
	return map[string]*string{
		"manufacturer":    &f.Manufacturer,
		"collection":      &f.Collection,
		"model":           &f.Model,
		"color":           &f.Color,
		"eye_size":        &f.EyeSize,
		"bridge":          &f.Bridge,
		"temple":          &f.Temple,
		"wholesale_price": &f.WholesalePrice,
		"frame_type":      &f.FrameType,
	}
}

func (f *Frame) extra() *map[string]string { return &f.Extra }

func (f *Frame) Get(key string) string { return getKey(f, key) }
func (f *Frame) Set(key, value string) { setKey(f, key, value) }
func (f *Frame) Keys() []string { return keysOf(f) }

// Lens describes the spectacle lenses on the optical order.
type Lens struct {
	Material      string `json:"material"`
	Design        string `json:"design"`
	Tint          string `json:"tint"`
	Coating       string `json:"coating"`
	VCode         string `json:"vcode"`
	SegmentHeight string `json:"segment_height"`

	Extra map[string]string `json:"extra,omitempty"`
}

func (l *Lens) fields() map[string]*string {
	return map[string]*string{
		"material":       &l.Material,
		"design":         &l.Design,
		"tint":           &l.Tint,
		"coating":        &l.Coating,
		"vcode":          &l.VCode,
		"segment_height": &l.SegmentHeight,
	}
}

func (l *Lens) extra() *map[string]string { return &l.Extra }

func (l *Lens) Get(key string) string { return getKey(l, key) }
func (l *Lens) Set(key, value string) { setKey(l, key, value) }
func (l *Lens) Keys() []string { return keysOf(l) }

// Contacts describes the contact lens material on the invoice.
type Contacts struct {
	Manufacturer string `json:"manufacturer"`
	Brand        string `json:"brand"`
	PackSize     string `json:"pack_size"`
	ODBoxes      string `json:"od_boxes"`
	OSBoxes      string `json:"os_boxes"`

	Extra map[string]string `json:"extra,omitempty"`
}

func (c *Contacts) fields() map[string]*string {
	return map[string]*string{
		"manufacturer": &c.Manufacturer,
		"brand":        &c.Brand,
		"pack_size":    &c.PackSize,
		"od_boxes":     &c.ODBoxes,
		"os_boxes":     &c.OSBoxes,
	}
}

func (c *Contacts) extra() *map[string]string { return &c.Extra }

func (c *Contacts) Get(key string) string { return getKey(c, key) }
func (c *Contacts) Set(key, value string) { setKey(c, key, value) }
func (c *Contacts) Keys() []string { return keysOf(c) }
