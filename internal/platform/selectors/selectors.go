// Package selectors loads the YAML catalog of page selectors used by the
// portal drivers.
//
// Each entry is either a single selector or an ordered list of alternatives:
//
//	rev:
//	  login:
//	    username: "#username"
//	    submit: ["button[type=submit]", "#login-button"]
//
// Entries may hold fmt verbs, filled in with Format.
package selectors

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// ErrMissingSelector is returned for keys absent from the catalog.
var ErrMissingSelector = errors.New("selector not in catalog")

// ErrInvalidSelector is returned for entries that are neither a string nor a
// list of strings.
var ErrInvalidSelector = errors.New("invalid selector entry")

// Catalog is a read-only view of one section of the selector file.
type Catalog struct {
	v      *viper.Viper
	prefix string
}

// Load reads a catalog file. The format follows the file extension.
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read selector catalog: %w", err)
	}
	return &Catalog{v: v}, nil
}

// Read parses a catalog of the given format ("yaml", "json", ...).
func Read(r io.Reader, format string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("parse selector catalog: %w", err)
	}
	return &Catalog{v: v}, nil
}

// Section scopes the catalog to a top-level key such as "rev" or "vsp".
func (c *Catalog) Section(name string) *Catalog {
	return &Catalog{v: c.v, prefix: c.key(name)}
}

func (c *Catalog) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + "." + k
}

// Get returns the alternatives for key in catalog order.
func (c *Catalog) Get(key string) ([]string, error) {
	full := c.key(key)
	if !c.v.IsSet(full) {
		return nil, fmt.Errorf("%w: %s", ErrMissingSelector, full)
	}
	var out []string
	switch raw := c.v.Get(full).(type) {
	case string:
		out = []string{raw}
	case []any:
		for _, item := range raw {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrInvalidSelector, full)
			}
			out = append(out, s)
		}
	case []string:
		out = append(out, raw...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidSelector, full)
	}
	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidSelector, full)
	}
	return cleaned, nil
}

// One returns the first alternative for key.
func (c *Catalog) One(key string) (string, error) {
	alts, err := c.Get(key)
	if err != nil {
		return "", err
	}
	return alts[0], nil
}

// Format returns the alternatives for key with args applied to each.
func (c *Catalog) Format(key string, args ...any) ([]string, error) {
	alts, err := c.Get(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(alts))
	for i, a := range alts {
		out[i] = fmt.Sprintf(a, args...)
	}
	return out, nil
}

// Text returns a non-selector string entry, such as a URL or a label.
func (c *Catalog) Text(key string) (string, error) {
	full := c.key(key)
	if !c.v.IsSet(full) {
		return "", fmt.Errorf("%w: %s", ErrMissingSelector, full)
	}
	return c.v.GetString(full), nil
}

// Require reports every key in keys that is missing or invalid.
func (c *Catalog) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, err := c.Get(k); err != nil {
			missing = append(missing, c.key(k))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrMissingSelector, strings.Join(missing, ", "))
}
