package selectors

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const sample = `
rev:
  url: https://rev.example.test
  login:
    username: "#username"
    submit: ["button[type=submit]", "  ", "#login-button"]
  invoice_row: "tr[data-invoice='%s'] td a"
vsp:
  column_checkbox: "#services tbody tr td:nth-child(%d) input"
  broken: 42
  nested:
    deeper: x
`

func readSample(t *testing.T) *Catalog {
	t.Helper()
	c, err := Read(strings.NewReader(sample), "yaml")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return c
}

func TestGet(t *testing.T) {
	rev := readSample(t).Section("rev")

	tests := []struct {
		key  string
		want []string
	}{
		{"login.username", []string{"#username"}},
		{"login.submit", []string{"button[type=submit]", "#login-button"}},
	}
	for _, tt := range tests {
		got, err := rev.Get(tt.key)
		if err != nil {
			t.Fatalf("Get(%s): %v", tt.key, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Get(%s) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestGet_Errors(t *testing.T) {
	vsp := readSample(t).Section("vsp")

	if _, err := vsp.Get("nope"); !errors.Is(err, ErrMissingSelector) {
		t.Errorf("missing key: %v", err)
	}
	if _, err := vsp.Get("broken"); !errors.Is(err, ErrInvalidSelector) {
		t.Errorf("number entry: %v", err)
	}
	if _, err := vsp.Get("nested"); !errors.Is(err, ErrInvalidSelector) {
		t.Errorf("map entry: %v", err)
	}
	_, err := vsp.Get("nope")
	if !strings.Contains(err.Error(), "vsp.nope") {
		t.Errorf("error should carry the full key: %v", err)
	}
}

func TestOneAndFormat(t *testing.T) {
	c := readSample(t)

	first, err := c.Section("rev").One("login.submit")
	if err != nil || first != "button[type=submit]" {
		t.Errorf("One = %q, %v", first, err)
	}
	row, err := c.Section("rev").Format("invoice_row", "INV-9")
	if err != nil || row[0] != "tr[data-invoice='INV-9'] td a" {
		t.Errorf("Format = %v, %v", row, err)
	}
	col, _ := c.Section("vsp").Format("column_checkbox", 3)
	if col[0] != "#services tbody tr td:nth-child(3) input" {
		t.Errorf("Format = %v", col)
	}
}

func TestText(t *testing.T) {
	url, err := readSample(t).Section("rev").Text("url")
	if err != nil || url != "https://rev.example.test" {
		t.Errorf("Text = %q, %v", url, err)
	}
}

func TestRequire(t *testing.T) {
	rev := readSample(t).Section("rev")
	if err := rev.Require("login.username", "login.submit"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := rev.Require("login.username", "zeta", "alpha")
	if !errors.Is(err, ErrMissingSelector) {
		t.Fatalf("expected ErrMissingSelector, got %v", err)
	}
	if !strings.HasSuffix(err.Error(), "rev.alpha, rev.zeta") {
		t.Errorf("missing keys should be listed sorted: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := c.Section("rev").Get("login.username"); err != nil {
		t.Error(err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}
