package patient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount  = errors.New("billed amount must not be negative")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrMissingCode     = errors.New("procedure code is required")
)

// ClaimItem is one billable invoice line.
type ClaimItem struct {
	VCode         string              `json:"vcode"`
	Description   string              `json:"description"`
	BilledAmount  decimal.Decimal     `json:"billed_amount"`
	Quantity      int                 `json:"quantity"`
	Modifier      string              `json:"modifier,omitempty"`
	DateOfService string              `json:"date_of_service,omitempty"`
	Copay         decimal.NullDecimal `json:"copay"`
}

// NewClaimItem validates and builds a claim line.
func NewClaimItem(vcode, description string, billed decimal.Decimal, quantity int) (ClaimItem, error) {
	item := ClaimItem{
		VCode:        strings.TrimSpace(vcode),
		Description:  strings.TrimSpace(description),
		BilledAmount: billed,
		Quantity:     quantity,
	}
	if err := item.Validate(); err != nil {
		return ClaimItem{}, err
	}
	return item, nil
}

// Validate checks the line invariants.
func (c ClaimItem) Validate() error {
	if c.VCode == "" {
		return ErrMissingCode
	}
	if c.BilledAmount.IsNegative() {
		return fmt.Errorf("%s: %w", c.VCode, ErrNegativeAmount)
	}
	if c.Quantity < 1 {
		return fmt.Errorf("%s: %w", c.VCode, ErrInvalidQuantity)
	}
	return nil
}

// Code returns the canonical upper-case procedure code.
func (c ClaimItem) Code() string {
	return strings.ToUpper(strings.TrimSpace(c.VCode))
}

// WithCopay returns a copy of the line carrying the scraped copay.
func (c ClaimItem) WithCopay(amount decimal.Decimal) ClaimItem {
	c.Copay = decimal.NewNullDecimal(amount)
	return c
}

// ParseAmount parses a scraped currency string such as "$1,035.00" or "(35.00)".
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}
