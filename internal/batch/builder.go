package batch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/claimbot/claimbot/internal/driver"
)

// VisionPayor is the dashboard payor filter for vision-plan invoices.
const VisionPayor = "vision"

// InvoiceListBuilder collects the dashboard invoices that still have no
// document attached.
type InvoiceListBuilder struct {
	ehr    driver.EHR
	payor  string
	logger zerolog.Logger
}

func NewInvoiceListBuilder(ehr driver.EHR, logger zerolog.Logger) *InvoiceListBuilder {
	return &InvoiceListBuilder{ehr: ehr, payor: VisionPayor, logger: logger}
}

// Build searches the dashboard and returns, in dashboard order, the invoices
// whose documents compartment is empty. A row that cannot be inspected is
// logged and left out.
func (b *InvoiceListBuilder) Build(ctx context.Context) ([]string, error) {
	if err := b.ehr.NavigateToInvoiceDashboard(ctx); err != nil {
		return nil, fmt.Errorf("invoice dashboard: %w", err)
	}
	if err := b.ehr.SearchInvoice(ctx, driver.InvoiceQuery{Payor: b.payor}); err != nil {
		return nil, fmt.Errorf("search invoices: %w", err)
	}
	rows, err := b.ehr.InvoiceResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("read invoice results: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	ids := make([]string, 0, len(rows))
	for _, id := range rows {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pending, err := b.inspect(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.logger.Warn().Err(err).Str("invoice", id).Msg("skipping invoice")
			continue
		}
		if pending {
			ids = append(ids, id)
		}
	}

	if err := b.ehr.NavigateToInvoiceDashboard(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("return to invoice dashboard")
	}
	b.logger.Info().Int("results", len(rows)).Int("pending", len(ids)).Msg("built invoice list")
	return ids, nil
}

// inspect reports whether the invoice still needs a claim.
func (b *InvoiceListBuilder) inspect(ctx context.Context, id string) (bool, error) {
	defer func() {
		if err := b.ehr.CloseInvoiceTabs(ctx, id); err != nil {
			b.logger.Warn().Err(err).Str("invoice", id).Msg("close invoice tabs")
		}
	}()

	ok, err := b.ehr.OpenInvoice(ctx, id)
	if err != nil {
		return false, fmt.Errorf("open invoice: %w", err)
	}
	if !ok {
		return false, fmt.Errorf("invoice not found")
	}
	has, err := b.ehr.CheckForDocument(ctx)
	if err != nil {
		return false, fmt.Errorf("check documents: %w", err)
	}
	return !has, nil
}
