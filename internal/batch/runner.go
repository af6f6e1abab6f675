// Package batch runs the daily claim pass: it loads or builds the day's
// work-list, files each invoice in order and removes the ones that are done.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/claimbot/claimbot/internal/driver"
	"github.com/claimbot/claimbot/internal/platform/middleware"
	"github.com/claimbot/claimbot/internal/platform/notification"
	"github.com/claimbot/claimbot/internal/platform/telemetry"
	"github.com/claimbot/claimbot/internal/workflow"
)

// Submitter files one invoice. *workflow.Workflow implements it.
type Submitter interface {
	Submit(ctx context.Context, invoiceID string) (*workflow.Result, error)
}

// ListBuilder produces a fresh work-list. *InvoiceListBuilder implements it.
type ListBuilder interface {
	Build(ctx context.Context) ([]string, error)
}

// Notifier delivers the run summary. *notification.Notifier implements it.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string) (*notification.Notification, error)
	Retry(ctx context.Context, id string) error
}

// Options are the optional collaborators of a Runner.
type Options struct {
	Clock          driver.Clock
	Stats          *telemetry.Stats
	Notifier       Notifier
	InvoiceTimeout time.Duration
}

// Runner is the batch entry point.
type Runner struct {
	store     *WorkListStore
	builder   ListBuilder
	submitter Submitter
	clock     driver.Clock
	stats     *telemetry.Stats
	notifier  Notifier
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewRunner(store *WorkListStore, builder ListBuilder, submitter Submitter, opts Options, logger zerolog.Logger) *Runner {
	clock := opts.Clock
	if clock == nil {
		clock = driver.SystemClock{}
	}
	return &Runner{
		store:     store,
		builder:   builder,
		submitter: submitter,
		clock:     clock,
		stats:     opts.Stats,
		notifier:  opts.Notifier,
		timeout:   opts.InvoiceTimeout,
		logger:    logger,
	}
}

// Failure describes an invoice left on the work-list.
type Failure struct {
	Invoice string
	Phase   workflow.Phase
	Kind    string
	Err     error
}

// Summary reports one run.
type Summary struct {
	Date         time.Time
	Resumed      bool
	Processed    int
	Submitted    int
	Skipped      int
	AttachFailed int
	Failures     []Failure
	Removed      []string
	Remaining    []string
	Cancelled    bool
	Duration     time.Duration
}

// Run performs one pass over today's work-list. Invoice failures are logged
// and leave the invoice on the list; only configuration errors, work-list
// I/O errors and a failed list build are returned.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := r.clock.Now()
	day := start
	sum := &Summary{Date: day}
	r.stats.RunStarted()
	defer r.stats.RunFinished()

	ids, resumed, err := r.prepare(ctx, day)
	if err != nil {
		r.notifyAborted(ctx, sum, err)
		return sum, err
	}
	sum.Resumed = resumed
	r.stats.SetWorkListRemaining(len(ids))
	r.logger.Info().
		Str("date", day.Format(dateLayout)).
		Bool("resumed", resumed).
		Int("invoices", len(ids)).
		Msg("work-list ready")

	var last *workflow.Result
	handle := middleware.Chain(
		func(ctx context.Context, invoiceID string) error {
			res, err := r.submitter.Submit(ctx, invoiceID)
			last = res
			return err
		},
		middleware.Logger(r.logger),
		middleware.Recovery(r.logger),
		middleware.InvoiceTimeout(r.timeout),
	)

	remaining := append([]string(nil), ids...)
	for _, id := range ids {
		if ctx.Err() != nil {
			sum.Cancelled = true
			r.logger.Warn().Int("remaining", len(remaining)).Msg("run cancelled")
			break
		}

		last = nil
		err := handle(ctx, id)
		sum.Processed++
		r.record(sum, id, last, err)

		if err != nil {
			if workflow.IsConfiguration(err) {
				sum.Remaining = remaining
				r.notifyAborted(ctx, sum, err)
				return sum, fmt.Errorf("invoice %s: %w", id, err)
			}
			continue
		}

		remaining = remove(remaining, id)
		sum.Removed = append(sum.Removed, id)
		if err := r.store.Save(day, remaining); err != nil {
			sum.Remaining = remaining
			r.notifyAborted(ctx, sum, err)
			return sum, err
		}
		r.stats.SetWorkListRemaining(len(remaining))
	}

	sum.Remaining = remaining
	sum.Duration = r.clock.Now().Sub(start)
	r.logger.Info().
		Int("processed", sum.Processed).
		Int("submitted", sum.Submitted).
		Int("skipped", sum.Skipped).
		Int("failed", len(sum.Failures)).
		Int("remaining", len(remaining)).
		Dur("duration", sum.Duration).
		Msg("run finished")
	r.notifySummary(ctx, sum)
	return sum, nil
}

// prepare loads today's list or builds and persists a new one.
func (r *Runner) prepare(ctx context.Context, day time.Time) ([]string, bool, error) {
	ids, ok, err := r.store.Load(day)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return ids, true, nil
	}

	removed, err := r.store.PurgeOlder(day)
	if err != nil {
		r.logger.Warn().Err(err).Msg("could not delete every old work-list")
	}
	if len(removed) > 0 {
		r.logger.Info().Strs("files", removed).Msg("deleted old work-lists")
	}

	ids, err = r.builder.Build(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("build work-list: %w", err)
	}
	if err := r.store.Save(day, ids); err != nil {
		return nil, false, err
	}
	return ids, false, nil
}

func (r *Runner) record(sum *Summary, id string, res *workflow.Result, err error) {
	var d time.Duration
	exit := workflow.ExitAbortError
	if res != nil {
		d = res.Duration
		if res.Exit != "" {
			exit = res.Exit
		}
	}
	if err != nil && exit.Done() {
		exit = workflow.ExitAbortError
	}
	r.stats.InvoiceFinished(string(exit), d)

	if err != nil {
		f := Failure{Invoice: id, Phase: workflow.PhaseOf(err), Kind: failureKind(err), Err: err}
		sum.Failures = append(sum.Failures, f)
		r.stats.InvoiceFailed(f.Kind, string(f.Phase))
		r.logger.Error().
			Err(err).
			Str("invoice", id).
			Str("phase", string(f.Phase)).
			Str("kind", f.Kind).
			Msg("invoice left on work-list")
		return
	}

	switch exit {
	case workflow.ExitDoneSkip:
		sum.Skipped++
	default:
		sum.Submitted++
	}
	if res != nil && res.AttachErr != nil {
		sum.AttachFailed++
		r.stats.InvoiceFailed("attach", string(workflow.PhaseAttach))
		r.logger.Warn().
			Err(res.AttachErr).
			Str("invoice", id).
			Msg("claim submitted without attached confirmation; attach it manually")
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, middleware.ErrPanic):
		return "driver"
	case errors.Is(err, middleware.ErrInvoiceTimeout):
		return "timeout"
	}
	return workflow.Kind(err)
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

func (r *Runner) notifySummary(ctx context.Context, sum *Summary) {
	if r.notifier == nil {
		return
	}
	data := map[string]string{
		"date":      sum.Date.Format(dateLayout),
		"duration":  sum.Duration.Round(time.Second).String(),
		"processed": strconv.Itoa(sum.Processed),
		"submitted": strconv.Itoa(sum.Submitted),
		"skipped":   strconv.Itoa(sum.Skipped),
		"failed":    strconv.Itoa(len(sum.Failures)),
		"remaining": strconv.Itoa(len(sum.Remaining)),
	}
	r.notify(ctx, notification.TemplateRunSummary, data)
}

func (r *Runner) notifyAborted(ctx context.Context, sum *Summary, cause error) {
	if r.notifier == nil {
		return
	}
	data := map[string]string{
		"date":      sum.Date.Format(dateLayout),
		"reason":    cause.Error(),
		"remaining": strconv.Itoa(len(sum.Remaining)),
	}
	r.notify(ctx, notification.TemplateRunAborted, data)
}

// notify sends a message after the run is over, so a cancelled run still
// reports. A failed delivery is retried once.
func (r *Runner) notify(ctx context.Context, templateID string, data map[string]string) {
	ctx = context.WithoutCancel(ctx)
	n, err := r.notifier.SendFromTemplate(ctx, templateID, data)
	if err == nil {
		return
	}
	if n == nil || n.ID == "" {
		r.logger.Warn().Err(err).Str("template", templateID).Msg("run notice not sent")
		return
	}
	if err := r.notifier.Retry(ctx, n.ID); err != nil {
		r.logger.Warn().Err(err).Str("template", templateID).Msg("run notice not sent after retry")
	}
}
