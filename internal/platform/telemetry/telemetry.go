// Package telemetry records batch-run metrics (invoice outcomes, failures by
// kind and phase, member-search probes, work-list size) and exposes them in
// the Prometheus text format over an echo endpoint.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sum, old, next) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

// ---------------------------------------------------------------------------
// Counters and gauges keyed by "name|label|label"
// ---------------------------------------------------------------------------

type int64Store struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newInt64Store() *int64Store {
	return &int64Store{items: make(map[string]*int64)}
}

func (s *int64Store) ptr(key string) *int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.items[key]; !ok {
		p = new(int64)
		s.items[key] = p
	}
	return p
}

func (s *int64Store) add(key string, delta int64) { atomic.AddInt64(s.ptr(key), delta) }

func (s *int64Store) set(key string, v int64) { atomic.StoreInt64(s.ptr(key), v) }

func (s *int64Store) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *int64Store) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// Key joins a metric name and its label values.
func Key(name string, labels ...string) string {
	return strings.Join(append([]string{name}, labels...), "|")
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

const (
	metricInvoices     = "claimbot_invoices_total"
	metricFailures     = "claimbot_invoice_failures_total"
	metricProbes       = "claimbot_member_search_probes_total"
	metricRemaining    = "claimbot_worklist_remaining"
	metricInvoiceSecs  = "claimbot_invoice_duration_seconds"
	metricRunsInFlight = "claimbot_run_in_progress"
)

// invoiceBuckets are seconds; a full claim takes one to three minutes.
var invoiceBuckets = []float64{5, 15, 30, 60, 120, 300, 600}

// Stats holds the metrics for one process. A nil *Stats records nothing.
type Stats struct {
	service  string
	counters *int64Store
	gauges   *int64Store
	duration *histogram
}

// NewStats creates an empty recorder labelled with the service name.
func NewStats(service string) *Stats {
	if service == "" {
		service = "claimbot"
	}
	return &Stats{
		service:  service,
		counters: newInt64Store(),
		gauges:   newInt64Store(),
		duration: newHistogram(invoiceBuckets),
	}
}

// InvoiceFinished counts one processed invoice by exit and observes its duration.
func (s *Stats) InvoiceFinished(exit string, d time.Duration) {
	if s == nil {
		return
	}
	s.counters.add(Key(metricInvoices, exit), 1)
	s.duration.Observe(d.Seconds())
}

// InvoiceFailed counts an aborted invoice by error kind and phase.
func (s *Stats) InvoiceFailed(kind, phase string) {
	if s == nil {
		return
	}
	s.counters.add(Key(metricFailures, kind, phase), 1)
}

// SearchProbe counts one member-search attempt.
func (s *Stats) SearchProbe(kind string, hit bool) {
	if s == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	s.counters.add(Key(metricProbes, kind, result), 1)
}

// SetWorkListRemaining records the current work-list length.
func (s *Stats) SetWorkListRemaining(n int) {
	if s == nil {
		return
	}
	s.gauges.set(metricRemaining, int64(n))
}

// RunStarted and RunFinished bracket a batch run.
func (s *Stats) RunStarted() {
	if s != nil {
		s.gauges.set(metricRunsInFlight, 1)
	}
}

func (s *Stats) RunFinished() {
	if s != nil {
		s.gauges.set(metricRunsInFlight, 0)
	}
}

// Counter returns the value of a counter by name and labels.
func (s *Stats) Counter(name string, labels ...string) int64 {
	if s == nil {
		return 0
	}
	return s.counters.get(Key(name, labels...))
}

// Gauge returns the value of a gauge.
func (s *Stats) Gauge(name string) int64 {
	if s == nil {
		return 0
	}
	return s.gauges.get(name)
}

// InvoiceCount is the number of observed invoice durations.
func (s *Stats) InvoiceCount() int64 {
	if s == nil {
		return 0
	}
	return s.duration.Count()
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

// PrometheusHandler serves the metrics in text exposition format.
func (s *Stats) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, s.Exposition())
	}
}

// Exposition renders every metric.
func (s *Stats) Exposition() string {
	var b strings.Builder
	counters := s.counters.snapshot()

	writeCounter(&b, counters, metricInvoices, "Processed invoices by exit.", "exit")
	writeCounter(&b, counters, metricFailures, "Aborted invoices by error kind and phase.", "kind", "phase")
	writeCounter(&b, counters, metricProbes, "Member search probes by candidate kind and result.", "kind", "result")

	for _, g := range []struct{ name, help string }{
		{metricRemaining, "Invoices left on today's work-list."},
		{metricRunsInFlight, "1 while a batch run is in progress."},
	} {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n", g.name, g.help, g.name)
		fmt.Fprintf(&b, "%s{service=%q} %d\n\n", g.name, s.service, s.gauges.get(g.name))
	}

	fmt.Fprintf(&b, "# HELP %s Wall time per invoice.\n# TYPE %s histogram\n", metricInvoiceSecs, metricInvoiceSecs)
	cum := s.duration.cumulative()
	for i, boundary := range s.duration.boundaries {
		fmt.Fprintf(&b, "%s_bucket{le=\"%g\"} %d\n", metricInvoiceSecs, boundary, cum[i])
	}
	total := s.duration.Count()
	fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"} %d\n", metricInvoiceSecs, total)
	fmt.Fprintf(&b, "%s_sum %g\n%s_count %d\n", metricInvoiceSecs, s.duration.Sum(), metricInvoiceSecs, total)
	return b.String()
}

func writeCounter(b *strings.Builder, snap map[string]int64, name, help string, labelNames ...string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	var keys []string
	for k := range snap {
		if strings.HasPrefix(k, name+"|") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		values := strings.Split(k, "|")[1:]
		if len(values) != len(labelNames) {
			continue
		}
		pairs := make([]string, len(values))
		for i, v := range values {
			pairs[i] = fmt.Sprintf("%s=%q", labelNames[i], v)
		}
		fmt.Fprintf(b, "%s{%s} %d\n", name, strings.Join(pairs, ","), snap[k])
	}
	b.WriteByte('\n')
}

// ---------------------------------------------------------------------------
// Metrics server
// ---------------------------------------------------------------------------

// NewServer builds the echo instance serving /metrics and /healthz.
func (s *Stats) NewServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", s.PrometheusHandler())
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": s.service})
	})
	return e
}

// Serve runs the metrics server on addr until ctx is done.
func (s *Stats) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	e := s.NewServer()
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}
