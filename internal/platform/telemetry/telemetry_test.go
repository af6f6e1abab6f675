package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

func TestHistogram_ObserveAndCumulative(t *testing.T) {
	h := newHistogram([]float64{1, 5, 10})
	for _, v := range []float64{0.5, 3, 3, 7, 50} {
		h.Observe(v)
	}
	if h.Count() != 5 {
		t.Fatalf("expected count=5, got %d", h.Count())
	}
	if h.Sum() != 63.5 {
		t.Fatalf("expected sum=63.5, got %g", h.Sum())
	}
	cum := h.cumulative()
	want := []int64{1, 3, 4}
	for i := range want {
		if cum[i] != want[i] {
			t.Errorf("bucket %d: expected %d, got %d", i, want[i], cum[i])
		}
	}
}

func TestHistogram_ConcurrentObserve(t *testing.T) {
	h := newHistogram(invoiceBuckets)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Observe(1)
		}()
	}
	wg.Wait()
	if h.Count() != 50 || h.Sum() != 50 {
		t.Fatalf("expected count=sum=50, got %d/%g", h.Count(), h.Sum())
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func TestStats_Counters(t *testing.T) {
	s := NewStats("")
	s.InvoiceFinished("done_ok", 40*time.Second)
	s.InvoiceFinished("done_ok", 70*time.Second)
	s.InvoiceFinished("abort_no_member", 10*time.Second)
	s.InvoiceFailed("identity", "payer_search")
	s.SearchProbe("member_id", false)
	s.SearchProbe("name_dob", true)
	s.SetWorkListRemaining(3)

	if got := s.Counter(metricInvoices, "done_ok"); got != 2 {
		t.Errorf("done_ok = %d, want 2", got)
	}
	if got := s.Counter(metricFailures, "identity", "payer_search"); got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}
	if got := s.Counter(metricProbes, "name_dob", "hit"); got != 1 {
		t.Errorf("probe hits = %d, want 1", got)
	}
	if s.Gauge(metricRemaining) != 3 {
		t.Errorf("remaining = %d, want 3", s.Gauge(metricRemaining))
	}
	if s.InvoiceCount() != 3 {
		t.Errorf("invoice count = %d, want 3", s.InvoiceCount())
	}
}

func TestStats_NilIsNoop(t *testing.T) {
	var s *Stats
	s.InvoiceFinished("done_ok", time.Second)
	s.InvoiceFailed("driver", "scrape")
	s.SearchProbe("member_id", true)
	s.SetWorkListRemaining(1)
	s.RunStarted()
	s.RunFinished()
	if s.Counter(metricInvoices, "done_ok") != 0 || s.Gauge(metricRemaining) != 0 {
		t.Error("nil stats must read zero")
	}
}

// ---------------------------------------------------------------------------
// Prometheus endpoint
// ---------------------------------------------------------------------------

func TestPrometheusHandler(t *testing.T) {
	s := NewStats("claimbot-test")
	s.InvoiceFinished("done_ok", 45*time.Second)
	s.InvoiceFailed("authorization", "auth_decide")
	s.RunStarted()

	e := s.NewServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`claimbot_invoices_total{exit="done_ok"} 1`,
		`claimbot_invoice_failures_total{kind="authorization",phase="auth_decide"} 1`,
		`claimbot_run_in_progress{service="claimbot-test"} 1`,
		`claimbot_invoice_duration_seconds_bucket{le="60"} 1`,
		`claimbot_invoice_duration_seconds_bucket{le="30"} 0`,
		`claimbot_invoice_duration_seconds_count 1`,
		"# TYPE claimbot_invoice_duration_seconds histogram",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q\n%s", want, body)
		}
	}
}

func TestHealthz(t *testing.T) {
	e := NewStats("claimbot").NewServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected healthz response %d %s", rec.Code, rec.Body.String())
	}
}
