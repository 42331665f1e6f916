package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// routed registers h on a mux under pattern so requests carry a route.
func routed(m *Metrics, pattern string, h http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(pattern, h)
	return Middleware(m)(mux)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_AssignsRequestID(t *testing.T) {
	m, _, _ := testSetup(t)

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/v1/score", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("request ID %q is not a UUID: %v", seen, err)
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response %s = %q, want %q", RequestIDHeader, got, seen)
	}
}

func TestMiddleware_KeepsCallerRequestID(t *testing.T) {
	m, _, _ := testSetup(t)
	h := Middleware(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "from-client")
	rec := serve(h, req)

	if got := rec.Header().Get(RequestIDHeader); got != "from-client" {
		t.Errorf("response %s = %q, want from-client", RequestIDHeader, got)
	}
}

func TestMiddleware_CreatesSpanWithStatus(t *testing.T) {
	m, _, exp := testSetup(t)
	h := routed(m, "POST /v1/score", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/v1/score", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("response status = %d, want 400", rec.Code)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID")
	}

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("middleware did not create a span")
	}
	if spans[0].Name != "HTTP POST /v1/score" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	found := false
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" && a.Value.AsInt64() == 400 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("4xx marked the span as failed")
	}
}

func TestMiddleware_ServerErrorFailsSpan(t *testing.T) {
	m, _, exp := testSetup(t)
	h := routed(m, "POST /v1/score/audio", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "stt down", http.StatusBadGateway)
	})

	serve(h, httptest.NewRequest(http.MethodPost, "/v1/score/audio", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want error", spans[0].Status.Code)
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader, _ := testSetup(t)
	h := routed(m, "GET /readyz", func(http.ResponseWriter, *http.Request) {})

	serve(h, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "lectern.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("unexpected data %#v", met.Data)
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	checks := map[attribute.Key]string{"method": "GET", "path": "/readyz"}
	for k, want := range checks {
		if v, ok := dp.Attributes.Value(k); !ok || v.AsString() != want {
			t.Errorf("attribute %s = %v, want %q", k, v.AsString(), want)
		}
	}
	if v, ok := dp.Attributes.Value("status"); !ok || v.AsInt64() != 200 {
		t.Errorf("status attribute = %v, want 200", v.AsInt64())
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m, reader, _ := testSetup(t)
	h := routed(m, "GET /readyz", func(http.ResponseWriter, *http.Request) {})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/random/4711", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	hist := findMetric(rm, "lectern.http.request.duration").Data.(metricdata.Histogram[float64])
	if v, _ := hist.DataPoints[0].Attributes.Value("path"); v.AsString() != "unmatched" {
		t.Errorf("path attribute = %q, want unmatched", v.AsString())
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)

	var cid string
	h := Middleware(m)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/propagate", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := serve(h, req)

	const want = "4bf92f3577b34da6a3ce929d0e0e4736"
	if cid != want {
		t.Errorf("correlation ID = %q, want %q", cid, want)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != want {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, want)
	}
}
