package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type middlewareFixture struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	seenCID string
}

// newMiddlewareFixture wraps a mux shaped like the control surface. The
// handlers answer with fixed statuses and record the correlation ID they saw.
func newMiddlewareFixture(t *testing.T) *middlewareFixture {
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
	useGlobalTracer(t, tp)

	f := &middlewareFixture{reader: reader, spans: exp}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/state", func(w http.ResponseWriter, r *http.Request) {
		f.seenCID = CorrelationID(r.Context())
	})
	mux.HandleFunc("POST /v1/events/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("POST /v1/transcripts", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	f.handler = Middleware(m)(mux)
	return f
}

func (f *middlewareFixture) do(method, path string, hdr http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *middlewareFixture) durations(t *testing.T) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voxfill.http.request.duration")
	if met == nil {
		t.Fatal("voxfill.http.request.duration not recorded")
	}
	return met.Data.(metricdata.Histogram[float64]).DataPoints
}

func TestMiddleware_Routes(t *testing.T) {
	tests := []struct {
		method, path string
		wantStatus   int
		wantSpan     string
		wantRoute    string
	}{
		{"GET", "/v1/state", http.StatusOK, "HTTP GET /v1/state", "/v1/state"},
		{"POST", "/v1/events/submit", http.StatusAccepted, "HTTP POST /v1/events/{name}", "/v1/events/{name}"},
		{"POST", "/v1/transcripts", http.StatusConflict, "HTTP POST /v1/transcripts", "/v1/transcripts"},
		{"GET", "/nowhere", http.StatusNotFound, "HTTP GET unmatched", "unmatched"},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			f := newMiddlewareFixture(t)

			rec := f.do(tc.method, tc.path, nil)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}

			spans := f.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if spans[0].Name != tc.wantSpan {
				t.Errorf("span name = %q, want %q", spans[0].Name, tc.wantSpan)
			}
			var gotStatus int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					gotStatus = a.Value.AsInt64()
				}
			}
			if gotStatus != int64(tc.wantStatus) {
				t.Errorf("span status attribute = %d, want %d", gotStatus, tc.wantStatus)
			}

			dps := f.durations(t)
			if len(dps) != 1 || dps[0].Count != 1 {
				t.Fatalf("duration points = %+v, want one sample", dps)
			}
			route, _ := dps[0].Attributes.Value("route")
			method, _ := dps[0].Attributes.Value("method")
			if route.AsString() != tc.wantRoute || method.AsString() != tc.method {
				t.Errorf("labels = (%s, %s), want (%s, %s)", method.AsString(), route.AsString(), tc.method, tc.wantRoute)
			}
		})
	}
}

func TestMiddleware_EventNamesShareOneSeries(t *testing.T) {
	f := newMiddlewareFixture(t)
	for _, name := range []string{"form-shown", "submit", "page-ready"} {
		f.do("POST", "/v1/events/"+name, nil)
	}
	f.do("GET", "/a", nil)
	f.do("GET", "/b", nil)

	dps := f.durations(t)
	counts := map[string]uint64{}
	for _, dp := range dps {
		route, _ := dp.Attributes.Value("route")
		counts[route.AsString()] += dp.Count
	}
	if len(dps) != 2 || counts["/v1/events/{name}"] != 3 || counts["unmatched"] != 2 {
		t.Errorf("series = %v, want {/v1/events/{name}: 3, unmatched: 2}", counts)
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	const incoming = "4bf92f3577b34da6a3ce929d0e0e4736"

	t.Run("generated", func(t *testing.T) {
		f := newMiddlewareFixture(t)
		rec := f.do("GET", "/v1/state", nil)
		if len(f.seenCID) != 32 {
			t.Fatalf("handler saw correlation ID %q, want 32 hex chars", f.seenCID)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != f.seenCID {
			t.Errorf("X-Correlation-ID = %q, want %q", got, f.seenCID)
		}
		if rec.Header().Get("traceparent") == "" {
			t.Error("response is missing traceparent")
		}
	})

	t.Run("from traceparent", func(t *testing.T) {
		f := newMiddlewareFixture(t)
		rec := f.do("GET", "/v1/state", http.Header{
			"Traceparent": {"00-" + incoming + "-00f067aa0ba902b7-01"},
		})
		if f.seenCID != incoming {
			t.Errorf("handler saw %q, want %q", f.seenCID, incoming)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != incoming {
			t.Errorf("X-Correlation-ID = %q, want %q", got, incoming)
		}
	})
}

func TestRouteOf(t *testing.T) {
	t.Parallel()
	tests := []struct{ pattern, want string }{
		{"", "unmatched"},
		{"GET /healthz", "/healthz"},
		{"/v1/state", "/v1/state"},
	}
	for _, tc := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.Pattern = tc.pattern
		if got := routeOf(r); got != tc.want {
			t.Errorf("routeOf(%q) = %q, want %q", tc.pattern, got, tc.want)
		}
	}
}
