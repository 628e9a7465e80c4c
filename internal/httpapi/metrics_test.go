package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestItoa(t *testing.T) {
	cases := map[int]string{0: "0", 7: "7", 200: "200", 404: "404", 502: "502"}
	for n, want := range cases {
		if got := itoa(n); got != want {
			t.Fatalf("itoa(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestRoutePatternOrPathFallback(t *testing.T) {
	// Outside a chi router there is no pattern; the raw path is used.
	r := httptest.NewRequest(http.MethodGet, "/v1/models/alpha", nil)
	if got := routePatternOrPath(r); got != "/v1/models/alpha" {
		t.Fatalf("fallback path: %q", got)
	}
}

func TestMetricsMiddlewarePreservesStatus(t *testing.T) {
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("code: %d", rec.Code)
	}
	if rec.Body.String() != "short and stout" {
		t.Fatalf("body: %q", rec.Body.String())
	}
}

func TestIncrementBackpressure(t *testing.T) {
	// Empty reasons normalize instead of creating an empty label value.
	IncrementBackpressure("")
	IncrementBackpressure("queue")
}
