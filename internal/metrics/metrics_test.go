package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareIncrementsCounters(t *testing.T) {
	gin.SetMode(gin.TestMode)

	InitMetrics()

	r := gin.New()
	r.Use(Middleware())
	r.GET("/v0/b/:bucket/o", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/v0/b/:bucket/o", "200"))

	req, _ := http.NewRequest(http.MethodGet, "/v0/b/bucket/o", nil)
	rr := httptest.NewRecorder()

	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/v0/b/:bucket/o", "200"))
	if after != before+1 {
		t.Fatalf("expected request counter to grow by 1, got %v -> %v", before, after)
	}
}

func TestObserveHelpersLabelOutcome(t *testing.T) {
	ObserveOperation("upload", nil)
	ObserveOperation("upload", errors.New("boom"))
	ObserveEvent("finalized", nil)

	if got := testutil.ToFloat64(objectOperations.WithLabelValues("upload", "error")); got < 1 {
		t.Fatalf("expected error outcome to be counted, got %v", got)
	}
	if got := testutil.ToFloat64(eventDispatches.WithLabelValues("finalized", "ok")); got < 1 {
		t.Fatalf("expected dispatch to be counted, got %v", got)
	}
}

func TestRegisterExposesMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	InitMetrics()
	ObserveUploadSession("resumable")

	r := gin.New()
	Register(r, "/metrics")

	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "storage_emulator_upload_sessions_total") {
		t.Fatalf("expected emulator collectors in /metrics output")
	}
}
