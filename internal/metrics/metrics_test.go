package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, sourceFetchesTotal)
	require.NotNil(t, matchJobsTotal)
	require.NotNil(t, cacheLookupsTotal)

	before := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	ObserveCacheLookup(true)
	require.InDelta(t, before+1, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")), 0.001)
}

func TestObserveSourceFetchAndListings(t *testing.T) {
	ObserveSourceFetch("shop-a", "timeout", 250*time.Millisecond)
	require.GreaterOrEqual(t, testutil.ToFloat64(sourceFetchesTotal.WithLabelValues("shop-a", "timeout")), 1.0)

	ObserveListings("shop-a", 3, 0)
	ObserveListings("shop-a", 0, 2)
	require.GreaterOrEqual(t, testutil.ToFloat64(sourceListingsTotal.WithLabelValues("shop-a", "kept")), 3.0)
	require.GreaterOrEqual(t, testutil.ToFloat64(sourceListingsTotal.WithLabelValues("shop-a", "dropped")), 2.0)
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/matches/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/matches/abc", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "418")), 0.001)
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveJob("completed", time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "matcher_jobs_total"))
}
