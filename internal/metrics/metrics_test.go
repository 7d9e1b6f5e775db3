package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.DeductionCommitted("synced")
	r.DeductionCommitted("synced")
	r.DeductionFailed("insufficient_stock")
	r.OfflineOrderStaged(2)
	r.SyncResult("SYNCED")
	r.AuditAction("reprocess_inventory", false)
	r.SetNetworkState(2)
	r.SetOpenDiscrepancies(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.deductionsTotal.WithLabelValues("synced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deductionFailures.WithLabelValues("insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.offlineOrdersStaged))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.offlineOrdersEvicted))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.auditActions.WithLabelValues("reprocess_inventory", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.networkState))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.openDiscrepancies))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.DeductionCommitted("synced")
	r.SyncResult("CONFLICT")
	r.SetNetworkState(1)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.SyncResult("PENDING_ADJUSTMENT")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `kasirsync_sync_results_total{status="PENDING_ADJUSTMENT"} 1`)
}
