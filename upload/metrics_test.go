package upload

import (
	"context"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CompletedUpload(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	storage := newFakeStorage(t)
	u := newTestUploader(storage, &fakeSessionClient{storage: storage}, WithMetrics(metrics))

	_, file := testFile(45)
	_, err := u.UploadFile(context.Background(), file, "courses", nil)
	require.NoError(t, err)

	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.PartsUploaded))
	assert.Equal(t, float64(45), testutil.ToFloat64(metrics.BytesUploaded))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.PartsInFlight))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Uploads.WithLabelValues("completed")))
}

func TestMetrics_FailedPart(t *testing.T) {
	metrics := NewMetrics(nil)
	storage := newFakeStorage(t)
	storage.setFailure(1, http.StatusForbidden)
	u := newTestUploader(storage, &fakeSessionClient{storage: storage}, WithMetrics(metrics), WithConcurrency(1))

	_, file := testFile(20)
	_, err := u.UploadFile(context.Background(), file, "courses", nil)
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PartFailures.WithLabelValues(reasonNetwork)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Uploads.WithLabelValues("failed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.PartsUploaded))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.partStarted()
		metrics.partUploaded(10)
		metrics.partFailed(assert.AnError)
		metrics.partFinished()
		metrics.uploadFinished("completed")
	})
}

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) }, "collectors are already registered")
}
