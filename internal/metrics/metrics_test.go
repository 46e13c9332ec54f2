package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		IncDrop("scheduled")
		ObserveFlush("ok", 20*time.Millisecond)
		AddBatchChanges(2, 1)
	})
}

func TestSetPending(t *testing.T) {
	SetPending(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(pendingChanges))

	SetPending(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(pendingChanges))
}

func TestIncDrop(t *testing.T) {
	before := testutil.ToFloat64(drops.WithLabelValues("cancelled"))
	IncDrop("cancelled")
	assert.Equal(t, before+1, testutil.ToFloat64(drops.WithLabelValues("cancelled")))
}
