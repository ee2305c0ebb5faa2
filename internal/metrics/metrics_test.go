package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordItem("facebook", "replied")
	m.RecordItem("facebook", "replied")
	m.RecordDispatchFailure("whatsapp")
	m.SetGenerationOnline(true)
	m.RecordScanPass(3*time.Second, errors.New("boom"))

	assert.InDelta(t, 2, value(t, m.ItemsProcessed.WithLabelValues("facebook", "replied")), 0)
	assert.InDelta(t, 1, value(t, m.DispatchFailures.WithLabelValues("whatsapp")), 0)
	assert.InDelta(t, 1, value(t, m.GenerationOnline), 0)
	assert.InDelta(t, 1, value(t, m.ScanPasses.WithLabelValues("error")), 0)
}

func value(t *testing.T, metric prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, metric.Write(&out))
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestNilMetricsAreNoops(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.RecordItem("facebook", "skipped")
	m.RecordDispatchFailure("facebook")
	m.SetGenerationOnline(false)
	m.RecordScanPass(time.Second, nil)
	m.RecordInboxPoll(nil)
	assert.Nil(t, m.Registry())
}

func TestHandlerServesPrivateRegistry(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordInboxPoll(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `leadscanner_inbox_polls_total{result="ok"} 1`))
	assert.False(t, strings.Contains(string(body), "go_goroutines"), "default collectors are not registered")
}
