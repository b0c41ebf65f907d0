package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics_Records(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPipelineMetrics(registry, Config{ServiceName: "surge", Environment: "test"})

	m.RecordPacketBuild(nil, 200*time.Millisecond)
	m.RecordPacketBuild(errors.New("storage down"), time.Second)
	m.RecordEntry("report", true)
	m.RecordEntry("upload", false)
	m.RecordBatch("download")
	m.RecordBatchResult(2, 1)
	m.RecordArchive(nil)
	m.RecordRateLimitDenied()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.packetsBuilt.WithLabelValues(ResultSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.packetsBuilt.WithLabelValues(ResultFailure)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.packetEntries.WithLabelValues("upload", EntrySkipped)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.batchHouseholds.WithLabelValues(ResultSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.batchHouseholds.WithLabelValues(ResultFailure)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rateLimitDenied))

	families, err := registry.Gather()
	require.NoError(t, err)
	histogram := findMetric(t, families, "surge_packet_build_seconds")
	assert.Equal(t, uint64(2), histogram.GetHistogram().GetSampleCount())
	assert.Contains(t, labelPairs(histogram), "env=test")
}

func TestPipelineMetrics_NilIsNoop(t *testing.T) {
	var m *PipelineMetrics
	m.RecordPacketBuild(nil, time.Second)
	m.RecordEntry("report", true)
	m.RecordBatch("none")
	m.RecordBatchResult(1, 1)
	m.RecordArchive(nil)
	m.RecordRateLimitDenied()
}

func findMetric(t *testing.T, families []*dto.MetricFamily, name string) *dto.Metric {
	t.Helper()
	for _, family := range families {
		if family.GetName() == name {
			require.NotEmpty(t, family.GetMetric())
			return family.GetMetric()[0]
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func labelPairs(metric *dto.Metric) []string {
	out := make([]string, 0, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		out = append(out, pair.GetName()+"="+pair.GetValue())
	}
	return out
}

func TestHTTPMetrics_LabelsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := NewHTTPMetrics(registry, Config{ServiceName: "surge", Environment: "test"})

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/downloads/:token", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	req := httptest.NewRequest(http.MethodGet, "/downloads/secret-token", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/downloads/:token", "404")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requests))
}
