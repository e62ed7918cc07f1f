package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRun(t *testing.T) {
	RunsTotal.Reset()

	RecordRun("Done")
	RecordRun("Failed")
	RecordRun("Done")

	assert.Equal(t, 2.0, testutil.ToFloat64(RunsTotal.WithLabelValues("Done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RunsTotal.WithLabelValues("Failed")))
}

func TestRecordDownload(t *testing.T) {
	Downloads.Reset()

	RecordDownload("miss")
	RecordDownload("hit")

	assert.Equal(t, 1.0, testutil.ToFloat64(Downloads.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(Downloads.WithLabelValues("miss")))
}

func TestRecordStage(t *testing.T) {
	StageDuration.Reset()
	RecordStage("inpaint", 1.5)
	assert.Equal(t, 1, testutil.CollectAndCount(StageDuration))
}

func TestServer(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	require.NoError(t, s.Start())
	defer s.Shutdown(context.Background())

	RecordRun("Done")

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "rmwm_runs_total"))

	health, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
