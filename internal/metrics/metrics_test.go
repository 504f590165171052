package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewIndexer(reg)
	m.Events.WithLabelValues("signed", "applied").Inc()
	m.Cursor.Set(42)

	srv := httptest.NewServer(NewHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "lending_indexer_cursor_block 42"))
	assert.True(t, strings.Contains(string(body), `lending_indexer_events_total{kind="signed",outcome="applied"} 1`))
}

func TestHealthzRejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealthz(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLiquidationInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLiquidation(reg)
	m.Attempts.WithLabelValues("confirmed").Add(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() != "lending_liquidation_attempts_total" {
			continue
		}
		found = true
		require.Len(t, f.GetMetric(), 1)
		assert.Equal(t, float64(2), f.GetMetric()[0].GetCounter().GetValue())
	}
	assert.True(t, found)
}
