package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics("rmap")
	m.PagesFetched.Add(3)
	m.PapersWritten.Add(42)
	m.Runs.WithLabelValues("incremental", "done").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.PagesFetched))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("incremental", "done")))

	path := filepath.Join(t.TempDir(), "textfile", "rmap.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rmap_papers_written_total 42")
	assert.Contains(t, string(data), `rmap_runs_total{mode="incremental",state="done"} 1`)
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics("rmap")
	b := NewMetrics("rmap")
	a.FetchRetries.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.FetchRetries))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.FetchRetries))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")

	logger.Info().Msg("hidden")
	runLogger := WithRunContext(logger, "01HZX", "backfill")
	runLogger.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"run_id":"01HZX"`)
	assert.Contains(t, out, `"mode":"backfill"`)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
