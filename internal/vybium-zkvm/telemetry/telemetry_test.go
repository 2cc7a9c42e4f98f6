package telemetry

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(&buf, "info", FormatJSON)
		require.NoError(t, err)
		logger.Debug().Msg("hidden")
		logger.Info().Str("module", "prover").Msg("visible")
		require.NotContains(t, buf.String(), "hidden")
		require.Contains(t, buf.String(), `"module":"prover"`)
	})

	t.Run("Console", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(&buf, "debug", FormatConsole)
		require.NoError(t, err)
		logger.Debug().Msg("hello")
		require.Contains(t, buf.String(), "hello")
		require.NotContains(t, buf.String(), "{")
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := NewLogger(&bytes.Buffer{}, "loud", FormatJSON)
		require.Error(t, err)
		_, err = NewLogger(&bytes.Buffer{}, "info", "xml")
		require.ErrorIs(t, err, ErrLogFormat)
	})
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveStage("prove", 20*time.Millisecond, nil)
	m.ObserveStage("verify", time.Millisecond, errors.New("boom"))
	m.SetProofSize(1234)
	m.SetCycles(75)

	require.Equal(t, 0.0, testutil.ToFloat64(m.Failures("prove")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Failures("verify")))
	require.Equal(t, 1234.0, testutil.ToFloat64(m.proofBytes))
	require.Equal(t, 2, testutil.CollectAndCount(m.stageDuration))

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "vybium_zkvm_execution_cycles 75"))

	var nilMetrics *Metrics
	nilMetrics.ObserveStage("prove", time.Second, nil)
	nilMetrics.SetProofSize(1)
}
