package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/liveodm/internal/monitoring"
	"github.com/banshee-data/liveodm/internal/protocol"
	"github.com/banshee-data/liveodm/internal/report"
	"github.com/banshee-data/liveodm/internal/transport"
)

func init() {
	monitoring.SetLogger(nil)
}

func encode(t *testing.T, mp, ref float64) []byte {
	t.Helper()
	b, err := protocol.EncodeResult(protocol.ResultMessage{DisplacementMP: &mp, DisplacementRef: &ref})
	require.NoError(t, err)
	return b
}

func TestWatchRecordsResults(t *testing.T) {
	p := transport.NewPipe(16)
	rec := report.NewRecorder(0)
	require.NoError(t, p.Send(encode(t, 1, 0.5)))
	require.NoError(t, p.Send([]byte("garbage")))
	require.NoError(t, p.Send(encode(t, 2, 0.5)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watch(ctx, p, rec, true) }()

	require.Eventually(t, func() bool { return rec.Len() == 2 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	pts := rec.Points()
	assert.Equal(t, 0.5, pts[0].Relative)
	assert.Equal(t, 1.5, pts[1].Relative)
}

func TestWatchReportsClosedChannel(t *testing.T) {
	p := transport.NewPipe(1)
	p.Close()
	err := watch(context.Background(), p, report.NewRecorder(0), false)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestWriteCharts(t *testing.T) {
	rec := report.NewRecorder(0)
	for i := 0; i < 10; i++ {
		mp, ref := float64(i), 0.0
		rec.Add(protocol.ResultMessage{DisplacementMP: &mp, DisplacementRef: &ref})
	}
	dir := t.TempDir()
	png := filepath.Join(dir, "out.png")
	html := filepath.Join(dir, "out.html")
	require.NoError(t, writeCharts(rec, png, html))

	for _, f := range []string{png, html} {
		st, err := os.Stat(f)
		require.NoError(t, err)
		assert.Positive(t, st.Size())
	}
	require.NoError(t, writeCharts(rec, "", ""))
}
