package api

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sijosaju/multistream-downloader/internal/coordinator"
	"github.com/Sijosaju/multistream-downloader/internal/job"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestStartRegistersEntryBeforeCompletion(t *testing.T) {
	m := newTestManager(t)

	entry := m.Start(coordinator.Request{
		ID:         "1",
		URL:        "http://127.0.0.1:1/unreachable", // refused immediately by the probe
		Mode:       job.ModeStatic,
		NumStreams: 2,
		OutputDir:  t.TempDir(),
	})

	require.NotNil(t, entry)
	assert.Equal(t, "static", entry.Mode)
	assert.False(t, entry.RLEnabled)

	got := m.Get("1")
	require.NotNil(t, got)
	assert.Same(t, entry, got)
}

func TestGetUnknownReturnsNil(t *testing.T) {
	m := newTestManager(t)
	assert.Nil(t, m.Get("does-not-exist"))
}

func TestCancelUnknownJobReturnsFalse(t *testing.T) {
	m := newTestManager(t)
	assert.False(t, m.Cancel("does-not-exist"))
}

func TestCancelBeforeJobCreatedReturnsFalse(t *testing.T) {
	m := newTestManager(t)
	m.Start(coordinator.Request{ID: "2", URL: "http://127.0.0.1:1/x", Mode: job.ModeStatic, NumStreams: 1, OutputDir: t.TempDir()})
	// The job record may not exist yet (probe runs on the background goroutine).
	assert.False(t, m.Cancel("2"))
}

func TestListReturnsAllEntries(t *testing.T) {
	m := newTestManager(t)
	m.Start(coordinator.Request{ID: "a", URL: "http://127.0.0.1:1/a", Mode: job.ModeStatic, NumStreams: 1, OutputDir: t.TempDir()})
	m.Start(coordinator.Request{ID: "b", URL: "http://127.0.0.1:1/b", Mode: job.ModeStatic, NumStreams: 1, OutputDir: t.TempDir()})

	entries := m.List()
	assert.Len(t, entries, 2)
}

func TestEntrySpeedStartsAtZero(t *testing.T) {
	e := &Entry{Job: job.New("1", "http://x", "/tmp/x", job.ModeStatic, 1, 100, nil)}
	assert.Equal(t, float64(0), e.Speed())
	e.touchSpeed()
	assert.Equal(t, float64(0), e.Speed(), "first sample has no elapsed baseline yet")
}

func TestEntryTouchSpeedComputesRate(t *testing.T) {
	j := job.New("1", "http://x", "/tmp/x", job.ModeStatic, 1, 1000, nil)
	e := &Entry{Job: j}

	e.touchSpeed()
	j.Downloaded.Store(500)
	time.Sleep(10 * time.Millisecond)
	e.touchSpeed()

	assert.Greater(t, e.Speed(), float64(0))
}
