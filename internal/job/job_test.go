package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddBytesInvokesHookOutsideLock(t *testing.T) {
	j := New("1", "http://x", "/tmp/out", ModeStatic, 4, 100, nil)

	var got int64
	j.SetProgressHook(func(downloaded, total int64) {
		got = downloaded
		// the hook must be safe to call without deadlocking on job state
		_ = j.Status()
	})

	j.AddBytes(10)
	j.AddBytes(5)

	assert.Equal(t, int64(15), got)
	assert.Equal(t, int64(15), j.Downloaded.Load())
}

func TestStatusTerminalIsSticky(t *testing.T) {
	j := New("1", "http://x", "/tmp/out", ModeStatic, 4, 100, nil)
	j.SetStatus(StatusCompleted)
	j.SetStatus(StatusFailed)
	assert.Equal(t, StatusCompleted, j.Status())
}

func TestChunkLifecycle(t *testing.T) {
	c := &Chunk{ID: 0, Start: 0, End: 1023}
	assert.Equal(t, int64(1024), c.Length())
	assert.Equal(t, ChunkPending, c.State())

	c.SetState(ChunkRunning)
	c.SetState(ChunkDone)
	c.RecordTransfer(1024)
	assert.Equal(t, ChunkDone, c.State())
}

func TestFailedChunksTracked(t *testing.T) {
	j := New("1", "http://x", "/tmp/out", ModeStatic, 4, 100, nil)
	j.MarkFailed(2)
	j.MarkFailed(3)
	assert.ElementsMatch(t, []int{2, 3}, j.FailedChunks())
}
