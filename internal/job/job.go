// Package job holds the shared data model for one download: the job
// itself, its chunks, and the progress counters workers and the
// coordinator mutate concurrently.
package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Mode selects between a fixed-size worker pool and one resized by the
// RL controller each monitoring interval.
type Mode int

const (
	ModeStatic Mode = iota
	ModeAdaptive
)

func (m Mode) String() string {
	if m == ModeAdaptive {
		return "adaptive"
	}
	return "static"
}

// Status is the job's lifecycle state. downloading is the only
// non-terminal value; every other value is terminal.
type Status int

const (
	StatusDownloading Status = iota
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "downloading"
	}
}

// ChunkState is a chunk's lifecycle state: pending -> running -> {done, failed}.
type ChunkState int

const (
	ChunkPending ChunkState = iota
	ChunkRunning
	ChunkDone
	ChunkFailed
)

// Chunk is one contiguous byte range of the source file, fetched by a
// single worker into its own temp file.
type Chunk struct {
	ID       int
	Start    int64
	End      int64 // inclusive
	PartPath string

	mu         sync.Mutex
	state      ChunkState
	bytesXfer  int64
	startedAt  time.Time
	finishedAt time.Time
	speedBps   float64
}

func (c *Chunk) Length() int64 { return c.End - c.Start + 1 }

func (c *Chunk) SetState(s ChunkState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	switch s {
	case ChunkRunning:
		c.startedAt = time.Now()
	case ChunkDone, ChunkFailed:
		c.finishedAt = time.Now()
	}
}

func (c *Chunk) State() ChunkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RecordTransfer stores the bytes transferred for the chunk and derives
// its observed speed in bytes per second from start/finish timestamps.
func (c *Chunk) RecordTransfer(bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesXfer = bytes
	elapsed := c.finishedAt.Sub(c.startedAt).Seconds()
	if elapsed > 0 {
		c.speedBps = float64(bytes) / elapsed
	}
}

func (c *Chunk) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speedBps
}

func (c *Chunk) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// ProgressHook is invoked after each buffer is written to a chunk's temp
// file. It must not block: it is called while the job's counters have
// already been released, never under the job mutex (design note, spec §9).
type ProgressHook func(downloaded, total int64)

// Job is the coordinator's exclusively-owned record of one transfer; the
// progress counter is shared with workers under atomic/mutex discipline.
type Job struct {
	ID         string
	URL        string
	OutputPath string
	Mode       Mode
	NumStreams int

	TotalSize  int64
	Downloaded atomic.Int64

	StartTime time.Time
	EndTime   time.Time

	mu       sync.Mutex
	status   Status
	err      error
	chunks   []*Chunk
	failed   map[int]bool
	cancel   context.CancelFunc
	progress ProgressHook
}

// New constructs a job in the downloading state with chunks already
// partitioned by the caller (the planner).
func New(id, rawurl, outputPath string, mode Mode, numStreams int, totalSize int64, chunks []*Chunk) *Job {
	return &Job{
		ID:         id,
		URL:        rawurl,
		OutputPath: outputPath,
		Mode:       mode,
		NumStreams: numStreams,
		TotalSize:  totalSize,
		StartTime:  time.Now(),
		status:     StatusDownloading,
		chunks:     chunks,
		failed:     make(map[int]bool),
	}
}

func (j *Job) SetProgressHook(h ProgressHook) {
	j.mu.Lock()
	j.progress = h
	j.mu.Unlock()
}

func (j *Job) SetCancelFunc(c context.CancelFunc) {
	j.mu.Lock()
	j.cancel = c
	j.mu.Unlock()
}

// Cancel cooperatively stops the job: workers observe it at their next
// buffer boundary.
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AddBytes adds n bytes to the downloaded counter and fires the progress
// hook outside any lock, per the job-mutex discipline (spec §5, §9).
func (j *Job) AddBytes(n int64) {
	total := j.Downloaded.Add(n)
	j.mu.Lock()
	hook := j.progress
	totalSize := j.TotalSize
	j.mu.Unlock()
	if hook != nil {
		hook(total, totalSize)
	}
}

func (j *Job) Chunks() []*Chunk {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.chunks
}

func (j *Job) MarkFailed(chunkID int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failed[chunkID] = true
}

func (j *Job) FailedChunks() []int {
	j.mu.Lock()
	defer j.mu.Unlock()
	ids := make([]int, 0, len(j.failed))
	for id := range j.failed {
		ids = append(ids, id)
	}
	return ids
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// SetStatus transitions the job. Terminal statuses also stamp EndTime;
// no transition is permitted out of a terminal status.
func (j *Job) SetStatus(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusDownloading {
		return
	}
	j.status = s
	if s != StatusDownloading {
		j.EndTime = time.Now()
	}
}

func (j *Job) SetError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = err
}

func (j *Job) Error() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Elapsed returns time since the job started, or the total wall-clock
// duration once it has reached a terminal state.
func (j *Job) Elapsed() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusDownloading {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}
