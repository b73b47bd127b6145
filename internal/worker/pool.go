// Package worker executes range GETs for a job's chunks concurrently,
// honoring a desired concurrency that the RL controller (or a fixed
// static value) may change between ticks. Grounded on the teacher's
// internal/engine/concurrent/{worker,task_queue,health,task}.go: the
// tick-based reap-then-fill loop, the job-local mutex discipline, the
// buffer-pool reuse, and the 8 KiB streaming-read pattern all carry
// over, generalized to a resizable Cₜ read fresh every tick instead of
// the teacher's dynamic work-stealing split.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Sijosaju/multistream-downloader/internal/config"
	"github.com/Sijosaju/multistream-downloader/internal/job"
	"github.com/Sijosaju/multistream-downloader/internal/utils"
)

const (
	bufferSize   = 8 * 1024
	tickInterval = 250 * time.Millisecond
	connTimeout  = 10 * time.Second
	readTimeout  = 20 * time.Second
	retryBase    = 500 * time.Millisecond
	maxRetries   = 3
	userAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"
)

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

// DesiredFunc is read fresh at every tick so Cₜ is never stale (spec.md
// §4.3): a fixed closure for static mode, or the RL controller's
// Connections() for adaptive mode.
type DesiredFunc func() int

// Pool drives one job's chunks to completion.
type Pool struct {
	j       *job.Job
	client  *http.Client
	limiter *rate.Limiter // paces new connection starts in adaptive mode
}

// New constructs a pool. limiter may be nil for static mode, where no
// pacing of connection starts is needed (the teacher's dynamic split
// never adds connections either, it only splits existing work).
func New(j *job.Job, limiter *rate.Limiter) *Pool {
	transport := &http.Transport{
		MaxIdleConnsPerHost: config.MaxStreams + 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Pool{
		j: j,
		client: &http.Client{
			Transport: transport,
			Timeout:   connTimeout + readTimeout,
		},
		limiter: limiter,
	}
}

// Run drives every chunk of the job to completion (or failure), resizing
// live worker count to desired() at each tick, until the job's context
// is cancelled or all chunks have terminated.
func (p *Pool) Run(ctx context.Context, desired DesiredFunc) error {
	remaining := make([]int, 0, len(p.j.Chunks()))
	for _, c := range p.j.Chunks() {
		if c.State() == job.ChunkPending {
			remaining = append(remaining, c.ID)
		}
	}

	results := make(chan int, len(p.j.Chunks()))
	live := 0
	cancels := make(map[int]context.CancelFunc)
	var mu sync.Mutex

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	totalChunks := len(p.j.Chunks())
	finished := 0

	for finished < totalChunks {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, cancel := range cancels {
				cancel()
			}
			mu.Unlock()
			return ctx.Err()

		case id := <-results:
			mu.Lock()
			delete(cancels, id)
			mu.Unlock()
			live--
			finished++

		case <-ticker.C:
			want := desired()
			for live < want && len(remaining) > 0 {
				if p.limiter != nil {
					if err := p.limiter.Wait(ctx); err != nil {
						break
					}
				}
				id := remaining[0]
				remaining = remaining[1:]
				chunk := p.chunkByID(id)

				workerCtx, cancel := context.WithCancel(ctx)
				mu.Lock()
				cancels[id] = cancel
				mu.Unlock()
				live++

				go func(c *job.Chunk) {
					p.runChunk(workerCtx, c)
					results <- c.ID
				}(chunk)
			}
		}
	}
	return nil
}

func (p *Pool) chunkByID(id int) *job.Chunk {
	for _, c := range p.j.Chunks() {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// runChunk executes one chunk, retrying on transport failure in static
// mode and marking it failed without retry in adaptive mode (spec.md
// §4.3, §7: "this specification codifies the stronger behavior").
func (p *Pool) runChunk(ctx context.Context, c *job.Chunk) {
	c.SetState(job.ChunkRunning)

	attempts := 1
	if p.j.Mode == job.ModeStatic {
		attempts = 1 + maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBase):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break
			}
		}

		var written int64
		written, lastErr = p.fetchChunk(ctx, c)
		if lastErr == nil {
			c.SetState(job.ChunkDone)
			c.RecordTransfer(written)
			return
		}
		if ctx.Err() != nil {
			break
		}
		utils.Debug("worker: chunk %d attempt %d failed: %v", c.ID, attempt+1, lastErr)
	}

	c.SetState(job.ChunkFailed)
	p.j.MarkFailed(c.ID)
	if lastErr != nil {
		utils.Debug("worker: chunk %d failed permanently: %v", c.ID, lastErr)
	}
}

func (p *Pool) fetchChunk(ctx context.Context, c *job.Chunk) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.j.URL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", c.Start, c.End))

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	f, err := openPartFile(c.PartPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	bufPtr := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufPtr)
	buf := *bufPtr

	var written int64
	offset := int64(0)
	for {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.WriteAt(buf[:n], offset); werr != nil {
				removePartFile(c.PartPath)
				return written, fmt.Errorf("write error: %w", werr)
			}
			offset += int64(n)
			written += int64(n)
			p.j.AddBytes(int64(n))
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			removePartFile(c.PartPath)
			return written, fmt.Errorf("read error: %w", readErr)
		}
	}

	if written != c.Length() {
		return written, fmt.Errorf("short read: got %d bytes, want %d", written, c.Length())
	}
	return written, nil
}
