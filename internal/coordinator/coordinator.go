// Package coordinator composes the probe, planner, worker pool, metrics
// sampler, and RL controller into the two download-strategy variants
// spec.md's design notes call for: static (fixed pool size) and
// adaptive (RL resizes the pool each MI), selected by job.Mode inside
// one DownloadRequest(ctx, req) (*job.Job, error) entry point. Grounded on the teacher's
// ConcurrentDownloader.Download in
// internal/engine/concurrent/downloader.go for the overall shape:
// working path, completion monitor, final rename.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Sijosaju/multistream-downloader/internal/config"
	"github.com/Sijosaju/multistream-downloader/internal/job"
	"github.com/Sijosaju/multistream-downloader/internal/metrics"
	"github.com/Sijosaju/multistream-downloader/internal/planner"
	"github.com/Sijosaju/multistream-downloader/internal/probe"
	"github.com/Sijosaju/multistream-downloader/internal/rl"
	"github.com/Sijosaju/multistream-downloader/internal/utils"
	"github.com/Sijosaju/multistream-downloader/internal/worker"
)

// Request describes one download to perform.
type Request struct {
	ID         string
	URL        string
	Mode       job.Mode
	NumStreams int // requested/fixed stream count; ignored (MaxStreams used) in adaptive mode
	OutputDir  string
	Filename   string // overrides the probe-derived filename when non-empty
}

// Coordinator drives one job from probe to assembled file. Each
// instance uses the RL controller its caller hands it (internal/api.Manager
// hands the same one to every coordinator it creates): never a
// package-level singleton.
type Coordinator struct {
	Controller   *rl.Controller
	RttProbe     metrics.RttProbe
	onProgress   job.ProgressHook
	onJobCreated func(*job.Job)
}

// New constructs a coordinator. controller may be nil; it is created
// lazily from the persisted Q-table the first time an adaptive job runs.
func New(controller *rl.Controller) *Coordinator {
	return &Coordinator{Controller: controller, RttProbe: metrics.PingRttProbe{}}
}

// OnProgress registers a callback invoked as bytes arrive. Per spec.md
// §9's design note, the callback must not block; it is invoked outside
// the job's internal state lock by internal/job.
func (co *Coordinator) OnProgress(hook job.ProgressHook) { co.onProgress = hook }

// OnJobCreated registers a callback invoked with the job record as soon
// as it exists (probe succeeded, chunks planned), before the worker
// pool starts — letting a caller like internal/api publish the job for
// status queries without waiting for the transfer to finish.
func (co *Coordinator) OnJobCreated(hook func(*job.Job)) { co.onJobCreated = hook }

// Download takes no request and so cannot run a transfer: it always
// returns a nil job and an error pointing at DownloadRequest.
func (co *Coordinator) Download(ctx context.Context) (*job.Job, error) {
	return nil, fmt.Errorf("Download must be called via DownloadRequest(ctx, req)")
}

// DownloadRequest runs probe -> plan -> worker pool -> assemble for one
// request, returning the job record (for status/metrics reporting) and
// an error if the transfer did not complete.
func (co *Coordinator) DownloadRequest(ctx context.Context, req Request) (*job.Job, error) {
	result, err := probe.Probe(ctx, req.URL)
	if err != nil || result.Size == 0 {
		j := job.New(req.ID, req.URL, "", req.Mode, req.NumStreams, 0, nil)
		j.SetStatus(job.StatusFailed)
		j.SetError(fmt.Errorf("probe failed: %w", err))
		return j, j.Error()
	}

	mode := req.Mode
	streams := req.NumStreams
	if !result.SupportsRange {
		// Non-fatal: fall back to single-stream mode, disable adaptive control
		// (spec.md §4.1 failure mode, §7 "Unsupported ranges").
		mode = job.ModeStatic
		streams = 1
		utils.Debug("coordinator: %s does not support ranges, falling back to single stream", req.URL)
	}
	if mode == job.ModeAdaptive {
		streams = config.MaxStreams // planner uses the max allowed pool so RL can scale up without re-planning
	}
	if streams < 1 {
		streams = 1
	}

	filename := req.Filename
	if filename == "" {
		filename = result.Filename
	}
	outDir := req.OutputDir
	if outDir == "" {
		outDir = config.GetDownloadDir()
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		j := job.New(req.ID, req.URL, "", mode, streams, result.Size, nil)
		j.SetStatus(job.StatusFailed)
		j.SetError(err)
		return j, err
	}
	outputPath := filepath.Join(outDir, filename)

	ranges := planner.Plan(result.Size, streams)
	chunks := make([]*job.Chunk, len(ranges))
	for i, r := range ranges {
		chunks[i] = &job.Chunk{
			ID:       i,
			Start:    r.Start,
			End:      r.End,
			PartPath: fmt.Sprintf("%s.part%d", outputPath, i),
		}
	}

	j := job.New(req.ID, req.URL, outputPath, mode, streams, result.Size, chunks)
	if co.onJobCreated != nil {
		co.onJobCreated(j)
	}
	if co.onProgress != nil {
		j.SetProgressHook(co.onProgress)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j.SetCancelFunc(cancel)

	var limiter *rate.Limiter
	if mode == job.ModeAdaptive {
		limiter = rate.NewLimiter(rate.Limit(4), 4) // one token per worker start, avoids a handshake thundering herd
	}
	pool := worker.New(j, limiter)

	var desired DesiredFunc
	var stopRL func()
	if mode == job.ModeAdaptive {
		desired, stopRL = co.runAdaptiveLoop(jobCtx, j, req.URL)
	} else {
		fixed := int32(streams)
		desired = func() int { return int(atomic.LoadInt32(&fixed)) }
	}

	joinTimeout := 60 * time.Second
	if mode == job.ModeStatic {
		joinTimeout = 300 * time.Second
	}
	runCtx, runCancel := context.WithTimeout(jobCtx, joinTimeout)
	defer runCancel()

	runErr := pool.Run(runCtx, desired)
	if stopRL != nil {
		stopRL()
	}

	if runErr != nil {
		if jobCtx.Err() != nil {
			j.SetStatus(job.StatusCancelled)
		} else {
			j.SetStatus(job.StatusFailed)
			j.SetError(runErr)
		}
		cleanupParts(j)
		return j, runErr
	}

	if err := assemble(j); err != nil {
		utils.Debug("coordinator: assembly issue for job %s: %v", j.ID, err)
	}
	j.SetStatus(job.StatusCompleted)
	return j, nil
}

// DesiredFunc mirrors worker.DesiredFunc to avoid an import cycle in
// call sites that only need the coordinator package.
type DesiredFunc = worker.DesiredFunc

// runAdaptiveLoop starts the RL controller's decision cycle on its own
// ticker, sampling metrics each tick and exposing the latest desired
// concurrency through an atomic for the worker pool to read (spec.md
// §4.3: "Cₜ is never read stale").
func (co *Coordinator) runAdaptiveLoop(ctx context.Context, j *job.Job, rawurl string) (DesiredFunc, func()) {
	if co.Controller == nil {
		co.Controller = rl.Load(config.DefaultStreams)
	}
	host := hostOf(rawurl)

	var desiredConn int32
	desiredConn = int32(co.Controller.Connections())

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(config.MonitoringInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				sample := co.sample(ctx, j, host)
				n := co.Controller.MakeDecision(time.Now(), sample)
				atomic.StoreInt32(&desiredConn, int32(n))

				if co.Controller.ReadyToPersist() {
					if err := co.Controller.Save(); err != nil {
						utils.Debug("coordinator: failed to persist q-table: %v", err)
					}
				}
			}
		}
	}()

	return func() int { return int(atomic.LoadInt32(&desiredConn)) }, func() { close(done) }
}

func (co *Coordinator) sample(ctx context.Context, j *job.Job, host string) rl.Sample {
	chunkSamples := make([]metrics.ChunkSample, 0, len(j.Chunks()))
	for _, c := range j.Chunks() {
		state := c.State()
		chunkSamples = append(chunkSamples, metrics.ChunkSample{
			Done:      state == job.ChunkDone,
			Failed:    state == job.ChunkFailed,
			SpeedBps:  c.Speed(),
			StartedAt: c.StartedAt(),
		})
	}

	throughput := metrics.Throughput(j.Downloaded.Load(), j.Elapsed())
	rtt := metrics.RTT(ctx, co.RttProbe, host, chunkSamples)
	loss := metrics.LossEstimate(chunkSamples)

	return rl.Sample{ThroughputMbps: throughput, RTTMillis: rtt, LossPercent: loss}
}

func hostOf(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	return u.Hostname()
}

// assemble concatenates part files in chunk-id order into the output
// path, deleting each part as it is consumed, and logs (without
// failing) a final-size mismatch (spec.md §6, §7).
func assemble(j *job.Job) error {
	out, err := os.Create(j.OutputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	var total int64
	var missing []int
	for _, c := range j.Chunks() {
		f, err := os.Open(c.PartPath)
		if err != nil {
			missing = append(missing, c.ID)
			continue
		}
		n, copyErr := io.Copy(out, f)
		f.Close()
		os.Remove(c.PartPath)
		total += n
		if copyErr != nil {
			return fmt.Errorf("assembling chunk %d: %w", c.ID, copyErr)
		}
	}

	if len(missing) > 0 {
		utils.Debug("coordinator: %d part files missing at assembly time for job %s", len(missing), j.ID)
	}
	if total != j.TotalSize {
		utils.Debug("coordinator: assembled size %d does not match declared size %d for job %s", total, j.TotalSize, j.ID)
	}
	return nil
}

func cleanupParts(j *job.Job) {
	for _, c := range j.Chunks() {
		os.Remove(c.PartPath)
	}
}
