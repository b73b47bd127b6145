// Package metrics samples throughput, RTT, and an estimated loss signal
// for the RL controller. Grounded on _examples/original_source/downloader.py's
// latency/metrics role; no Go example in the pack shells out to ping, so
// the RttProbe abstraction and its default implementation are built fresh
// in the teacher's style (timeout plumbing, utils.Debug tracing).
package metrics

import (
	"context"
	"math"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/Sijosaju/multistream-downloader/internal/utils"
)

// Sample is one monitoring-interval observation.
type Sample struct {
	ThroughputMbps float64
	RTTMillis      float64
	LossPercent    float64
	At             time.Time
}

// RttProbe abstracts RTT measurement so tests can script deterministic
// values instead of shelling out (design note, spec.md §9).
type RttProbe interface {
	Measure(ctx context.Context, host string) (float64, bool)
}

// PingRttProbe shells out to the OS ping utility once, with a 3s hard
// timeout, and parses the first "time=" value in milliseconds.
type PingRttProbe struct{}

var timeRe = regexp.MustCompile(`time[=<]([0-9.]+)`)

func (PingRttProbe) Measure(ctx context.Context, host string) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ping", "-c", "1", "-W", "2", host)
	out, err := cmd.Output()
	if err != nil {
		utils.Debug("metrics: ping failed for %s: %v", host, err)
		return 0, false
	}

	m := timeRe.FindStringSubmatch(string(out))
	if m == nil {
		return 0, false
	}
	ms, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// StaticRttProbe returns a fixed, scripted value for deterministic tests.
type StaticRttProbe struct {
	Millis float64
	OK     bool
}

func (s StaticRttProbe) Measure(ctx context.Context, host string) (float64, bool) {
	return s.Millis, s.OK
}

// ChunkSample is the subset of chunk data the sampler needs: completion
// state, transfer speed, and start time (for the chunk-spacing RTT
// fallback).
type ChunkSample struct {
	Done      bool
	Failed    bool
	SpeedBps  float64
	StartedAt time.Time
}

// Throughput implements spec.md §4.4 verbatim: 0 for elapsed < 0.1s or
// zero bytes downloaded.
func Throughput(bytesDownloaded int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs < 0.1 || bytesDownloaded <= 0 {
		return 0
	}
	return 8 * float64(bytesDownloaded) / secs / (1 << 20)
}

// RTT measures round-trip time via probe, falling back to chunk-start
// spacing when ping is unavailable or unparsable.
func RTT(ctx context.Context, probe RttProbe, host string, chunks []ChunkSample) float64 {
	if probe != nil {
		if ms, ok := probe.Measure(ctx, host); ok && ms > 0 {
			return ms
		}
	}
	return chunkSpacingRTT(chunks)
}

func chunkSpacingRTT(chunks []ChunkSample) float64 {
	starts := make([]time.Time, 0, len(chunks))
	for _, c := range chunks {
		if !c.StartedAt.IsZero() {
			starts = append(starts, c.StartedAt)
		}
	}
	if len(starts) < 2 {
		return 100
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	minGap := math.MaxFloat64
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1]).Seconds() * 1000
		if gap > 0 && gap < minGap {
			minGap = gap
		}
	}
	if minGap == math.MaxFloat64 {
		return 100
	}
	return clamp(minGap, 10, 1000)
}

// LossEstimate implements spec.md §4.4's three-signal proxy: speed
// coefficient of variation, chunk failure rate, and degradation across
// the last five chunk speeds.
func LossEstimate(chunks []ChunkSample) float64 {
	completed := make([]ChunkSample, 0, len(chunks))
	for _, c := range chunks {
		if c.Done || c.Failed {
			completed = append(completed, c)
		}
	}
	if len(completed) < 3 {
		return 0.1
	}

	speeds := make([]float64, 0, len(completed))
	var failed int
	for _, c := range completed {
		if c.Failed {
			failed++
			continue
		}
		if c.SpeedBps > 0 {
			speeds = append(speeds, c.SpeedBps)
		}
	}

	cv := coefficientOfVariation(speeds)
	cvContribution := math.Min(1.5, 5*cv)

	f := float64(failed) / float64(len(completed))
	fContribution := math.Min(2.0, 10*f)

	d := degradation(speeds)
	dContribution := math.Min(1.0, 2*d)

	loss := 0.5*cvContribution + 0.3*fContribution + 0.2*dContribution
	return clamp(loss, 0.1, 5.0)
}

func coefficientOfVariation(speeds []float64) float64 {
	if len(speeds) < 2 {
		return 0
	}
	mean := meanOf(speeds)
	if mean == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range speeds {
		d := s - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(len(speeds)))
	return stddev / mean
}

func degradation(speeds []float64) float64 {
	if len(speeds) < 5 {
		return 0
	}
	last5 := speeds[len(speeds)-5:]
	meanFirstTwo := meanOf(last5[:2])
	meanLastTwo := meanOf(last5[3:])
	if meanFirstTwo == 0 {
		return 0
	}
	d := (meanFirstTwo - meanLastTwo) / meanFirstTwo
	return math.Max(0, d)
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
