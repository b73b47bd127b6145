// Package api exposes the thin HTTP surface spec.md §6 names as hooks
// for the out-of-scope UI collaborator: start/list/status/cancel/metrics
// for downloads, plus the RL stats/reset/save trio. Grounded on the
// teacher's cmd/status.go downloadRegistry (a mutex-guarded map of
// id -> status, copied out on read) for the bookkeeping shape, and on
// guiyumin-vget's internal/server package for the gin handler style.
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sijosaju/multistream-downloader/internal/coordinator"
	"github.com/Sijosaju/multistream-downloader/internal/job"
	"github.com/Sijosaju/multistream-downloader/internal/rl"
	"github.com/Sijosaju/multistream-downloader/internal/store"
	"github.com/Sijosaju/multistream-downloader/internal/utils"
)

// statusFromString inverts job.Status.String() for records read back
// from the history ledger.
func statusFromString(s string) job.Status {
	switch s {
	case "completed":
		return job.StatusCompleted
	case "failed":
		return job.StatusFailed
	case "cancelled":
		return job.StatusCancelled
	default:
		return job.StatusDownloading
	}
}

// jobFromRecord rebuilds a terminal job.Job good enough for status/list
// reporting out of a persisted store.Record — no chunks, since the
// ledger never stores transfer state (no resume-across-restart, per
// spec.md's Non-goal).
func jobFromRecord(rec store.Record) *job.Job {
	mode := job.ModeStatic
	if rec.Mode == job.ModeAdaptive.String() {
		mode = job.ModeAdaptive
	}
	j := job.New(rec.JobID, rec.URL, rec.OutputPath, mode, 0, rec.TotalSize, nil)
	j.Downloaded.Store(rec.Downloaded)
	j.SetStatus(statusFromString(rec.Status))
	j.EndTime = time.Unix(rec.FinishedAt, 0)
	j.StartTime = j.EndTime.Add(-time.Duration(rec.DurationMs) * time.Millisecond)
	if rec.Error != "" {
		j.SetError(fmt.Errorf("%s", rec.Error))
	}
	return j
}

// Entry is the registry's view of one job, augmented with the fields
// the HTTP surface reports that aren't on job.Job itself (speed).
type Entry struct {
	ID        string
	Job       *job.Job
	Mode      string
	RLEnabled bool

	mu          sync.Mutex
	lastSampled time.Time
	lastBytes   int64
	speedBps    float64
}

func (e *Entry) touchSpeed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Job == nil {
		return
	}
	now := time.Now()
	downloaded := e.Job.Downloaded.Load()
	if !e.lastSampled.IsZero() {
		elapsed := now.Sub(e.lastSampled).Seconds()
		if elapsed > 0 {
			e.speedBps = float64(downloaded-e.lastBytes) / elapsed
		}
	}
	e.lastSampled = now
	e.lastBytes = downloaded
}

func (e *Entry) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speedBps
}

// CurrentJob returns the entry's job record, or nil if the transfer
// hasn't reached the probe/plan stage yet.
func (e *Entry) CurrentJob() *job.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Job
}

// Manager owns the registry of in-flight and recently finished jobs,
// the one process-wide RL controller (spec.md §9 design note: unique
// per process, explicitly constructed, handed to every coordinator
// rather than referenced as a package singleton), and the job history
// ledger.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	controller *rl.Controller
	history    *store.Store
}

// NewManager constructs a manager with its controller loaded from disk
// (or empty, on first run / corrupt file) and its history ledger opened
// at dbPath. Past jobs recorded in the ledger are replayed into the
// registry so GET /api/downloads survives a process restart.
func NewManager(dbPath string) (*Manager, error) {
	hist, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("api: opening history store: %w", err)
	}

	m := &Manager{
		entries:    make(map[string]*Entry),
		controller: rl.Load(8),
		history:    hist,
	}

	records, err := hist.List()
	if err != nil {
		utils.Debug("api: failed to replay job history: %v", err)
		return m, nil
	}
	for _, rec := range records {
		if _, exists := m.entries[rec.JobID]; exists {
			continue
		}
		m.entries[rec.JobID] = &Entry{
			ID:        rec.JobID,
			Job:       jobFromRecord(rec),
			Mode:      rec.Mode,
			RLEnabled: rec.Mode == job.ModeAdaptive.String(),
		}
	}
	return m, nil
}

// Close releases the manager's resources, persisting the Q-table first.
func (m *Manager) Close() error {
	if err := m.controller.Save(); err != nil {
		utils.Debug("api: failed to persist q-table on shutdown: %v", err)
	}
	return m.history.Close()
}

// Start begins a new job and returns immediately; the transfer runs on
// a background goroutine (spec.md §5: "job creation spawns a background
// task and returns immediately").
func (m *Manager) Start(req coordinator.Request) *Entry {
	co := coordinator.New(m.controller)
	entry := &Entry{ID: req.ID, Mode: req.Mode.String(), RLEnabled: req.Mode == job.ModeAdaptive}

	co.OnJobCreated(func(j *job.Job) {
		entry.mu.Lock()
		entry.Job = j
		entry.mu.Unlock()
	})

	m.mu.Lock()
	m.entries[req.ID] = entry
	m.mu.Unlock()

	go func() {
		j, _ := co.DownloadRequest(context.Background(), req)
		entry.mu.Lock()
		entry.Job = j
		entry.mu.Unlock()
		if j != nil {
			_ = m.history.RecordJob(j)
		}
	}()

	return entry
}

// Get returns the entry for id, or nil if unknown.
func (m *Manager) Get(id string) *Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[id]
}

// List returns every tracked entry.
func (m *Manager) List() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// Cancel cooperatively stops job id's transfer.
func (m *Manager) Cancel(id string) bool {
	e := m.Get(id)
	if e == nil {
		return false
	}
	j := e.CurrentJob()
	if j == nil {
		return false
	}
	j.Cancel()
	return true
}

// Controller exposes the shared RL controller for the stats/reset/save
// endpoints.
func (m *Manager) Controller() *rl.Controller { return m.controller }
