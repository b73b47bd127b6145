// Server implements the eight endpoints spec.md §6 names as hooks for
// the out-of-scope UI collaborator: start/list/status/cancel/metrics
// for downloads, and the RL stats/reset/save trio. Uses
// github.com/gin-gonic/gin (present in the pack's guiyumin-vget
// go.mod) rather than hand-rolled net/http routing, since the corpus
// reaches for a router library once the route count passes a handful.
// Handlers are thin: they validate input, call into the Manager, and
// translate the result to JSON — no UI, no static assets, no MIME
// sniffing (all explicitly out of scope per spec.md §1).
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Sijosaju/multistream-downloader/internal/config"
	"github.com/Sijosaju/multistream-downloader/internal/coordinator"
	"github.com/Sijosaju/multistream-downloader/internal/job"
)

// Server wraps the gin engine and the job/RL manager it dispatches to.
type Server struct {
	engine  *gin.Engine
	manager *Manager
}

// NewServer constructs a bare gin engine with only the Recovery
// middleware and registers spec.md §6's routes.
func NewServer(manager *Manager) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, manager: manager}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	api := s.engine.Group("/api")
	api.POST("/downloads", s.createDownload)
	api.GET("/downloads", s.listDownloads)
	api.GET("/downloads/:id", s.getDownload)
	api.POST("/downloads/:id/cancel", s.cancelDownload)
	api.GET("/downloads/:id/metrics", s.getMetrics)
	api.GET("/rl/stats", s.rlStats)
	api.POST("/rl/reset", s.rlReset)
	api.POST("/rl/save", s.rlSave)
}

type createDownloadRequest struct {
	URL        string `json:"url"`
	Mode       string `json:"mode"` // "single" or "multi"
	NumStreams int    `json:"num_streams"`
	UseRL      bool   `json:"use_rl"`
}

// createDownload implements POST /api/downloads (spec.md §6): validates
// the URL, maps the request onto a coordinator.Request, and starts the
// job on a background goroutine before returning.
func (s *Server) createDownload(c *gin.Context) {
	var req createDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must start with http:// or https://"})
		return
	}

	mode := job.ModeStatic
	streams := req.NumStreams
	if streams < 1 {
		streams = config.DefaultStreams
	}
	rlEnabled := false
	if req.Mode == "multi" && req.UseRL {
		mode = job.ModeAdaptive
		rlEnabled = true
	} else if req.Mode == "single" {
		streams = 1
	}

	id := strconv.FormatInt(time.Now().UnixMilli(), 10)
	s.manager.Start(coordinator.Request{
		ID:         id,
		URL:        req.URL,
		Mode:       mode,
		NumStreams: streams,
	})

	c.JSON(http.StatusOK, gin.H{"download_id": id, "rl_enabled": rlEnabled})
}

type downloadSummary struct {
	ID             string  `json:"id"`
	URL            string  `json:"url"`
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
	Mode           string  `json:"mode"`
	Filename       string  `json:"filename"`
	Speed          float64 `json:"speed"`
	TotalSize      int64   `json:"total_size"`
	DownloadedSize int64   `json:"downloaded_size"`
}

func summarize(id string, e *Entry) downloadSummary {
	e.touchSpeed()
	sum := downloadSummary{ID: id, Mode: e.Mode, Status: "downloading", Speed: e.Speed()}
	j := e.CurrentJob()
	if j == nil {
		return sum
	}
	sum.URL = j.URL
	sum.Status = j.Status().String()
	sum.TotalSize = j.TotalSize
	sum.DownloadedSize = j.Downloaded.Load()
	if j.TotalSize > 0 {
		sum.Progress = 100 * float64(sum.DownloadedSize) / float64(j.TotalSize)
	}
	if j.OutputPath != "" {
		if idx := strings.LastIndex(j.OutputPath, "/"); idx != -1 {
			sum.Filename = j.OutputPath[idx+1:]
		} else {
			sum.Filename = j.OutputPath
		}
	}
	return sum
}

// listDownloads implements GET /api/downloads.
func (s *Server) listDownloads(c *gin.Context) {
	entries := s.manager.List()
	out := make([]downloadSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, summarize(e.ID, e))
	}
	c.JSON(http.StatusOK, out)
}

// getDownload implements GET /api/downloads/{id}.
func (s *Server) getDownload(c *gin.Context) {
	id := c.Param("id")
	e := s.manager.Get(id)
	if e == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	sum := summarize(id, e)
	body := gin.H{
		"id":              sum.ID,
		"url":             sum.URL,
		"status":          sum.Status,
		"progress":        sum.Progress,
		"mode":            sum.Mode,
		"filename":        sum.Filename,
		"speed":           sum.Speed,
		"total_size":      sum.TotalSize,
		"downloaded_size": sum.DownloadedSize,
	}
	if e.RLEnabled {
		body["metrics"] = s.manager.Controller().StatsSnapshot()
	}
	c.JSON(http.StatusOK, body)
}

// cancelDownload implements POST /api/downloads/{id}/cancel.
func (s *Server) cancelDownload(c *gin.Context) {
	id := c.Param("id")
	if !s.manager.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getMetrics implements GET /api/downloads/{id}/metrics.
func (s *Server) getMetrics(c *gin.Context) {
	id := c.Param("id")
	e := s.manager.Get(id)
	if e == nil || !e.RLEnabled {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics not available"})
		return
	}
	c.JSON(http.StatusOK, s.manager.Controller().StatsSnapshot())
}

// rlStats implements GET /api/rl/stats.
func (s *Server) rlStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Controller().StatsSnapshot())
}

// rlReset implements POST /api/rl/reset: clears the Q-table and
// persists the empty table immediately.
func (s *Server) rlReset(c *gin.Context) {
	s.manager.Controller().Reset()
	if err := s.manager.Controller().Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// rlSave implements POST /api/rl/save.
func (s *Server) rlSave(c *gin.Context) {
	if err := s.manager.Controller().Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
