package coordinator

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sijosaju/multistream-downloader/internal/job"
)

// noRangeServer always answers with the full body and no Accept-Ranges
// header, regardless of method or Range request (scenario S2).
func noRangeServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", itoa(len(body)))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// flakyRangeServer fails the first request for each distinct Range
// header once, then serves it normally (scenario S3).
func flakyRangeServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	seen := make(map[string]bool)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHdr := r.Header.Get("Range")
		if r.Method == http.MethodGet && rangeHdr != "" {
			mu.Lock()
			failed := seen[rangeHdr]
			seen[rangeHdr] = true
			mu.Unlock()
			if !failed {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		http.ServeContent(w, r, "file.bin", time.Now(), bytes.NewReader(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// slowRangeServer streams the response one buffer at a time with a
// delay between writes, so a test has a window to cancel mid-transfer.
func slowRangeServer(t *testing.T, body []byte, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHdr := r.Header.Get("Range")
		start, end := int64(0), int64(len(body)-1)
		if rangeHdr != "" {
			n, err := parseRange(rangeHdr, len(body))
			if err == nil {
				start, end = n[0], n[1]
			}
		}
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", itoa(int(end-start+1)))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		flusher, _ := w.(http.Flusher)
		chunk := body[start : end+1]
		for len(chunk) > 0 {
			n := 4096
			if n > len(chunk) {
				n = len(chunk)
			}
			w.Write(chunk[:n])
			chunk = chunk[n:]
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(delay)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func parseRange(hdr string, total int) ([2]int64, error) {
	hdr = strings.TrimPrefix(hdr, "bytes=")
	parts := strings.SplitN(hdr, "-", 2)
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return [2]int64{}, err
	}
	end := int64(total - 1)
	if len(parts) == 2 && parts[1] != "" {
		if e, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			end = e
		}
	}
	return [2]int64{start, end}, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestDownloadRequestFallsBackToSingleStreamWithoutRangeSupport(t *testing.T) {
	body := bytes.Repeat([]byte("z"), 512*1024)
	srv := noRangeServer(t, body)

	outDir := t.TempDir()
	co := New(nil)
	req := Request{
		ID:         "s2",
		URL:        srv.URL + "/file.bin",
		Mode:       job.ModeAdaptive,
		NumStreams: 8,
		OutputDir:  outDir,
	}

	j, err := co.DownloadRequest(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, j)

	assert.Equal(t, job.StatusCompleted, j.Status())
	assert.Equal(t, job.ModeStatic, j.Mode)
	assert.Equal(t, 1, j.NumStreams)

	got, err := os.ReadFile(filepath.Join(outDir, "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownloadRequestRetriesFailedChunkAndSucceeds(t *testing.T) {
	body := bytes.Repeat([]byte("r"), 1<<20)
	srv := flakyRangeServer(t, body)

	outDir := t.TempDir()
	co := New(nil)
	req := Request{
		ID:         "s3",
		URL:        srv.URL + "/file.bin",
		Mode:       job.ModeStatic,
		NumStreams: 4,
		OutputDir:  outDir,
	}

	j, err := co.DownloadRequest(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, j)

	assert.Equal(t, job.StatusCompleted, j.Status())
	assert.Empty(t, j.FailedChunks())
	assert.Equal(t, int64(len(body)), j.Downloaded.Load())

	got, err := os.ReadFile(filepath.Join(outDir, "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownloadRequestCancelMidTransferYieldsCancelledStatus(t *testing.T) {
	body := bytes.Repeat([]byte("c"), 2<<20)
	srv := slowRangeServer(t, body, 5*time.Millisecond)

	outDir := t.TempDir()
	co := New(nil)
	co.OnJobCreated(func(j *job.Job) {
		go func() {
			time.Sleep(100 * time.Millisecond)
			j.Cancel()
		}()
	})

	req := Request{
		ID:         "cancel",
		URL:        srv.URL + "/file.bin",
		Mode:       job.ModeStatic,
		NumStreams: 2,
		OutputDir:  outDir,
	}

	j, err := co.DownloadRequest(context.Background(), req)
	require.Error(t, err)
	require.NotNil(t, j)
	assert.Equal(t, job.StatusCancelled, j.Status())
	assert.Nil(t, j.Error())
}
