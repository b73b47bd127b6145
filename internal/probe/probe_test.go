package probe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeHeadRangeSupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "1048576")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := Probe(t.Context(), srv.URL+"/file.bin")
	require.NoError(t, err)
	assert.True(t, res.SupportsRange)
	assert.Equal(t, int64(1048576), res.Size)
	assert.Equal(t, "file.bin", res.Filename)
}

func TestProbeFallsBackToRangeGetWhenHeadFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Range", "bytes 0-0/2048")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0})
	}))
	defer srv.Close()

	res, err := Probe(t.Context(), srv.URL+"/data.zip")
	require.NoError(t, err)
	assert.True(t, res.SupportsRange)
	assert.Equal(t, int64(2048), res.Size)
}

func TestProbeNoRangeSupport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	res, err := Probe(t.Context(), srv.URL+"/plain")
	require.NoError(t, err)
	assert.False(t, res.SupportsRange)
	assert.Equal(t, int64(4096), res.Size)
}

func TestProbeBothFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res, err := Probe(t.Context(), srv.URL+"/missing")
	assert.Error(t, err)
	assert.Equal(t, int64(0), res.Size)
}
