package utils

import (
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/vfaronov/httpheader"
)

// DetermineFilename derives an output filename from a URL and HTTP
// response using header and URL heuristics only. It never reads the
// response body, matching the probe's one-byte contract.
func DetermineFilename(rawurl string, resp *http.Response, verbose bool) (string, error) {
	parsed, err := url.Parse(rawurl)
	if err != nil {
		return "downloaded_file", nil
	}

	var candidate string

	if _, name, err := httpheader.ContentDisposition(resp.Header); err == nil && name != "" {
		candidate = name
		if verbose {
			Debug("Filename from Content-Disposition: %s", candidate)
		}
	}

	if candidate == "" {
		q := parsed.Query()
		if name := q.Get("filename"); name != "" {
			candidate = name
		} else if name := q.Get("file"); name != "" {
			candidate = name
		}
		if candidate != "" && verbose {
			Debug("Filename from query param: %s", candidate)
		}
	}

	if candidate == "" {
		if base := filepath.Base(parsed.Path); base != "." && base != "/" {
			if decoded, err := url.PathUnescape(base); err == nil {
				candidate = decoded
			} else {
				candidate = base
			}
		}
	}

	filename := sanitizeFilename(candidate)
	if filename == "" || filename == "." || filename == "/" {
		filename = "downloaded_file"
	}
	return filename, nil
}

func sanitizeFilename(name string) string {
	// Replace backslashes with forward slashes first so filepath.Base treats them as separators
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." {
		return name
	}
	if name == "/" || name == "\\" {
		return "_"
	}
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, ":", "_")
	name = strings.ReplaceAll(name, "*", "_")
	name = strings.ReplaceAll(name, "?", "_")
	name = strings.ReplaceAll(name, "\"", "_")
	name = strings.ReplaceAll(name, "<", "_")
	name = strings.ReplaceAll(name, ">", "_")
	name = strings.ReplaceAll(name, "|", "_")
	return name
}
