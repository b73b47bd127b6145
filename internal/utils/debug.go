package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Sijosaju/multistream-downloader/internal/config"
)

var (
	debugOnce sync.Once
	debugMu   sync.Mutex
	debugFile *os.File
	debugDir  = config.GetLogsDir()
)

// ConfigureDebug overrides the directory Debug writes its log file into.
// Intended for tests; must be called before the first Debug call to take
// effect on the log file's location.
func ConfigureDebug(dir string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugDir = dir
}

// Debug appends a timestamped, formatted line to the process's debug log
// file, opening it lazily on first use.
func Debug(format string, args ...any) {
	debugOnce.Do(openDebugFile)

	debugMu.Lock()
	defer debugMu.Unlock()
	if debugFile == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	fmt.Fprintf(debugFile, "%s %s\n", time.Now().Format(time.RFC3339Nano), line)
}

func openDebugFile() {
	debugMu.Lock()
	dir := debugDir
	debugMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("debug-%s.log", time.Now().Format("20060102-150405"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	debugMu.Lock()
	debugFile = f
	debugMu.Unlock()
}

// CleanupLogs removes the oldest debug log files in dir, keeping only the
// `keep` most recent by name (the timestamped naming scheme sorts
// lexicographically in chronological order).
func CleanupLogs(keep int) {
	debugMu.Lock()
	dir := debugDir
	debugMu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var logs []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "debug-") && strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, e.Name())
		}
	}
	if len(logs) <= keep {
		return
	}
	sort.Strings(logs)
	for _, name := range logs[:len(logs)-keep] {
		os.Remove(filepath.Join(dir, name))
	}
}
