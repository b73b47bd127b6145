// Package config centralizes on-disk locations and tunable defaults for the
// downloader: the app directory (lock file, debug logs, Q-table), the
// default download folder, and the RL controller's numeric defaults.
package config

import (
	"os"
	"path/filepath"
)

const (
	appDirName  = ".msdl"
	downloadDir = "MultiStreamDownloader"
)

// Stream count bounds (spec.md §6).
const (
	DefaultStreams = 8
	MinStreams     = 1
	MaxStreams     = 16
)

// RL controller defaults (spec.md §4.5, §6).
const (
	MonitoringInterval = 5 // seconds

	InitialExploration = 0.3
	MinExploration     = 0.05
	ExplorationDecay   = 0.995

	LearningRate   = 0.1
	DiscountFactor = 0.8

	SaveInterval = 50 // updates between Q-table persists
)

// App-dir file names (Q-table, its backup, lock file, history DB),
// relative to GetAppDir().
const (
	QTableFile       = "q_table.json"
	QTableBackupFile = "q_table_backup.json"
	LockFileName     = "msdl.lock"
	HistoryDBFile    = "history.db"
)

// GetAppDir returns the directory holding the lock file, debug logs and
// Q-table. It does not create the directory.
func GetAppDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, appDirName)
}

// GetLogsDir returns the directory debug logs are written under.
func GetLogsDir() string {
	return filepath.Join(GetAppDir(), "logs")
}

// GetDownloadDir returns the default destination folder for completed
// downloads.
func GetDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "Downloads", downloadDir)
}

// GetQTablePath returns the absolute path of the primary Q-table file.
func GetQTablePath() string {
	return filepath.Join(GetAppDir(), QTableFile)
}

// GetQTableBackupPath returns the absolute path of the Q-table backup file.
func GetQTableBackupPath() string {
	return filepath.Join(GetAppDir(), QTableBackupFile)
}

// GetLockPath returns the absolute path of the single-instance lock file.
func GetLockPath() string {
	return filepath.Join(GetAppDir(), LockFileName)
}

// GetHistoryDBPath returns the absolute path of the job history ledger.
func GetHistoryDBPath() string {
	return filepath.Join(GetAppDir(), HistoryDBFile)
}

// EnsureDirs creates the app dir, the logs dir, and the default download
// dir if they do not already exist.
func EnsureDirs() error {
	if err := os.MkdirAll(GetAppDir(), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(GetLogsDir(), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(GetDownloadDir(), 0o755)
}
