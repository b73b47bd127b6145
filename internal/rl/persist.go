package rl

import "github.com/Sijosaju/multistream-downloader/internal/config"

// Save persists the controller's Q-table to the configured paths and
// resets the updates-since-save counter.
func (c *Controller) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Q.Save(config.GetQTablePath(), config.GetQTableBackupPath()); err != nil {
		return err
	}
	c.updatesSinceSave = 0
	return nil
}

// Load reconstructs a controller from the on-disk Q-table at the
// configured path, falling back to an empty table on any error.
func Load(initialConnections int) *Controller {
	q, err := LoadTable(config.GetQTablePath())
	if err != nil {
		q = NewQTable()
	}
	return NewControllerFromTable(q, initialConnections)
}
