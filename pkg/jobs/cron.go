// Package jobs runs periodic maintenance tasks.
package jobs

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// scratchMaxAge is how long a spooled upload may linger before the
// sweeper deletes it. Handlers remove their own files on every exit
// path; the sweeper only catches leftovers from crashed requests.
const scratchMaxAge = time.Hour

// CronManager schedules background maintenance jobs
type CronManager struct {
	cron       *cron.Cron
	scratchDir string
	logger     *log.Logger
}

// NewCronManager creates a new cron manager
func NewCronManager(scratchDir string, logger *log.Logger) *CronManager {
	if logger == nil {
		logger = log.Default()
	}

	return &CronManager{
		cron:       cron.New(),
		scratchDir: scratchDir,
		logger:     logger,
	}
}

// SetupJobs registers all scheduled jobs
func (m *CronManager) SetupJobs() error {
	// Hourly sweep of the upload scratch directory
	if _, err := m.cron.AddFunc("@hourly", func() {
		removed, err := SweepScratch(m.scratchDir, scratchMaxAge)
		if err != nil {
			m.logger.Printf("⚠️  Scratch sweep failed: %v", err)
			return
		}
		if removed > 0 {
			m.logger.Printf("🗑️  Scratch sweep removed %d stale files", removed)
		}
	}); err != nil {
		return err
	}

	return nil
}

// Start starts the cron scheduler
func (m *CronManager) Start() {
	m.cron.Start()
}

// Stop stops the cron scheduler
func (m *CronManager) Stop() {
	m.cron.Stop()
}

// SweepScratch removes regular files in dir older than maxAge and
// returns how many were deleted.
func SweepScratch(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}
