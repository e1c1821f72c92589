package model

import (
	"sync"
	"time"
)

// defaultPausePollInterval is how often a worker re-checks the pause
// flag when no poll interval is configured, matching the teacher's
// ~100ms poll loop in transfer.SFTPExecutor.
const defaultPausePollInterval = 100 * time.Millisecond

// JobControl is the shared pause/cancel flag pair for one running Job.
// The Packager checks it before archiving a batch and again before
// uploading it, and each Dispatcher worker checks it before starting a
// download; an archive, upload, download or extract command that is
// already running does not check it. Re-expressed from the teacher's per-executor paused/
// cancelled bools (transfer.SFTPExecutor) into one object shared by
// every worker of a single job, since this system fans a job out across
// many concurrent workers instead of one serial executor.
type JobControl struct {
	mu           sync.RWMutex
	paused       bool
	cancelled    bool
	pollInterval time.Duration
}

// NewJobControl returns a running (unpaused, uncancelled) JobControl.
// pollInterval is how often WaitIfPaused rechecks the pause flag
// (config.Config's pause_poll_interval); zero uses
// defaultPausePollInterval.
func NewJobControl(pollInterval time.Duration) *JobControl {
	if pollInterval <= 0 {
		pollInterval = defaultPausePollInterval
	}
	return &JobControl{pollInterval: pollInterval}
}

func (c *JobControl) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

func (c *JobControl) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

func (c *JobControl) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

func (c *JobControl) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

func (c *JobControl) IsCancelled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cancelled
}

// WaitIfPaused blocks in a short sleep loop while paused, returning
// early if cancelled. Callers check the cancelled return value at each
// of the checkpoints listed on JobControl.
func (c *JobControl) WaitIfPaused() (cancelled bool) {
	for c.IsPaused() && !c.IsCancelled() {
		time.Sleep(c.pollInterval)
	}
	return c.IsCancelled()
}
