// Package model holds the shared data types for the transfer pipeline:
// hosts, archive store bindings, jobs, parts, and the append-only event
// log. The Orchestrator is the only writer of Job/Part/DestinationProgress
// state; every other reader sees a snapshot.
package model

import "time"

// HostID, JobID, PartID identify their respective records.
type (
	HostID string
	JobID  string
	PartID string
)

// Host is a reachable remote machine addressed over SSH/SFTP.
type Host struct {
	ID          HostID    `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	Port        int       `json:"port"`
	Username    string    `json:"username"`
	Password    string    `json:"password,omitempty"`    // obscured at rest, see internal/crypto
	KeyPath     string    `json:"key_path,omitempty"`
	Passphrase  string    `json:"passphrase,omitempty"`  // obscured at rest
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ArchiveStoreConfig binds a name to a folder within a configured
// object-store remote. Authorization material for the remote itself
// already lives in the object-store CLI's on-disk config.
type ArchiveStoreConfig struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RemoteName string `json:"remote_name"` // e.g. "gdrive"
	FolderPath string `json:"folder_path"`
}

// JobStatus is the Job lifecycle state (spec.md §4.7).
type JobStatus string

const (
	JobIdle       JobStatus = "idle"
	JobRunning    JobStatus = "running"
	JobPaused     JobStatus = "paused"
	JobCancelling JobStatus = "cancelling"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether a JobStatus is terminal (completed/failed).
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Destination is one immutable destination binding of a Job.
type Destination struct {
	HostID        HostID `json:"host_id"`
	FolderPath    string `json:"folder_path"`
	StoreConfigID string `json:"store_config_id"`
}

// Job is one execution of the pipeline.
type Job struct {
	ID     JobID  `json:"id"`
	Name   string `json:"name"`

	// Immutable inputs.
	SourceHostID        HostID        `json:"source_host_id"`
	SourceFolder        string        `json:"source_folder"`
	SourceStoreConfigID string        `json:"source_store_config_id"` // which ArchiveStoreConfig the Packager uploads through
	Destinations        []Destination `json:"destinations"`
	StoreFolder         string        `json:"store_folder"`
	PartSizeCeilMB      int64         `json:"part_size_ceil_mb"`

	DeleteLocalAfterUpload          bool `json:"delete_local_after_upload"`
	DeleteFromStoreAfterAllDestDone bool `json:"delete_from_store_after_all_dest_done"`
	AutoExtract                     bool `json:"auto_extract"`

	// Mutable state, owned exclusively by the Orchestrator while running.
	Status    JobStatus `json:"status"`
	Parts     []*Part   `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	// FailedDestinations records destinations whose preparation or bulk
	// extract failed — see DESIGN.md open-question #2. A download, staging
	// or store-delete failure of a single part is recorded only in that
	// part's DestinationProgress, not here.
	FailedDestinations []HostID `json:"failed_destinations,omitempty"`

	// NeedsSplit is fixed once the Planner runs: true iff more than one
	// batch is required, or the one batch's total size exceeds the
	// ceiling (a lone oversized file still gets ".partNNN.zip" naming).
	NeedsSplit bool `json:"needs_split"`
	// BaseName is the fixed archive base name for the whole Job
	// ("transfer_<epoch_ms>").
	BaseName string `json:"base_name"`
}

// Validate enforces the Job invariants from spec.md §3.
func (j *Job) Validate() error {
	if len(j.Destinations) == 0 {
		return ErrNoDestinations
	}
	if j.SourceFolder == "" {
		return ErrEmptySourceFolder
	}
	seen := map[HostID]bool{j.SourceHostID: true}
	for _, d := range j.Destinations {
		if seen[d.HostID] {
			return ErrDuplicateDestination
		}
		seen[d.HostID] = true
	}
	return nil
}

// PartStatus is the archive-part lifecycle (spec.md §3).
type PartStatus string

const (
	PartPending      PartStatus = "pending"
	PartPackaging    PartStatus = "packaging"
	PartUploading    PartStatus = "uploading"
	PartUploaded     PartStatus = "uploaded"
	PartDistributing PartStatus = "distributing"
	PartCompleted    PartStatus = "completed"
	PartFailed       PartStatus = "failed"
)

// Part is one archive segment.
type Part struct {
	ID         PartID `json:"id"`
	Index      int    `json:"index"` // 1-based
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	StorePath  string `json:"store_path"`

	Status       PartStatus            `json:"status"`
	RetryCount   int                   `json:"retry_count"`
	Destinations []*DestinationProgress `json:"destinations"`
}

// Finalize sets Status to PartCompleted or PartFailed once every
// DestinationProgress has reached a terminal state (spec.md §3's
// uploaded -> distributing -> completed|failed sequence). It is a
// no-op if any destination is still in flight. Mirrors the Job-level
// partial-success choice (DESIGN.md open question #2): losing some
// destinations doesn't fail the Part, only losing all of them does.
func (p *Part) Finalize() {
	anySucceeded := false
	for _, dp := range p.Destinations {
		if !dp.Status.Terminal() {
			return
		}
		if dp.Status == DestCompleted {
			anySucceeded = true
		}
	}
	if anySucceeded || len(p.Destinations) == 0 {
		p.Status = PartCompleted
	} else {
		p.Status = PartFailed
	}
}

// DestStatus is the per-part, per-destination lifecycle (spec.md §3).
type DestStatus string

const (
	DestPending     DestStatus = "pending"
	DestDownloading DestStatus = "downloading"
	DestStaging     DestStatus = "staging"
	DestExtracting  DestStatus = "extracting"
	DestCompleted   DestStatus = "completed"
	DestFailed      DestStatus = "failed"
)

// DestinationProgress tracks one destination's handling of one Part.
type DestinationProgress struct {
	HostID  HostID     `json:"host_id"`
	Status  DestStatus `json:"status"`
	Percent int        `json:"percent"` // 0-100
	Error   string     `json:"error,omitempty"`
}

// SetPercent enforces the monotonic-non-decreasing invariant (spec.md
// §3), except on transition to failed/pending where the caller resets
// explicitly via Reset.
func (d *DestinationProgress) SetPercent(p int) {
	if p < d.Percent {
		return
	}
	if p > 100 {
		p = 100
	}
	d.Percent = p
}

// Reset returns a DestinationProgress to pending/0%, used by retry.
func (d *DestinationProgress) Reset() {
	d.Status = DestPending
	d.Percent = 0
	d.Error = ""
}

// Terminal reports whether a DestStatus is terminal (completed/failed).
func (s DestStatus) Terminal() bool {
	return s == DestCompleted || s == DestFailed
}

// Fail marks a destination failed with a message.
func (d *DestinationProgress) Fail(msg string) {
	d.Status = DestFailed
	d.Error = msg
}

// EventLevel is the severity of a logged Event.
type EventLevel string

const (
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// Event is an append-only log record (spec.md §3).
type Event struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	JobID     JobID      `json:"job_id,omitempty"`
	HostID    HostID     `json:"host_id,omitempty"`
	PartID    PartID     `json:"part_id,omitempty"`
}
