package orchestrator

import (
	"encoding/json"

	"github.com/gonzague/parcel-relay/internal/model"
)

// The typed event union published on a Job's eventbus.Bus (spec.md §6).
// Message-prefix conventions ([Step N/K], [Zip], [Upload], [Download],
// [Extract], [Cleanup], [Complete], [Error], [Dest], [Queue]) live in
// the Message field of Log so subscribers can filter by prefix.
//
// Each type marshals a "type" discriminator alongside its own fields
// (the teacher's StreamEvent carried the same flat "type" string) so an
// SSE client can tell JobStarted from JobCompleted from the raw JSON
// without out-of-band knowledge of the Go type.

type JobStarted struct {
	JobID model.JobID `json:"job_id"`
	Name  string      `json:"name"`
}

func (e JobStarted) MarshalJSON() ([]byte, error) {
	type alias JobStarted
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{"job_started", alias(e)})
}

type JobStepAdvanced struct {
	JobID      model.JobID `json:"job_id"`
	Step       int         `json:"step"`
	TotalSteps int         `json:"total_steps"`
	Message    string      `json:"message"`
}

func (e JobStepAdvanced) MarshalJSON() ([]byte, error) {
	type alias JobStepAdvanced
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{"job_step_advanced", alias(e)})
}

type PartStateChanged struct {
	JobID   model.JobID      `json:"job_id"`
	PartID  model.PartID     `json:"part_id"`
	Status  model.PartStatus `json:"status"`
	Percent int              `json:"percent"`
}

func (e PartStateChanged) MarshalJSON() ([]byte, error) {
	type alias PartStateChanged
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{"part_state_changed", alias(e)})
}

type PartUploaded struct {
	JobID        model.JobID    `json:"job_id"`
	PartID       model.PartID   `json:"part_id"`
	Filename     string         `json:"filename"`
	StorePath    string         `json:"store_path"`
	Size         int64          `json:"size"`
	Destinations []model.HostID `json:"destinations"`
}

func (e PartUploaded) MarshalJSON() ([]byte, error) {
	type alias PartUploaded
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{"part_uploaded", alias(e)})
}

type PartDestProgress struct {
	JobID   model.JobID      `json:"job_id"`
	PartID  model.PartID     `json:"part_id"`
	HostID  model.HostID     `json:"host_id"`
	Status  model.DestStatus `json:"status"`
	Percent int              `json:"percent"`
	Error   string           `json:"error,omitempty"`
}

func (e PartDestProgress) MarshalJSON() ([]byte, error) {
	type alias PartDestProgress
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{"part_dest_progress", alias(e)})
}

type JobCompleted struct {
	JobID              model.JobID    `json:"job_id"`
	FailedDestinations []model.HostID `json:"failed_destinations,omitempty"`
}

func (e JobCompleted) MarshalJSON() ([]byte, error) {
	type alias JobCompleted
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{"job_completed", alias(e)})
}

type JobFailed struct {
	JobID model.JobID `json:"job_id"`
	Kind  string      `json:"kind"`
	Error string      `json:"error"`
}

func (e JobFailed) MarshalJSON() ([]byte, error) {
	type alias JobFailed
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{"job_failed", alias(e)})
}

type Log struct {
	Level   model.EventLevel `json:"level"`
	Message string           `json:"message"`
	JobID   model.JobID      `json:"job_id,omitempty"`
	PartID  model.PartID     `json:"part_id,omitempty"`
	HostID  model.HostID     `json:"host_id,omitempty"`
}

func (e Log) MarshalJSON() ([]byte, error) {
	type alias Log
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{"log", alias(e)})
}
