package model

import "errors"

// Job validation errors.
var (
	ErrNoDestinations       = errors.New("job must have at least one destination")
	ErrEmptySourceFolder    = errors.New("job source folder must not be empty")
	ErrDuplicateDestination = errors.New("destination host ids must be pairwise distinct and distinct from the source host")
)

// ErrorKind classifies a pipeline failure (spec.md §7). It drives
// whether a failure aborts the whole Job or isolates to a single
// DestinationProgress.
type ErrorKind string

const (
	KindConnect      ErrorKind = "ConnectError"
	KindToolMissing  ErrorKind = "ToolMissing"
	KindToolInstall  ErrorKind = "ToolInstallError"
	KindPlan         ErrorKind = "PlanError"
	KindPackage      ErrorKind = "PackageError"
	KindUpload       ErrorKind = "UploadError"
	KindDownload     ErrorKind = "DownloadError"
	KindExtract      ErrorKind = "ExtractError"
	KindStoreDelete  ErrorKind = "StoreDeleteError"
	KindCancelled    ErrorKind = "Cancelled"
)

// PipelineError is a typed error carrying an ErrorKind, used so callers
// (Orchestrator, HTTP layer) can decide abort-job vs isolate-destination
// without string matching.
type PipelineError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *PipelineError) Unwrap() error { return e.Err }

func (k ErrorKind) String() string { return string(k) }

// NewPipelineError constructs a PipelineError.
func NewPipelineError(kind ErrorKind, msg string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Msg: msg, Err: cause}
}

// SourceSideFatal reports whether an ErrorKind aborts the whole Job
// (source-side: Planner/Packager/Upload are a serial pipeline) as
// opposed to isolating to one destination.
func SourceSideFatal(k ErrorKind) bool {
	switch k {
	case KindPlan, KindPackage, KindUpload:
		return true
	case KindConnect:
		// ConnectError on the source aborts the job; on a destination it
		// isolates. Callers on the destination side must not use this
		// helper to decide — they always isolate ConnectError locally.
		return true
	default:
		return false
	}
}
