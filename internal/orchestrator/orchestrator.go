// Package orchestrator is the job loop (spec.md §4.7): it wires the
// Planner, Packager, and Dispatcher together behind one state machine
// per Job, owns every Job/Part/DestinationProgress mutation, and is the
// sole publisher on that Job's event bus. Grounded on
// other_examples/vbp1-pgclone's Orchestrator — a struct holding live
// resource handles with a step-sequencing Run, adapted here from a
// linear five-step pipeline into a per-batch Package→DispatchPart loop,
// and generalized from a single in-process run into one Orchestrator
// multiplexing many concurrently-running Jobs. Batches are handled one
// at a time: the next batch is not packaged until DispatchPart has
// returned for the current one, so packaging and destination downloads
// of different parts do not overlap.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gonzague/parcel-relay/internal/dispatcher"
	"github.com/gonzague/parcel-relay/internal/eventbus"
	"github.com/gonzague/parcel-relay/internal/inventory"
	"github.com/gonzague/parcel-relay/internal/model"
	"github.com/gonzague/parcel-relay/internal/objectstore"
	"github.com/gonzague/parcel-relay/internal/packager"
	"github.com/gonzague/parcel-relay/internal/planner"
	"github.com/gonzague/parcel-relay/internal/sshpool"
	"github.com/gonzague/parcel-relay/internal/store"
)

// execer is the slice of *sshpool.Pool the Orchestrator needs directly
// (best-effort process kill on cancel); Packager and Dispatcher accept
// the same method set structurally.
type execer interface {
	Exec(ctx context.Context, hostID model.HostID, cmd string) (sshpool.ExecResult, error)
}

// storeDriver is the slice of *objectstore.Driver the Orchestrator and
// its collaborators need; narrowed to an interface (rather than taking
// the concrete type) so tests can substitute a fake without a real
// object-store CLI or network.
type storeDriver interface {
	UploadFile(ctx context.Context, hostID model.HostID, localPath, remoteName, remotePath string, onProgress objectstore.OnProgress) error
	DownloadFile(ctx context.Context, hostID model.HostID, remoteName, remotePath, localPath string, onProgress objectstore.OnProgress) error
	DeleteFile(ctx context.Context, hostID model.HostID, remoteName, remotePath string) error
	CheckInstalled(ctx context.Context, hostID model.HostID) (bool, error)
	InstallOnHost(ctx context.Context, hostID model.HostID) error
	DeployConfig(ctx context.Context, hostID model.HostID) error
	ToolName() string
}

type runningJob struct {
	job     *model.Job
	control *model.JobControl
	bus     *eventbus.Bus
	cancel  context.CancelFunc
}

// Orchestrator drives every running Job. One instance is shared across
// the process; each Job gets its own JobControl and event bus.
type Orchestrator struct {
	pool     execer
	store    *store.Store
	objStore storeDriver
	scanner  *inventory.Scanner
	pk       *packager.Packager
	disp     *dispatcher.Dispatcher
	log      zerolog.Logger

	pausePollInterval time.Duration

	mu      sync.Mutex
	running map[model.JobID]*runningJob
}

// New wires an Orchestrator from its collaborators — the Connection
// Pool, the document store, the Object-Store Driver, and a logger. No
// ambient/global state is used (spec.md §9 flags this explicitly).
// pausePollInterval configures every Job's JobControl.WaitIfPaused
// cadence (config.Config's pause_poll_interval); zero uses the
// JobControl default.
func New(pool execer, st *store.Store, objStore storeDriver, log zerolog.Logger, pausePollInterval time.Duration) *Orchestrator {
	return &Orchestrator{
		pool:              pool,
		store:             st,
		objStore:          objStore,
		scanner:           inventory.NewScanner(pool),
		pk:                packager.New(pool, objStore, log),
		disp:              dispatcher.New(pool, objStore, log),
		log:               log,
		pausePollInterval: pausePollInterval,
		running:           make(map[model.JobID]*runningJob),
	}
}

// Start validates job, registers its control/event-bus pair, and runs
// the pipeline in a background goroutine. The returned Bus is already
// live — callers (an SSE handler) can Subscribe before any event fires.
func (o *Orchestrator) Start(job *model.Job) (*eventbus.Bus, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if _, exists := o.running[job.ID]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("job %s is already running", job.ID)
	}
	control := model.NewJobControl(o.pausePollInterval)
	bus := eventbus.New()
	runCtx, cancel := context.WithCancel(context.Background())
	o.running[job.ID] = &runningJob{job: job, control: control, bus: bus, cancel: cancel}
	o.mu.Unlock()

	go o.run(runCtx, job, control, bus)
	return bus, nil
}

// Bus returns the live event bus for a running or previously-run Job.
func (o *Orchestrator) Bus(jobID model.JobID) (*eventbus.Bus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rj, ok := o.running[jobID]
	if !ok {
		return nil, false
	}
	return rj.bus, true
}

func (o *Orchestrator) lookup(jobID model.JobID) (*runningJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rj, ok := o.running[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s is not running", jobID)
	}
	return rj, nil
}

// Pause sets the Job's pause flag; the Packager and Dispatcher workers
// block at their next checkpoint (see model.JobControl) until Resume or
// Cancel. A command already running on a host is not interrupted.
func (o *Orchestrator) Pause(jobID model.JobID) error {
	rj, err := o.lookup(jobID)
	if err != nil {
		return err
	}
	rj.control.Pause()
	rj.job.Status = model.JobPaused
	o.persist(rj.job)
	rj.bus.Publish(Log{Level: model.LevelInfo, Message: "[Queue] job paused", JobID: jobID})
	return nil
}

// Resume clears the pause flag.
func (o *Orchestrator) Resume(jobID model.JobID) error {
	rj, err := o.lookup(jobID)
	if err != nil {
		return err
	}
	rj.control.Resume()
	rj.job.Status = model.JobRunning
	o.persist(rj.job)
	rj.bus.Publish(Log{Level: model.LevelInfo, Message: "[Queue] job resumed", JobID: jobID})
	return nil
}

// Cancel sets the cancel flag, tears down the run context so blocked
// suspension points unwind promptly, and best-effort kills archive/
// upload processes on the source and download/extract processes on
// every destination (spec.md §4.7 cancellation steps 2-3).
func (o *Orchestrator) Cancel(jobID model.JobID) error {
	rj, err := o.lookup(jobID)
	if err != nil {
		return err
	}
	rj.job.Status = model.JobCancelling
	o.persist(rj.job)
	rj.bus.Publish(Log{Level: model.LevelWarn, Message: "[Queue] cancel requested", JobID: jobID})

	rj.control.Cancel()
	rj.cancel()
	o.killRemoteProcesses(rj.job)
	return nil
}

func (o *Orchestrator) killRemoteProcesses(job *model.Job) {
	tool := o.objStore.ToolName()
	ctx := context.Background()

	srcKill := fmt.Sprintf("pkill -f 'zip -q %s' 2>/dev/null; pkill -f '%s copyto' 2>/dev/null; true", job.BaseName, tool)
	_, _ = o.pool.Exec(ctx, job.SourceHostID, srcKill)

	for _, d := range job.Destinations {
		destKill := fmt.Sprintf("pkill -f '%s copyto' 2>/dev/null; pkill -f 'unzip -o .*%s' 2>/dev/null; true", tool, job.BaseName)
		_, _ = o.pool.Exec(ctx, d.HostID, destKill)
	}
}

// Retry resets one failed Part to pending and re-runs the Packager and
// Dispatcher path for it alone (spec.md §8 scenario 6). The batch
// contents are re-derived via a fresh Scan+Plan rather than stored,
// since Planner is deterministic given the same source folder and
// ceiling — both immutable Job inputs.
func (o *Orchestrator) Retry(ctx context.Context, jobID model.JobID, partID model.PartID) error {
	rj, err := o.lookup(jobID)
	if err != nil {
		return err
	}

	var part *model.Part
	index := 0
	for i, p := range rj.job.Parts {
		if p.ID == partID {
			part = p
			index = i + 1
			break
		}
	}
	if part == nil {
		return fmt.Errorf("part %s not found in job %s", partID, jobID)
	}

	part.RetryCount++
	part.Status = model.PartPending
	for _, dp := range part.Destinations {
		dp.Reset()
	}
	o.persist(rj.job)

	go o.retryPart(ctx, rj, part, index)
	return nil
}

func (o *Orchestrator) retryPart(ctx context.Context, rj *runningJob, part *model.Part, index int) {
	job := rj.job
	bus := rj.bus
	control := rj.control

	o.logLine(bus, job.ID, model.LevelInfo, fmt.Sprintf("[Queue] retrying part %d", index))

	result, err := o.scanner.Scan(ctx, job.SourceHostID, job.SourceFolder)
	if err != nil {
		o.logLine(bus, job.ID, model.LevelError, fmt.Sprintf("[Error] retry rescan failed: %v", err))
		o.retryFailed(job, bus, part, err)
		return
	}
	batches := planner.Plan(result.Files, job.PartSizeCeilMB*1024*1024)
	if index < 1 || index > len(batches) {
		part.Status = model.PartFailed
		o.persist(job)
		o.logLine(bus, job.ID, model.LevelError, "[Error] retry: batch layout changed since the job started")
		return
	}
	batch := batches[index-1]

	srcCfg, err := o.storeConfig(job.SourceStoreConfigID)
	if err != nil {
		err = model.NewPipelineError(model.KindConnect, "resolve source store config", err)
		o.logLine(bus, job.ID, model.LevelError, fmt.Sprintf("[Error] retry: %v", err))
		o.retryFailed(job, bus, part, err)
		return
	}

	retryCount := part.RetryCount
	newPart, err := o.pk.Package(
		ctx, control, job.SourceHostID, job.SourceFolder,
		batch.Files, index, len(batches), job.BaseName, job.NeedsSplit,
		srcCfg.RemoteName, job.StoreFolder, job.DeleteLocalAfterUpload, job.Destinations,
		o.onPartProgress(bus, job.ID),
	)
	if err != nil {
		o.logLine(bus, job.ID, model.LevelError, fmt.Sprintf("[Error] retry of part %d failed: %v", index, err))
		o.retryFailed(job, bus, part, err)
		return
	}
	*part = *newPart
	part.RetryCount = retryCount
	o.persist(job)
	bus.Publish(PartUploaded{
		JobID: job.ID, PartID: part.ID, Filename: part.Filename,
		StorePath: part.StorePath, Size: part.Size, Destinations: destHostIDs(part.Destinations),
	})

	part.Status = model.PartDistributing
	bus.Publish(PartStateChanged{JobID: job.ID, PartID: part.ID, Status: part.Status, Percent: 100})
	o.persist(job)

	destFolders, storeRemoteByHost := o.destinationMaps(job)
	failedDest := map[model.HostID]string{}
	for _, host := range job.FailedDestinations {
		failedDest[host] = "destination preparation failed during the original run"
	}
	opts := o.dispatchOptions(job, destFolders, storeRemoteByHost, failedDest)
	_ = o.disp.DispatchPart(ctx, control, part, opts, o.onDestProgress(bus, job.ID))
	for _, dp := range part.Destinations {
		if msg, bad := failedDest[dp.HostID]; bad {
			dp.Fail(msg)
			bus.Publish(PartDestProgress{JobID: job.ID, PartID: part.ID, HostID: dp.HostID, Status: dp.Status, Percent: dp.Percent, Error: dp.Error})
		}
	}
	part.Finalize()
	bus.Publish(PartStateChanged{JobID: job.ID, PartID: part.ID, Status: part.Status, Percent: 100})
	o.persist(job)
	o.logLine(bus, job.ID, model.LevelInfo, fmt.Sprintf("[Complete] retry of part %d finished", index))
}

func (o *Orchestrator) run(ctx context.Context, job *model.Job, control *model.JobControl, bus *eventbus.Bus) {
	job.Status = model.JobRunning
	job.StartedAt = time.Now()
	o.persist(job)
	bus.Publish(JobStarted{JobID: job.ID, Name: job.Name})
	o.step(bus, job.ID, 1, 5, "scanning source folder")

	result, err := o.scanner.Scan(ctx, job.SourceHostID, job.SourceFolder)
	if err != nil {
		o.fail(job, bus, err)
		return
	}

	ceilingBytes := job.PartSizeCeilMB * 1024 * 1024
	batches := planner.Plan(result.Files, ceilingBytes)
	job.NeedsSplit = planner.NeedsSplit(batches, ceilingBytes)
	job.BaseName = fmt.Sprintf("transfer_%d", time.Now().UnixMilli())
	total := len(batches)
	o.step(bus, job.ID, 2, 5, fmt.Sprintf("planned %d batch(es)", total))

	srcCfg, err := o.storeConfig(job.SourceStoreConfigID)
	if err != nil {
		o.fail(job, bus, model.NewPipelineError(model.KindConnect, "resolve source store config", err))
		return
	}

	o.step(bus, job.ID, 3, 5, "preparing destinations")
	failedDest := o.prepareDestinations(ctx, job, bus)
	destFolders, storeRemoteByHost := o.destinationMaps(job)

	o.step(bus, job.ID, 4, 5, "packaging and dispatching")

	cancelled := false
	for i, batch := range batches {
		if control.IsCancelled() {
			cancelled = true
			break
		}

		index := i + 1
		part, err := o.pk.Package(
			ctx, control, job.SourceHostID, job.SourceFolder,
			batch.Files, index, total, job.BaseName, job.NeedsSplit,
			srcCfg.RemoteName, job.StoreFolder, job.DeleteLocalAfterUpload, job.Destinations,
			o.onPartProgress(bus, job.ID),
		)
		if err != nil {
			var pe *model.PipelineError
			if errors.As(err, &pe) && pe.Kind == model.KindCancelled {
				cancelled = true
				break
			}
			o.fail(job, bus, err)
			return
		}
		job.Parts = append(job.Parts, part)

		for _, dp := range part.Destinations {
			if msg, bad := failedDest[dp.HostID]; bad {
				dp.Fail(msg)
				bus.Publish(PartDestProgress{JobID: job.ID, PartID: part.ID, HostID: dp.HostID, Status: dp.Status, Percent: dp.Percent, Error: dp.Error})
			}
		}
		o.persist(job)
		bus.Publish(PartUploaded{
			JobID: job.ID, PartID: part.ID, Filename: part.Filename,
			StorePath: part.StorePath, Size: part.Size, Destinations: destHostIDs(part.Destinations),
		})

		part.Status = model.PartDistributing
		bus.Publish(PartStateChanged{JobID: job.ID, PartID: part.ID, Status: part.Status, Percent: 100})
		o.persist(job)

		opts := o.dispatchOptions(job, destFolders, storeRemoteByHost, failedDest)
		_ = o.disp.DispatchPart(ctx, control, part, opts, o.onDestProgress(bus, job.ID))
		part.Finalize()
		bus.Publish(PartStateChanged{JobID: job.ID, PartID: part.ID, Status: part.Status, Percent: 100})
		o.persist(job)

		if control.IsCancelled() {
			cancelled = true
			break
		}
	}

	if cancelled {
		job.Status = model.JobFailed
		job.EndedAt = time.Now()
		o.persist(job)
		bus.Publish(JobFailed{JobID: job.ID, Kind: string(model.KindCancelled), Error: "cancelled"})
		o.logLine(bus, job.ID, model.LevelWarn, "[Error] job cancelled")
		bus.Close()
		return
	}

	if job.NeedsSplit && job.AutoExtract && len(job.Parts) == total {
		o.step(bus, job.ID, 5, 5, "bulk extract")
		bulkFolders := map[model.HostID]string{}
		for host, folder := range destFolders {
			if _, bad := failedDest[host]; !bad {
				bulkFolders[host] = folder
			}
		}
		results, aggErr := o.disp.BulkExtract(ctx, bulkFolders, job.BaseName)
		if aggErr != nil {
			o.logLine(bus, job.ID, model.LevelError, fmt.Sprintf("[Error] bulk extract: %v", aggErr))
		}
		for _, r := range results {
			if r.Err != nil {
				failedDest[r.HostID] = r.Err.Error()
				o.logLine(bus, job.ID, model.LevelError, fmt.Sprintf("[Extract] %s bulk extract failed: %v", r.HostID, r.Err))
			} else {
				o.logLine(bus, job.ID, model.LevelInfo, fmt.Sprintf("[Extract] %s bulk extract complete", r.HostID))
			}
		}
	}

	job.FailedDestinations = nil
	for host := range failedDest {
		job.FailedDestinations = append(job.FailedDestinations, host)
	}

	job.Status = model.JobCompleted
	job.EndedAt = time.Now()
	o.persist(job)
	o.step(bus, job.ID, 5, 5, "complete")
	bus.Publish(JobCompleted{JobID: job.ID, FailedDestinations: job.FailedDestinations})
	o.logLine(bus, job.ID, model.LevelInfo, "[Complete] job finished")
	bus.Close()
}

// prepareDestinations runs Dispatcher.PrepareDestination for every
// destination in parallel, returning a host→error-message map for the
// ones that failed. A failed destination never starts a download.
func (o *Orchestrator) prepareDestinations(ctx context.Context, job *model.Job, bus *eventbus.Bus) map[model.HostID]string {
	failed := map[model.HostID]string{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range job.Destinations {
		d := d
		g.Go(func() error {
			if err := o.disp.PrepareDestination(gctx, d.HostID); err != nil {
				mu.Lock()
				failed[d.HostID] = err.Error()
				mu.Unlock()
				o.logLine(bus, job.ID, model.LevelError, fmt.Sprintf("[Dest] %s preparation failed: %v", d.HostID, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (o *Orchestrator) destinationMaps(job *model.Job) (destFolders map[model.HostID]string, storeRemoteByHost map[model.HostID]string) {
	destFolders = map[model.HostID]string{}
	storeRemoteByHost = map[model.HostID]string{}
	for _, d := range job.Destinations {
		destFolders[d.HostID] = d.FolderPath
		if cfg, err := o.storeConfig(d.StoreConfigID); err == nil {
			storeRemoteByHost[d.HostID] = cfg.RemoteName
		}
	}
	return destFolders, storeRemoteByHost
}

func (o *Orchestrator) dispatchOptions(job *model.Job, destFolders, storeRemoteByHost map[model.HostID]string, failedDest map[model.HostID]string) map[model.HostID]dispatcher.DispatchOptions {
	opts := map[model.HostID]dispatcher.DispatchOptions{}
	for _, d := range job.Destinations {
		if _, bad := failedDest[d.HostID]; bad {
			continue
		}
		opts[d.HostID] = dispatcher.DispatchOptions{
			DestFolder:                      destFolders[d.HostID],
			StoreRemoteName:                 storeRemoteByHost[d.HostID],
			AutoExtract:                     job.AutoExtract,
			NeedsSplit:                      job.NeedsSplit,
			DeleteFromStoreAfterAllDestDone: job.DeleteFromStoreAfterAllDestDone,
		}
	}
	return opts
}

func (o *Orchestrator) onPartProgress(bus *eventbus.Bus, jobID model.JobID) packager.OnPartProgress {
	return func(pp packager.PartProgress) {
		bus.Publish(PartStateChanged{JobID: jobID, PartID: pp.PartID, Status: pp.Status, Percent: pp.PartPercent})
		if pp.Log != "" {
			o.logLine(bus, jobID, model.LevelInfo, pp.Log)
		}
	}
}

func (o *Orchestrator) onDestProgress(bus *eventbus.Bus, jobID model.JobID) dispatcher.OnDestProgress {
	return func(part *model.Part, dp *model.DestinationProgress) {
		bus.Publish(PartDestProgress{JobID: jobID, PartID: part.ID, HostID: dp.HostID, Status: dp.Status, Percent: dp.Percent, Error: dp.Error})
	}
}

func (o *Orchestrator) step(bus *eventbus.Bus, jobID model.JobID, step, total int, message string) {
	bus.Publish(JobStepAdvanced{JobID: jobID, Step: step, TotalSteps: total, Message: message})
	o.logLine(bus, jobID, model.LevelInfo, fmt.Sprintf("[Step %d/%d] %s", step, total, message))
}

func (o *Orchestrator) logLine(bus *eventbus.Bus, jobID model.JobID, level model.EventLevel, msg string) {
	bus.Publish(Log{Level: level, Message: msg, JobID: jobID})
}

func (o *Orchestrator) fail(job *model.Job, bus *eventbus.Bus, err error) {
	job.Status = model.JobFailed
	job.EndedAt = time.Now()
	o.persist(job)

	kind := "unknown"
	var pe *model.PipelineError
	if errors.As(err, &pe) {
		kind = string(pe.Kind)
	}
	bus.Publish(JobFailed{JobID: job.ID, Kind: kind, Error: err.Error()})
	o.logLine(bus, job.ID, model.LevelError, fmt.Sprintf("[Error] %v", err))
	bus.Close()
}

// retryFailed marks a retried Part as failed, unless err is a
// source-side pipeline failure (Scan/Plan/Package/Upload are one serial
// pipeline per spec.md §7) — Scan/Package/Upload are shared by every
// Part, so a source-side failure during one Part's retry will recur
// for the rest and the whole Job is aborted instead.
func (o *Orchestrator) retryFailed(job *model.Job, bus *eventbus.Bus, part *model.Part, err error) {
	var pe *model.PipelineError
	if errors.As(err, &pe) && model.SourceSideFatal(pe.Kind) {
		o.fail(job, bus, err)
		return
	}
	part.Status = model.PartFailed
	o.persist(job)
}

func (o *Orchestrator) persist(job *model.Job) {
	if err := o.store.PutJob(job); err != nil {
		o.log.Error().Err(err).Str("job_id", string(job.ID)).Msg("persist job snapshot")
	}
}

func (o *Orchestrator) storeConfig(id string) (*model.ArchiveStoreConfig, error) {
	configs, err := o.store.ListStoreConfigs()
	if err != nil {
		return nil, err
	}
	for _, c := range configs {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("store config %s not found", id)
}

func destHostIDs(destinations []*model.DestinationProgress) []model.HostID {
	ids := make([]model.HostID, len(destinations))
	for i, d := range destinations {
		ids[i] = d.HostID
	}
	return ids
}
