// Package dispatcher is the destination-side per-part worker plus the
// split-archive bulk-extract step (spec.md §4.5–§4.6). Fan-out is
// grounded on tonimelisma-onedrive-go/internal/sync/transfer.go's
// dispatchPool (golang.org/x/sync/errgroup with SetLimit) — the
// clearest pack example of a bounded-concurrency per-item worker pool
// with per-item error isolation, exactly the "parts × destinations,
// isolate failures" contract spec.md §4.5 and §7 require.
package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gonzague/parcel-relay/internal/model"
	"github.com/gonzague/parcel-relay/internal/objectstore"
	"github.com/gonzague/parcel-relay/internal/sshpool"
)

// execer is the slice of *sshpool.Pool this package needs.
type execer interface {
	Exec(ctx context.Context, hostID model.HostID, cmd string) (sshpool.ExecResult, error)
}

// storeClient is the slice of *objectstore.Driver this package needs.
type storeClient interface {
	DownloadFile(ctx context.Context, hostID model.HostID, remoteName, remotePath, localPath string, onProgress objectstore.OnProgress) error
	DeleteFile(ctx context.Context, hostID model.HostID, remoteName, remotePath string) error
	CheckInstalled(ctx context.Context, hostID model.HostID) (bool, error)
	InstallOnHost(ctx context.Context, hostID model.HostID) error
	DeployConfig(ctx context.Context, hostID model.HostID) error
}

// Dispatcher drives one destination's handling of every Part it is
// assigned.
type Dispatcher struct {
	pool  execer
	store storeClient
	log   zerolog.Logger
}

// New constructs a Dispatcher.
func New(pool execer, store storeClient, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{pool: pool, store: store, log: log}
}

// PrepareDestination ensures the object-store tool is installed and
// configured on hostID. Called once per destination before any part is
// dispatched to it; a failure here must fail every DestinationProgress
// slot for this destination (the Orchestrator applies that, since only
// it can see every Part).
func (d *Dispatcher) PrepareDestination(ctx context.Context, hostID model.HostID) error {
	ok, err := d.store.CheckInstalled(ctx, hostID)
	if err != nil || !ok {
		if installErr := d.store.InstallOnHost(ctx, hostID); installErr != nil {
			return model.NewPipelineError(model.KindToolMissing, "prepare "+string(hostID), installErr)
		}
	}
	if err := d.store.DeployConfig(ctx, hostID); err != nil {
		return model.NewPipelineError(model.KindConnect, "deploy config to "+string(hostID), err)
	}
	return nil
}

// DispatchOptions carries the per-job settings a destination worker
// needs to decide what to do with a downloaded part.
type DispatchOptions struct {
	DestFolder                      string
	StoreRemoteName                 string
	AutoExtract                     bool
	NeedsSplit                      bool
	DeleteFromStoreAfterAllDestDone bool
}

// OnDestProgress is invoked after every state/percent change of one
// destination's handling of one part, so a caller can mirror it onto
// an event bus without this package depending on one.
type OnDestProgress func(part *model.Part, dp *model.DestinationProgress)

// DispatchPart fans out one worker per destination for part, mutating
// each destination's own DestinationProgress in place; per-destination
// failures are isolated (marked failed) and never abort the others —
// the errgroup workers only ever return nil, matching the skip-tier
// classification onedrive-go's dispatchPool uses for non-fatal errors.
func (d *Dispatcher) DispatchPart(ctx context.Context, control *model.JobControl, part *model.Part, optsByHost map[model.HostID]DispatchOptions, onProgress OnDestProgress) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, dp := range part.Destinations {
		dp := dp
		opts, ok := optsByHost[dp.HostID]
		if !ok {
			continue
		}
		g.Go(func() error {
			d.runDestination(gctx, control, part, dp, opts, onProgress)
			return nil
		})
	}

	return g.Wait()
}

func (d *Dispatcher) runDestination(ctx context.Context, control *model.JobControl, part *model.Part, dp *model.DestinationProgress, opts DispatchOptions, onProgress OnDestProgress) {
	report := func() {
		if onProgress != nil {
			onProgress(part, dp)
		}
	}

	if control.WaitIfPaused() {
		dp.Status = model.DestFailed
		dp.Error = "cancelled"
		report()
		return
	}

	dp.Status = model.DestDownloading
	dp.Percent = 0
	report()

	stagingPath := sshpool.JoinRemote("/tmp", part.Filename)

	err := d.store.DownloadFile(ctx, dp.HostID, opts.StoreRemoteName, part.StorePath, stagingPath, func(percent int, _ string) {
		dp.SetPercent(percent)
		report()
	})
	if err != nil {
		dp.Fail(err.Error())
		report()
		return
	}
	dp.SetPercent(100)

	destPath := sshpool.JoinRemote(opts.DestFolder, part.Filename)

	switch {
	case !opts.AutoExtract:
		dp.Status = model.DestStaging
		report()
		if _, err := d.pool.Exec(ctx, dp.HostID, moveCmd(stagingPath, destPath)); err != nil {
			dp.Fail(fmt.Sprintf("stage: %v", err))
			report()
			return
		}
	case !opts.NeedsSplit:
		dp.Status = model.DestExtracting
		report()
		cmd := fmt.Sprintf("unzip -o %s -d %s && rm -f %s", quote(stagingPath), quote(opts.DestFolder), quote(stagingPath))
		if _, err := d.pool.Exec(ctx, dp.HostID, cmd); err != nil {
			dp.Fail(fmt.Sprintf("extract: %v", err))
			report()
			return
		}
	default:
		// Split archive: stage only, defer extraction to the bulk step.
		dp.Status = model.DestStaging
		report()
		if _, err := d.pool.Exec(ctx, dp.HostID, moveCmd(stagingPath, destPath)); err != nil {
			dp.Fail(fmt.Sprintf("stage: %v", err))
			report()
			return
		}
	}

	if opts.DeleteFromStoreAfterAllDestDone {
		if err := d.store.DeleteFile(ctx, dp.HostID, opts.StoreRemoteName, part.StorePath); err != nil {
			dp.Fail(fmt.Sprintf("store delete: %v", err))
			report()
			return
		}
	}

	dp.Status = model.DestCompleted
	dp.SetPercent(100)
	report()
}

// BulkExtractResult is one destination's outcome of the bulk extract
// step.
type BulkExtractResult struct {
	HostID model.HostID
	Err    error
}

// BulkExtract runs, in parallel, one unzip-over-glob per destination
// once every part has staged there. Failures are isolated per
// destination and also aggregated into a single multierror for a
// compact [Error] log line.
func (d *Dispatcher) BulkExtract(ctx context.Context, destFolders map[model.HostID]string, baseName string) ([]BulkExtractResult, error) {
	results := make([]BulkExtractResult, len(destFolders))

	g, gctx := errgroup.WithContext(ctx)
	i := 0
	for hostID, destFolder := range destFolders {
		idx := i
		i++
		hostID, destFolder := hostID, destFolder
		g.Go(func() error {
			glob := quote(baseName + ".part*.zip")
			cmd := fmt.Sprintf("cd %s && unzip -o %s && rm -f %s", quote(destFolder), glob, glob)
			_, err := d.pool.Exec(gctx, hostID, cmd)
			results[idx] = BulkExtractResult{HostID: hostID, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var agg *multierror.Error
	for _, r := range results {
		if r.Err != nil {
			agg = multierror.Append(agg, fmt.Errorf("%s: %w", r.HostID, r.Err))
		}
	}
	if agg != nil {
		return results, agg.ErrorOrNil()
	}
	return results, nil
}

func moveCmd(src, dst string) string {
	return fmt.Sprintf("mv %s %s", quote(src), quote(dst))
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
