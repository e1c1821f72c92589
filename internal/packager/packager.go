// Package packager is the source-side streaming state machine
// (spec.md §4.4): for each batch, build a file list, archive it, upload
// it, and emit a PartUploaded event. Grounded on the teacher's
// internal/transfer/sftp_executor.go for its pause/cancel polling idiom
// (JobControl.WaitIfPaused, re-expressed from SFTPExecutor's inline
// `for e.paused && !e.cancelled` loop) and progress-callback shape;
// the byte-copying loop itself is replaced because this system moves
// data through the object store, never directly SFTP-to-SFTP.
package packager

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gonzague/parcel-relay/internal/inventory"
	"github.com/gonzague/parcel-relay/internal/model"
	"github.com/gonzague/parcel-relay/internal/objectstore"
	"github.com/gonzague/parcel-relay/internal/sshpool"
)

// execer is the slice of *sshpool.Pool this package needs.
type execer interface {
	Exec(ctx context.Context, hostID model.HostID, cmd string) (sshpool.ExecResult, error)
}

// uploader is the slice of *objectstore.Driver this package needs.
type uploader interface {
	UploadFile(ctx context.Context, hostID model.HostID, localPath, remoteName, remotePath string, onProgress objectstore.OnProgress) error
}

// PartProgress is emitted as a part moves through its state machine.
type PartProgress struct {
	PartID        model.PartID
	Status        model.PartStatus
	PartPercent   int
	JobPercent    int
	Log           string // non-empty on throttled log-worthy crossings
}

// OnPartProgress receives state/percent updates for one part.
type OnPartProgress func(PartProgress)

// Packager builds and uploads one archive part per batch.
type Packager struct {
	pool  execer
	store uploader
	log   zerolog.Logger
}

// New constructs a Packager.
func New(pool execer, store uploader, log zerolog.Logger) *Packager {
	return &Packager{pool: pool, store: store, log: log}
}

// PartName builds the archive filename for part index (1-based) of a
// job whose archives share baseName. needsSplit selects between the
// single-archive and `.partNNN` naming.
func PartName(baseName string, index int, needsSplit bool) string {
	if !needsSplit {
		return baseName + ".zip"
	}
	return fmt.Sprintf("%s.part%03d.zip", baseName, index)
}

// Package builds, archives, and uploads one batch as part `index` of
// `total`, returning the completed model.Part (status=uploaded) ready
// for the Orchestrator to hand to the Dispatcher. sourceFolder
// is the absolute folder the batch's RelPaths are relative to.
func (p *Packager) Package(
	ctx context.Context,
	control *model.JobControl,
	sourceHostID model.HostID,
	sourceFolder string,
	batch []inventory.FileEntry,
	index, total int,
	baseName string,
	needsSplit bool,
	storeRemoteName, storeFolder string,
	deleteLocalAfterUpload bool,
	destinations []model.Destination,
	onProgress OnPartProgress,
) (*model.Part, error) {
	if control.WaitIfPaused() {
		return nil, model.NewPipelineError(model.KindCancelled, "cancelled before packaging", nil)
	}

	filename := PartName(baseName, index, needsSplit)
	archivePath := sshpool.JoinRemote(sourceFolder, filename)
	fileListPath := sshpool.JoinRemote(sourceFolder, fmt.Sprintf(".%s.filelist", filename))

	part := &model.Part{
		ID:       model.PartID(filename),
		Index:    index,
		Filename: filename,
		Status:   model.PartPackaging,
	}
	emit(onProgress, part, 0, index, total, "")

	if err := p.writeFileList(ctx, sourceHostID, fileListPath, batch); err != nil {
		part.Status = model.PartFailed
		return part, model.NewPipelineError(model.KindPackage, "write file list", err)
	}

	archiveCmd := fmt.Sprintf(
		"cd %s && zip -q %s -@ < %s",
		shellQuote(sourceFolder), shellQuote(filename), shellQuote(fileListPath),
	)
	if _, err := p.pool.Exec(ctx, sourceHostID, archiveCmd); err != nil {
		part.Status = model.PartFailed
		return part, model.NewPipelineError(model.KindPackage, "create archive", err)
	}

	size, err := p.statSize(ctx, sourceHostID, archivePath)
	if err != nil {
		part.Status = model.PartFailed
		return part, model.NewPipelineError(model.KindPackage, "stat archive", err)
	}
	part.Size = size

	_, _ = p.pool.Exec(ctx, sourceHostID, "rm -f "+shellQuote(fileListPath))

	if control.WaitIfPaused() {
		part.Status = model.PartFailed
		return part, model.NewPipelineError(model.KindCancelled, "cancelled before upload", nil)
	}

	part.Status = model.PartUploading
	emit(onProgress, part, 0, index, total, "")

	lastBoundary := -1
	boundaryStep := 10
	if needsSplit {
		boundaryStep = 20
	}

	storePath := sshpool.JoinRemote(storeFolder, filename)
	uploadErr := p.store.UploadFile(ctx, sourceHostID, archivePath, storeRemoteName, storePath, func(percent int, speed string) {
		jobPct := jobLevelPercent(index, percent, total)
		boundary := (percent / boundaryStep) * boundaryStep
		logLine := ""
		if boundary > lastBoundary {
			lastBoundary = boundary
			logLine = fmt.Sprintf("[Upload] part %d/%d at %d%% (%s)", index, total, percent, speed)
		}
		emit(onProgress, part, percent, index, total, logLine)
	})
	if uploadErr != nil {
		part.Status = model.PartFailed
		return part, uploadErr
	}

	part.Status = model.PartUploaded
	part.StorePath = storePath
	part.Destinations = make([]*model.DestinationProgress, len(destinations))
	for i, d := range destinations {
		part.Destinations[i] = &model.DestinationProgress{HostID: d.HostID, Status: model.DestPending}
	}
	emit(onProgress, part, 100, index, total, fmt.Sprintf("[Upload] part %d/%d complete", index, total))

	if deleteLocalAfterUpload {
		_, _ = p.pool.Exec(ctx, sourceHostID, "rm -f "+shellQuote(archivePath))
	}

	return part, nil
}

func emit(onProgress OnPartProgress, part *model.Part, partPercent, index, total int, log string) {
	if onProgress == nil {
		return
	}
	onProgress(PartProgress{
		PartID:      part.ID,
		Status:      part.Status,
		PartPercent: partPercent,
		JobPercent:  jobLevelPercent(index, partPercent, total),
		Log:         log,
	})
}

// jobLevelPercent maps a part's own percentage into a coarse job-level
// percentage: floor(((i + p/100)/N)*100), i the 0-based part index.
func jobLevelPercent(index1Based, partPercent, total int) int {
	if total <= 0 {
		return 0
	}
	i := index1Based - 1
	return int((float64(i) + float64(partPercent)/100.0) / float64(total) * 100.0)
}

func (p *Packager) writeFileList(ctx context.Context, hostID model.HostID, fileListPath string, batch []inventory.FileEntry) error {
	var sb strings.Builder
	for _, f := range batch {
		sb.WriteString(f.RelPath)
		sb.WriteString("\n")
	}
	cmd := fmt.Sprintf("cat > %s << 'PARCEL_RELAY_EOF'\n%sPARCEL_RELAY_EOF", shellQuote(fileListPath), sb.String())
	_, err := p.pool.Exec(ctx, hostID, cmd)
	return err
}

func (p *Packager) statSize(ctx context.Context, hostID model.HostID, path string) (int64, error) {
	res, err := p.pool.Exec(ctx, hostID, "stat -c%s "+shellQuote(path))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
