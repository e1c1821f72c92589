package packager

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzague/parcel-relay/internal/inventory"
	"github.com/gonzague/parcel-relay/internal/model"
	"github.com/gonzague/parcel-relay/internal/objectstore"
	"github.com/gonzague/parcel-relay/internal/sshpool"
)

type fakeExecer struct {
	statSize string
}

func (f *fakeExecer) Exec(ctx context.Context, hostID model.HostID, cmd string) (sshpool.ExecResult, error) {
	if f.statSize != "" && strings.HasPrefix(cmd, "stat -") {
		return sshpool.ExecResult{Stdout: f.statSize}, nil
	}
	return sshpool.ExecResult{}, nil
}

type fakeUploader struct {
	progressPercents []int
}

func (f *fakeUploader) UploadFile(ctx context.Context, hostID model.HostID, localPath, remoteName, remotePath string, onProgress objectstore.OnProgress) error {
	for _, p := range f.progressPercents {
		onProgress(p, "1.0 MiB/s")
	}
	return nil
}

func TestPartName(t *testing.T) {
	assert.Equal(t, "transfer_1.zip", PartName("transfer_1", 1, false))
	assert.Equal(t, "transfer_1.part001.zip", PartName("transfer_1", 1, true))
	assert.Equal(t, "transfer_1.part012.zip", PartName("transfer_1", 12, true))
}

func TestJobLevelPercent(t *testing.T) {
	assert.Equal(t, 0, jobLevelPercent(1, 0, 3))
	assert.Equal(t, 50, jobLevelPercent(2, 50, 3)) // i=1, p=50 => (1.5/3)*100=50
	assert.Equal(t, 100, jobLevelPercent(3, 100, 3))
}

func TestPackager_Package_SingleArchive(t *testing.T) {
	exec := &fakeExecer{statSize: "1048576"}
	up := &fakeUploader{progressPercents: []int{25, 50, 100}}
	pk := New(exec, up, zerolog.Nop())

	batch := []inventory.FileEntry{{RelPath: "a.txt", Size: 100}}
	destinations := []model.Destination{{HostID: "dest-1"}, {HostID: "dest-2"}}

	var events []PartProgress
	part, err := pk.Package(
		context.Background(), model.NewJobControl(0), "src-host", "/srv/www",
		batch, 1, 1, "transfer_123", false,
		"gdrive", "backups",
		false, destinations,
		func(pp PartProgress) { events = append(events, pp) },
	)

	require.NoError(t, err)
	assert.Equal(t, model.PartUploaded, part.Status)
	assert.Equal(t, "transfer_123.zip", part.Filename)
	assert.Equal(t, int64(1048576), part.Size)
	assert.Equal(t, "backups/transfer_123.zip", part.StorePath)
	require.Len(t, part.Destinations, 2)
	assert.Equal(t, model.DestPending, part.Destinations[0].Status)
	assert.NotEmpty(t, events)
}

func TestPackager_Package_CancelledBeforeStart(t *testing.T) {
	exec := &fakeExecer{}
	up := &fakeUploader{}
	pk := New(exec, up, zerolog.Nop())

	control := model.NewJobControl(0)
	control.Cancel()

	_, err := pk.Package(
		context.Background(), control, "src-host", "/srv/www",
		nil, 1, 1, "transfer_123", false, "gdrive", "backups", false, nil, nil,
	)
	assert.Error(t, err)
}
