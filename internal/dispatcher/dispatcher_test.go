package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzague/parcel-relay/internal/model"
	"github.com/gonzague/parcel-relay/internal/objectstore"
	"github.com/gonzague/parcel-relay/internal/sshpool"
)

type fakeExecer struct {
	execErr error
	cmds    []string
}

func (f *fakeExecer) Exec(ctx context.Context, hostID model.HostID, cmd string) (sshpool.ExecResult, error) {
	f.cmds = append(f.cmds, cmd)
	if f.execErr != nil {
		return sshpool.ExecResult{}, f.execErr
	}
	return sshpool.ExecResult{}, nil
}

type fakeStore struct {
	downloadErr  error
	deleteErr    error
	installed    bool
	deployErr    error
	progressPcts []int
}

func (f *fakeStore) DownloadFile(ctx context.Context, hostID model.HostID, remoteName, remotePath, localPath string, onProgress objectstore.OnProgress) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	for _, p := range f.progressPcts {
		onProgress(p, "1.0 MiB/s")
	}
	return nil
}

func (f *fakeStore) DeleteFile(ctx context.Context, hostID model.HostID, remoteName, remotePath string) error {
	return f.deleteErr
}

func (f *fakeStore) CheckInstalled(ctx context.Context, hostID model.HostID) (bool, error) {
	return f.installed, nil
}

func (f *fakeStore) InstallOnHost(ctx context.Context, hostID model.HostID) error {
	return nil
}

func (f *fakeStore) DeployConfig(ctx context.Context, hostID model.HostID) error {
	return f.deployErr
}

func newPart(destHosts ...model.HostID) *model.Part {
	part := &model.Part{ID: "transfer_1.zip", Filename: "transfer_1.zip", StorePath: "backups/transfer_1.zip"}
	for _, h := range destHosts {
		part.Destinations = append(part.Destinations, &model.DestinationProgress{HostID: h, Status: model.DestPending})
	}
	return part
}

func TestDispatchPart_NoAutoExtract_Success(t *testing.T) {
	exec := &fakeExecer{}
	store := &fakeStore{progressPcts: []int{50, 100}}
	d := New(exec, store, zerolog.Nop())

	part := newPart("dest-1")
	opts := map[model.HostID]DispatchOptions{
		"dest-1": {DestFolder: "/var/www", StoreRemoteName: "gdrive", AutoExtract: false},
	}

	err := d.DispatchPart(context.Background(), model.NewJobControl(0), part, opts, nil)
	require.NoError(t, err)

	dp := part.Destinations[0]
	assert.Equal(t, model.DestCompleted, dp.Status)
	assert.Equal(t, 100, dp.Percent)
	found := false
	for _, c := range exec.cmds {
		if c == "mv '/tmp/transfer_1.zip' '/var/www/transfer_1.zip'" {
			found = true
		}
	}
	assert.True(t, found, "expected a move command, got %v", exec.cmds)
}

func TestDispatchPart_SingleArchiveAutoExtract(t *testing.T) {
	exec := &fakeExecer{}
	store := &fakeStore{}
	d := New(exec, store, zerolog.Nop())

	part := newPart("dest-1")
	opts := map[model.HostID]DispatchOptions{
		"dest-1": {DestFolder: "/var/www", AutoExtract: true, NeedsSplit: false},
	}

	err := d.DispatchPart(context.Background(), model.NewJobControl(0), part, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DestCompleted, part.Destinations[0].Status)
	require.Len(t, exec.cmds, 1)
	assert.Contains(t, exec.cmds[0], "unzip -o")
}

func TestDispatchPart_SplitArchiveDefersExtraction(t *testing.T) {
	exec := &fakeExecer{}
	store := &fakeStore{}
	d := New(exec, store, zerolog.Nop())

	part := newPart("dest-1")
	opts := map[model.HostID]DispatchOptions{
		"dest-1": {DestFolder: "/var/www", AutoExtract: true, NeedsSplit: true},
	}

	err := d.DispatchPart(context.Background(), model.NewJobControl(0), part, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DestCompleted, part.Destinations[0].Status)
	for _, c := range exec.cmds {
		assert.NotContains(t, c, "unzip")
	}
}

func TestDispatchPart_DownloadFailureIsolatedPerDestination(t *testing.T) {
	exec := &fakeExecer{}
	store := &fakeStore{downloadErr: errors.New("connection reset")}
	d := New(exec, store, zerolog.Nop())

	part := newPart("dest-1", "dest-2")
	opts := map[model.HostID]DispatchOptions{
		"dest-1": {DestFolder: "/var/www"},
		"dest-2": {DestFolder: "/var/www"},
	}

	err := d.DispatchPart(context.Background(), model.NewJobControl(0), part, opts, nil)
	require.NoError(t, err) // errgroup never aborts on a worker's internal failure

	for _, dp := range part.Destinations {
		assert.Equal(t, model.DestFailed, dp.Status)
		assert.Contains(t, dp.Error, "connection reset")
	}
}

func TestDispatchPart_DeleteFromStoreAfterAllDestDone(t *testing.T) {
	exec := &fakeExecer{}
	store := &fakeStore{}
	d := New(exec, store, zerolog.Nop())

	part := newPart("dest-1")
	opts := map[model.HostID]DispatchOptions{
		"dest-1": {DestFolder: "/var/www", DeleteFromStoreAfterAllDestDone: true},
	}

	err := d.DispatchPart(context.Background(), model.NewJobControl(0), part, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DestCompleted, part.Destinations[0].Status)
}

func TestDispatchPart_CancelledMarksFailed(t *testing.T) {
	exec := &fakeExecer{}
	store := &fakeStore{}
	d := New(exec, store, zerolog.Nop())

	control := model.NewJobControl(0)
	control.Cancel()

	part := newPart("dest-1")
	opts := map[model.HostID]DispatchOptions{"dest-1": {DestFolder: "/var/www"}}

	err := d.DispatchPart(context.Background(), control, part, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DestFailed, part.Destinations[0].Status)
}

func TestDispatchPart_OnProgressReportsEachTransition(t *testing.T) {
	exec := &fakeExecer{}
	store := &fakeStore{progressPcts: []int{40, 100}}
	d := New(exec, store, zerolog.Nop())

	part := newPart("dest-1")
	opts := map[model.HostID]DispatchOptions{"dest-1": {DestFolder: "/var/www"}}

	var statuses []model.DestStatus
	err := d.DispatchPart(context.Background(), model.NewJobControl(0), part, opts, func(p *model.Part, dp *model.DestinationProgress) {
		statuses = append(statuses, dp.Status)
	})
	require.NoError(t, err)
	assert.Contains(t, statuses, model.DestDownloading)
	assert.Contains(t, statuses, model.DestStaging)
	assert.Contains(t, statuses, model.DestCompleted)
}

func TestPrepareDestination_InstallsWhenMissing(t *testing.T) {
	exec := &fakeExecer{}
	store := &fakeStore{installed: false}
	d := New(exec, store, zerolog.Nop())

	err := d.PrepareDestination(context.Background(), "dest-1")
	require.NoError(t, err)
}

func TestPrepareDestination_DeployFailure(t *testing.T) {
	exec := &fakeExecer{}
	store := &fakeStore{installed: true, deployErr: errors.New("permission denied")}
	d := New(exec, store, zerolog.Nop())

	err := d.PrepareDestination(context.Background(), "dest-1")
	assert.Error(t, err)
}

func TestBulkExtract_AggregatesPerDestinationFailures(t *testing.T) {
	exec := &fakeExecer{execErr: errors.New("unzip: not found")}
	store := &fakeStore{}
	d := New(exec, store, zerolog.Nop())

	results, err := d.BulkExtract(context.Background(), map[model.HostID]string{
		"dest-1": "/var/www",
		"dest-2": "/srv/site",
	}, "transfer_1")

	assert.Error(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Error(t, r.Err)
	}
}

func TestBulkExtract_Success(t *testing.T) {
	exec := &fakeExecer{}
	store := &fakeStore{}
	d := New(exec, store, zerolog.Nop())

	results, err := d.BulkExtract(context.Background(), map[model.HostID]string{"dest-1": "/var/www"}, "transfer_1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Contains(t, exec.cmds[0], "unzip -o")
	assert.Contains(t, exec.cmds[0], "rm -f")
}
