package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gonzague/parcel-relay/internal/model"
	"github.com/gonzague/parcel-relay/internal/sshpool"
)

type fakePooler struct {
	execErr error
	listErr error
}

func (f *fakePooler) Exec(ctx context.Context, hostID model.HostID, cmd string) (sshpool.ExecResult, error) {
	if f.execErr != nil {
		return sshpool.ExecResult{}, f.execErr
	}
	return sshpool.ExecResult{Stdout: "probe-ok"}, nil
}

func (f *fakePooler) ListDir(hostID model.HostID, dirPath string, limit, offset int) (sshpool.ListDirResult, error) {
	if f.listErr != nil {
		return sshpool.ListDirResult{}, f.listErr
	}
	return sshpool.ListDirResult{Items: nil, Total: 0}, nil
}

func TestProbe_Success(t *testing.T) {
	p := &fakePooler{}
	result := Probe(context.Background(), p, "host-1", "/srv/www")

	assert.True(t, result.Success)
	assert.True(t, result.Capabilities.ShellAvailable)
	assert.True(t, result.Capabilities.CanList)
	assert.True(t, result.Capabilities.CanWrite)
	assert.Contains(t, result.Badges, "Shell Available")
}

func TestProbe_ConnectFails(t *testing.T) {
	p := &fakePooler{execErr: errors.New("dial refused")}
	result := Probe(context.Background(), p, "host-1", "/srv/www")

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "dial refused")
	assert.False(t, result.Capabilities.CanList)
}

func TestProbe_ListFailsButShellWorks(t *testing.T) {
	p := &fakePooler{listErr: errors.New("permission denied")}
	result := Probe(context.Background(), p, "host-1", "/srv/www")

	assert.True(t, result.Success)
	assert.False(t, result.Capabilities.CanList)
}
