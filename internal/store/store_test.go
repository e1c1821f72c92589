package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzague/parcel-relay/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore_HostCRUD(t *testing.T) {
	s := newTestStore(t)

	h := &model.Host{ID: "h1", Name: "origin", Address: "10.0.0.1", Port: 22}
	require.NoError(t, s.PutHost(h))

	got, err := s.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, "origin", got.Name)

	h.Name = "origin-renamed"
	require.NoError(t, s.PutHost(h))
	got, err = s.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, "origin-renamed", got.Name)

	require.NoError(t, s.DeleteHost("h1"))
	_, err = s.GetHost("h1")
	assert.Error(t, err)
}

func TestStore_ListHostsEmpty(t *testing.T) {
	s := newTestStore(t)
	hosts, err := s.ListHosts()
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestStore_JobUpsertAndOrdering(t *testing.T) {
	s := newTestStore(t)

	older := &model.Job{ID: "j1", Name: "first", CreatedAt: time.Unix(1000, 0)}
	newer := &model.Job{ID: "j2", Name: "second", CreatedAt: time.Unix(2000, 0)}
	require.NoError(t, s.PutJob(older))
	require.NoError(t, s.PutJob(newer))

	jobs, err := s.ListJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, model.JobID("j2"), jobs[0].ID, "newest first")

	newer.Status = model.JobCompleted
	require.NoError(t, s.PutJob(newer))

	got, err := s.GetJob("j2")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.Status)

	jobs, err = s.ListJobs()
	require.NoError(t, err)
	assert.Len(t, jobs, 2, "upsert must not duplicate")
}

func TestStore_JobHistoryTrim(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < maxJobHistory+10; i++ {
		j := &model.Job{
			ID:        model.JobID(time.Unix(int64(i), 0).Format(time.RFC3339Nano)),
			CreatedAt: time.Unix(int64(i), 0),
		}
		require.NoError(t, s.PutJob(j))
	}

	jobs, err := s.ListJobs()
	require.NoError(t, err)
	assert.Len(t, jobs, maxJobHistory)
}

func TestStore_Session(t *testing.T) {
	s := newTestStore(t)

	doc, err := s.GetSession()
	require.NoError(t, err)
	assert.Equal(t, SessionDoc{}, doc)

	require.NoError(t, s.PutSession(SessionDoc{LastSourceHostID: "h1", LastStoreFolder: "/backups"}))

	doc, err = s.GetSession()
	require.NoError(t, err)
	assert.Equal(t, model.HostID("h1"), doc.LastSourceHostID)
	assert.Equal(t, "/backups", doc.LastStoreFolder)
}
