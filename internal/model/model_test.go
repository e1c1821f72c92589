package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJob_Validate(t *testing.T) {
	base := func() *Job {
		return &Job{
			SourceHostID: "src-1",
			SourceFolder: "/srv/www",
			Destinations: []Destination{{HostID: "dest-1"}},
		}
	}

	t.Run("valid job passes", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("no destinations", func(t *testing.T) {
		j := base()
		j.Destinations = nil
		assert.ErrorIs(t, j.Validate(), ErrNoDestinations)
	})

	t.Run("empty source folder", func(t *testing.T) {
		j := base()
		j.SourceFolder = ""
		assert.ErrorIs(t, j.Validate(), ErrEmptySourceFolder)
	})

	t.Run("destination duplicates source host", func(t *testing.T) {
		j := base()
		j.Destinations = []Destination{{HostID: "src-1"}}
		assert.ErrorIs(t, j.Validate(), ErrDuplicateDestination)
	})

	t.Run("two destinations share a host", func(t *testing.T) {
		j := base()
		j.Destinations = []Destination{{HostID: "dest-1"}, {HostID: "dest-1"}}
		assert.ErrorIs(t, j.Validate(), ErrDuplicateDestination)
	})
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.False(t, JobPaused.Terminal())
	assert.False(t, JobCancelling.Terminal())
	assert.False(t, JobIdle.Terminal())
}

func TestDestinationProgress_SetPercent(t *testing.T) {
	d := &DestinationProgress{}

	d.SetPercent(40)
	assert.Equal(t, 40, d.Percent)

	// Non-decreasing: a lower value is ignored.
	d.SetPercent(10)
	assert.Equal(t, 40, d.Percent)

	d.SetPercent(150)
	assert.Equal(t, 100, d.Percent)
}

func TestDestinationProgress_ResetAndFail(t *testing.T) {
	d := &DestinationProgress{Status: DestCompleted, Percent: 100}

	d.Fail("boom")
	assert.Equal(t, DestFailed, d.Status)
	assert.Equal(t, "boom", d.Error)

	d.Reset()
	assert.Equal(t, DestPending, d.Status)
	assert.Equal(t, 0, d.Percent)
	assert.Empty(t, d.Error)
}

func TestPart_Finalize(t *testing.T) {
	t.Run("no-op while a destination is still in flight", func(t *testing.T) {
		p := &Part{Status: PartDistributing, Destinations: []*DestinationProgress{
			{HostID: "a", Status: DestCompleted},
			{HostID: "b", Status: DestDownloading},
		}}
		p.Finalize()
		assert.Equal(t, PartDistributing, p.Status)
	})

	t.Run("completed when at least one destination succeeds", func(t *testing.T) {
		p := &Part{Status: PartDistributing, Destinations: []*DestinationProgress{
			{HostID: "a", Status: DestCompleted},
			{HostID: "b", Status: DestFailed},
		}}
		p.Finalize()
		assert.Equal(t, PartCompleted, p.Status)
	})

	t.Run("failed only when every destination fails", func(t *testing.T) {
		p := &Part{Status: PartDistributing, Destinations: []*DestinationProgress{
			{HostID: "a", Status: DestFailed},
			{HostID: "b", Status: DestFailed},
		}}
		p.Finalize()
		assert.Equal(t, PartFailed, p.Status)
	})
}

func TestSourceSideFatal(t *testing.T) {
	assert.True(t, SourceSideFatal(KindPlan))
	assert.True(t, SourceSideFatal(KindPackage))
	assert.True(t, SourceSideFatal(KindUpload))
	assert.True(t, SourceSideFatal(KindConnect))
	assert.False(t, SourceSideFatal(KindExtract))
	assert.False(t, SourceSideFatal(KindDownload))
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := assert.AnError
	err := NewPipelineError(KindUpload, "uploading part", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "UploadError")
	assert.Contains(t, err.Error(), "uploading part")
}
