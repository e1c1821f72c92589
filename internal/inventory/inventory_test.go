package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzague/parcel-relay/internal/model"
	"github.com/gonzague/parcel-relay/internal/sshpool"
)

type fakeExecer struct {
	stdout string
	err    error
}

func (f *fakeExecer) Exec(ctx context.Context, hostID model.HostID, cmd string) (sshpool.ExecResult, error) {
	return sshpool.ExecResult{Stdout: f.stdout}, f.err
}

func TestScanner_Scan(t *testing.T) {
	fake := &fakeExecer{stdout: "" +
		"/src/a.txt\t100\n" +
		"/src/sub/b.txt\t200\n" +
		"/src/.git/HEAD\t10\n" +
		"/src/app.log\t5\n",
	}
	s := NewScanner(fake)

	result, err := s.Scan(context.Background(), "host-1", "/src")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stats.TotalFiles)
	assert.Equal(t, int64(300), result.Stats.TotalSize)
	assert.Equal(t, 2, result.Stats.ExcludedN)

	var rels []string
	for _, f := range result.Files {
		rels = append(rels, f.RelPath)
	}
	assert.ElementsMatch(t, []string{"a.txt", "sub/b.txt"}, rels)
}

func TestScanner_Scan_Empty(t *testing.T) {
	fake := &fakeExecer{stdout: ""}
	s := NewScanner(fake)

	_, err := s.Scan(context.Background(), "host-1", "/empty")
	assert.Error(t, err)

	var pe *model.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.KindPlan, pe.Kind)
}

func TestExcluded(t *testing.T) {
	patterns := DefaultExclusions()
	assert.True(t, excluded(".git", ".git", patterns))
	assert.True(t, excluded("a/b/app.log", "app.log", patterns))
	assert.False(t, excluded("a/b.txt", "b.txt", patterns))
}
