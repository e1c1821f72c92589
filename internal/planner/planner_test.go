package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gonzague/parcel-relay/internal/inventory"
)

func entry(relPath string, size int64) inventory.FileEntry {
	return inventory.FileEntry{Path: "/src/" + relPath, RelPath: relPath, Size: size}
}

func TestPlan_SingleBatchWhenUnderCeiling(t *testing.T) {
	files := []inventory.FileEntry{entry("a", 3), entry("b", 4), entry("c", 3)}
	batches := Plan(files, 1024)

	assert.Len(t, batches, 1)
	assert.False(t, NeedsSplit(batches, 1024))
	assert.Equal(t, int64(10), batches[0].Size)
}

func TestPlan_SplitsOnCeiling(t *testing.T) {
	files := []inventory.FileEntry{entry("a", 600), entry("b", 500), entry("c", 100)}
	batches := Plan(files, 1024)

	assert.True(t, NeedsSplit(batches, 1024))
	// a(600) alone would overflow with b(500); flush before b.
	assert.Len(t, batches, 2)
	assert.Equal(t, int64(600), batches[0].Size)
	assert.Equal(t, int64(600), batches[1].Size) // b(500)+c(100)
}

func TestPlan_OversizedFileFormsOwnBatch_PreservesOrder(t *testing.T) {
	// a=800 MiB, b=2 GiB (oversized), c=100 MiB; limit 1024 MiB.
	const mib = int64(1) << 20
	const ceiling = 1024 * mib
	files := []inventory.FileEntry{
		entry("a", 800*mib),
		entry("b", 2048*mib),
		entry("c", 100*mib),
	}

	batches := Plan(files, ceiling)

	// Order must be preserved: [a], [b], [c] — NOT [a,c], [b].
	if assert.Len(t, batches, 3) {
		assert.Equal(t, []string{"a"}, relPaths(batches[0]))
		assert.Equal(t, []string{"b"}, relPaths(batches[1]))
		assert.Equal(t, []string{"c"}, relPaths(batches[2]))
	}
}

func TestPlan_ExactCeilingStaysSingleBatch(t *testing.T) {
	files := []inventory.FileEntry{entry("a", 512), entry("b", 512)}
	batches := Plan(files, 1024)

	assert.Len(t, batches, 1)
	assert.False(t, NeedsSplit(batches, 1024))
}

func TestNeedsSplit_LoneOversizedFileIsTrue(t *testing.T) {
	// A single file bigger than the ceiling forms exactly one batch, but
	// spec.md's boundary case still requires needsSplit=true for it.
	files := []inventory.FileEntry{entry("huge", 2048)}
	batches := Plan(files, 1024)

	assert.Len(t, batches, 1)
	assert.True(t, NeedsSplit(batches, 1024))
}

func TestPlan_NeverExceedsCeilingExceptSingleFile(t *testing.T) {
	files := []inventory.FileEntry{
		entry("a", 300), entry("b", 300), entry("c", 300), entry("d", 300), entry("e", 5000),
	}
	batches := Plan(files, 1000)

	for _, b := range batches {
		if len(b.Files) == 1 {
			continue // oversized single-file exception
		}
		assert.LessOrEqual(t, b.Size, int64(1000))
	}
}

func relPaths(b Batch) []string {
	out := make([]string, len(b.Files))
	for i, f := range b.Files {
		out[i] = f.RelPath
	}
	return out
}
