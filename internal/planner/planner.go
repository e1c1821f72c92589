// Package planner implements the first-fit batching algorithm from
// spec.md §4.3: given a folder inventory and a size ceiling, produce an
// ordered list of batches, none exceeding the ceiling except a single
// oversized file which always forms a batch of one. This algorithm has
// no analog in the teacher repo — it is new code, justified directly by
// the spec's own rationale (O(n), preserves directory locality).
package planner

import "github.com/gonzague/parcel-relay/internal/inventory"

// Batch is one pre-archive grouping of files.
type Batch struct {
	Files []inventory.FileEntry
	Size  int64
}

// Plan first-fit packs files (in the order given — enumeration order
// from the inventory scan) into batches no larger than ceilingBytes,
// except that any single file larger than ceilingBytes forms its own
// batch.
func Plan(files []inventory.FileEntry, ceilingBytes int64) []Batch {
	var batches []Batch
	var current Batch

	flush := func() {
		if len(current.Files) > 0 {
			batches = append(batches, current)
			current = Batch{}
		}
	}

	for _, f := range files {
		if f.Size > ceilingBytes {
			flush()
			batches = append(batches, Batch{Files: []inventory.FileEntry{f}, Size: f.Size})
			continue
		}
		if current.Size+f.Size > ceilingBytes && len(current.Files) > 0 {
			flush()
		}
		current.Files = append(current.Files, f)
		current.Size += f.Size
	}
	flush()

	return batches
}

// NeedsSplit reports whether a plan requires more than one archive part
// (spec.md §4.3: needsSplit is false iff total size <= ceilingBytes).
// A lone file larger than the ceiling still forms exactly one batch,
// but its size alone exceeds the ceiling, so needsSplit must be true
// for it too (spec.md §8's oversized-file boundary case) — batch count
// by itself misses that case.
func NeedsSplit(batches []Batch, ceilingBytes int64) bool {
	if len(batches) > 1 {
		return true
	}
	if len(batches) == 1 && batches[0].Size > ceilingBytes {
		return true
	}
	return false
}
