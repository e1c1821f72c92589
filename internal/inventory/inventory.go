// Package inventory is the FolderInventory: regular-file enumeration
// feeding the Planner (spec.md §4.3, step 1). Grounded on the teacher's
// internal/scanner/scanner.go — the exclusion-pattern matching and
// default exclusion set are carried over verbatim in spirit — but
// trimmed to the Planner's actual contract: a single enumerate-
// everything call over one `find … -printf` invocation, not an incremental
// recursive walker with live progress callbacks.
package inventory

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gonzague/parcel-relay/internal/model"
	"github.com/gonzague/parcel-relay/internal/sshpool"
)

// FileEntry is one regular file under the scanned folder.
type FileEntry struct {
	Path    string // absolute path on the source host
	RelPath string // relative to the scanned root
	Size    int64
}

// ExclusionPattern mirrors the teacher's scanner.ExclusionPattern: a
// glob or exact-match rule applied to both the entry name and its
// relative path.
type ExclusionPattern struct {
	Pattern string
	Exact   bool
	Reason  string
}

// DefaultExclusions are applied to every inventory unless the caller
// disables them.
func DefaultExclusions() []ExclusionPattern {
	return []ExclusionPattern{
		{Pattern: ".git", Exact: true, Reason: "version control"},
		{Pattern: ".svn", Exact: true, Reason: "version control"},
		{Pattern: "node_modules", Exact: true, Reason: "dependencies"},
		{Pattern: "vendor", Exact: true, Reason: "dependencies"},
		{Pattern: "*.log", Exact: false, Reason: "log files"},
		{Pattern: "*.tmp", Exact: false, Reason: "temporary files"},
		{Pattern: ".DS_Store", Exact: true, Reason: "macOS metadata"},
		{Pattern: "Thumbs.db", Exact: true, Reason: "Windows metadata"},
	}
}

func excluded(relPath, name string, patterns []ExclusionPattern) bool {
	for _, p := range patterns {
		if p.Exact {
			if name == p.Pattern || relPath == p.Pattern {
				return true
			}
			continue
		}
		if matched, _ := filepath.Match(p.Pattern, name); matched {
			return true
		}
		if strings.Contains(relPath, "/"+p.Pattern+"/") || strings.HasPrefix(relPath, p.Pattern+"/") {
			return true
		}
	}
	return false
}

// Statistics summarizes a scanned folder.
type Statistics struct {
	TotalFiles int
	TotalSize  int64
	ExcludedN  int
	ExcludedSize int64
}

// Result is a completed inventory pass.
type Result struct {
	Files []FileEntry
	Stats Statistics
}

// execer is the slice of *sshpool.Pool this package needs; narrowed to
// an interface so tests can substitute a fake remote shell.
type execer interface {
	Exec(ctx context.Context, hostID model.HostID, cmd string) (sshpool.ExecResult, error)
}

// Scanner enumerates regular files on a source host via the Connection
// Pool's Exec.
type Scanner struct {
	pool       execer
	exclusions []ExclusionPattern
}

// NewScanner constructs a Scanner with the default exclusion set, plus
// any custom patterns appended (matching the teacher's
// defaults-then-custom ordering).
func NewScanner(pool execer, custom ...ExclusionPattern) *Scanner {
	return &Scanner{
		pool:       pool,
		exclusions: append(DefaultExclusions(), custom...),
	}
}

// Scan enumerates every regular file under rootPath on hostID using a
// single `find ... -printf` command, then applies exclusion filtering
// client-side so the remote command stays simple and portable.
func (s *Scanner) Scan(ctx context.Context, hostID model.HostID, rootPath string) (*Result, error) {
	cmd := fmt.Sprintf(
		`find %s -type f -printf '%%p\t%%s\n' 2>/dev/null`,
		shellQuote(rootPath),
	)

	res, err := s.pool.Exec(ctx, hostID, cmd)
	if err != nil {
		return nil, model.NewPipelineError(model.KindPlan, "enumerate "+rootPath, err)
	}

	result := &Result{}
	root := path.Clean(rootPath)

	for _, line := range strings.Split(res.Stdout, "\n") {
		if line == "" {
			continue
		}
		tab := strings.LastIndex(line, "\t")
		if tab < 0 {
			continue
		}
		fullPath := line[:tab]
		sizeStr := line[tab+1:]
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			continue
		}

		rel := strings.TrimPrefix(fullPath, root+"/")
		name := path.Base(fullPath)

		if excluded(rel, name, s.exclusions) {
			result.Stats.ExcludedN++
			result.Stats.ExcludedSize += size
			continue
		}

		result.Files = append(result.Files, FileEntry{Path: fullPath, RelPath: rel, Size: size})
		result.Stats.TotalFiles++
		result.Stats.TotalSize += size
	}

	if len(result.Files) == 0 {
		return result, model.NewPipelineError(model.KindPlan, "no files found under "+rootPath, nil)
	}

	return result, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
