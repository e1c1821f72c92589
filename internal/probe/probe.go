// Package probe is the optional HostProbe diagnostic (SPEC_FULL.md §3):
// a connectivity and capability check run before a Job starts, never
// required to start one. Grounded on the teacher's internal/probe/sftp.go
// (latency/throughput measurement, capability badges), trimmed to
// SFTP-only (the teacher's FTP branch has no home here — this system's
// Host model is SSH/SFTP-only) and rewired onto internal/sshpool instead
// of dialing its own SSH client, since the pool already owns connection
// lifecycle.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/gonzague/parcel-relay/internal/model"
	"github.com/gonzague/parcel-relay/internal/sshpool"
)

// Capabilities records what a probed host supports.
type Capabilities struct {
	ShellAvailable bool
	CanList        bool
	CanWrite       bool
}

// Performance records the round-trip latency in milliseconds and a small
// write throughput sample in MiB/s. Only the write is timed;
// DownloadMBps is set to the same figure as UploadMBps.
type Performance struct {
	LatencyMs    float64
	UploadMBps   float64
	DownloadMBps float64
}

// Result is one HostProbe outcome.
type Result struct {
	Success      bool
	ErrorMessage string
	Capabilities Capabilities
	Performance  Performance
	Badges       []string
}

// pooler is the slice of *sshpool.Pool this package needs.
type pooler interface {
	Exec(ctx context.Context, hostID model.HostID, cmd string) (sshpool.ExecResult, error)
	ListDir(hostID model.HostID, dirPath string, limit, offset int) (sshpool.ListDirResult, error)
}

// Probe runs a HostProbe against hostID, whose root folder is rootPath.
func Probe(ctx context.Context, pool pooler, hostID model.HostID, rootPath string) *Result {
	result := &Result{}

	latencyStart := time.Now()
	if _, err := pool.Exec(ctx, hostID, "echo probe-ok"); err != nil {
		result.Success = false
		result.ErrorMessage = fmt.Sprintf("connect failed: %v", err)
		return result
	}
	result.Performance.LatencyMs = float64(time.Since(latencyStart).Milliseconds())
	result.Success = true
	result.Capabilities.ShellAvailable = true
	result.Badges = append(result.Badges, "Shell Available")

	if _, err := pool.ListDir(hostID, rootPath, 1, 0); err == nil {
		result.Capabilities.CanList = true
		result.Badges = append(result.Badges, "Read OK")
	}

	probeFile := sshpool.JoinRemote(rootPath, fmt.Sprintf(".parcel-relay-probe-%d", time.Now().UnixNano()))
	writeCmd := fmt.Sprintf("dd if=/dev/zero of=%s bs=1024 count=100 2>/dev/null && rm -f %s", shellQuote(probeFile), shellQuote(probeFile))

	writeStart := time.Now()
	if _, err := pool.Exec(ctx, hostID, writeCmd); err == nil {
		elapsed := time.Since(writeStart).Seconds()
		if elapsed > 0 {
			result.Performance.UploadMBps = (100.0 / 1024.0) / elapsed
			result.Performance.DownloadMBps = result.Performance.UploadMBps
		}
		result.Capabilities.CanWrite = true
		result.Badges = append(result.Badges, "Write OK")
	}

	return result
}

func shellQuote(s string) string {
	return "'" + s + "'"
}
