// Package sshpool is the Connection Pool (spec.md §4.1): a keyed cache of
// live SSH/SFTP sessions to Host records, generalized from the teacher's
// internal/sshutil/connection.go (a one-shot dial helper) into a pool
// that reuses sessions across calls and evicts on transport failure.
package sshpool

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/gonzague/parcel-relay/internal/constants"
	"github.com/gonzague/parcel-relay/internal/model"
)

// ExecResult is the outcome of a completed remote command.
type ExecResult struct {
	Stdout string
	Stderr string
}

// DirEntry is one listDir result row.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

// ListDirResult is a page of a directory listing.
type ListDirResult struct {
	Items   []DirEntry
	Total   int
	HasMore bool
}

// OnChunk is called once per stdout/stderr chunk for a streaming exec.
type OnChunk func(text string)

// session is one pooled SSH+SFTP pair for a Host.
type session struct {
	mu     sync.Mutex // serializes exec/execStreaming on this session
	ssh    *ssh.Client
	sftp   *sftp.Client
	closed bool
}

// Pool is the Connection Pool. Keyed by model.HostID.
type Pool struct {
	mu       sync.Mutex
	sessions map[model.HostID]*session
	hosts    HostResolver
	log      zerolog.Logger

	dialTimeout time.Duration

	hostKeyMu    sync.Mutex
	hostKeyStore map[string]string
}

// HostResolver resolves a HostID to its connection parameters, with
// secrets already revealed by internal/crypto.
type HostResolver interface {
	ResolveHost(id model.HostID) (*model.Host, string, string, error) // host, password, key material
}

// New constructs an empty Pool. dialTimeout bounds the SSH handshake
// (config.Config's pool_dial_timeout); zero falls back to
// constants.DefaultConnectionTimeout.
func New(hosts HostResolver, log zerolog.Logger, dialTimeout time.Duration) *Pool {
	if dialTimeout <= 0 {
		dialTimeout = constants.DefaultConnectionTimeout
	}
	return &Pool{
		sessions:     make(map[model.HostID]*session),
		hosts:        hosts,
		log:          log,
		dialTimeout:  dialTimeout,
		hostKeyStore: make(map[string]string),
	}
}

// hostKeyCallback performs TOFU host-key consistency checking: the first
// key seen for a host is trusted and stored; later dials to the same
// host must present the same key.
func (p *Pool) hostKeyCallback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		p.hostKeyMu.Lock()
		defer p.hostKeyMu.Unlock()

		keyStr := string(key.Marshal())
		stored, exists := p.hostKeyStore[hostname]
		if !exists {
			p.hostKeyStore[hostname] = keyStr
			p.log.Info().Str("host", hostname).Str("fingerprint", ssh.FingerprintSHA256(key)).Msg("accepting host key")
			return nil
		}
		if subtle.ConstantTimeCompare([]byte(stored), []byte(keyStr)) != 1 {
			return fmt.Errorf("host key mismatch for %s: refusing to connect", hostname)
		}
		return nil
	}
}

func (p *Pool) dial(host *model.Host, password, keyMaterial string) (*session, error) {
	var authMethods []ssh.AuthMethod
	if keyMaterial != "" {
		signer, err := ssh.ParsePrivateKey([]byte(keyMaterial))
		if err != nil {
			return nil, model.NewPipelineError(model.KindConnect, "parse private key", err)
		}
		authMethods = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	} else {
		authMethods = []ssh.AuthMethod{ssh.Password(password)}
	}

	cfg := &ssh.ClientConfig{
		User:            host.Username,
		Auth:            authMethods,
		HostKeyCallback: p.hostKeyCallback(),
		Timeout:         p.dialTimeout,
	}

	addr := fmt.Sprintf("%s:%d", host.Address, host.Port)
	sshClient, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, model.NewPipelineError(model.KindConnect, "dial "+addr, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, model.NewPipelineError(model.KindConnect, "open sftp session", err)
	}

	return &session{ssh: sshClient, sftp: sftpClient}, nil
}

// acquire returns a live session for hostID, reusing one if open and
// healthy, else dialing a new one.
func (p *Pool) acquire(hostID model.HostID) (*session, error) {
	p.mu.Lock()
	sess, ok := p.sessions[hostID]
	if ok && !sess.closed {
		p.mu.Unlock()
		return sess, nil
	}
	p.mu.Unlock()

	host, password, keyMaterial, err := p.hosts.ResolveHost(hostID)
	if err != nil {
		return nil, model.NewPipelineError(model.KindConnect, "resolve host", err)
	}

	newSess, err := p.dial(host, password, keyMaterial)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.sessions[hostID] = newSess
	p.mu.Unlock()

	p.log.Info().Str("host_id", string(hostID)).Msg("connected")
	return newSess, nil
}

// evict closes and drops a session after a transport error.
func (p *Pool) evict(hostID model.HostID, sess *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.sessions[hostID]; ok && cur == sess {
		delete(p.sessions, hostID)
	}
	sess.closed = true
	sess.sftp.Close()
	sess.ssh.Close()
	p.log.Warn().Str("host_id", string(hostID)).Msg("disconnected")
}

// Disconnect closes and removes a host's session, if any.
func (p *Pool) Disconnect(hostID model.HostID) {
	p.mu.Lock()
	sess, ok := p.sessions[hostID]
	delete(p.sessions, hostID)
	p.mu.Unlock()
	if ok {
		sess.closed = true
		sess.sftp.Close()
		sess.ssh.Close()
	}
}

// Exec runs cmd to completion on hostID and returns trimmed output.
func (p *Pool) Exec(ctx context.Context, hostID model.HostID, cmd string) (ExecResult, error) {
	return p.execInternal(ctx, hostID, cmd, nil)
}

// ExecStreaming is identical to Exec but invokes onChunk for every
// stdout/stderr chunk as it arrives.
func (p *Pool) ExecStreaming(ctx context.Context, hostID model.HostID, cmd string, onChunk OnChunk) (ExecResult, error) {
	return p.execInternal(ctx, hostID, cmd, onChunk)
}

func (p *Pool) execInternal(ctx context.Context, hostID model.HostID, cmd string, onChunk OnChunk) (ExecResult, error) {
	sess, err := p.acquire(hostID)
	if err != nil {
		return ExecResult{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sshSess, err := sess.ssh.NewSession()
	if err != nil {
		p.evict(hostID, sess)
		return ExecResult{}, model.NewPipelineError(model.KindConnect, "open ssh session", err)
	}
	defer sshSess.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutPipe, _ := sshSess.StdoutPipe()
	stderrPipe, _ := sshSess.StderrPipe()

	if err := sshSess.Start(cmd); err != nil {
		p.evict(hostID, sess)
		return ExecResult{}, fmt.Errorf("start command: %w", err)
	}

	done := make(chan struct{})
	go streamCopy(stdoutPipe, &stdoutBuf, onChunk, done)
	go streamCopy(stderrPipe, &stderrBuf, onChunk, done)
	<-done
	<-done

	waitErr := sshSess.Wait()

	select {
	case <-ctx.Done():
		return ExecResult{}, ctx.Err()
	default:
	}

	return ExecResult{
		Stdout: strings.TrimSpace(stdoutBuf.String()),
		Stderr: strings.TrimSpace(stderrBuf.String()),
	}, waitErr
}

func streamCopy(r io.Reader, buf *bytes.Buffer, onChunk OnChunk, done chan struct{}) {
	defer func() { done <- struct{}{} }()
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if onChunk != nil {
				onChunk(string(chunk[:n]))
			}
		}
		if err != nil {
			return
		}
	}
}

// PutFile uploads localPath to remotePath over SFTP.
func (p *Pool) PutFile(hostID model.HostID, localPath, remotePath string) error {
	sess, err := p.acquire(hostID)
	if err != nil {
		return err
	}

	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer local.Close()

	remote, err := sess.sftp.Create(remotePath)
	if err != nil {
		p.evict(hostID, sess)
		return fmt.Errorf("create remote file: %w", err)
	}
	defer remote.Close()

	if _, err := io.Copy(remote, local); err != nil {
		p.evict(hostID, sess)
		return fmt.Errorf("copy to remote: %w", err)
	}
	return nil
}

// GetFile downloads remotePath to localPath over SFTP.
func (p *Pool) GetFile(hostID model.HostID, remotePath, localPath string) error {
	sess, err := p.acquire(hostID)
	if err != nil {
		return err
	}

	remote, err := sess.sftp.Open(remotePath)
	if err != nil {
		p.evict(hostID, sess)
		return fmt.Errorf("open remote file: %w", err)
	}
	defer remote.Close()

	local, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer local.Close()

	if _, err := io.Copy(local, remote); err != nil {
		p.evict(hostID, sess)
		return fmt.Errorf("copy from remote: %w", err)
	}
	return nil
}

// ListDir lists dirPath on hostID, hiding dot-entries, directories first
// then case-insensitive by name, paginated.
func (p *Pool) ListDir(hostID model.HostID, dirPath string, limit, offset int) (ListDirResult, error) {
	sess, err := p.acquire(hostID)
	if err != nil {
		return ListDirResult{}, err
	}

	infos, err := sess.sftp.ReadDir(dirPath)
	if err != nil {
		p.evict(hostID, sess)
		return ListDirResult{}, fmt.Errorf("read dir %s: %w", dirPath, err)
	}

	entries := make([]DirEntry, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		entries = append(entries, DirEntry{Name: name, IsDir: fi.IsDir(), Size: fi.Size()})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	total := len(entries)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	return ListDirResult{
		Items:   entries[offset:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

// JoinRemote joins remote path segments with the forward-slash
// convention remote shells expect, regardless of local OS.
func JoinRemote(elem ...string) string {
	return path.Join(elem...)
}
