// Package store is the persistent document store: three JSON files under
// a data directory, each guarded by its own mutex, read-modify-write on
// every call. Grounded on the teacher's rclone.HistoryStore, generalized
// from one flat history file into three namespaces.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gonzague/parcel-relay/internal/model"
)

const maxJobHistory = 200

// Store owns the three on-disk namespaces: servers (Hosts +
// ArchiveStoreConfigs), jobs (Job snapshots, newest first), and session
// (small UI/runtime bookkeeping — the last-used source host, etc).
// There is no global instance: callers construct one Store and pass it
// wherever it's needed.
type Store struct {
	serversFile string
	jobsFile    string
	sessionFile string

	serversMux sync.RWMutex
	jobsMux    sync.RWMutex
	sessionMux sync.RWMutex
}

// serversDoc is the on-disk shape of the servers namespace.
type serversDoc struct {
	Hosts        []*model.Host             `json:"hosts"`
	StoreConfigs []*model.ArchiveStoreConfig `json:"store_configs"`
}

// SessionDoc is the on-disk shape of the session namespace: small,
// non-authoritative runtime preferences, never a substitute for the
// Orchestrator's in-memory ownership of a running Job.
type SessionDoc struct {
	LastSourceHostID model.HostID `json:"last_source_host_id,omitempty"`
	LastStoreFolder  string       `json:"last_store_folder,omitempty"`
}

// New opens (creating if absent) the three namespace files under dataDir.
func New(dataDir string) (*Store, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dataDir = filepath.Join(homeDir, ".config", "parcel-relay")
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	s := &Store{
		serversFile: filepath.Join(dataDir, "servers.json"),
		jobsFile:    filepath.Join(dataDir, "jobs.json"),
		sessionFile: filepath.Join(dataDir, "session.json"),
	}

	if err := ensureFile(s.serversFile, serversDoc{Hosts: []*model.Host{}, StoreConfigs: []*model.ArchiveStoreConfig{}}); err != nil {
		return nil, err
	}
	if err := ensureFile(s.jobsFile, []*model.Job{}); err != nil {
		return nil, err
	}
	if err := ensureFile(s.sessionFile, SessionDoc{}); err != nil {
		return nil, err
	}

	return s, nil
}

func ensureFile(path string, empty interface{}) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		data, err := json.MarshalIndent(empty, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// --- servers namespace ---

func (s *Store) loadServers() (serversDoc, error) {
	var doc serversDoc
	if err := readJSON(s.serversFile, &doc); err != nil {
		return serversDoc{}, err
	}
	return doc, nil
}

// ListHosts returns every known Host.
func (s *Store) ListHosts() ([]*model.Host, error) {
	s.serversMux.RLock()
	defer s.serversMux.RUnlock()

	doc, err := s.loadServers()
	if err != nil {
		return nil, err
	}
	return doc.Hosts, nil
}

// GetHost returns a Host by id.
func (s *Store) GetHost(id model.HostID) (*model.Host, error) {
	s.serversMux.RLock()
	defer s.serversMux.RUnlock()

	doc, err := s.loadServers()
	if err != nil {
		return nil, err
	}
	for _, h := range doc.Hosts {
		if h.ID == id {
			return h, nil
		}
	}
	return nil, fmt.Errorf("host %q: %w", id, os.ErrNotExist)
}

// PutHost inserts or replaces a Host by id.
func (s *Store) PutHost(h *model.Host) error {
	s.serversMux.Lock()
	defer s.serversMux.Unlock()

	doc, err := s.loadServers()
	if err != nil {
		return err
	}

	found := false
	for i, existing := range doc.Hosts {
		if existing.ID == h.ID {
			doc.Hosts[i] = h
			found = true
			break
		}
	}
	if !found {
		doc.Hosts = append(doc.Hosts, h)
	}

	return writeJSON(s.serversFile, doc)
}

// DeleteHost removes a Host by id. No-op if absent.
func (s *Store) DeleteHost(id model.HostID) error {
	s.serversMux.Lock()
	defer s.serversMux.Unlock()

	doc, err := s.loadServers()
	if err != nil {
		return err
	}

	out := doc.Hosts[:0]
	for _, h := range doc.Hosts {
		if h.ID != id {
			out = append(out, h)
		}
	}
	doc.Hosts = out

	return writeJSON(s.serversFile, doc)
}

// ListStoreConfigs returns every known ArchiveStoreConfig.
func (s *Store) ListStoreConfigs() ([]*model.ArchiveStoreConfig, error) {
	s.serversMux.RLock()
	defer s.serversMux.RUnlock()

	doc, err := s.loadServers()
	if err != nil {
		return nil, err
	}
	return doc.StoreConfigs, nil
}

// PutStoreConfig inserts or replaces an ArchiveStoreConfig by id.
func (s *Store) PutStoreConfig(c *model.ArchiveStoreConfig) error {
	s.serversMux.Lock()
	defer s.serversMux.Unlock()

	doc, err := s.loadServers()
	if err != nil {
		return err
	}

	found := false
	for i, existing := range doc.StoreConfigs {
		if existing.ID == c.ID {
			doc.StoreConfigs[i] = c
			found = true
			break
		}
	}
	if !found {
		doc.StoreConfigs = append(doc.StoreConfigs, c)
	}

	return writeJSON(s.serversFile, doc)
}

// --- jobs namespace ---

func (s *Store) loadJobs() ([]*model.Job, error) {
	var jobs []*model.Job
	if err := readJSON(s.jobsFile, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// PutJob upserts a Job snapshot by id, trimming to the most recent
// maxJobHistory entries (newest first) the way the teacher's HistoryStore
// keeps only the last 100.
func (s *Store) PutJob(j *model.Job) error {
	s.jobsMux.Lock()
	defer s.jobsMux.Unlock()

	jobs, err := s.loadJobs()
	if err != nil {
		return err
	}

	found := false
	for i, existing := range jobs {
		if existing.ID == j.ID {
			jobs[i] = j
			found = true
			break
		}
	}
	if !found {
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if len(jobs) > maxJobHistory {
		jobs = jobs[:maxJobHistory]
	}

	return writeJSON(s.jobsFile, jobs)
}

// GetJob returns a Job snapshot by id.
func (s *Store) GetJob(id model.JobID) (*model.Job, error) {
	s.jobsMux.RLock()
	defer s.jobsMux.RUnlock()

	jobs, err := s.loadJobs()
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, fmt.Errorf("job %q: %w", id, os.ErrNotExist)
}

// ListJobs returns every Job snapshot, newest first.
func (s *Store) ListJobs() ([]*model.Job, error) {
	s.jobsMux.RLock()
	defer s.jobsMux.RUnlock()
	return s.loadJobs()
}

// --- session namespace ---

// GetSession returns the current session document.
func (s *Store) GetSession() (SessionDoc, error) {
	s.sessionMux.RLock()
	defer s.sessionMux.RUnlock()

	var doc SessionDoc
	if err := readJSON(s.sessionFile, &doc); err != nil {
		return SessionDoc{}, err
	}
	return doc, nil
}

// PutSession overwrites the session document.
func (s *Store) PutSession(doc SessionDoc) error {
	s.sessionMux.Lock()
	defer s.sessionMux.Unlock()
	return writeJSON(s.sessionFile, doc)
}
