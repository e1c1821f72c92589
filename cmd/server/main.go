// Command server runs the parcel-relay HTTP API: host and archive-store
// configuration CRUD, host probing, and job lifecycle control
// (create/pause/resume/cancel/retry) with an SSE stream of each job's
// event log. Grounded on the teacher's cmd/server/main.go (gorilla/mux
// router, rs/cors middleware, SSE handler shape), rewired onto
// internal/orchestrator instead of a single rclone.Executor.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/gonzague/parcel-relay/internal/config"
	"github.com/gonzague/parcel-relay/internal/crypto"
	"github.com/gonzague/parcel-relay/internal/model"
	"github.com/gonzague/parcel-relay/internal/objectstore"
	"github.com/gonzague/parcel-relay/internal/orchestrator"
	"github.com/gonzague/parcel-relay/internal/probe"
	"github.com/gonzague/parcel-relay/internal/sshpool"
	"github.com/gonzague/parcel-relay/internal/store"
)

// hostResolver adapts internal/store + internal/crypto into
// sshpool.HostResolver, revealing obscured secrets only at dial time.
type hostResolver struct {
	st  *store.Store
	enc crypto.EncryptionAdapter
}

func (r *hostResolver) ResolveHost(id model.HostID) (*model.Host, string, string, error) {
	host, err := r.st.GetHost(id)
	if err != nil {
		return nil, "", "", err
	}
	password, err := r.enc.Reveal(host.Password)
	if err != nil {
		return nil, "", "", fmt.Errorf("reveal password: %w", err)
	}
	keyMaterial := ""
	if host.KeyPath != "" {
		raw, err := os.ReadFile(host.KeyPath)
		if err != nil {
			return nil, "", "", fmt.Errorf("read key file: %w", err)
		}
		keyMaterial = string(raw)
	}
	return host, password, keyMaterial, nil
}

// Server owns the process-wide collaborators and exposes them to the
// router's handler methods.
type Server struct {
	cfg  *config.Config
	st   *store.Store
	enc  crypto.EncryptionAdapter
	pool *sshpool.Pool
	obj  *objectstore.Driver
	orch *orchestrator.Orchestrator
	log  zerolog.Logger
}

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	path := *configPath
	if path == "" {
		path = "parcel-relay.toml"
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}

	enc := crypto.NewAESGCMAdapter()
	resolver := &hostResolver{st: st, enc: enc}
	pool := sshpool.New(resolver, log, cfg.PoolDialTimeout.Duration)
	obj := objectstore.NewDriver(pool, cfg.ObjectStoreTool, cfg.ObjectStoreConfigRelPath, cfg.ObjectStoreLocalConfig, log)
	orch := orchestrator.New(pool, st, obj, log, cfg.PausePollInterval.Duration)

	srv := &Server{cfg: cfg, st: st, enc: enc, pool: pool, obj: obj, orch: orch, log: log}

	router := mux.NewRouter()

	router.HandleFunc("/api/hosts", srv.handleListHosts).Methods("GET")
	router.HandleFunc("/api/hosts", srv.handleCreateHost).Methods("POST")
	router.HandleFunc("/api/hosts/{id}", srv.handleDeleteHost).Methods("DELETE")
	router.HandleFunc("/api/hosts/{id}/probe", srv.handleProbeHost).Methods("POST")
	router.HandleFunc("/api/hosts/{id}/remotes", srv.handleListRemotes).Methods("GET")

	router.HandleFunc("/api/store-configs", srv.handleListStoreConfigs).Methods("GET")
	router.HandleFunc("/api/store-configs", srv.handleCreateStoreConfig).Methods("POST")

	router.HandleFunc("/api/session", srv.handleGetSession).Methods("GET")
	router.HandleFunc("/api/session", srv.handlePutSession).Methods("PUT")

	router.HandleFunc("/api/jobs", srv.handleCreateJob).Methods("POST")
	router.HandleFunc("/api/jobs", srv.handleListJobs).Methods("GET")
	router.HandleFunc("/api/jobs/{id}", srv.handleGetJob).Methods("GET")
	router.HandleFunc("/api/jobs/{id}/pause", srv.handlePauseJob).Methods("POST")
	router.HandleFunc("/api/jobs/{id}/resume", srv.handleResumeJob).Methods("POST")
	router.HandleFunc("/api/jobs/{id}/cancel", srv.handleCancelJob).Methods("POST")
	router.HandleFunc("/api/jobs/{id}/parts/{partId}/retry", srv.handleRetryPart).Methods("POST")
	router.HandleFunc("/api/jobs/{id}/stream", srv.handleStreamJob).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	handler := c.Handler(router)

	log.Info().Str("addr", cfg.ListenAddr).Str("data_dir", cfg.DataDir).Msg("parcel-relay listening")
	if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// --- hosts ---

func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.st.ListHosts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// Never echo secrets back to the client.
	for _, h := range hosts {
		h.Password = ""
		h.Passphrase = ""
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hosts": hosts})
}

func (s *Server) handleCreateHost(w http.ResponseWriter, r *http.Request) {
	var host model.Host
	if err := json.NewDecoder(r.Body).Decode(&host); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if host.ID == "" {
		host.ID = model.HostID(uuid.NewString())
	}

	obscuredPassword, err := s.enc.Obscure(host.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	obscuredPassphrase, err := s.enc.Obscure(host.Passphrase)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	host.Password = obscuredPassword
	host.Passphrase = obscuredPassphrase

	now := time.Now()
	if host.CreatedAt.IsZero() {
		host.CreatedAt = now
	}
	host.UpdatedAt = now

	if err := s.st.PutHost(&host); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	host.Password = ""
	host.Passphrase = ""
	writeJSON(w, http.StatusCreated, host)
}

func (s *Server) handleDeleteHost(w http.ResponseWriter, r *http.Request) {
	id := model.HostID(mux.Vars(r)["id"])
	s.pool.Disconnect(id)
	if err := s.st.DeleteHost(id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleProbeHost(w http.ResponseWriter, r *http.Request) {
	id := model.HostID(mux.Vars(r)["id"])
	var req struct {
		RootPath string `json:"root_path"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.RootPath == "" {
		req.RootPath = "."
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result := probe.Probe(ctx, s.pool, id, req.RootPath)
	writeJSON(w, http.StatusOK, result)
}

// handleListRemotes lists the object-store remotes configured on a
// host, so the create-job UI can populate a remote-name picker instead
// of asking the operator to type it from memory (spec.md §4.2).
func (s *Server) handleListRemotes(w http.ResponseWriter, r *http.Request) {
	id := model.HostID(mux.Vars(r)["id"])

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	remotes, err := s.obj.ListRemotes(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"remotes": remotes})
}

// --- archive store configs ---

func (s *Server) handleListStoreConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.st.ListStoreConfigs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"store_configs": configs})
}

func (s *Server) handleCreateStoreConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.ArchiveStoreConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if err := s.st.PutStoreConfig(&cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// --- session (one shared document holding the last-used source host and
// store folder; it is not keyed per UI tab) ---

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	doc, err := s.st.GetSession()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePutSession(w http.ResponseWriter, r *http.Request) {
	var doc store.SessionDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.st.PutSession(doc); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// --- jobs ---

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var job model.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if job.ID == "" {
		job.ID = model.JobID(uuid.NewString())
	}
	if job.PartSizeCeilMB == 0 {
		job.PartSizeCeilMB = s.cfg.DefaultPartSizeCeilMB
	}
	job.CreatedAt = time.Now()
	job.Status = model.JobIdle

	if err := job.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := s.orch.Start(&job); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": job.ID, "status": job.Status})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.st.ListJobs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := model.JobID(mux.Vars(r)["id"])
	job, err := s.st.GetJob(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	id := model.JobID(mux.Vars(r)["id"])
	if err := s.orch.Pause(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	id := model.JobID(mux.Vars(r)["id"])
	if err := s.orch.Resume(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := model.JobID(mux.Vars(r)["id"])
	if err := s.orch.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRetryPart(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := model.JobID(vars["id"])
	partID := model.PartID(vars["partId"])
	if err := s.orch.Retry(r.Context(), id, partID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleStreamJob streams a running (or just-finished) job's typed
// event log over SSE. A client reconnecting after the job has already
// completed still receives the replayed history (the most recent 100
// events), since eventbus.Bus.Subscribe replays even on a closed bus.
func (s *Server) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	id := model.JobID(mux.Vars(r)["id"])

	bus, ok := s.orch.Bus(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("job %s has no event stream", id))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := bus.Subscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				fmt.Fprint(w, "event: close\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
