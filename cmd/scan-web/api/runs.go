package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opengda/scanning-go/internal/scanrun"
	"github.com/opengda/scanning-go/pkg/config"
	"github.com/opengda/scanning-go/pkg/device"
	"github.com/opengda/scanning-go/pkg/persistence"
)

const controlTimeout = 30 * time.Second

// RunsAPI starts scans and records their history.
type RunsAPI struct {
	store  *Store
	scans  *ScansAPI
	logger *slog.Logger

	// Runs outlive the request that started them.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	active  map[string]*activeRun
	streams map[string][]chan RunEvent
}

// activeRun tracks an in-progress run. runner is nil until the scan has
// been configured.
type activeRun struct {
	cancel context.CancelFunc
	runner *scanrun.Runner
}

// NewRunsAPI creates a runs API handler.
func NewRunsAPI(store *Store, scans *ScansAPI, logger *slog.Logger) *RunsAPI {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &RunsAPI{
		store:   store,
		scans:   scans,
		logger:  logger,
		base:    base,
		cancel:  cancel,
		active:  make(map[string]*activeRun),
		streams: make(map[string][]chan RunEvent),
	}
}

// Close aborts every active run and waits for them to finish.
func (r *RunsAPI) Close() {
	r.cancel()
	r.wg.Wait()
}

// Wait blocks until every run started so far has finished.
func (r *RunsAPI) Wait() {
	r.wg.Wait()
}

// HandleRuns handles GET and POST /api/v1/runs.
func (r *RunsAPI) HandleRuns(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.handleListRuns(w, req)
	case http.MethodPost:
		r.handleCreateRun(w, req)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleRunByID handles the /api/v1/runs/:id routes:
//
//	GET    /api/v1/runs/:id
//	DELETE /api/v1/runs/:id
//	GET    /api/v1/runs/:id/stream
//	POST   /api/v1/runs/:id/{pause,resume,seek,abort}
func (r *RunsAPI) HandleRunByID(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/api/v1/runs/")
	id, action, _ := strings.Cut(path, "/")

	switch {
	case action == "" && req.Method == http.MethodGet:
		r.handleGetRun(w, id)
	case action == "" && req.Method == http.MethodDelete:
		r.handleDeleteRun(w, id)
	case action == "stream" && req.Method == http.MethodGet:
		r.handleStream(w, req, id)
	case action != "" && req.Method == http.MethodPost:
		r.handleControl(w, req, id, action)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (r *RunsAPI) handleListRuns(w http.ResponseWriter, req *http.Request) {
	runs, err := r.store.ListRuns(req.URL.Query().Get("scan"), 100, 0)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to list runs", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, RunListResponse{Runs: runs, Total: len(runs)})
}

func (r *RunsAPI) handleCreateRun(w http.ResponseWriter, req *http.Request) {
	var runReq RunRequest
	if err := json.NewDecoder(req.Body).Decode(&runReq); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if runReq.Scan == "" {
		writeJSONError(w, http.StatusBadRequest, "Scan is required", "")
		return
	}

	file, err := r.scans.Load(runReq.Scan)
	switch {
	case errors.Is(err, ErrScanNotFound):
		writeJSONError(w, http.StatusNotFound, "Scan not found", runReq.Scan)
		return
	case err != nil:
		writeJSONError(w, http.StatusBadRequest, "Invalid scan file", err.Error())
		return
	}

	start := runReq.Start
	if runReq.Resume {
		if start, err = resumePoint(file); err != nil {
			writeJSONError(w, http.StatusConflict, "Cannot resume", err.Error())
			return
		}
	}

	now := time.Now()
	run := &Run{
		ID:        uuid.NewString(),
		Scan:      runReq.Scan,
		Name:      file.Name,
		Status:    RunStatusPending,
		StartStep: start,
		StartedAt: &now,
	}
	if err := r.store.CreateRun(run); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to create run", err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.base)
	r.mu.Lock()
	r.active[run.ID] = &activeRun{cancel: cancel}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.executeRun(ctx, run, file)

	run.Status = RunStatusRunning
	writeJSONResponse(w, http.StatusAccepted, run)
}

// resumePoint returns the step the scan's checkpoint stopped at.
func resumePoint(file *config.File) (int, error) {
	if file.Checkpoint == "" {
		return 0, errors.New("the scan file has no checkpoint")
	}
	cp, err := persistence.NewCheckpointStore(file.Checkpoint).Load()
	if err != nil {
		return 0, err
	}
	if !cp.Resumable() {
		return 0, errors.New("no interrupted run to resume")
	}
	if cp.Scan != file.Name {
		return 0, fmt.Errorf("checkpoint belongs to scan %q", cp.Scan)
	}
	return cp.CompletedSteps, nil
}

// executeRun configures and runs the scan, recording its events.
func (r *RunsAPI) executeRun(ctx context.Context, run *Run, file *config.File) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		if a, ok := r.active[run.ID]; ok {
			a.cancel()
			delete(r.active, run.ID)
		}
		for _, ch := range r.streams[run.ID] {
			close(ch)
		}
		delete(r.streams, run.ID)
		r.mu.Unlock()
	}()

	logger := r.logger.With("run", run.ID, "scan", file.Name)
	if err := r.store.UpdateRunStatus(run.ID, RunStatusRunning); err != nil {
		logger.Warn("recording run status failed", "error", err)
	}

	sr, err := scanrun.New(ctx, file, nil, logger)
	if err != nil {
		logger.Error("scan setup failed", "error", err)
		r.complete(run.ID, RunStatusFailed, "", run.StartStep, err, logger)
		return
	}
	defer sr.Close()

	r.mu.Lock()
	if a, ok := r.active[run.ID]; ok {
		a.runner = sr
	}
	r.mu.Unlock()

	if err := r.store.SetTotalSteps(run.ID, sr.TotalSteps()); err != nil {
		logger.Warn("recording scan size failed", "error", err)
	}

	var checkpoints *persistence.CheckpointStore
	if file.Checkpoint != "" {
		checkpoints = persistence.NewCheckpointStore(file.Checkpoint)
	}
	sr.Track(func(t persistence.Tracked) {
		t.AddStateListener(func(ev device.StateEvent) {
			re := RunEvent{Kind: EventState, State: ev.New.Label(), Time: ev.Time}
			if ev.Err != nil {
				re.Error = ev.Err.Error()
			}
			r.record(run.ID, re, logger)
		})
		t.AddProgressListener(func(ev device.ProgressEvent) {
			re := RunEvent{Kind: EventProgress, Completed: ev.Completed, Time: time.Now()}
			if ev.Position != nil {
				re.Position = ev.Position.Values()
			}
			r.record(run.ID, re, logger)
		})
		if checkpoints != nil {
			checkpoints.Track(t, persistence.Checkpoint{Scan: file.Name, RunID: run.ID, TotalSteps: sr.TotalSteps()}, logger)
		}
	})

	logger.Info("scan starting", "from", run.StartStep)
	err = sr.Run(ctx, run.StartStep)

	status := RunStatusCompleted
	switch {
	case errors.Is(err, device.ErrAborted):
		status = RunStatusAborted
	case err != nil:
		status = RunStatusFailed
	case checkpoints != nil:
		if err := checkpoints.Clear(); err != nil {
			logger.Warn("clearing checkpoint failed", "error", err)
		}
	}
	r.complete(run.ID, status, sr.State().Label(), sr.CompletedSteps(), err, logger)
}

func (r *RunsAPI) complete(id, status, state string, completed int, runErr error, logger *slog.Logger) {
	var msg string
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := r.store.CompleteRun(id, status, state, completed, msg); err != nil {
		logger.Error("recording run result failed", "error", err)
	}
	logger.Info("scan finished", "status", status, "completed", completed)
}

// record stores ev and passes it to the run's streams.
func (r *RunsAPI) record(id string, ev RunEvent, logger *slog.Logger) {
	if err := r.store.AddEvent(id, ev); err != nil {
		logger.Warn("recording run event failed", "kind", ev.Kind, "error", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.streams[id] {
		select {
		case ch <- ev:
		default:
			// Slow reader; it still gets the final state from the store.
		}
	}
}

func (r *RunsAPI) handleGetRun(w http.ResponseWriter, id string) {
	run, err := r.store.GetRun(id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to get run", err.Error())
		return
	}
	if run == nil {
		writeJSONError(w, http.StatusNotFound, "Run not found", id)
		return
	}

	events, err := r.store.GetRunEvents(id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to get run events", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, RunDetailResponse{Run: *run, Events: events})
}

func (r *RunsAPI) handleDeleteRun(w http.ResponseWriter, id string) {
	r.mu.RLock()
	_, running := r.active[id]
	r.mu.RUnlock()
	if running {
		writeJSONError(w, http.StatusConflict, "Run is still active", id)
		return
	}

	if err := r.store.DeleteRun(id); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to delete run", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleControl steers an active run.
func (r *RunsAPI) handleControl(w http.ResponseWriter, req *http.Request, id, action string) {
	r.mu.RLock()
	a, ok := r.active[id]
	var sr *scanrun.Runner
	if ok {
		sr = a.runner
	}
	r.mu.RUnlock()

	if !ok {
		writeJSONError(w, http.StatusConflict, "Run is not active", id)
		return
	}
	if sr == nil {
		writeJSONError(w, http.StatusConflict, "Run is still starting", id)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), controlTimeout)
	defer cancel()

	var err error
	switch action {
	case "pause":
		err = sr.Pause(ctx)
	case "resume":
		err = sr.Resume(ctx)
	case "abort":
		err = sr.Abort(ctx)
	case "seek":
		var seek SeekRequest
		if err := json.NewDecoder(req.Body).Decode(&seek); err != nil {
			writeJSONError(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
		err = sr.Seek(ctx, seek.Step)
	default:
		writeJSONError(w, http.StatusNotFound, "Unknown action", action)
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusConflict, fmt.Sprintf("Failed to %s run", action), err.Error())
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"state":           sr.State().Label(),
		"completed_steps": sr.CompletedSteps(),
	})
}

// handleStream handles GET /api/v1/runs/:id/stream (Server-Sent Events).
func (r *RunsAPI) handleStream(w http.ResponseWriter, req *http.Request, id string) {
	run, err := r.store.GetRun(id)
	if err != nil || run == nil {
		writeJSONError(w, http.StatusNotFound, "Run not found", id)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before replaying so that no event falls in between.
	ch := make(chan RunEvent, 100)
	r.mu.Lock()
	_, live := r.active[id]
	if live {
		r.streams[id] = append(r.streams[id], ch)
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		streams := r.streams[id]
		for i, c := range streams {
			if c == ch {
				r.streams[id] = append(streams[:i], streams[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	existing, _ := r.store.GetRunEvents(id)
	for _, ev := range existing {
		writeEvent(w, "event", ev)
	}
	flusher.Flush()

	if !live {
		writeDone(w, r.store, id)
		flusher.Flush()
		return
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				writeDone(w, r.store, id)
				flusher.Flush()
				return
			}
			writeEvent(w, "event", ev)
			flusher.Flush()

		case <-req.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, data any) {
	payload, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
}

// writeDone ends a stream with the run's final record.
func writeDone(w http.ResponseWriter, store *Store, id string) {
	run, err := store.GetRun(id)
	if err != nil || run == nil {
		fmt.Fprintf(w, "event: done\ndata: {}\n\n")
		return
	}
	writeEvent(w, "done", run)
}
