package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opengda/scanning-go/pkg/config"
	"github.com/opengda/scanning-go/pkg/persistence"
)

// ErrScanNotFound is returned for an id with no scan file behind it.
var ErrScanNotFound = errors.New("scan not found")

// ScansAPI lists the scan files in a directory.
type ScansAPI struct {
	dir    string
	logger *slog.Logger
}

// NewScansAPI creates a scans API handler for the files in dir.
func NewScansAPI(dir string, logger *slog.Logger) *ScansAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScansAPI{dir: dir, logger: logger}
}

func isScanFile(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".yaml" && ext != ".yml" {
		return "", false
	}
	return strings.TrimSuffix(name, filepath.Ext(name)), true
}

// Path returns the scan file for id.
func (s *ScansAPI) Path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %q", ErrScanNotFound, id)
	}
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(s.dir, id+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrScanNotFound, id)
}

// Load parses the scan file for id.
func (s *ScansAPI) Load(id string) (*config.File, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// List describes every scan file. Files that fail to load are listed with
// their error.
func (s *ScansAPI) List() ([]ScanSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var scans []ScanSummary
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := isScanFile(entry.Name())
		if !ok {
			continue
		}
		scans = append(scans, s.summarize(id, entry.Name()))
	}

	sort.Slice(scans, func(i, j int) bool {
		return scans[i].ID < scans[j].ID
	})
	return scans, nil
}

// Count returns the number of scan files.
func (s *ScansAPI) Count() (int, error) {
	scans, err := s.List()
	return len(scans), err
}

func (s *ScansAPI) summarize(id, fileName string) ScanSummary {
	sum := ScanSummary{ID: id, FileName: fileName}

	file, err := config.Load(filepath.Join(s.dir, fileName))
	if err != nil {
		sum.Error = err.Error()
		return sum
	}
	sum.Name = file.Name
	for _, d := range file.Devices {
		sum.Devices = append(sum.Devices, d.Name)
	}
	if file.Remote != nil {
		sum.Remote = file.Remote.Transport + "://" + file.Remote.Address
	}

	gen, err := file.Generator(s.logger)
	if err == nil {
		sum.Axes = gen.Axes()
		if sum.Shape, err = gen.Shape(); err == nil {
			sum.Size, err = gen.Size()
		}
	}
	if err != nil {
		sum.Error = err.Error()
	}

	if file.Checkpoint != "" {
		cp, err := persistence.NewCheckpointStore(file.Checkpoint).Load()
		if err != nil {
			s.logger.Warn("unreadable checkpoint", "scan", id, "error", err)
		}
		sum.Resumable = cp.Resumable() && cp.Scan == file.Name
	}
	return sum
}

// HandleList handles GET /api/v1/scans.
func (s *ScansAPI) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scans, err := s.List()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to list scans", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, ScanListResponse{Scans: scans, Total: len(scans)})
}

// HandleGet handles GET /api/v1/scans/:id and GET /api/v1/scans/:id/yaml.
func (s *ScansAPI) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/scans/")
	raw := strings.HasSuffix(id, "/yaml")
	id = strings.TrimSuffix(id, "/yaml")

	path, err := s.Path(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Scan not found", id)
		return
	}

	if raw {
		data, err := os.ReadFile(path)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "Failed to read scan", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(data)
		return
	}

	writeJSONResponse(w, http.StatusOK, s.summarize(id, filepath.Base(path)))
}

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message, details string) {
	writeJSONResponse(w, status, ErrorResponse{Error: message, Details: details})
}
