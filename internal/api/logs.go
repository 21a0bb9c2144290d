package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pyde1-core/internal/apierror"
)

// logEntry describes one rotated log file (spec §6 "List and fetch rotated
// logs").
type logEntry struct {
	ID   string `json:"id"`
	Size int64  `json:"size"`
}

// handleListLogs serves GET /logs.
func (s *Server) handleListLogs(w http.ResponseWriter, _ *http.Request) {
	if s.logDir == "" {
		writeJSON(w, http.StatusOK, []logEntry{})
		return
	}

	entries, err := os.ReadDir(s.logDir)
	if err != nil {
		writeAPIError(w, apierror.Wrap(apierror.KindFatal, "failed to list log directory", err))
		return
	}

	logs := make([]logEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		logs = append(logs, logEntry{ID: e.Name(), Size: info.Size()})
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleGetLog serves GET /log/{id}, streaming one rotated log file's
// content. id is matched against the base name only; path separators are
// rejected to prevent escaping the log directory.
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || id != filepath.Base(id) {
		writeBadRequest(w, "invalid log id")
		return
	}
	if s.logDir == "" {
		writeNotFound(w, "log not found")
		return
	}

	path := filepath.Join(s.logDir, id)
	f, err := os.Open(path)
	if err != nil {
		writeNotFound(w, "log not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeContent(w, r, id, time.Time{}, f)
}
