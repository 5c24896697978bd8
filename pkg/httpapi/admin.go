package httpapi

import "net/http"

type backendStatus struct {
	Scheme string `json:"scheme"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// storageStatus probes every registered storage backend (SPEC_FULL.md §C
// admin storage-status probe) and reports per-backend reachability.
func (s *Server) storageStatus(w http.ResponseWriter, r *http.Request) {
	backends := s.storage.All()
	statuses := make([]backendStatus, 0, len(backends))
	for scheme, backend := range backends {
		st := backendStatus{Scheme: scheme, OK: true}
		if err := backend.Probe(r.Context()); err != nil {
			st.OK = false
			st.Error = err.Error()
		}
		statuses = append(statuses, st)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"backends": statuses})
}

// cleanupSweep deletes completed/failed/cancelled jobs older than the
// configured retention window (spec §4.K "Admin: cleanup of completed jobs
// older than N days").
func (s *Server) cleanupSweep(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.jobs.CleanupOlderThan(r.Context(), s.cleanupWindow)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}
