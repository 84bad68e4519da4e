package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/radioastro/subarray-core/internal/observing"
	"github.com/radioastro/subarray-core/internal/subarray"
)

// subarrayDoc builds the full attribute document for a subarray.
func subarrayDoc(sub *subarray.Subarray) map[string]any {
	return map[string]any{
		"id":                 sub.ID(),
		"power_state":        sub.PowerState().String(),
		"obs_state":          sub.ObsState().String(),
		"health_state":       sub.HealthState().String(),
		"assigned_resources": sub.AssignedResources(),
		"scan_type":          sub.ScanType(),
		"scan_id":            sub.ScanID(),
	}
}

// handleListSubarrays returns the attribute documents of all subarrays.
func (s *Server) handleListSubarrays(w http.ResponseWriter, _ *http.Request) {
	ids := s.subarrays.IDs()
	docs := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		sub, err := s.subarrays.Get(id)
		if err != nil {
			continue
		}
		docs = append(docs, subarrayDoc(sub))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subarrays": docs,
		"count":     len(docs),
	})
}

// handleGetSubarray returns the attribute document of one subarray.
func (s *Server) handleGetSubarray(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subarrays.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, subarrayDoc(sub))
}

// handleGetSubarrayAttribute returns a single attribute value.
func (s *Server) handleGetSubarrayAttribute(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subarrays.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}

	attr := chi.URLParam(r, "attribute")
	var value any
	switch attr {
	case "power_state":
		value = sub.PowerState().String()
	case "obs_state":
		value = sub.ObsState().String()
	case "health_state":
		value = sub.HealthState().String()
	case "assigned_resources":
		value = sub.AssignedResources()
	case "scan_type":
		value = sub.ScanType()
	case "scan_id":
		value = sub.ScanID()
	default:
		writeNotFound(w, "unknown attribute: "+attr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"attribute": attr,
		"value":     value,
	})
}

// handleSubarrayCommand executes an observing or power command against a
// subarray and returns the resulting state alongside the transaction id.
func (s *Server) handleSubarrayCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cmd, err := observing.ParseCommand(chi.URLParam(r, "command"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body: "+err.Error())
		return
	}

	txn, err := s.subarrays.Execute(r.Context(), id, cmd, raw)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	sub, err := s.subarrays.Get(id)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": txn,
		"command":        string(cmd),
		"power_state":    sub.PowerState().String(),
		"obs_state":      sub.ObsState().String(),
	})
}

// handleGetMaster returns the master controller's attribute document.
func (s *Server) handleGetMaster(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           "master",
		"power_state":  s.master.PowerState().String(),
		"health_state": s.master.HealthState().String(),
	})
}

// handleMasterCommand executes a power command against the master controller.
func (s *Server) handleMasterCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := observing.ParseCommand(chi.URLParam(r, "command"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body: "+err.Error())
		return
	}

	txn, err := s.master.Execute(r.Context(), cmd, raw)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": txn,
		"command":        string(cmd),
		"power_state":    s.master.PowerState().String(),
	})
}
