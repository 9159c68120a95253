package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lw2bacnet/bridge/internal/bacnet"
	"github.com/lw2bacnet/bridge/internal/bridges/lorawan"
	"github.com/lw2bacnet/bridge/internal/identity"
	"github.com/lw2bacnet/bridge/internal/objects"
)

// maxHistoryLimit caps the limit query parameter of the history endpoint.
const maxHistoryLimit = 10000

// objectResponse is an object with its current stack state.
type objectResponse struct {
	objects.Object
	PresentValue any `json:"present_value,omitempty"`
}

// writeRequest is the request body for POST /objects/{id}/write.
type writeRequest struct {
	Value any `json:"value"`
}

// handleListDevices returns every registered device.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleListDatapoints returns every datapoint joined with its device name.
func (s *Server) handleListDatapoints(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("listing datapoints failed", "error", err)
		writeInternalError(w, "failed to list datapoints")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datapoints": rows,
		"count":      len(rows),
	})
}

// handleDatapointHistory returns stored values of one datapoint.
// Query parameters: since (RFC 3339, default 24h ago), limit (default 1000).
func (s *Server) handleDatapointHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "value history is not enabled")
		return
	}

	id := identity.DatapointID(chi.URLParam(r, "id"))
	eui, _, _, err := id.Split()
	if err != nil {
		writeBadRequest(w, "invalid datapoint id")
		return
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		since, err = time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxHistoryLimit {
			writeBadRequest(w, "limit must be between 1 and 10000")
			return
		}
	}

	samples, err := s.history.History(r.Context(), eui.String(), id.String(), since, limit)
	if err != nil {
		s.logger.Error("history query failed", "datapoint", id, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datapoint": id,
		"samples":   samples,
		"count":     len(samples),
	})
}

// handleListObjects returns the provisioned object set ordered by id.
func (s *Server) handleListObjects(w http.ResponseWriter, _ *http.Request) {
	list := s.table.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"objects": list,
		"count":   len(list),
	})
}

// handleGetObject returns one object with its present value.
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	id, ok := objectIDParam(w, r)
	if !ok {
		return
	}
	obj, found := s.table.Lookup(id)
	if !found {
		writeNotFound(w, "object not found")
		return
	}

	resp := objectResponse{Object: obj}
	if state, live := s.device.Describe(id); live {
		resp.PresentValue = state.PresentValue
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReload rebuilds the object set from the identity store.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.table.Reload(r.Context()); err != nil {
		s.logger.Error("reload failed", "error", err)
		writeInternalError(w, "reload failed")
		return
	}
	stats := s.table.Stats()
	s.logger.Info("objects reloaded via API",
		"objects", stats.Objects,
		"subject", r.Context().Value(ctxKeySubject),
	)
	if s.hub != nil {
		s.hub.Broadcast(lorawan.EventReload, map[string]int{"objects": stats.Objects})
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleWriteObject applies an operator write to an object's present value.
// The write goes through the stack's write-property path, so it reaches
// the device as a downlink exactly like a BACnet client write.
func (s *Server) handleWriteObject(w http.ResponseWriter, r *http.Request) {
	id, ok := objectIDParam(w, r)
	if !ok {
		return
	}

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	if err := s.device.WriteProperty(id, req.Value); err != nil {
		switch {
		case errors.Is(err, bacnet.ErrObjectNotFound):
			writeNotFound(w, "object not found")
		case errors.Is(err, bacnet.ErrNotWritable):
			writeError(w, http.StatusConflict, ErrCodeConflict, "object is not writable")
		case errors.Is(err, bacnet.ErrInvalidValue):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("object write failed", "object_id", id, "error", err)
			writeInternalError(w, "write failed")
		}
		return
	}

	s.logger.Info("object written via API",
		"object_id", id,
		"value", req.Value,
		"subject", r.Context().Value(ctxKeySubject),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"object_id": id,
		"value":     req.Value,
	})
}

// objectIDParam parses the {id} URL parameter, writing a 400 on failure.
func objectIDParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeBadRequest(w, "object id must be an unsigned integer")
		return 0, false
	}
	return uint32(id), true
}
