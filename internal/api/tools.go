package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nugget/homelab-assistant/internal/tools"
)

// ToolUpdateRequest is the body of PUT /tools/{name}.
type ToolUpdateRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleToolList returns every registered tool with its enabled flag.
// Changes made through PUT apply to the next chat request; a request
// already running keeps the snapshot it started with.
func (s *Server) handleToolList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListTools(r.Context())
	if err != nil {
		s.logger.Error("list tools failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list tools")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": list})
}

func (s *Server) handleToolUpdate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req ToolUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.errorResponse(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	err := s.store.SetToolEnabled(r.Context(), name, *req.Enabled)
	if errors.Is(err, tools.ErrUnknownTool) {
		s.errorResponse(w, http.StatusNotFound, "Unknown tool: "+name)
		return
	}
	if err != nil {
		s.logger.Error("set tool enabled failed", "tool", name, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to update tool")
		return
	}

	s.logger.Info("tool state changed", "tool", name, "enabled", *req.Enabled)
	s.writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": *req.Enabled})
}
