package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"hookbox/internal/deployment"
	"hookbox/internal/domain"
	"hookbox/internal/history"
)

// maxDeployBody bounds the deploy request JSON.
const maxDeployBody = 64 << 10

// flexibleID accepts a target id sent as a JSON string or number.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("target_id must be a string or number")
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("target_id must be an integer")
	}
	*f = flexibleID(n.String())
	return nil
}

type deployRequest struct {
	Level         domain.Level `json:"deployment_level"`
	TargetID      flexibleID   `json:"target_id"`
	TargetName    string       `json:"target_name"`
	HookVersionID int64        `json:"hook_version_id"`
}

// HandleDeploy deploys a hook to a server, project or group.
// The response lists one record per endpoint and the batch outcome.
func (s *Server) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	hookID, ok := idParam(r, "hookID")
	if !ok {
		s.badRequest(w, "Invalid hook id")
		return
	}

	var req deployRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDeployBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.badRequest(w, fmt.Sprintf("Invalid deploy request: %v", err))
		return
	}
	if req.HookVersionID < 0 {
		s.badRequest(w, "hook_version_id must be positive")
		return
	}

	result, err := s.Deployer.Deploy(r.Context(), deployment.Request{
		HookID:        hookID,
		Level:         req.Level,
		TargetID:      string(req.TargetID),
		TargetName:    req.TargetName,
		HookVersionID: req.HookVersionID,
		Actor:         ActorFrom(r.Context()),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	succeeded, failed := result.Counts()
	s.Logger.Info("Deployment batch finished",
		"batch_id", result.BatchID,
		"hook_id", hookID,
		"level", req.Level,
		"overall_status", result.OverallStatus,
		"succeeded", succeeded,
		"failed", failed)

	s.respondJSON(w, http.StatusOK, result)
}

// HandleListDeployments lists deployment records, newest first.
func (s *Server) HandleListDeployments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f history.Filter

	if v := q.Get("hook_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			s.badRequest(w, "hook_id must be a positive integer")
			return
		}
		f.HookID = id
	}
	if v := q.Get("status"); v != "" {
		f.Status = history.Status(v)
		if !f.Status.Valid() {
			s.badRequest(w, fmt.Sprintf("Unknown status '%s'", v))
			return
		}
	}
	if v := q.Get("level"); v != "" {
		f.Level = domain.Level(v)
		if !f.Level.Valid() {
			s.badRequest(w, fmt.Sprintf("Unknown deployment level '%s'", v))
			return
		}
	}
	f.BatchID = q.Get("batch_id")

	limit, ok := queryInt(r, "limit")
	if !ok {
		s.badRequest(w, "limit must be a non-negative integer")
		return
	}
	f.Limit = limit

	records, err := s.History.List(r.Context(), f)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, records)
}

// HandleGetDeployment returns one deployment record.
func (s *Server) HandleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "deploymentID")
	if !ok {
		s.badRequest(w, "Invalid deployment id")
		return
	}

	record, err := s.History.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}
