package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"hookbox/internal/hook"
)

const (
	// MaxUploadBytes bounds a multipart hook upload including form overhead.
	MaxUploadBytes  = hook.MaxContentSize + 1<<20
	multipartMemory = 32 << 20
)

// hookResponse is a hook as listed by the API.
type hookResponse struct {
	*hook.Hook
	DeploymentsCount int64 `json:"deployments_count"`
}

type diffResponse struct {
	HookID int64  `json:"hook_id"`
	From   int    `json:"from"`
	To     int    `json:"to"`
	Diff   string `json:"diff"`
}

// HandleListHooks lists hooks with their current version and deployment count.
func (s *Server) HandleListHooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.Hooks.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	counts, err := s.History.CountByHook(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := make([]hookResponse, len(hooks))
	for i := range hooks {
		resp[i] = hookResponse{Hook: &hooks[i], DeploymentsCount: counts[hooks[i].ID]}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// HandleGetHook returns one hook.
func (s *Server) HandleGetHook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "hookID")
	if !ok {
		s.badRequest(w, "Invalid hook id")
		return
	}

	h, err := s.Hooks.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	counts, err := s.History.CountByHook(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, hookResponse{Hook: h, DeploymentsCount: counts[h.ID]})
}

// HandleCreateHook creates a hook and its first version from a multipart upload.
func (s *Server) HandleCreateHook(w http.ResponseWriter, r *http.Request) {
	if !s.parseUpload(w, r) {
		return
	}

	content, fileName, err := readUpload(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if content == nil {
		s.badRequest(w, "Hook file is required")
		return
	}

	h, err := s.Hooks.Create(r.Context(), hook.CreateParams{
		Name:           r.FormValue("name"),
		Description:    r.FormValue("description"),
		HookType:       hook.Type(r.FormValue("hook_type")),
		FileType:       hook.FileType(r.FormValue("file_type")),
		ScriptLanguage: hook.Language(r.FormValue("script_language")),
		FileName:       fileName,
		Content:        content,
		Actor:          ActorFrom(r.Context()),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, hookResponse{Hook: h})
}

// HandleUpdateHook edits metadata; a new file creates a new version.
// Fields missing from the form keep their current values.
func (s *Server) HandleUpdateHook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "hookID")
	if !ok {
		s.badRequest(w, "Invalid hook id")
		return
	}
	if !s.parseUpload(w, r) {
		return
	}

	existing, err := s.Hooks.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	content, fileName, err := readUpload(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	p := hook.UpdateParams{
		Name:           formOr(r, "name", existing.Name),
		Description:    formOr(r, "description", existing.Description),
		HookType:       hook.Type(formOr(r, "hook_type", string(existing.HookType))),
		FileType:       hook.FileType(formOr(r, "file_type", string(existing.FileType))),
		ScriptLanguage: hook.Language(formOr(r, "script_language", string(existing.ScriptLanguage))),
		FileName:       fileName,
		Content:        content,
		Actor:          ActorFrom(r.Context()),
	}
	if p.FileType == hook.Binary {
		p.ScriptLanguage = ""
	}

	h, err := s.Hooks.Update(r.Context(), id, p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	counts, err := s.History.CountByHook(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, hookResponse{Hook: h, DeploymentsCount: counts[h.ID]})
}

// HandleDeleteHook deletes a hook and its versions. Deployment history stays.
func (s *Server) HandleDeleteHook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "hookID")
	if !ok {
		s.badRequest(w, "Invalid hook id")
		return
	}
	if err := s.Hooks.Delete(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListVersions lists a hook's versions, newest first.
func (s *Server) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "hookID")
	if !ok {
		s.badRequest(w, "Invalid hook id")
		return
	}
	if _, err := s.Hooks.Get(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}

	versions, err := s.Hooks.Versions(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if versions == nil {
		versions = []hook.Version{}
	}
	s.respondJSON(w, http.StatusOK, versions)
}

// HandleDownloadVersion streams the content of one version.
func (s *Server) HandleDownloadVersion(w http.ResponseWriter, r *http.Request) {
	hookID, ok := idParam(r, "hookID")
	if !ok {
		s.badRequest(w, "Invalid hook id")
		return
	}
	versionID, ok := idParam(r, "versionID")
	if !ok {
		s.badRequest(w, "Invalid version id")
		return
	}

	h, err := s.Hooks.Get(r.Context(), hookID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	v, err := s.Hooks.GetVersion(r.Context(), versionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if v.HookID != h.ID {
		s.respondJSON(w, http.StatusNotFound, errorResponse{Error: "Version does not belong to this hook"})
		return
	}

	content, err := s.Hooks.Content(r.Context(), v.Artifact)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	name := h.FileName
	if name == "" {
		name = h.Name
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s.v%d", name, v.Version)))
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set("X-Hook-SHA256", v.SHA256)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		s.Logger.Warn("Failed to write download", "hook_id", h.ID, "version", v.Version, "error", err)
	}
}

// HandleVersionDiff returns a unified diff between two version numbers.
func (s *Server) HandleVersionDiff(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "hookID")
	if !ok {
		s.badRequest(w, "Invalid hook id")
		return
	}
	from, okFrom := queryInt(r, "from")
	to, okTo := queryInt(r, "to")
	if !okFrom || !okTo || from == 0 || to == 0 {
		s.badRequest(w, "Query parameters 'from' and 'to' must be version numbers")
		return
	}

	diff, err := s.Hooks.Diff(r.Context(), id, from, to)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, diffResponse{HookID: id, From: from, To: to, Diff: diff})
}

func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Upload too large"})
			return false
		}
		s.badRequest(w, "Expected a multipart/form-data body")
		return false
	}
	return true
}

// readUpload returns the uploaded "file" part, or nil content when absent.
func readUpload(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("invalid file upload: %w", err)
	}
	defer file.Close()

	content, err := readAll(file)
	if err != nil {
		return nil, "", err
	}
	return content, filepath.Base(header.Filename), nil
}

func readAll(f multipart.File) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(f, hook.MaxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	// Non-nil even when empty so the repository reports the empty file
	if content == nil {
		content = []byte{}
	}
	return content, nil
}

func formOr(r *http.Request, key, fallback string) string {
	if _, ok := r.MultipartForm.Value[key]; ok {
		return r.FormValue(key)
	}
	return fallback
}
