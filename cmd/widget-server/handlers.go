package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/heygen-widget/internal/heygen"
	"github.com/fpang/heygen-widget/internal/store"
)

// --- Session routes ---

// handleSessionRoutes dispatches /api/session/{id} and
// /api/session/{id}/intent.
func (s *server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/session/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		httpError(w, http.StatusBadRequest, "session id required")
		return
	}

	sess := s.getSession(parts[0])
	if sess == nil {
		httpError(w, http.StatusNotFound, "session not found")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		respondJSON(w, http.StatusOK, sess.status())

	case len(parts) == 2 && parts[1] == "intent" && r.Method == http.MethodPost:
		s.handleIntent(w, r, sess)

	default:
		httpError(w, http.StatusNotFound, "unknown session route")
	}
}

func (s *server) handleIntent(w http.ResponseWriter, r *http.Request, sess *session) {
	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Intent == "" {
		httpError(w, http.StatusBadRequest, "intent required")
		return
	}

	result, err := sess.dispatch(r.Context(), req)
	if err != nil {
		status := http.StatusUnprocessableEntity
		switch {
		case errors.Is(err, errUnknownIntent):
			status = http.StatusBadRequest
		case errors.Is(err, errNotReady):
			status = http.StatusConflict
		}
		log.Warn().Err(err).Str("sessionId", sess.id).Str("intent", req.Intent).Msg("Intent rejected")
		httpError(w, status, err.Error())
		return
	}

	resp := map[string]any{"status": sess.status()}
	if result != nil {
		resp["result"] = result
	}
	respondJSON(w, http.StatusOK, resp)
}

// --- Organizations ---

func (s *server) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		orgID := r.URL.Query().Get("id")
		if orgID == "" {
			httpError(w, http.StatusBadRequest, "id required")
			return
		}
		org, err := s.store.GetOrganization(r.Context(), orgID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if org == nil {
			httpError(w, http.StatusNotFound, "organization not found")
			return
		}
		respondJSON(w, http.StatusOK, org)

	case http.MethodPost:
		var org store.Organization
		if err := json.NewDecoder(r.Body).Decode(&org); err != nil || org.ID == "" {
			httpError(w, http.StatusBadRequest, "organization id required")
			return
		}
		if err := s.store.UpsertOrganization(r.Context(), &org); err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, org)

	default:
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Credentials ---

type credentialRequest struct {
	OrganizationID string `json:"organizationId"`
	Provider       string `json:"provider"`
	APIKey         string `json:"apiKey"`
}

func (s *server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		orgID := r.URL.Query().Get("organizationId")
		provider := r.URL.Query().Get("provider")
		if provider == "" {
			provider = "heygen"
		}
		if orgID == "" {
			httpError(w, http.StatusBadRequest, "organizationId required")
			return
		}
		// Existence only — ciphertext never leaves the store through here.
		exists, err := s.store.HasCredential(r.Context(), orgID, provider)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"exists": exists})

	case http.MethodPost, http.MethodPut:
		if s.box == nil {
			httpError(w, http.StatusServiceUnavailable, "credential storage is not configured")
			return
		}
		var req credentialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.OrganizationID == "" || req.APIKey == "" {
			httpError(w, http.StatusBadRequest, "organizationId and apiKey required")
			return
		}
		if req.Provider == "" {
			req.Provider = "heygen"
		}

		sealed, err := s.box.Seal(req.APIKey)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		cred := &store.Credential{Provider: req.Provider, Ciphertext: sealed}
		if err := s.store.PutCredential(r.Context(), req.OrganizationID, cred); err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"saved": true})

	case http.MethodDelete:
		orgID := r.URL.Query().Get("organizationId")
		provider := r.URL.Query().Get("provider")
		if provider == "" {
			provider = "heygen"
		}
		if orgID == "" {
			httpError(w, http.StatusBadRequest, "organizationId required")
			return
		}
		if err := s.store.DeleteCredential(r.Context(), orgID, provider); err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	default:
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCredentialValidate checks a candidate API key against the provider
// before it is stored.
func (s *server) handleCredentialValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		httpError(w, http.StatusBadRequest, "apiKey required")
		return
	}

	var opts []heygen.Option
	if s.heygenBase != "" {
		opts = append(opts, heygen.WithBaseURL(s.heygenBase))
	}
	client := heygen.NewClient(req.APIKey, opts...)

	if _, err := client.ListAvatarGroups(r.Context()); err != nil {
		if heygen.IsClientError(err) {
			respondJSON(w, http.StatusOK, map[string]bool{"valid": false})
			return
		}
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// handleCredentialDecrypt returns the stored key in the clear. The embedding
// host calls this to hand the key to a provider SDK running on its side.
func (s *server) handleCredentialDecrypt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.box == nil {
		httpError(w, http.StatusServiceUnavailable, "credential storage is not configured")
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrganizationID == "" {
		httpError(w, http.StatusBadRequest, "organizationId required")
		return
	}
	if req.Provider == "" {
		req.Provider = "heygen"
	}

	cred, err := s.store.GetCredential(r.Context(), req.OrganizationID, req.Provider)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cred == nil {
		httpError(w, http.StatusNotFound, "credential not found")
		return
	}

	apiKey, err := s.box.Open(cred.Ciphertext)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"apiKey": apiKey})
}

// --- Jobs ---

func (s *server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	orgID := r.URL.Query().Get("organizationId")
	if orgID == "" {
		httpError(w, http.StatusBadRequest, "organizationId required")
		return
	}
	status := r.URL.Query().Get("status")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := s.store.ListJobs(r.Context(), orgID, status, limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// jobUpdateRequest is the body of PUT /api/jobs/{id}. Provider callbacks
// report status changes through this route.
type jobUpdateRequest struct {
	OrganizationID string         `json:"organizationId"`
	Status         string         `json:"status,omitempty"`
	ExternalJobID  string         `json:"externalJobId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (s *server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	jobID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	if jobID == "" {
		httpError(w, http.StatusBadRequest, "job id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		orgID := r.URL.Query().Get("organizationId")
		if orgID == "" {
			httpError(w, http.StatusBadRequest, "organizationId required")
			return
		}
		job, err := s.store.GetJob(r.Context(), orgID, jobID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if job == nil {
			httpError(w, http.StatusNotFound, "job not found")
			return
		}
		respondJSON(w, http.StatusOK, job)

	case http.MethodPut:
		var req jobUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrganizationID == "" {
			httpError(w, http.StatusBadRequest, "organizationId required")
			return
		}
		job, err := s.store.UpdateJob(r.Context(), req.OrganizationID, jobID, store.JobUpdate{
			Status:        req.Status,
			ExternalJobID: req.ExternalJobID,
			Metadata:      req.Metadata,
		})
		if err != nil {
			if strings.Contains(err.Error(), "not found") {
				httpError(w, http.StatusNotFound, err.Error())
				return
			}
			httpError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, job)

	case http.MethodDelete:
		orgID := r.URL.Query().Get("organizationId")
		if orgID == "" {
			httpError(w, http.StatusBadRequest, "organizationId required")
			return
		}
		if err := s.store.DeleteJob(r.Context(), orgID, jobID); err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	default:
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Audio upload ---

type uploadAudioRequest struct {
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name"`
	MIMEType       string `json:"mimeType"`
	Data           string `json:"data"` // base64 audio bytes
}

// handleUploadAudio accepts the host page's multipart form upload, or a JSON
// body with base64 audio for programmatic callers.
func (s *server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.uploader == nil {
		httpError(w, http.StatusServiceUnavailable, "audio upload is not configured")
		return
	}

	var (
		orgID, name, mimeType string
		data                  []byte
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			httpError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		orgID = r.FormValue("organizationId")
		file, header, err := r.FormFile("audio")
		if err != nil {
			httpError(w, http.StatusBadRequest, "audio file required")
			return
		}
		defer file.Close()
		data, err = io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "could not read audio file")
			return
		}
		name = header.Filename
		mimeType = header.Header.Get("Content-Type")
	} else {
		var req uploadAudioRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "data must be base64")
			return
		}
		orgID, name, mimeType, data = req.OrganizationID, req.Name, req.MIMEType, decoded
	}

	if orgID == "" {
		httpError(w, http.StatusBadRequest, "organizationId required")
		return
	}
	if len(data) == 0 {
		httpError(w, http.StatusBadRequest, "audio data required")
		return
	}

	audioURL, err := s.uploader.UploadAudio(r.Context(), orgID, name, mimeType, data)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": audioURL})
}

// --- Provider proxy ---

type proxyRequest struct {
	OrganizationID string          `json:"organizationId"`
	Method         string          `json:"method"`
	URL            string          `json:"url"`
	Body           json.RawMessage `json:"body,omitempty"`
}

// handleHeygenProxy forwards an arbitrary provider API call using the
// organization's stored credential. Only the provider host is reachable.
func (s *server) handleHeygenProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req proxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OrganizationID == "" || req.URL == "" {
		httpError(w, http.StatusBadRequest, "organizationId and url required")
		return
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	target, err := url.Parse(req.URL)
	if err != nil || !s.proxyTargetAllowed(target) {
		httpError(w, http.StatusBadRequest, "url must point at the provider API")
		return
	}

	apiKey, err := s.resolveAPIKey(r.Context(), req.OrganizationID)
	if err != nil {
		httpError(w, http.StatusFailedDependency, err.Error())
		return
	}

	var opts []heygen.Option
	if s.heygenBase != "" {
		opts = append(opts, heygen.WithBaseURL(s.heygenBase))
	}
	client := heygen.NewClient(apiKey, opts...)

	body, err := client.Proxy(r.Context(), strings.ToUpper(req.Method), req.URL, req.Body)
	if err != nil {
		var apiErr *heygen.APIError
		if errors.As(err, &apiErr) {
			httpError(w, apiErr.Status, apiErr.Body)
			return
		}
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// proxyTargetAllowed restricts proxy URLs to the provider host (or the
// configured override, which tests use).
func (s *server) proxyTargetAllowed(target *url.URL) bool {
	if target == nil || target.Host == "" {
		return false
	}
	if s.heygenBase != "" {
		base, err := url.Parse(s.heygenBase)
		return err == nil && target.Host == base.Host
	}
	return target.Scheme == "https" && target.Host == "api.heygen.com"
}
