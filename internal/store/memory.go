package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory WidgetStore for local development and tests.
// It applies the same transition and merge rules as the DynamoDB store.
type MemoryStore struct {
	mu    sync.Mutex
	orgs  map[string]*Organization
	creds map[string]map[string]*Credential // orgID → provider → cred
	jobs  map[string]map[string]*JobRequest // orgID → jobID → job
}

var _ WidgetStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:  make(map[string]*Organization),
		creds: make(map[string]map[string]*Credential),
		jobs:  make(map[string]map[string]*JobRequest),
	}
}

func (s *MemoryStore) UpsertOrganization(_ context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if existing, ok := s.orgs[org.ID]; ok {
		org.CreatedAt = existing.CreatedAt
	} else if org.CreatedAt == 0 {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	copied := *org
	s.orgs[org.ID] = &copied
	return nil
}

func (s *MemoryStore) GetOrganization(_ context.Context, orgID string) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return nil, nil
	}
	copied := *org
	return &copied, nil
}

func (s *MemoryStore) PutCredential(_ context.Context, orgID string, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if cred.CreatedAt == 0 {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	if s.creds[orgID] == nil {
		s.creds[orgID] = make(map[string]*Credential)
	}
	copied := *cred
	s.creds[orgID][cred.Provider] = &copied
	return nil
}

func (s *MemoryStore) GetCredential(_ context.Context, orgID, provider string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[orgID][provider]
	if !ok {
		return nil, nil
	}
	copied := *cred
	return &copied, nil
}

func (s *MemoryStore) HasCredential(ctx context.Context, orgID, provider string) (bool, error) {
	cred, err := s.GetCredential(ctx, orgID, provider)
	if err != nil {
		return false, err
	}
	return cred != nil, nil
}

func (s *MemoryStore) DeleteCredential(_ context.Context, orgID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.creds[orgID], provider)
	return nil
}

func (s *MemoryStore) CreateJob(_ context.Context, job *JobRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if job.Status == "" {
		job.Status = JobStatusPending
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	if s.jobs[job.OrganizationID] == nil {
		s.jobs[job.OrganizationID] = make(map[string]*JobRequest)
	}
	copied := *job
	copied.Metadata = copyMetadata(job.Metadata)
	s.jobs[job.OrganizationID][job.ID] = &copied
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, orgID, jobID string) (*JobRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[orgID][jobID]
	if !ok {
		return nil, nil
	}
	copied := *job
	copied.Metadata = copyMetadata(job.Metadata)
	return &copied, nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, orgID, jobID string, update JobUpdate) (*JobRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[orgID][jobID]
	if !ok {
		return nil, fmt.Errorf("update job %s/%s: not found", orgID, jobID)
	}

	if update.Status != "" {
		if err := ValidateTransition(job.Status, update.Status); err != nil {
			return nil, fmt.Errorf("update job %s/%s: %w", orgID, jobID, err)
		}
		job.Status = update.Status
	}
	if update.ExternalJobID != "" {
		job.ExternalJobID = update.ExternalJobID
	}
	if len(update.Metadata) > 0 {
		if job.Metadata == nil {
			job.Metadata = make(map[string]any, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			job.Metadata[k] = v
		}
	}
	job.UpdatedAt = time.Now().Unix()

	copied := *job
	copied.Metadata = copyMetadata(job.Metadata)
	return &copied, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, orgID, status string, limit int) ([]*JobRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*JobRequest, 0, len(s.jobs[orgID]))
	for _, job := range s.jobs[orgID] {
		if status != "" && job.Status != status {
			continue
		}
		copied := *job
		copied.Metadata = copyMetadata(job.Metadata)
		jobs = append(jobs, &copied)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt > jobs[j].CreatedAt })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, orgID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs[orgID], jobID)
	return nil
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
