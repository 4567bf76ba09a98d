// Package store provides persistent storage for widget data: organization
// records, encrypted provider credentials, and video generation job requests.
//
// The DynamoDB implementation uses a single-table design where all records
// for an organization share a partition key (ORG#{organizationId}). Sort keys
// distinguish record types: META, CRED#{provider}, and JOB#{jobRequestUuid}.
package store

import (
	"context"
	"fmt"
)

// Job statuses. Transitions only move forward: pending → processing →
// completed/failed. Terminal statuses never change.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// validTransitions maps a current status to the statuses it may move to.
var validTransitions = map[string]map[string]bool{
	JobStatusPending:    {JobStatusProcessing: true, JobStatusCompleted: true, JobStatusFailed: true},
	JobStatusProcessing: {JobStatusCompleted: true, JobStatusFailed: true},
	JobStatusCompleted:  {},
	JobStatusFailed:     {},
}

// IsTerminal reports whether a job status admits no further transitions.
func IsTerminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// ValidateTransition returns an error when moving from one status to another
// is not allowed. A no-op transition (same status) is always allowed.
func ValidateTransition(from, to string) error {
	if from == to {
		return nil
	}
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown job status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid job status transition %s → %s", from, to)
	}
	return nil
}

// WidgetStore defines the persistence interface for widget data.
// Each method is safe for concurrent use.
//
// All Get methods return (nil, nil) when the requested record does not exist.
type WidgetStore interface {
	// --- Organizations ---

	// UpsertOrganization creates or refreshes an organization record.
	// Repeated calls with the same ID are idempotent.
	UpsertOrganization(ctx context.Context, org *Organization) error

	// GetOrganization retrieves an organization by ID. Returns nil, nil if not found.
	GetOrganization(ctx context.Context, orgID string) (*Organization, error)

	// --- Credentials ---

	// PutCredential stores an encrypted provider credential for an organization.
	PutCredential(ctx context.Context, orgID string, cred *Credential) error

	// GetCredential retrieves a credential. Returns nil, nil if not found.
	GetCredential(ctx context.Context, orgID, provider string) (*Credential, error)

	// HasCredential reports whether a credential exists, without returning
	// the ciphertext.
	HasCredential(ctx context.Context, orgID, provider string) (bool, error)

	// DeleteCredential removes a provider credential.
	DeleteCredential(ctx context.Context, orgID, provider string) error

	// --- Job requests ---

	// CreateJob persists a new job request record.
	CreateJob(ctx context.Context, job *JobRequest) error

	// GetJob retrieves a job request. Returns nil, nil if not found.
	GetJob(ctx context.Context, orgID, jobID string) (*JobRequest, error)

	// UpdateJob applies a status transition and a shallow metadata merge.
	// The transition is validated against the current status; invalid
	// transitions return an error and leave the record unchanged.
	UpdateJob(ctx context.Context, orgID, jobID string, update JobUpdate) (*JobRequest, error)

	// ListJobs returns jobs for an organization, newest first. A non-empty
	// status filters the result; limit <= 0 means no limit.
	ListJobs(ctx context.Context, orgID, status string, limit int) ([]*JobRequest, error)

	// DeleteJob removes a job request record.
	DeleteJob(ctx context.Context, orgID, jobID string) error
}

// --- Domain types ---
//
// Each type maps to a DynamoDB record. ID fields derived from PK/SK carry
// dynamodbav:"-" and are re-populated on read.

// Organization is the per-organization metadata record (DynamoDB SK = META).
type Organization struct {
	ID        string `json:"id" dynamodbav:"-"`
	Name      string `json:"name,omitempty" dynamodbav:"name,omitempty"`
	CreatedAt int64  `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt int64  `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Credential is an encrypted provider API key
// (DynamoDB SK = CRED#{provider}).
type Credential struct {
	Provider   string `json:"provider" dynamodbav:"-"`
	Ciphertext string `json:"-" dynamodbav:"ciphertext"`
	CreatedAt  int64  `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt" dynamodbav:"updatedAt"`
}

// JobRequest is one video generation request
// (DynamoDB SK = JOB#{jobRequestUuid}).
type JobRequest struct {
	ID             string         `json:"job_request_uuid" dynamodbav:"-"`
	OrganizationID string         `json:"organization_uuid" dynamodbav:"-"`
	ExternalJobID  string         `json:"external_job_id,omitempty" dynamodbav:"externalJobId,omitempty"`
	CorrelationID  string         `json:"correlation_uuid" dynamodbav:"correlationId"`
	CallbackURL    string         `json:"callback_url,omitempty" dynamodbav:"callbackUrl,omitempty"`
	Status         string         `json:"status" dynamodbav:"status"`
	Metadata       map[string]any `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	CreatedAt      int64          `json:"created_at" dynamodbav:"createdAt"`
	UpdatedAt      int64          `json:"updated_at" dynamodbav:"updatedAt"`
}

// JobUpdate describes a partial job update. Empty Status means "keep the
// current status". Metadata keys are merged over the existing bag; values
// are replaced per key, never deep-merged.
type JobUpdate struct {
	Status        string
	ExternalJobID string
	Metadata      map[string]any
}
