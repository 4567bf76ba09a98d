package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "ORG#"
	skMeta   = "META"
	skCred   = "CRED#"
	skJob    = "JOB#"
)

// DynamoStore implements WidgetStore using AWS DynamoDB.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// Compile-time interface check.
var _ WidgetStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// --- Internal helpers ---

// orgPK returns the partition key for an organization.
func orgPK(orgID string) string {
	return pkPrefix + orgID
}

// putItem marshals a domain object and writes it to DynamoDB with PK and SK.
// ID fields derived from the keys should use dynamodbav:"-".
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item from DynamoDB and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// deleteItem removes a single item from DynamoDB by PK/SK.
func (s *DynamoStore) deleteItem(ctx context.Context, pk, sk string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return fmt.Errorf("DeleteItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// queryBySKPrefix queries all items for an organization where SK begins with
// the given prefix. Returns raw DynamoDB items for flexible processing.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, orgID, skPrefix string) ([]map[string]types.AttributeValue, error) {
	pk := orgPK(orgID)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
	}

	var allItems []map[string]types.AttributeValue

	// Handle pagination — DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		allItems = append(allItems, result.Items...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return allItems, nil
}

// --- Organizations ---

func (s *DynamoStore) UpsertOrganization(ctx context.Context, org *Organization) error {
	now := time.Now().Unix()

	existing, err := s.GetOrganization(ctx, org.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		org.CreatedAt = existing.CreatedAt
	} else if org.CreatedAt == 0 {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	if err := s.putItem(ctx, orgPK(org.ID), skMeta, org); err != nil {
		return fmt.Errorf("upsert organization %s: %w", org.ID, err)
	}

	log.Debug().
		Str("organizationId", org.ID).
		Bool("created", existing == nil).
		Msg("Organization record upserted")
	return nil
}

func (s *DynamoStore) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	var org Organization
	found, err := s.getItem(ctx, orgPK(orgID), skMeta, &org)
	if err != nil {
		return nil, fmt.Errorf("get organization %s: %w", orgID, err)
	}
	if !found {
		return nil, nil
	}
	org.ID = orgID
	return &org, nil
}

// --- Credentials ---

func (s *DynamoStore) PutCredential(ctx context.Context, orgID string, cred *Credential) error {
	now := time.Now().Unix()
	if cred.CreatedAt == 0 {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	if err := s.putItem(ctx, orgPK(orgID), skCred+cred.Provider, cred); err != nil {
		return fmt.Errorf("put credential %s/%s: %w", orgID, cred.Provider, err)
	}

	log.Debug().
		Str("organizationId", orgID).
		Str("provider", cred.Provider).
		Msg("Credential persisted")
	return nil
}

func (s *DynamoStore) GetCredential(ctx context.Context, orgID, provider string) (*Credential, error) {
	var cred Credential
	found, err := s.getItem(ctx, orgPK(orgID), skCred+provider, &cred)
	if err != nil {
		return nil, fmt.Errorf("get credential %s/%s: %w", orgID, provider, err)
	}
	if !found {
		return nil, nil
	}
	cred.Provider = provider
	return &cred, nil
}

func (s *DynamoStore) HasCredential(ctx context.Context, orgID, provider string) (bool, error) {
	cred, err := s.GetCredential(ctx, orgID, provider)
	if err != nil {
		return false, err
	}
	return cred != nil, nil
}

func (s *DynamoStore) DeleteCredential(ctx context.Context, orgID, provider string) error {
	if err := s.deleteItem(ctx, orgPK(orgID), skCred+provider); err != nil {
		return fmt.Errorf("delete credential %s/%s: %w", orgID, provider, err)
	}

	log.Debug().Str("organizationId", orgID).Str("provider", provider).Msg("Credential deleted")
	return nil
}

// --- Job requests ---

func (s *DynamoStore) CreateJob(ctx context.Context, job *JobRequest) error {
	now := time.Now().Unix()
	if job.Status == "" {
		job.Status = JobStatusPending
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	if err := s.putItem(ctx, orgPK(job.OrganizationID), skJob+job.ID, job); err != nil {
		return fmt.Errorf("create job %s/%s: %w", job.OrganizationID, job.ID, err)
	}

	log.Debug().
		Str("organizationId", job.OrganizationID).
		Str("jobId", job.ID).
		Str("status", job.Status).
		Str("correlationId", job.CorrelationID).
		Msg("Job request persisted")
	return nil
}

func (s *DynamoStore) GetJob(ctx context.Context, orgID, jobID string) (*JobRequest, error) {
	var job JobRequest
	found, err := s.getItem(ctx, orgPK(orgID), skJob+jobID, &job)
	if err != nil {
		return nil, fmt.Errorf("get job %s/%s: %w", orgID, jobID, err)
	}
	if !found {
		log.Debug().Str("organizationId", orgID).Str("jobId", jobID).Bool("found", false).Msg("GetJob: job not found")
		return nil, nil
	}

	job.ID = jobID
	job.OrganizationID = orgID
	return &job, nil
}

func (s *DynamoStore) UpdateJob(ctx context.Context, orgID, jobID string, update JobUpdate) (*JobRequest, error) {
	job, err := s.GetJob(ctx, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
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

	if err := s.putItem(ctx, orgPK(orgID), skJob+jobID, job); err != nil {
		return nil, fmt.Errorf("update job %s/%s: %w", orgID, jobID, err)
	}

	log.Debug().
		Str("organizationId", orgID).
		Str("jobId", jobID).
		Str("status", job.Status).
		Msg("Job request updated")
	return job, nil
}

func (s *DynamoStore) ListJobs(ctx context.Context, orgID, status string, limit int) ([]*JobRequest, error) {
	items, err := s.queryBySKPrefix(ctx, orgID, skJob)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", orgID, err)
	}

	jobs := make([]*JobRequest, 0, len(items))
	for _, item := range items {
		var job JobRequest
		if err := attributevalue.UnmarshalMap(item, &job); err != nil {
			log.Warn().Err(err).Str("organizationId", orgID).Msg("Failed to unmarshal job, skipping")
			continue
		}
		if status != "" && job.Status != status {
			continue
		}

		// Extract job ID from SK: "JOB#abc" → "abc"
		if skAttr, ok := item["SK"].(*types.AttributeValueMemberS); ok {
			job.ID = strings.TrimPrefix(skAttr.Value, skJob)
		}
		job.OrganizationID = orgID

		jobs = append(jobs, &job)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt > jobs[j].CreatedAt })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *DynamoStore) DeleteJob(ctx context.Context, orgID, jobID string) error {
	if err := s.deleteItem(ctx, orgPK(orgID), skJob+jobID); err != nil {
		return fmt.Errorf("delete job %s/%s: %w", orgID, jobID, err)
	}

	log.Debug().Str("organizationId", orgID).Str("jobId", jobID).Msg("Job request deleted")
	return nil
}
