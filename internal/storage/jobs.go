package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/framelift/segmenter/pkg/models"
)

// JobRepository records segmentation job status in DynamoDB. All writes
// are best-effort from the worker's point of view: callers log failures
// and move on.
type JobRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewJobRepository creates a JobRepository from an existing DynamoDB
// client.
func NewJobRepository(client *dynamodb.Client, tableName string) (*JobRepository, error) {
	if tableName == "" {
		return nil, errors.New("DynamoDB table name is required")
	}
	return &JobRepository{
		client:    client,
		tableName: tableName,
	}, nil
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("JOB#%s", jobID)},
		"sk": &types.AttributeValueMemberS{Value: "STATUS"},
	}
}

// MarkProcessing upserts the job record with processing status. Jobs are
// created on first delivery, so redeliveries simply refresh the row.
func (r *JobRepository) MarkProcessing(ctx context.Context, jobID, sourceURI string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	record := models.JobRecord{
		PK:        fmt.Sprintf("JOB#%s", jobID),
		SK:        "STATUS",
		JobID:     jobID,
		SourceURI: sourceURI,
		Status:    models.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	return nil
}

// MarkCompleted marks a job as completed with its segment count.
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID string, segmentCount int) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              jobKey(jobID),
		UpdateExpression: aws.String("SET #status = :status, updated_at = :updated_at, segment_count = :count"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.StatusCompleted)},
			":updated_at": &types.AttributeValueMemberS{Value: now},
			":count":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", segmentCount)},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrJobNotFound
		}
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

// MarkFailed marks a job as failed with an error message.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID, errorMessage string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              jobKey(jobID),
		UpdateExpression: aws.String("SET #status = :status, updated_at = :updated_at, error_message = :error"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.StatusFailed)},
			":updated_at": &types.AttributeValueMemberS{Value: now},
			":error":      &types.AttributeValueMemberS{Value: errorMessage},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// GetJob retrieves a job status record by ID.
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       jobKey(jobID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if result.Item == nil {
		return nil, models.ErrJobNotFound
	}

	var record models.JobRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job record: %w", err)
	}
	return &record, nil
}
