// Package audit persists a ledger of every permission the migration revokes.
// Revokes cannot be undone by the tool itself; the ledger keeps the exact
// principal, resource and permission sets so they can be granted back.
package audit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	lfaws "github.com/gurre/lf-iam-migrate/aws"
)

// MaxBatchSize is the BatchWriteItem request limit.
const MaxBatchSize = 25

// Record is one revoked grant. RunID and Seq form the table key.
type Record struct {
	RunID                string    `dynamodbav:"RunId"`
	Seq                  int64     `dynamodbav:"Seq"`
	Principal            string    `dynamodbav:"Principal"`
	ResourceType         string    `dynamodbav:"ResourceType"`
	Resource             string    `dynamodbav:"Resource"` // request JSON as revoked
	Permissions          []string  `dynamodbav:"Permissions,omitempty"`
	GrantablePermissions []string  `dynamodbav:"GrantablePermissions,omitempty"`
	RevokedAt            time.Time `dynamodbav:"RevokedAt"`
}

// Ledger receives revocation records.
type Ledger interface {
	Record(ctx context.Context, r Record) error
	Flush(ctx context.Context) error
}

// DynamoDBLedger buffers records and writes them with BatchWriteItem.
type DynamoDBLedger struct {
	client    lfaws.DynamoDBClient
	tableName string
	batchSize int
	pending   []types.WriteRequest
}

// NewDynamoDBLedger creates a ledger writing to tableName. batchSize is
// clamped to [1, MaxBatchSize].
func NewDynamoDBLedger(client lfaws.DynamoDBClient, tableName string, batchSize int) *DynamoDBLedger {
	if batchSize < 1 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	return &DynamoDBLedger{
		client:    client,
		tableName: tableName,
		batchSize: batchSize,
	}
}

// Record buffers r and writes the buffer once it holds a full batch.
func (l *DynamoDBLedger) Record(ctx context.Context, r Record) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	l.pending = append(l.pending, types.WriteRequest{
		PutRequest: &types.PutRequest{Item: item},
	})
	if len(l.pending) >= l.batchSize {
		return l.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered record.
func (l *DynamoDBLedger) Flush(ctx context.Context) error {
	for len(l.pending) > 0 {
		n := min(l.batchSize, len(l.pending))
		if err := l.writeBatch(ctx, l.pending[:n]); err != nil {
			return err
		}
		l.pending = l.pending[n:]
	}
	l.pending = nil
	return nil
}

// isThrottlingError returns true if the error is a DynamoDB throughput
// throttling error. These are recoverable by waiting.
func isThrottlingError(err error) bool {
	var throughputErr *types.ProvisionedThroughputExceededException
	var requestLimitErr *types.RequestLimitExceeded
	return errors.As(err, &throughputErr) || errors.As(err, &requestLimitErr)
}

// backoffWait sleeps for an exponentially increasing duration with jitter.
// Returns false if the context is cancelled during the wait.
func backoffWait(ctx context.Context, attempt int) bool {
	base := 100 * time.Millisecond
	maxDelay := 30 * time.Second

	delay := base * time.Duration(1<<uint(min(attempt, 16)))
	if delay > maxDelay {
		delay = maxDelay
	}
	delay += time.Duration(rand.Int64N(int64(delay)))

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// writeBatch writes one batch. Throttling and unprocessed items retry until
// the context is cancelled; other errors fail after maxRetries attempts.
func (l *DynamoDBLedger) writeBatch(ctx context.Context, requests []types.WriteRequest) error {
	input := &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{
			l.tableName: requests,
		},
	}

	const maxRetries = 5
	attempt := 0
	failures := 0
	for {
		output, err := l.client.BatchWriteItem(ctx, input)
		if err != nil {
			if !isThrottlingError(err) {
				failures++
				if failures > maxRetries {
					return fmt.Errorf("failed to write audit batch after %d retries: %w", maxRetries, err)
				}
			}
			if !backoffWait(ctx, attempt) {
				return ctx.Err()
			}
			attempt++
			continue
		}

		if len(output.UnprocessedItems) > 0 {
			input.RequestItems = output.UnprocessedItems
			if !backoffWait(ctx, attempt) {
				return ctx.Err()
			}
			attempt++
			continue
		}

		return nil
	}
}
