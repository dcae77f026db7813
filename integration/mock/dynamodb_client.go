package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBClient is an in-memory DynamoDB supporting BatchWriteItem. Items
// are keyed by the ledger's RunId and Seq attributes.
type DynamoDBClient struct {
	mu          sync.Mutex
	tableData   map[string]map[string]map[string]types.AttributeValue
	batchWrites int

	// UnprocessedFirst leaves the last request of the next n batches
	// unprocessed, the way throttled batches come back.
	UnprocessedFirst int
	failNextWrite    bool
}

// NewDynamoDBClient creates a new mock DynamoDB client
func NewDynamoDBClient() *DynamoDBClient {
	return &DynamoDBClient{
		tableData: make(map[string]map[string]map[string]types.AttributeValue),
	}
}

func itemKey(item map[string]types.AttributeValue) string {
	return attributeToString(item["RunId"]) + "#" + attributeToString(item["Seq"])
}

func attributeToString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	default:
		return ""
	}
}

// SetFailNextWrite configures the client to fail the next write operation
func (m *DynamoDBClient) SetFailNextWrite(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextWrite = fail
}

// BatchWriteItem stores put requests and applies delete requests. Like the
// SDK it fails without sending once ctx is done.
func (m *DynamoDBClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchWrites++

	if m.failNextWrite {
		m.failNextWrite = false
		return nil, fmt.Errorf("simulated batch write failure")
	}

	unprocessed := make(map[string][]types.WriteRequest)
	for tableName, requests := range params.RequestItems {
		if m.UnprocessedFirst > 0 && len(requests) > 0 {
			m.UnprocessedFirst--
			unprocessed[tableName] = requests[len(requests)-1:]
			requests = requests[:len(requests)-1]
		}
		if _, ok := m.tableData[tableName]; !ok {
			m.tableData[tableName] = make(map[string]map[string]types.AttributeValue)
		}
		for _, req := range requests {
			if req.PutRequest != nil {
				m.tableData[tableName][itemKey(req.PutRequest.Item)] = req.PutRequest.Item
			}
			if req.DeleteRequest != nil {
				delete(m.tableData[tableName], itemKey(req.DeleteRequest.Key))
			}
		}
	}

	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: unprocessed}, nil
}

// BatchWrites returns how many BatchWriteItem calls were made
func (m *DynamoDBClient) BatchWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchWrites
}

// Items returns a table's items ordered by key
func (m *DynamoDBClient) Items(tableName string) []map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.tableData[tableName]
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		items = append(items, data[k])
	}
	return items
}
