// Package store persists terminal workflow results. It is a reporting
// surface: the executor writes a result once when an execution settles,
// and nothing is ever read back into a live execution.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/stepflow-io/stepflow"
)

// DynamoDBStore implements stepflow.HistoryStore using AWS DynamoDB
type DynamoDBStore struct {
	client    DynamoDBClient
	tableName string
}

// NewDynamoDBStore creates a new DynamoDB-backed history store
func NewDynamoDBStore(client DynamoDBClient, tableName string) stepflow.HistoryStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

func (s *DynamoDBStore) SaveResult(ctx context.Context, result *stepflow.WorkflowResult) error {
	item, err := attributevalue.MarshalMap(result)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow result: %w", err)
	}

	// Add keys
	item[AttrPK] = &types.AttributeValueMemberS{Value: resultPK(result.RunID)}
	item[AttrSK] = &types.AttributeValueMemberS{Value: resultSK()}
	item[AttrEntityType] = &types.AttributeValueMemberS{Value: EntityTypeWorkflowResult}

	// Add GSI keys
	if result.WorkflowID != "" {
		item[AttrGSI1PK] = &types.AttributeValueMemberS{
			Value: resultGSI1PK(result.WorkflowID),
		}
		item[AttrGSI1SK] = &types.AttributeValueMemberS{
			Value: resultGSI1SK(string(result.Status), result.CompletedAt.Format(time.RFC3339)),
		}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save workflow result: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) GetResult(ctx context.Context, runID string) (*stepflow.WorkflowResult, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: resultPK(runID)},
			AttrSK: &types.AttributeValueMemberS{Value: resultSK()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow result: %w", err)
	}

	if out.Item == nil {
		return nil, fmt.Errorf("workflow result %s not found", runID)
	}

	var result stepflow.WorkflowResult
	if err := attributevalue.UnmarshalMap(out.Item, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow result: %w", err)
	}

	return &result, nil
}

func (s *DynamoDBStore) ListResults(ctx context.Context, filter stepflow.HistoryFilter) ([]*stepflow.WorkflowResult, error) {
	if filter.WorkflowID == "" {
		return nil, fmt.Errorf("listing results requires a workflow id")
	}

	keyCondition := "GSI1PK = :pk"
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: resultGSI1PK(filter.WorkflowID)},
	}
	if filter.Status != nil {
		keyCondition += " AND begins_with(GSI1SK, :sk)"
		values[":sk"] = &types.AttributeValueMemberS{Value: statusPrefix(string(*filter.Status))}
	}

	var results []*stepflow.WorkflowResult
	var lastEvaluatedKey map[string]types.AttributeValue

	// Paginate through all results
	for {
		queryInput := &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			IndexName:                 aws.String(IndexWorkflowIndex),
			KeyConditionExpression:    aws.String(keyCondition),
			ExpressionAttributeValues: values,
		}
		if filter.Limit > 0 {
			remaining := filter.Limit - len(results)
			queryInput.Limit = aws.Int32(int32(remaining))
		}
		if lastEvaluatedKey != nil {
			queryInput.ExclusiveStartKey = lastEvaluatedKey
		}

		out, err := s.client.Query(ctx, queryInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list workflow results: %w", err)
		}

		for _, item := range out.Items {
			var result stepflow.WorkflowResult
			if err := attributevalue.UnmarshalMap(item, &result); err != nil {
				return nil, fmt.Errorf("failed to unmarshal workflow result: %w", err)
			}
			results = append(results, &result)
		}

		if filter.Limit > 0 && len(results) >= filter.Limit {
			return results[:filter.Limit], nil
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		lastEvaluatedKey = out.LastEvaluatedKey
	}

	return results, nil
}
