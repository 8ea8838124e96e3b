package store

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow"
)

// fakeDynamoClient captures inputs and replays canned responses
type fakeDynamoClient struct {
	putInputs   []*dynamodb.PutItemInput
	getInput    *dynamodb.GetItemInput
	getOutput   *dynamodb.GetItemOutput
	queryInputs []*dynamodb.QueryInput
	queryPages  []*dynamodb.QueryOutput
	err         error
}

func (f *fakeDynamoClient) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInputs = append(f.putInputs, in)
	return &dynamodb.PutItemOutput{}, f.err
}

func (f *fakeDynamoClient) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getInput = in
	if f.err != nil {
		return nil, f.err
	}
	if f.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOutput, nil
}

func (f *fakeDynamoClient) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.queryPages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := f.queryPages[0]
	f.queryPages = f.queryPages[1:]
	return page, nil
}

func marshalResult(t *testing.T, result *stepflow.WorkflowResult) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(result)
	require.NoError(t, err)
	return item
}

func stringAttr(t *testing.T, item map[string]types.AttributeValue, name string) string {
	t.Helper()
	attr, ok := item[name].(*types.AttributeValueMemberS)
	require.True(t, ok, "attribute %s missing or not a string", name)
	return attr.Value
}

func TestDynamoDBStore_SaveResultWritesKeys(t *testing.T) {
	client := &fakeDynamoClient{}
	s := NewDynamoDBStore(client, "stepflow-history")
	completed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	err := s.SaveResult(context.Background(), sampleResult("run-1", "wf-1", stepflow.StatusCompleted, completed))

	require.NoError(t, err)
	require.Len(t, client.putInputs, 1)
	put := client.putInputs[0]
	assert.Equal(t, "stepflow-history", *put.TableName)
	assert.Equal(t, "RESULT#run-1", stringAttr(t, put.Item, AttrPK))
	assert.Equal(t, "META", stringAttr(t, put.Item, AttrSK))
	assert.Equal(t, EntityTypeWorkflowResult, stringAttr(t, put.Item, AttrEntityType))
	assert.Equal(t, "WF#wf-1", stringAttr(t, put.Item, AttrGSI1PK))
	assert.Equal(t, "STATUS#COMPLETED#2025-06-01T12:00:00Z", stringAttr(t, put.Item, AttrGSI1SK))
}

func TestDynamoDBStore_SaveResultWithoutWorkflowIDSkipsIndex(t *testing.T) {
	client := &fakeDynamoClient{}
	s := NewDynamoDBStore(client, "stepflow-history")

	err := s.SaveResult(context.Background(), sampleResult("run-1", "", stepflow.StatusCompleted, time.Now()))

	require.NoError(t, err)
	require.Len(t, client.putInputs, 1)
	_, hasGSI := client.putInputs[0].Item[AttrGSI1PK]
	assert.False(t, hasGSI)
}

func TestDynamoDBStore_GetResult(t *testing.T) {
	stored := sampleResult("run-1", "wf-1", stepflow.StatusFailed, time.Now())
	client := &fakeDynamoClient{
		getOutput: &dynamodb.GetItemOutput{Item: marshalResult(t, stored)},
	}
	s := NewDynamoDBStore(client, "stepflow-history")

	result, err := s.GetResult(context.Background(), "run-1")

	require.NoError(t, err)
	assert.Equal(t, "wf-1", result.WorkflowID)
	assert.Equal(t, stepflow.StatusFailed, result.Status)
	assert.Equal(t, "RESULT#run-1", stringAttr(t, client.getInput.Key, AttrPK))
	assert.Equal(t, "META", stringAttr(t, client.getInput.Key, AttrSK))
}

func TestDynamoDBStore_GetResultNotFound(t *testing.T) {
	client := &fakeDynamoClient{}
	s := NewDynamoDBStore(client, "stepflow-history")

	_, err := s.GetResult(context.Background(), "missing")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDynamoDBStore_ListResultsQueriesIndex(t *testing.T) {
	client := &fakeDynamoClient{
		queryPages: []*dynamodb.QueryOutput{
			{Items: []map[string]types.AttributeValue{
				marshalResult(t, sampleResult("run-1", "wf-1", stepflow.StatusCompleted, time.Now())),
				marshalResult(t, sampleResult("run-2", "wf-1", stepflow.StatusCompleted, time.Now())),
			}},
		},
	}
	s := NewDynamoDBStore(client, "stepflow-history")

	results, err := s.ListResults(context.Background(), stepflow.HistoryFilter{WorkflowID: "wf-1"})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "run-1", results[0].RunID)

	require.Len(t, client.queryInputs, 1)
	query := client.queryInputs[0]
	assert.Equal(t, IndexWorkflowIndex, *query.IndexName)
	assert.Equal(t, "GSI1PK = :pk", *query.KeyConditionExpression)
	pk := query.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS)
	assert.Equal(t, "WF#wf-1", pk.Value)
}

func TestDynamoDBStore_ListResultsWithStatusPrefix(t *testing.T) {
	client := &fakeDynamoClient{}
	s := NewDynamoDBStore(client, "stepflow-history")

	_, err := s.ListResults(context.Background(), stepflow.HistoryFilter{WorkflowID: "wf-1", Status: stepflow.ToPtr(stepflow.StatusFailed)})

	require.NoError(t, err)
	require.Len(t, client.queryInputs, 1)
	query := client.queryInputs[0]
	assert.Equal(t, "GSI1PK = :pk AND begins_with(GSI1SK, :sk)", *query.KeyConditionExpression)
	sk := query.ExpressionAttributeValues[":sk"].(*types.AttributeValueMemberS)
	assert.Equal(t, "STATUS#FAILED#", sk.Value)
}

func TestDynamoDBStore_ListResultsPaginates(t *testing.T) {
	startKey := map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: "RESULT#run-1"},
	}
	client := &fakeDynamoClient{
		queryPages: []*dynamodb.QueryOutput{
			{
				Items:            []map[string]types.AttributeValue{marshalResult(t, sampleResult("run-1", "wf-1", stepflow.StatusCompleted, time.Now()))},
				LastEvaluatedKey: startKey,
			},
			{
				Items: []map[string]types.AttributeValue{marshalResult(t, sampleResult("run-2", "wf-1", stepflow.StatusCompleted, time.Now()))},
			},
		},
	}
	s := NewDynamoDBStore(client, "stepflow-history")

	results, err := s.ListResults(context.Background(), stepflow.HistoryFilter{WorkflowID: "wf-1"})

	require.NoError(t, err)
	assert.Len(t, results, 2)
	require.Len(t, client.queryInputs, 2)
	assert.Nil(t, client.queryInputs[0].ExclusiveStartKey)
	assert.Equal(t, startKey, client.queryInputs[1].ExclusiveStartKey)
}

func TestDynamoDBStore_ListResultsHonorsLimit(t *testing.T) {
	client := &fakeDynamoClient{
		queryPages: []*dynamodb.QueryOutput{
			{Items: []map[string]types.AttributeValue{
				marshalResult(t, sampleResult("run-1", "wf-1", stepflow.StatusCompleted, time.Now())),
				marshalResult(t, sampleResult("run-2", "wf-1", stepflow.StatusCompleted, time.Now())),
			}},
		},
	}
	s := NewDynamoDBStore(client, "stepflow-history")

	results, err := s.ListResults(context.Background(), stepflow.HistoryFilter{WorkflowID: "wf-1", Limit: 1})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "run-1", results[0].RunID)
	assert.Equal(t, int32(1), *client.queryInputs[0].Limit)
}

func TestDynamoDBStore_ListResultsRequiresWorkflowID(t *testing.T) {
	s := NewDynamoDBStore(&fakeDynamoClient{}, "stepflow-history")

	_, err := s.ListResults(context.Background(), stepflow.HistoryFilter{})
	assert.Error(t, err)
}
