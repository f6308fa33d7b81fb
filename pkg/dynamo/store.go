// Package dynamo provides a kv.Store on a single DynamoDB table, partitioned
// by logical table name and sorted by key.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/pkg/kv"
)

var _ kv.Store = (*Store)(nil)

// item is the stored shape: pk is the logical table, sk the key
type item struct {
	PK      string `dynamodbav:"pk"`
	SK      string `dynamodbav:"sk"`
	Value   []byte `dynamodbav:"val"`
	Version int64  `dynamodbav:"ver"`
}

// Options configures the DynamoDB client
type Options struct {
	Table        string
	Region       string
	Endpoint     string
	PollInterval time.Duration
}

type Store struct {
	client       *dynamodb.Client
	table        string
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewStore loads AWS credentials the standard way (env, shared config, role)
// and points the client at opts.Endpoint when set, e.g. DynamoDB Local
func NewStore(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	return &Store{
		client:       client,
		table:        opts.Table,
		pollInterval: opts.PollInterval,
		logger:       logger,
	}, nil
}

func (s *Store) Close() error {
	return nil
}

// CreateTable creates the backing table if it does not exist and waits for
// it to become active
func (s *Store) CreateTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table '%s': %w", s.table, err)
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create table '%s': %w", s.table, err)
	}

	s.logger.Info("Created DynamoDB table", zap.String("table", s.table))

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, 2*time.Minute); err != nil {
		return fmt.Errorf("table '%s' did not become active: %w", s.table, err)
	}
	return nil
}

func (s *Store) itemKey(table, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: table},
		"sk": &types.AttributeValueMemberS{Value: key},
	}
}

func (s *Store) Get(ctx context.Context, table, key string) (kv.Entry, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.itemKey(table, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return kv.Entry{}, fmt.Errorf("failed to get %s/%s: %w", table, key, err)
	}
	if out.Item == nil {
		return kv.Entry{}, kv.ErrNotFound
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return kv.Entry{}, fmt.Errorf("failed to unmarshal %s/%s: %w", table, key, err)
	}
	return kv.Entry{Key: it.SK, Value: it.Value, Version: it.Version}, nil
}

func (s *Store) Put(ctx context.Context, table, key string, value []byte) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              s.itemKey(table, key),
		UpdateExpression: aws.String("SET #val = :val, #ver = if_not_exists(#ver, :zero) + :one"),
		ExpressionAttributeNames: map[string]string{
			"#val": "val",
			"#ver": "ver",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":val":  &types.AttributeValueMemberB{Value: value},
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":one":  &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to put %s/%s: %w", table, key, err)
	}

	return versionFrom(out.Attributes)
}

func (s *Store) CompareAndSet(ctx context.Context, table, key string, expected int64, value []byte) (int64, error) {
	var err error
	if expected == 0 {
		var av map[string]types.AttributeValue
		av, err = attributevalue.MarshalMap(item{PK: table, SK: key, Value: value, Version: 1})
		if err != nil {
			return 0, fmt.Errorf("failed to marshal %s/%s: %w", table, key, err)
		}
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.table),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		})
	} else {
		_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(s.table),
			Key:                 s.itemKey(table, key),
			UpdateExpression:    aws.String("SET #val = :val, #ver = :next"),
			ConditionExpression: aws.String("#ver = :expected"),
			ExpressionAttributeNames: map[string]string{
				"#val": "val",
				"#ver": "ver",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":val":      &types.AttributeValueMemberB{Value: value},
				":next":     &types.AttributeValueMemberN{Value: strconv.FormatInt(expected+1, 10)},
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
			},
		})
	}

	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return 0, kv.ErrVersionMismatch
	}
	if err != nil {
		return 0, fmt.Errorf("failed to compare-and-set %s/%s: %w", table, key, err)
	}
	return expected + 1, nil
}

func (s *Store) List(ctx context.Context, table, prefix string) ([]kv.Entry, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: table},
		},
		ConsistentRead: aws.Bool(true),
	}
	if prefix != "" {
		input.KeyConditionExpression = aws.String("pk = :pk AND begins_with(sk, :prefix)")
		input.ExpressionAttributeValues[":prefix"] = &types.AttributeValueMemberS{Value: prefix}
	}

	var entries []kv.Entry
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", table, err)
		}

		var items []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s page: %w", table, err)
		}
		for _, it := range items {
			entries = append(entries, kv.Entry{Key: it.SK, Value: it.Value, Version: it.Version})
		}
	}

	return entries, nil
}

func (s *Store) Watch(ctx context.Context, table string) (<-chan kv.Change, error) {
	list := func(ctx context.Context, table string) ([]kv.Entry, error) {
		return s.List(ctx, table, "")
	}
	return kv.Poll(ctx, list, table, s.pollInterval, s.logger), nil
}

func versionFrom(attrs map[string]types.AttributeValue) (int64, error) {
	n, ok := attrs["ver"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("update returned no version")
	}
	return strconv.ParseInt(n.Value, 10, 64)
}
