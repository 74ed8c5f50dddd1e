package memo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// DynamoAPI captures the subset of DynamoDB client methods used by the store.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// dynamoStore items carry k (key), v (value), ea (expiry unix ms, 0 = never)
// and ver (a token rewritten on every put, used for compare-and-swap).
type dynamoStore struct {
	client DynamoAPI
	table  string
	prefix string
	list   indexedList
}

const (
	dynamoEnsureTableMaxAttempts = 20
	dynamoEnsureTableRetryDelay  = 150 * time.Millisecond
	dynamoIncrementRetries       = 16
	dynamoBatchWriteLimit        = 25
	dynamoUnprocessedRetries     = 8
	dynamoUnprocessedRetryDelay  = 20 * time.Millisecond

	dynamoCondAbsent   = "attribute_not_exists(k)"
	dynamoCondVersion  = "ver = :ver"
	dynamoCondReusable = "attribute_not_exists(k) OR (ea > :zero AND ea <= :now)"
)

func newDynamoStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	if cfg.DynamoClient == nil {
		client, err := newDynamoClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cfg.DynamoClient = client
	}
	if err := ensureDynamoTable(ctx, cfg.DynamoClient, cfg.DynamoTable); err != nil {
		return nil, err
	}
	s := &dynamoStore{
		client: cfg.DynamoClient,
		table:  cfg.DynamoTable,
		prefix: cfg.Prefix,
	}
	s.list = indexedList{get: s.Get, set: s.Set, incr: s.Increment}
	return s, nil
}

func newDynamoClient(ctx context.Context, cfg StoreConfig) (*dynamodb.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.DynamoRegion)}
	if cfg.DynamoEndpoint != "" {
		// dynamodb-local accepts any static credentials
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
		}
	}), nil
}

func (s *dynamoStore) Driver() Driver { return DriverDynamo }

func (s *dynamoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := s.getItem(ctx, key)
	if err != nil || item == nil {
		return nil, false, err
	}
	if dynamoExpired(item, time.Now().UnixMilli()) {
		return nil, false, nil
	}
	v, ok := item["v"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, false, errors.New("dynamodb item missing binary value")
	}
	return cloneBytes(v.Value), true, nil
}

func (s *dynamoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      s.item(key, value, ttl),
	})
	return err
}

func (s *dynamoStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                s.item(key, value, ttl),
		ConditionExpression: aws.String(dynamoCondReusable),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":now":  &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().UnixMilli(), 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Increment reads the current counter and writes the next value conditioned on
// the version token it read, retrying when another writer got there first.
func (s *dynamoStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	for attempt := 0; attempt < dynamoIncrementRetries; attempt++ {
		item, err := s.getItem(ctx, key)
		if err != nil {
			return 0, err
		}
		current := int64(0)
		input := &dynamodb.PutItemInput{TableName: aws.String(s.table)}
		if item == nil {
			input.ConditionExpression = aws.String(dynamoCondAbsent)
		} else {
			ver, _ := item["ver"].(*types.AttributeValueMemberS)
			if ver == nil {
				ver = &types.AttributeValueMemberS{}
			}
			input.ConditionExpression = aws.String(dynamoCondVersion)
			input.ExpressionAttributeValues = map[string]types.AttributeValue{":ver": ver}
			if !dynamoExpired(item, time.Now().UnixMilli()) {
				if v, ok := item["v"].(*types.AttributeValueMemberB); ok {
					current, err = strconv.ParseInt(string(v.Value), 10, 64)
					if err != nil {
						return 0, fmt.Errorf("memo key %q does not contain a numeric value", key)
					}
				}
			}
		}
		next := current + delta
		input.Item = s.item(key, []byte(strconv.FormatInt(next, 10)), ttl)
		if _, err := s.client.PutItem(ctx, input); err != nil {
			if isConditionFailed(err) {
				continue
			}
			return 0, err
		}
		return next, nil
	}
	return 0, errors.New("dynamodb increment exceeded retry limit")
}

func (s *dynamoStore) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return s.Increment(ctx, key, -delta, ttl)
}

func (s *dynamoStore) Append(ctx context.Context, key string, value []byte, ttl time.Duration) (int64, error) {
	return s.list.Append(ctx, key, value, ttl)
}

func (s *dynamoStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	return s.list.Range(ctx, key, start, stop)
}

func (s *dynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.keyAttr(s.cacheKey(key)),
	})
	return err
}

func (s *dynamoStore) DeleteMany(ctx context.Context, keys ...string) error {
	cacheKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		cacheKeys = append(cacheKeys, s.cacheKey(k))
	}
	return s.deleteRaw(ctx, cacheKeys)
}

// Flush scans the table and deletes every item under the store prefix.
func (s *dynamoStore) Flush(ctx context.Context) error {
	var lastEvaluatedKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.table),
			ProjectionExpression: aws.String("k"),
			ExclusiveStartKey:    lastEvaluatedKey,
		})
		if err != nil {
			return err
		}
		var keys []string
		for _, item := range out.Items {
			kv, ok := item["k"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if s.prefix != "" && !strings.HasPrefix(kv.Value, s.prefix+":") {
				continue
			}
			keys = append(keys, kv.Value)
		}
		if err := s.deleteRaw(ctx, keys); err != nil {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		lastEvaluatedKey = out.LastEvaluatedKey
	}
}

func (s *dynamoStore) deleteRaw(ctx context.Context, cacheKeys []string) error {
	for len(cacheKeys) > 0 {
		n := len(cacheKeys)
		if n > dynamoBatchWriteLimit {
			n = dynamoBatchWriteLimit
		}
		writes := make([]types.WriteRequest, 0, n)
		for _, k := range cacheKeys[:n] {
			writes = append(writes, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: s.keyAttr(k)},
			})
		}
		if err := s.batchWrite(ctx, writes); err != nil {
			return err
		}
		cacheKeys = cacheKeys[n:]
	}
	return nil
}

// batchWrite sends writes and resends whatever DynamoDB hands back as
// unprocessed until the batch drains or the retries run out.
func (s *dynamoStore) batchWrite(ctx context.Context, writes []types.WriteRequest) error {
	for attempt := 0; ; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table: writes},
		})
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		writes = out.UnprocessedItems[s.table]
		if len(writes) == 0 {
			return nil
		}
		if attempt >= dynamoUnprocessedRetries {
			return fmt.Errorf("dynamodb batch write left %d unprocessed items", len(writes))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * dynamoUnprocessedRetryDelay):
		}
	}
}

func (s *dynamoStore) getItem(ctx context.Context, key string) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.keyAttr(s.cacheKey(key)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	return out.Item, nil
}

func (s *dynamoStore) item(key string, value []byte, ttl time.Duration) map[string]types.AttributeValue {
	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixMilli()
	}
	return map[string]types.AttributeValue{
		"k":   &types.AttributeValueMemberS{Value: s.cacheKey(key)},
		"v":   &types.AttributeValueMemberB{Value: cloneBytes(value)},
		"ea":  &types.AttributeValueMemberN{Value: strconv.FormatInt(exp, 10)},
		"ver": &types.AttributeValueMemberS{Value: uuid.NewString()},
	}
}

func (s *dynamoStore) keyAttr(cacheKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"k": &types.AttributeValueMemberS{Value: cacheKey}}
}

func (s *dynamoStore) cacheKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func dynamoExpired(item map[string]types.AttributeValue, nowMs int64) bool {
	av, ok := item["ea"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	exp, err := strconv.ParseInt(av.Value, 10, 64)
	if err != nil {
		return false
	}
	return exp > 0 && nowMs >= exp
}

func isConditionFailed(err error) bool {
	var cce *types.ConditionalCheckFailedException
	return errors.As(err, &cce)
}

func ensureDynamoTable(ctx context.Context, client DynamoAPI, table string) error {
	var lastErr error
	for attempt := 1; attempt <= dynamoEnsureTableMaxAttempts; attempt++ {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err == nil {
			return nil
		}

		var rnfe *types.ResourceNotFoundException
		if errors.As(err, &rnfe) {
			_, createErr := client.CreateTable(ctx, &dynamodb.CreateTableInput{
				TableName: aws.String(table),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("k"), KeyType: types.KeyTypeHash},
				},
				AttributeDefinitions: []types.AttributeDefinition{
					{AttributeName: aws.String("k"), AttributeType: types.ScalarAttributeTypeS},
				},
				BillingMode: types.BillingModePayPerRequest,
			})
			if createErr == nil {
				return nil
			}
			var inUse *types.ResourceInUseException
			if errors.As(createErr, &inUse) {
				return nil
			}
			if !isDynamoStartupRetryable(createErr) {
				return createErr
			}
			lastErr = createErr
		} else {
			if !isDynamoStartupRetryable(err) {
				return err
			}
			lastErr = err
		}

		if attempt == dynamoEnsureTableMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dynamoEnsureTableRetryDelay):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("dynamo table ensure failed")
	}
	return fmt.Errorf("ensure dynamo table %q: %w", table, lastErr)
}

// isDynamoStartupRetryable matches transport errors seen while dynamodb-local boots.
func isDynamoStartupRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "request send failed") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "eof")
}
