package turnstile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Limiter decides whether key may make another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a fixed-window counter held in process memory.
type MemoryLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*window
	calls   int
}

// NewMemoryLimiter allows max requests per key in each window.
func NewMemoryLimiter(max int, win time.Duration) *MemoryLimiter {
	if max <= 0 {
		max = 5
	}
	if win <= 0 {
		win = time.Minute
	}
	return &MemoryLimiter{max: max, window: win, now: time.Now, entries: map[string]*window{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%256 == 0 {
		for k, e := range l.entries {
			if now.After(e.resetAt) {
				delete(l.entries, k)
			}
		}
	}

	e, ok := l.entries[key]
	if !ok || now.After(e.resetAt) {
		l.entries[key] = &window{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}
	if e.count >= l.max {
		return false, nil
	}
	e.count++
	return true, nil
}

type limitItemKey struct {
	LimitKey string `dynamodbav:"limitKey"`
}

type dynamoAPI interface {
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoLimiter keeps fixed-window counters in DynamoDB so the limit holds
// across Lambda instances. Items expire through the table's TTL on expiresAt.
type DynamoLimiter struct {
	client dynamoAPI
	table  string
	max    int
	window time.Duration
	now    func() time.Time
}

func NewDynamoLimiter(client dynamoAPI, table string, max int, win time.Duration) *DynamoLimiter {
	if client == nil {
		panic("turnstile: dynamodb client cannot be nil")
	}
	if table == "" {
		panic("turnstile: table name cannot be empty")
	}
	if max <= 0 {
		max = 5
	}
	if win <= 0 {
		win = time.Minute
	}
	return &DynamoLimiter{client: client, table: table, max: max, window: win, now: time.Now}
}

func (l *DynamoLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()
	bucket := now.UnixNano() / int64(l.window)
	windowEnd := time.Unix(0, (bucket+1)*int64(l.window))

	itemKey, err := attributevalue.MarshalMap(limitItemKey{LimitKey: key + "#" + strconv.FormatInt(bucket, 10)})
	if err != nil {
		return false, fmt.Errorf("turnstile: marshal key: %w", err)
	}
	values, err := attributevalue.MarshalMap(map[string]any{
		":one": 1,
		":max": l.max,
		":exp": windowEnd.Add(l.window).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("turnstile: marshal values: %w", err)
	}

	_, err = l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(l.table),
		Key:                       itemKey,
		UpdateExpression:          aws.String("ADD requestCount :one SET expiresAt = if_not_exists(expiresAt, :exp)"),
		ConditionExpression:       aws.String("attribute_not_exists(requestCount) OR requestCount < :max"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("turnstile: rate limit update: %w", err)
	}
	return true, nil
}
