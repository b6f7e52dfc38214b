package dedupe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB item attributes
const (
	attrKey       = "pk"
	attrExpiresAt = "expiresAt" // epoch seconds; also the table's TTL attribute
	attrClaimedAt = "claimedAt"
)

// claimCondition admits a new claim, or one replacing an expired claim that
// the table's TTL reaper has not removed yet
const claimCondition = "attribute_not_exists(" + attrKey + ") OR " + attrExpiresAt + " < :now"

// DynamoDBAPI is the subset of the DynamoDB client the store uses
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBStore claims keys with conditional PutItem calls
type DynamoDBStore struct {
	client DynamoDBAPI
	table  string
	ttl    time.Duration
	now    func() time.Time
}

func NewDynamoDBStore(client DynamoDBAPI, table string, ttl time.Duration) *DynamoDBStore {
	return &DynamoDBStore{
		client: client,
		table:  table,
		ttl:    ttl,
		now:    time.Now,
	}
}

// NewDynamoDBStoreFromConfig builds a client from the default AWS credential
// chain
func NewDynamoDBStoreFromConfig(ctx context.Context, region, table string, ttl time.Duration) (*DynamoDBStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), table, ttl), nil
}

func (s *DynamoDBStore) Claim(ctx context.Context, key string) (bool, error) {
	now := s.now()

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			attrKey:       &types.AttributeValueMemberS{Value: key},
			attrExpiresAt: epochSeconds(now.Add(s.ttl)),
			attrClaimedAt: epochSeconds(now),
		},
		ConditionExpression: aws.String(claimCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": epochSeconds(now),
		},
	})

	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *DynamoDBStore) Release(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			attrKey: &types.AttributeValueMemberS{Value: key},
		},
	})
	return err
}

func (s *DynamoDBStore) Close() error {
	return nil
}

func epochSeconds(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}
