package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/hupe1980/sqldir/store"
)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ErrLockLost is returned by Release when another owner replaced the lock.
var ErrLockLost = fmt.Errorf("%w: lock held by another owner", store.ErrInvalidState)

const (
	attrLockKey  = "lock_key"
	attrOwner    = "owner"
	attrAcquired = "acquired_at"
)

func newOwnerID() string { return uuid.NewString() }

// dynamoLock is held while an item keyed by the lock exists. Obtain is a
// conditional put, which S3 alone cannot provide.
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name sqldir-locks \
//	  --attribute-definitions AttributeName=lock_key,AttributeType=S \
//	  --key-schema AttributeName=lock_key,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type dynamoLock struct {
	dir   *Directory
	key   string
	owner string
	held  bool
}

func (l *dynamoLock) item() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrLockKey: &types.AttributeValueMemberS{Value: l.key},
	}
}

func (l *dynamoLock) Obtain(ctx context.Context) (bool, error) {
	if err := l.dir.check(); err != nil {
		return false, err
	}
	item := l.item()
	item[attrOwner] = &types.AttributeValueMemberS{Value: l.owner}
	item[attrAcquired] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().UnixMilli(), 10)}

	_, err := l.dir.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.dir.lockTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(" + attrLockKey + ")"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, store.WrapIO("lock", l.key, err)
	}
	l.held = true
	return true, nil
}

func (l *dynamoLock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	_, err := l.dir.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(l.dir.lockTable),
		Key:                 l.item(),
		ConditionExpression: aws.String("#o = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#o": attrOwner,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: l.owner},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrLockLost
		}
		return store.WrapIO("unlock", l.key, err)
	}
	return nil
}

func (l *dynamoLock) IsLocked(ctx context.Context) (bool, error) {
	resp, err := l.dir.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.dir.lockTable),
		Key:            l.item(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, store.WrapIO("lock status", l.key, err)
	}
	return len(resp.Item) > 0, nil
}
