// Package dynamodb stores wishes in a single DynamoDB table.
//
// Each wish is written as two items in one transaction: a guard item keyed by
// id that enforces uniqueness, and a data item whose sort key orders wishes by
// creation time so the newest rows can be read with a single Query.
//
//	PK = USER#<username>  SK = ID#<wish id>                    (guard)
//	PK = USER#<username>  SK = WISH#<created ms, 13 digits>#<id> (data)
package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/domain/core/entities"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
)

const (
	entityWish  = "Wish"
	entityGuard = "WishID"
	wishPrefix  = "WISH#"
)

// API is the subset of the DynamoDB client the store calls.
type API interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type wishItem struct {
	PK         string  `dynamodbav:"PK"`
	SK         string  `dynamodbav:"SK"`
	EntityType string  `dynamodbav:"EntityType"`
	ID         string  `dynamodbav:"ID"`
	Name       string  `dynamodbav:"Name"`
	Message    string  `dynamodbav:"Message"`
	X          float64 `dynamodbav:"X"`
	Y          float64 `dynamodbav:"Y"`
	CreatedAt  int64   `dynamodbav:"CreatedAt"`
}

type guardItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
}

func userKey(username string) string {
	return "USER#" + username
}

func wishKey(w entities.Wish) string {
	return fmt.Sprintf("%s%013d#%s", wishPrefix, w.CreatedAt, w.ID)
}

func guardKey(id string) string {
	return "ID#" + id
}

// WishStore implements ports.WishStore on DynamoDB.
type WishStore struct {
	client    API
	tableName string
	logger    *zap.Logger
}

// NewWishStore creates a new DynamoDB wish store
func NewWishStore(client API, tableName string, logger *zap.Logger) *WishStore {
	return &WishStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// FetchRecent queries the newest limit wishes of username and returns them
// oldest first.
func (s *WishStore) FetchRecent(ctx context.Context, username string, limit int) ([]entities.Wish, error) {
	if limit <= 0 {
		return []entities.Wish{}, nil
	}

	keyCond := expression.Key("PK").Equal(expression.Value(userKey(username))).
		And(expression.Key("SK").BeginsWith(wishPrefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, pkgerrors.NewStoreError("fetch", fmt.Errorf("failed to build expression: %w", err))
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, pkgerrors.NewStoreError("fetch", err)
	}

	var items []wishItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, pkgerrors.NewStoreError("fetch", fmt.Errorf("failed to unmarshal items: %w", err))
	}

	wishes := make([]entities.Wish, len(items))
	for i, it := range items {
		wishes[len(items)-1-i] = entities.Wish{
			ID:        it.ID,
			Name:      it.Name,
			Message:   it.Message,
			X:         it.X,
			Y:         it.Y,
			CreatedAt: it.CreatedAt,
		}
	}

	s.logger.Debug("Fetched wishes",
		zap.String("username", username),
		zap.Int("count", len(wishes)))

	return wishes, nil
}

// Insert writes the guard and data items atomically. An existing guard makes
// the transaction fail with a duplicate key error.
func (s *WishStore) Insert(ctx context.Context, username string, wish entities.Wish) error {
	pk := userKey(username)

	data, err := attributevalue.MarshalMap(wishItem{
		PK:         pk,
		SK:         wishKey(wish),
		EntityType: entityWish,
		ID:         wish.ID,
		Name:       wish.Name,
		Message:    wish.Message,
		X:          wish.X,
		Y:          wish.Y,
		CreatedAt:  wish.CreatedAt,
	})
	if err != nil {
		return pkgerrors.NewStoreError("insert", fmt.Errorf("failed to marshal wish: %w", err))
	}

	guard, err := attributevalue.MarshalMap(guardItem{PK: pk, SK: guardKey(wish.ID), EntityType: entityGuard})
	if err != nil {
		return pkgerrors.NewStoreError("insert", fmt.Errorf("failed to marshal guard: %w", err))
	}

	expr, err := expression.NewBuilder().WithCondition(expression.Name("PK").AttributeNotExists()).Build()
	if err != nil {
		return pkgerrors.NewStoreError("insert", fmt.Errorf("failed to build expression: %w", err))
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:                 aws.String(s.tableName),
					Item:                      guard,
					ConditionExpression:       expr.Condition(),
					ExpressionAttributeNames:  expr.Names(),
					ExpressionAttributeValues: expr.Values(),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(s.tableName),
					Item:      data,
				},
			},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return pkgerrors.NewDuplicateKeyError(wish.ID, err)
		}
		return pkgerrors.NewStoreError("insert", err)
	}

	s.logger.Debug("Wish saved",
		zap.String("username", username),
		zap.String("wishID", wish.ID))

	return nil
}

// Ping describes the table.
func (s *WishStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			s.logger.Warn("DynamoDB ping failed",
				zap.String("table", s.tableName),
				zap.String("code", apiErr.ErrorCode()),
				zap.String("fault", apiErr.ErrorFault().String()))
		}
		return pkgerrors.NewUnavailableError("dynamodb", err)
	}
	return nil
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}
