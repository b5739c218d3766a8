// Package repository implements the caller directory on DynamoDB. One
// item per phone number; a conditional put keeps concurrent first calls
// from the same number from creating two records.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"voice-agent/internal/domain"
)

const skProfile = "PROFILE#"

// dynamodbAPI is the minimal DynamoDB interface required by Directory.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Directory wraps a DynamoDB table holding caller records.
type Directory struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new Directory.
func New(api dynamodbAPI, tableName string) (*Directory, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Directory{api: api, tableName: tableName}, nil
}

// callerPK returns the partition key for a phone number. It doubles as
// the record ID handed to consumers, who treat it as opaque.
func callerPK(phone string) string {
	return "CALLER#" + phone
}

// LookupOrCreate returns the record for phone, creating it on first
// contact. Creation uses attribute_not_exists, so when two turns race the
// loser re-reads and both converge on the same record.
func (d *Directory) LookupOrCreate(ctx context.Context, phone string) (domain.CallerRecord, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return domain.CallerRecord{}, errors.New("repository: phone must not be empty")
	}

	rec, found, err := d.get(ctx, phone)
	if err != nil {
		return domain.CallerRecord{}, err
	}
	if found {
		return rec, nil
	}

	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]types.AttributeValue{
			"PK":          &types.AttributeValueMemberS{Value: callerPK(phone)},
			"SK":          &types.AttributeValueMemberS{Value: skProfile},
			"phoneNumber": &types.AttributeValueMemberS{Value: phone},
			"createdAt":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if !errors.As(err, &conditionFailed) {
			return domain.CallerRecord{}, fmt.Errorf("repository: LookupOrCreate put: %w", err)
		}
		// Lost the race; the winner's record is authoritative.
		rec, found, err = d.get(ctx, phone)
		if err != nil {
			return domain.CallerRecord{}, err
		}
		if !found {
			return domain.CallerRecord{}, errors.New("repository: caller vanished after conditional put")
		}
		return rec, nil
	}

	return domain.CallerRecord{ID: callerPK(phone), PhoneNumber: phone}, nil
}

// SetDisplayName records the caller's name. The write only applies while
// the name is still absent; a concurrent earlier write wins silently.
func (d *Directory) SetDisplayName(ctx context.Context, id, name string) error {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return errors.New("repository: id and name are required")
	}

	_, err := d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: id},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		UpdateExpression:    aws.String("SET displayName = :name"),
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_not_exists(displayName)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil
		}
		return fmt.Errorf("repository: SetDisplayName update: %w", err)
	}
	return nil
}

// SetName satisfies the caller directory interface consumed by the turn
// orchestrator.
func (d *Directory) SetName(ctx context.Context, id, name string) error {
	return d.SetDisplayName(ctx, id, name)
}

func (d *Directory) get(ctx context.Context, phone string) (domain.CallerRecord, bool, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: callerPK(phone)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.CallerRecord{}, false, fmt.Errorf("repository: get caller: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.CallerRecord{}, false, nil
	}
	rec, err := itemToCaller(out.Item)
	if err != nil {
		return domain.CallerRecord{}, false, err
	}
	return rec, true, nil
}

func itemToCaller(item map[string]types.AttributeValue) (domain.CallerRecord, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.CallerRecord{}, err
	}
	phone, err := strAttr(item, "phoneNumber")
	if err != nil {
		return domain.CallerRecord{}, err
	}
	name, _ := strAttr(item, "displayName") // absent until learned

	return domain.CallerRecord{ID: pk, PhoneNumber: phone, DisplayName: name}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
