package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	getOut        *dynamodb.GetItemOutput
	getErr        error
	putErr        error
	updateErr     error
	lastGetInput  *dynamodb.GetItemInput
	lastPutInput  *dynamodb.PutItemInput
	lastUpdateIn  *dynamodb.UpdateItemInput
	putCalls      int
	onPut         func(*fakeDynamo)
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	f.putCalls++
	if f.onPut != nil {
		f.onPut(f)
	}
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func callerItem(phone, name string) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: callerPK(phone)},
		"SK":          &types.AttributeValueMemberS{Value: skProfile},
		"phoneNumber": &types.AttributeValueMemberS{Value: phone},
	}
	if name != "" {
		item["displayName"] = &types.AttributeValueMemberS{Value: name}
	}
	return item
}

func mustNewDirectory(t *testing.T, db dynamodbAPI) *Directory {
	t.Helper()
	d, err := New(db, "callers")
	require.NoError(t, err)
	return d
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "callers")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, " ")
	require.Error(t, err)
}

func TestLookupOrCreate_ExistingCaller(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: callerItem("+491701234567", "Anna")}}
	d := mustNewDirectory(t, db)

	rec, err := d.LookupOrCreate(context.Background(), "+491701234567")
	require.NoError(t, err)
	require.Equal(t, "CALLER#+491701234567", rec.ID)
	require.Equal(t, "Anna", rec.DisplayName)
	require.Zero(t, db.putCalls)
}

func TestLookupOrCreate_CreatesOnMiss(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	d := mustNewDirectory(t, db)

	rec, err := d.LookupOrCreate(context.Background(), "+491701234567")
	require.NoError(t, err)
	require.Equal(t, "CALLER#+491701234567", rec.ID)
	require.Equal(t, "+491701234567", rec.PhoneNumber)
	require.Empty(t, rec.DisplayName)
	require.Equal(t, 1, db.putCalls)
	require.Equal(t, "attribute_not_exists(PK)", *db.lastPutInput.ConditionExpression)
}

func TestLookupOrCreate_LostRace_ReturnsWinnersRecord(t *testing.T) {
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{},
		putErr: &types.ConditionalCheckFailedException{},
	}
	// After the conditional put fails, the re-read sees the winner's item.
	db.onPut = func(f *fakeDynamo) {
		f.getOut = &dynamodb.GetItemOutput{Item: callerItem("+491701234567", "")}
	}
	d := mustNewDirectory(t, db)

	rec, err := d.LookupOrCreate(context.Background(), "+491701234567")
	require.NoError(t, err)
	require.Equal(t, "CALLER#+491701234567", rec.ID)
}

func TestLookupOrCreate_PutError(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}, putErr: errors.New("throughput exceeded")}
	d := mustNewDirectory(t, db)

	_, err := d.LookupOrCreate(context.Background(), "+491701234567")
	require.Error(t, err)
	require.Contains(t, err.Error(), "LookupOrCreate put")
}

func TestLookupOrCreate_GetError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("dynamodb down")}
	d := mustNewDirectory(t, db)

	_, err := d.LookupOrCreate(context.Background(), "+491701234567")
	require.Error(t, err)
}

func TestLookupOrCreate_EmptyPhone(t *testing.T) {
	d := mustNewDirectory(t, &fakeDynamo{})
	_, err := d.LookupOrCreate(context.Background(), "  ")
	require.Error(t, err)
}

func TestSetName_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	d := mustNewDirectory(t, db)

	require.NoError(t, d.SetName(context.Background(), "CALLER#+491701234567", "Anna"))
	require.NotNil(t, db.lastUpdateIn)
	require.Contains(t, *db.lastUpdateIn.ConditionExpression, "attribute_not_exists(displayName)")
}

func TestSetName_AlreadyNamed_IsSilentNoop(t *testing.T) {
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	d := mustNewDirectory(t, db)

	require.NoError(t, d.SetName(context.Background(), "CALLER#+491701234567", "Max"))
}

func TestSetName_UpdateError(t *testing.T) {
	db := &fakeDynamo{updateErr: errors.New("dynamodb down")}
	d := mustNewDirectory(t, db)

	err := d.SetName(context.Background(), "CALLER#+491701234567", "Anna")
	require.Error(t, err)
}

// inMemoryDynamo emulates just enough conditional-put semantics to show two
// racing first calls converge on one record.
type inMemoryDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func (m *inMemoryDynamo) key(in map[string]types.AttributeValue) string {
	pk := in["PK"].(*types.AttributeValueMemberS).Value
	sk := in["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (m *inMemoryDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[m.key(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (m *inMemoryDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(in.Item)
	if _, exists := m.items[k]; exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	m.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *inMemoryDynamo) UpdateItem(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return &dynamodb.UpdateItemOutput{}, nil
}

func TestLookupOrCreate_ConcurrentFirstCalls_ConvergeOnOneRecord(t *testing.T) {
	db := &inMemoryDynamo{items: make(map[string]map[string]types.AttributeValue)}
	d := mustNewDirectory(t, db)

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := d.LookupOrCreate(context.Background(), "+491701234567")
			require.NoError(t, err)
			ids[i] = rec.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	db.mu.Lock()
	require.Len(t, db.items, 1)
	db.mu.Unlock()
}
