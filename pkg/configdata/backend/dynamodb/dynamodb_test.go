package dynamodb

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/testutil"
)

type fakeClient struct {
	items   map[string]map[string]types.AttributeValue
	lastIn  *dynamodb.GetItemInput
	err     error
	pingErr error
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	key := in.Key["id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[aws.ToString(in.TableName)+"/"+key]}, nil
}

func (f *fakeClient) ListTables(context.Context, *dynamodb.ListTablesInput, ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	return &dynamodb.ListTablesOutput{}, f.pingErr
}

func newFake() *fakeClient {
	return &fakeClient{items: map[string]map[string]types.AttributeValue{
		"config/orders": {
			"id":        &types.AttributeValueMemberS{Value: "orders"},
			"vault-key": &types.AttributeValueMemberS{Value: "config data works"},
			"workers":   &types.AttributeValueMemberN{Value: "4"},
			"ratio":     &types.AttributeValueMemberN{Value: "0.5"},
			"enabled":   &types.AttributeValueMemberBOOL{Value: true},
			"db": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
				"host": &types.AttributeValueMemberS{Value: "db.internal"},
			}},
			"hosts": &types.AttributeValueMemberL{Value: []types.AttributeValue{
				&types.AttributeValueMemberS{Value: "a"},
				&types.AttributeValueMemberS{Value: "b"},
			}},
			"unset": &types.AttributeValueMemberNULL{Value: true},
		},
	}}
}

func TestFetch_ConvertsAttributes(t *testing.T) {
	fake := newFake()
	backend := newBackend(fake, Config{}, testutil.NewMockLogger())

	got, err := backend.Fetch(context.Background(), "config/orders")
	require.NoError(t, err)

	assert.NotContains(t, got, "id")
	assert.Equal(t, "config data works", got["vault-key"])
	assert.Equal(t, int64(4), got["workers"])
	assert.Equal(t, 0.5, got["ratio"])
	assert.Equal(t, true, got["enabled"])
	assert.Equal(t, map[string]any{"host": "db.internal"}, got["db"])
	assert.Equal(t, []any{"a", "b"}, got["hosts"])
	assert.Nil(t, got["unset"])
	assert.True(t, aws.ToBool(fake.lastIn.ConsistentRead))
}

func TestFetch_FlattensThroughResolver(t *testing.T) {
	backend := newBackend(newFake(), Config{}, testutil.NewMockLogger())
	resolver := configdata.NewResolver(configdata.NewFetcher(configdata.WithBackend(Scheme, backend)))

	env, err := resolver.Resolve(context.Background(), []string{"dynamodb:config/orders"}, configdata.Layers{})
	require.NoError(t, err)

	host, found, err := env.GetString("db.host")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "db.internal", host)
	second, _, err := env.GetString("hosts.1")
	require.NoError(t, err)
	assert.Equal(t, "b", second)
}

func TestFetch_NotFound(t *testing.T) {
	backend := newBackend(newFake(), Config{}, testutil.NewMockLogger())
	_, err := backend.Fetch(context.Background(), "config/billing")
	assert.ErrorIs(t, err, configdata.ErrNotFound)

	missingTable := &fakeClient{err: &types.ResourceNotFoundException{Message: aws.String("no table")}}
	_, err = newBackend(missingTable, Config{}, testutil.NewMockLogger()).Fetch(context.Background(), "absent/orders")
	assert.ErrorIs(t, err, configdata.ErrNotFound)
}

func TestFetch_Errors(t *testing.T) {
	backend := newBackend(newFake(), Config{}, testutil.NewMockLogger())
	for _, path := range []string{"", "config", "/orders", "config/"} {
		_, err := backend.Fetch(context.Background(), path)
		assert.Error(t, err, path)
	}

	boom := errors.New("throttled")
	_, err := newBackend(&fakeClient{err: boom}, Config{}, testutil.NewMockLogger()).Fetch(context.Background(), "config/orders")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, configdata.ErrNotFound)
}

func TestFetch_CustomPartitionKey(t *testing.T) {
	fake := &fakeClient{}
	backend := newBackend(fake, Config{PartitionKey: "application"}, testutil.NewMockLogger())
	fake.err = errors.New("stop")
	_, _ = backend.Fetch(context.Background(), "config/orders")
	require.NotNil(t, fake.lastIn)
	assert.Contains(t, fake.lastIn.Key, "application")
}

func TestPing(t *testing.T) {
	fake := newFake()
	backend := newBackend(fake, Config{}, testutil.NewMockLogger())
	require.NoError(t, backend.Ping(context.Background()))

	fake.pingErr = errors.New("unreachable")
	assert.ErrorIs(t, backend.Ping(context.Background()), fake.pingErr)
}

func TestNew_RequiresRegion(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	assert.Error(t, err)
}
