package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/raggo/blobstore"
)

// CurrentKey is the pointer blob routed through DynamoDB.
const CurrentKey = "CURRENT"

// ErrConcurrentModification is returned when a concurrent write is detected.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Compile-time check that DDBCommitStore satisfies the blobstore contract.
var _ blobstore.Store = (*DDBCommitStore)(nil)

// DDBCommitStore wraps an S3 Store with a DynamoDB commit log for the CURRENT
// pointer. S3 has no compare-and-swap, so concurrent replicators racing on
// CURRENT could silently lose a snapshot pointer; DynamoDB conditional writes
// provide the missing atomicity. All other blobs pass straight through to S3.
//
// Table schema:
//   - Partition key: base_uri (string) - the replication target identity
//   - Sort key: version (number) - monotonically increasing commit version
type DDBCommitStore struct {
	store     *Store
	ddbClient DDBClient
	tableName string
	baseURI   string
}

// NewDDBCommitStore creates a new S3+DynamoDB commit store.
// The baseURI should be "s3://bucket/prefix" format used as partition key.
func NewDDBCommitStore(store *Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		store:     store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Put writes a blob. For CURRENT, the pointer is committed through a DynamoDB
// conditional write instead of an S3 object.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == CurrentKey {
		return s.commitVersion(ctx, string(data))
	}
	return s.store.Put(ctx, name, data)
}

// Open opens a blob for reading. For CURRENT, the latest committed pointer is
// read from DynamoDB.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if name == CurrentKey {
		version, target, err := s.latestVersion(ctx)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			return nil, blobstore.ErrNotFound
		}
		return io.NopCloser(bytes.NewReader([]byte(target))), nil
	}
	return s.store.Open(ctx, name)
}

// Delete removes a blob. The commit log itself is never deleted.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	if name == CurrentKey {
		return nil
	}
	return s.store.Delete(ctx, name)
}

// List returns all blob names with the given prefix, sorted.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.store.List(ctx, prefix)
}

// latestVersion queries DynamoDB for the latest committed version.
func (s *DDBCommitStore) latestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commit log: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in commit log")
	}
	targetAttr, ok := item["target"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid target attribute in commit log")
	}

	var version uint64
	if _, err := fmt.Sscanf(versionAttr.Value, "%d", &version); err != nil {
		return 0, "", fmt.Errorf("parse commit version: %w", err)
	}

	return version, targetAttr.Value, nil
}

// commitVersion atomically commits a new pointer target using a DynamoDB
// conditional write.
func (s *DDBCommitStore) commitVersion(ctx context.Context, target string) error {
	currentVersion, _, err := s.latestVersion(ctx)
	if err != nil {
		return err
	}

	newVersion := currentVersion + 1

	// Conditional put: only succeed if this version doesn't exist yet.
	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", newVersion)},
			"target":   &types.AttributeValueMemberS{Value: target},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit pointer version: %w", err)
	}

	return nil
}
