// Package dynamo stores the dataset catalog in a DynamoDB table.
//
// Table schema:
//   - Partition key: dataset_name (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name bitlens-datasets \
//	  --attribute-definitions AttributeName=dataset_name,AttributeType=S \
//	  --key-schema AttributeName=dataset_name,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/dataset"
)

const (
	attrName       = "dataset_name"
	attrIndexPath  = "index_path"
	attrBlobPath   = "blob_path"
	attrRecords    = "records"
	attrBlobBytes  = "blob_bytes"
	attrScheme     = "scheme"
	attrInputDim   = "input_dim"
	attrOutputDim  = "output_dim"
	attrSeed       = "seed"
	attrCreatedAt  = "created_at"
	attrArchiveKey = "archive_key"
)

// Client is the subset of the DynamoDB API the catalog uses.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Catalog implements usecase/dataset.Catalog on DynamoDB.
type Catalog struct {
	client Client
	table  string
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
// endpoint overrides the service URL (DynamoDB Local, LocalStack).
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// New creates a catalog over an existing table.
func New(client Client, table string) *Catalog {
	return &Catalog{client: client, table: table}
}

// Put inserts or replaces a dataset.
func (c *Catalog) Put(ctx context.Context, ds dataset.Dataset) error {
	_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      toItem(ds),
	})
	if err != nil {
		return fmt.Errorf("put dataset %s: %w", ds.Name(), err)
	}
	return nil
}

// Get returns the dataset or domain.ErrNotFound.
func (c *Catalog) Get(ctx context.Context, name string) (dataset.Dataset, error) {
	resp, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            key(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("get dataset %s: %w", name, err)
	}
	if len(resp.Item) == 0 {
		return dataset.Dataset{}, fmt.Errorf("dataset %s: %w", name, domain.ErrNotFound)
	}
	return fromItem(resp.Item)
}

// List returns every dataset ordered by name.
func (c *Catalog) List(ctx context.Context) ([]dataset.Dataset, error) {
	out := []dataset.Dataset{}
	p := dynamodb.NewScanPaginator(c.client, &dynamodb.ScanInput{TableName: aws.String(c.table)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan datasets: %w", err)
		}
		for _, item := range page.Items {
			ds, err := fromItem(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ds)
		}
	}
	slices.SortFunc(out, func(a, b dataset.Dataset) int { return strings.Compare(a.Name(), b.Name()) })
	return out, nil
}

// Delete removes a dataset entry or returns domain.ErrNotFound.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.table),
		Key:                 key(name),
		ConditionExpression: aws.String("attribute_exists(" + attrName + ")"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("dataset %s: %w", name, domain.ErrNotFound)
		}
		return fmt.Errorf("delete dataset %s: %w", name, err)
	}
	return nil
}

// Ping checks that the table exists and is reachable.
func (c *Catalog) Ping(ctx context.Context) error {
	if _, err := c.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.table)}); err != nil {
		return fmt.Errorf("describe table %s: %w", c.table, err)
	}
	return nil
}

// Close is a no-op; the AWS client owns no releasable resources.
func (c *Catalog) Close() error { return nil }

func key(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrName: &types.AttributeValueMemberS{Value: name}}
}

func num[T int | int64 | uint64](v T) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: fmt.Sprint(v)}
}

func toItem(ds dataset.Dataset) map[string]types.AttributeValue {
	d := ds.Descriptor()
	item := map[string]types.AttributeValue{
		attrName:      &types.AttributeValueMemberS{Value: ds.Name()},
		attrIndexPath: &types.AttributeValueMemberS{Value: ds.IndexPath()},
		attrBlobPath:  &types.AttributeValueMemberS{Value: ds.BlobPath()},
		attrRecords:   num(ds.Records()),
		attrBlobBytes: num(ds.BlobBytes()),
		attrScheme:    &types.AttributeValueMemberS{Value: d.Scheme},
		attrInputDim:  num(d.InputDim),
		attrOutputDim: num(d.OutputDim),
		attrSeed:      num(d.Seed),
		attrCreatedAt: num(ds.CreatedAt()),
	}
	if ds.ArchiveKey() != "" {
		item[attrArchiveKey] = &types.AttributeValueMemberS{Value: ds.ArchiveKey()}
	}
	return item
}

var errMalformedItem = errors.New("malformed dataset item")

type itemReader struct {
	item map[string]types.AttributeValue
	err  error
}

func (r *itemReader) str(name string, required bool) string {
	v, ok := r.item[name].(*types.AttributeValueMemberS)
	if !ok {
		if required && r.err == nil {
			r.err = fmt.Errorf("%w: dataset item lacks string attribute %q", errMalformedItem, name)
		}
		return ""
	}
	return v.Value
}

func (r *itemReader) uint(name string) uint64 {
	v, ok := r.item[name].(*types.AttributeValueMemberN)
	if !ok {
		if r.err == nil {
			r.err = fmt.Errorf("%w: dataset item lacks number attribute %q", errMalformedItem, name)
		}
		return 0
	}
	n, err := strconv.ParseUint(v.Value, 10, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%w: attribute %q: %w", errMalformedItem, name, err)
	}
	return n
}

func fromItem(item map[string]types.AttributeValue) (dataset.Dataset, error) {
	r := &itemReader{item: item}
	name := r.str(attrName, true)
	indexPath := r.str(attrIndexPath, true)
	blobPath := r.str(attrBlobPath, true)
	records := r.uint(attrRecords)
	blobBytes := r.uint(attrBlobBytes)
	d := domain.Descriptor{
		Scheme:    r.str(attrScheme, true),
		InputDim:  int(r.uint(attrInputDim)),
		OutputDim: int(r.uint(attrOutputDim)),
		Seed:      r.uint(attrSeed),
	}
	createdAt := r.uint(attrCreatedAt)
	archiveKey := r.str(attrArchiveKey, false)
	if r.err != nil {
		return dataset.Dataset{}, fmt.Errorf("decode dataset %q: %w", name, r.err)
	}
	return dataset.Reconstruct(name, indexPath, blobPath, int64(records), blobBytes, d,
		int64(createdAt), archiveKey), nil
}
