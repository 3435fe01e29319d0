package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/dialect"
	"github.com/jacentio/lattice/model"
)

// NativeQuery is a DynamoDB Query against an entity table. Its JSON form is
// accepted by ParseNativeQuery:
//
//	{"table": "orders", "index": "by_status",
//	 "keyCondition": "#s = :status", "names": {"#s": "status"}}
//
// Named query parameters are bound as ":name" expression values. Positional
// parameters are not supported.
type NativeQuery struct {
	Table                     string            `json:"table"`
	IndexName                 string            `json:"index,omitempty"`
	KeyConditionExpression    string            `json:"keyCondition"`
	FilterExpression          string            `json:"filter,omitempty"`
	ProjectionExpression      string            `json:"projection,omitempty"`
	ExpressionAttributeNames  map[string]string `json:"names,omitempty"`
	ExpressionAttributeValues map[string]any    `json:"values,omitempty"`
	ScanIndexForward          *bool             `json:"scanIndexForward,omitempty"`
	Limit                     int32             `json:"limit,omitempty"`
}

// ParseNativeQuery parses the JSON form of a NativeQuery.
func (d *Dialect) ParseNativeQuery(native string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(native))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var q NativeQuery
	if err := dec.Decode(&q); err != nil {
		return nil, fmt.Errorf("dynamo: parse native query: %w", err)
	}
	if q.KeyConditionExpression == "" {
		return nil, errors.New("dynamo: native query has no keyCondition")
	}
	return q, nil
}

// ExecuteBackendQuery runs a NativeQuery, a *NativeQuery or its JSON form.
// Results are fetched lazily, one page per round trip.
func (d *Dialect) ExecuteBackendQuery(ctx context.Context, query dialect.BackendQuery, params dialect.QueryParameters, tc dialect.TupleContext) (dialect.TupleIterator, error) {
	var q NativeQuery
	switch v := query.Query.(type) {
	case NativeQuery:
		q = v
	case *NativeQuery:
		q = *v
	case string:
		parsed, err := d.ParseNativeQuery(v)
		if err != nil {
			return nil, dialect.NewError("execute backend query", nil, err)
		}
		q = parsed.(NativeQuery)
	default:
		return nil, dialect.NewError("execute backend query", nil, fmt.Errorf("%w: query of type %T", dialect.ErrNotSupported, query.Query))
	}

	table := q.Table
	if table == "" && query.EntityMetadata != nil {
		table = query.EntityMetadata.Table()
	}
	if table == "" {
		return nil, dialect.NewError("execute backend query", nil, errors.New("dynamo: native query has no table"))
	}

	input, err := d.queryInput(table, q, params)
	if err != nil {
		return nil, dialect.NewError("execute backend query", nil, err)
	}

	paginator := dynamodb.NewQueryPaginator(d.api, input)
	skip := params.FirstRow
	remaining := params.MaxRows
	return dialect.NewPagedIterator(func(ctx context.Context) ([]*model.Tuple, bool, error) {
		if !paginator.HasMorePages() {
			return nil, true, nil
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, false, dialect.NewError("execute backend query", nil, classify(err))
		}

		items := page.Items
		if skip > 0 {
			n := min(skip, len(items))
			items = items[n:]
			skip -= n
		}
		if params.MaxRows > 0 {
			n := min(remaining, len(items))
			items = items[:n]
			remaining -= n
		}
		done := !paginator.HasMorePages() || (params.MaxRows > 0 && remaining == 0)
		return d.tuples(items), done, nil
	}, nil), nil
}

func (d *Dialect) queryInput(table string, q NativeQuery, params dialect.QueryParameters) (*dynamodb.QueryInput, error) {
	if len(params.Positional) > 0 {
		return nil, fmt.Errorf("%w: positional query parameters", dialect.ErrNotSupported)
	}
	values := make(map[string]types.AttributeValue, len(q.ExpressionAttributeValues)+len(params.Named))
	for k, v := range q.ExpressionAttributeValues {
		av, err := toAttributeValue(v)
		if err != nil {
			return nil, fmt.Errorf("value %s: %w", k, err)
		}
		values[k] = av
	}
	for name, v := range params.Named {
		if !strings.HasPrefix(name, ":") {
			name = ":" + name
		}
		av, err := toAttributeValue(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		values[name] = av
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.EntityTable(table)),
		KeyConditionExpression: aws.String(q.KeyConditionExpression),
	}
	if len(values) > 0 {
		input.ExpressionAttributeValues = values
	}
	if len(q.ExpressionAttributeNames) > 0 {
		input.ExpressionAttributeNames = q.ExpressionAttributeNames
	}
	if q.IndexName != "" {
		input.IndexName = aws.String(q.IndexName)
	}
	if q.FilterExpression != "" {
		input.FilterExpression = aws.String(q.FilterExpression)
	}
	if q.ProjectionExpression != "" {
		input.ProjectionExpression = aws.String(q.ProjectionExpression)
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(q.Limit)
	}
	if q.ScanIndexForward != nil {
		input.ScanIndexForward = q.ScanIndexForward
	}
	return input, nil
}

func (d *Dialect) tuples(items []map[string]types.AttributeValue) []*model.Tuple {
	tuples := make([]*model.Tuple, len(items))
	for i, item := range items {
		doc, version := d.fromEntityItem(item)
		tuples[i] = model.NewTupleFromSnapshot(documentSnapshot{doc: doc, revision: version}, model.SnapshotUpdate)
	}
	return tuples
}

// ForEachTuple scans each entity table lazily, one page per round trip.
func (d *Dialect) ForEachTuple(ctx context.Context, consumer dialect.ModelConsumer, tc dialect.TupleTypeContext, metadata ...model.EntityKeyMetadata) error {
	for _, meta := range metadata {
		table := d.EntityTable(meta.Table())
		supplier := dialect.SupplierFunc(func(ctx context.Context) (dialect.TupleIterator, error) {
			paginator := dynamodb.NewScanPaginator(d.api, &dynamodb.ScanInput{
				TableName:      aws.String(table),
				ConsistentRead: aws.Bool(true),
			})
			return dialect.NewPagedIterator(func(ctx context.Context) ([]*model.Tuple, bool, error) {
				if !paginator.HasMorePages() {
					return nil, true, nil
				}
				page, err := paginator.NextPage(ctx)
				if err != nil {
					return nil, false, dialect.NewError("scan "+table, nil, classify(err))
				}
				return d.tuples(page.Items), !paginator.HasMorePages(), nil
			}, nil), nil
		})
		if err := consumer.Consume(ctx, meta, supplier); err != nil {
			return err
		}
	}
	return nil
}
