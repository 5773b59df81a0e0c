package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/shopspring/decimal"
)

// DynamoAPI is the slice of the DynamoDB SDK surface the client uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// DynamoClient implements Client against one DynamoDB table. Numbers are
// encoded from decimal.Decimal straight into the wire's decimal N type, so
// prices never pass through binary floating point on the write path.
type DynamoClient struct {
	api   DynamoAPI
	table string
}

// NewDynamoClient wraps an SDK client bound to the given table.
func NewDynamoClient(api DynamoAPI, table string) *DynamoClient {
	return &DynamoClient{api: api, table: table}
}

func encodeValue(v any) (types.AttributeValue, error) {
	switch x := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case string:
		return &types.AttributeValueMemberS{Value: x}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: x}, nil
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(x)}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(x, 10)}, nil
	case float64:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(x, 'f', -1, 64)}, nil
	case decimal.Decimal:
		return &types.AttributeValueMemberN{Value: x.String()}, nil
	case map[string]any:
		m := make(map[string]types.AttributeValue, len(x))
		for k, elem := range x {
			av, err := encodeValue(elem)
			if err != nil {
				return nil, err
			}
			m[k] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case []any:
		l := make([]types.AttributeValue, 0, len(x))
		for _, elem := range x {
			av, err := encodeValue(elem)
			if err != nil {
				return nil, err
			}
			l = append(l, av)
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %T", v)
	}
}

func encodeItem(item Item) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(item))
	for name, v := range item {
		av, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		out[name] = av
	}
	return out, nil
}

// decodeValue maps wire numbers back to decimal.Decimal; services decide
// whether a given attribute is an int count or a price.
func decodeValue(av types.AttributeValue) (any, error) {
	switch x := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberS:
		return x.Value, nil
	case *types.AttributeValueMemberBOOL:
		return x.Value, nil
	case *types.AttributeValueMemberN:
		d, err := decimal.NewFromString(x.Value)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", x.Value, err)
		}
		return d, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]any, len(x.Value))
		for k, elem := range x.Value {
			v, err := decodeValue(elem)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	case *types.AttributeValueMemberL:
		l := make([]any, 0, len(x.Value))
		for _, elem := range x.Value {
			v, err := decodeValue(elem)
			if err != nil {
				return nil, err
			}
			l = append(l, v)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported wire attribute %T", av)
	}
}

func decodeItem(attrs map[string]types.AttributeValue) (Item, error) {
	item := make(Item, len(attrs))
	for name, av := range attrs {
		v, err := decodeValue(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		item[name] = v
	}
	return item, nil
}

func (c *DynamoClient) keyAttrs(key Key) map[string]types.AttributeValue {
	attrs := map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: key.PK},
	}
	if key.SK != "" {
		attrs["sk"] = &types.AttributeValueMemberS{Value: key.SK}
	}
	return attrs
}

func classify(err error) ErrorKind {
	var throughput *types.ProvisionedThroughputExceededException
	var limit *types.RequestLimitExceeded
	if errors.As(err, &throughput) || errors.As(err, &limit) {
		return KindThrottled
	}
	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		return KindValidation
	}
	var api smithy.APIError
	if errors.As(err, &api) {
		switch api.ErrorCode() {
		case "ThrottlingException":
			return KindThrottled
		case "ValidationException", "ResourceNotFoundException",
			"ItemCollectionSizeLimitExceededException":
			return KindValidation
		}
	}
	return KindTransient
}

func wireErr(op string, err error) error {
	return repoErr(op, classify(err), err)
}

// PutItem stores one whole item.
func (c *DynamoClient) PutItem(ctx context.Context, item Item) error {
	attrs, err := encodeItem(item)
	if err != nil {
		return repoErr("put item", KindValidation, err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      attrs,
	})
	if err != nil {
		return wireErr("put item", err)
	}
	return nil
}

// GetItem reads one item; missing items return (nil, nil).
func (c *DynamoClient) GetItem(ctx context.Context, key Key) (Item, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.table),
		Key:       c.keyAttrs(key),
	})
	if err != nil {
		return nil, wireErr("get item", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	item, err := decodeItem(out.Item)
	if err != nil {
		return nil, repoErr("get item", KindValidation, err)
	}
	return item, nil
}

// DeleteItem removes one item by key.
func (c *DynamoClient) DeleteItem(ctx context.Context, key Key) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key:       c.keyAttrs(key),
	})
	if err != nil {
		return wireErr("delete item", err)
	}
	return nil
}

// UpdateItem applies an attribute-set expression and returns the new image.
func (c *DynamoClient) UpdateItem(ctx context.Context, key Key, expression string, values map[string]any, condition string) (Item, error) {
	exprValues := make(map[string]types.AttributeValue, len(values))
	for placeholder, v := range values {
		av, err := encodeValue(v)
		if err != nil {
			return nil, repoErr("update item", KindValidation, err)
		}
		exprValues[placeholder] = av
	}
	in := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.table),
		Key:                       c.keyAttrs(key),
		UpdateExpression:          aws.String(expression),
		ExpressionAttributeValues: exprValues,
		ReturnValues:              types.ReturnValueAllNew,
	}
	if condition != "" {
		in.ConditionExpression = aws.String(condition)
	}
	out, err := c.api.UpdateItem(ctx, in)
	if err != nil {
		return nil, wireErr("update item", err)
	}
	item, err := decodeItem(out.Attributes)
	if err != nil {
		return nil, repoErr("update item", KindValidation, err)
	}
	return item, nil
}

func indexKeyNames(index string) (hash, sort string, indexName *string, err error) {
	switch index {
	case "":
		return "pk", "sk", nil, nil
	case IndexBySymbol, IndexByScore:
		return "gsi1pk", "gsi1sk", aws.String(index), nil
	case IndexByMarketStatus:
		return "gsi2pk", "gsi2sk", aws.String(index), nil
	default:
		return "", "", nil, fmt.Errorf("unknown index %q", index)
	}
}

func decodeLastKey(lek map[string]types.AttributeValue) map[string]string {
	if len(lek) == 0 {
		return nil
	}
	out := make(map[string]string, len(lek))
	for name, av := range lek {
		if s, ok := av.(*types.AttributeValueMemberS); ok {
			out[name] = s.Value
		}
	}
	return out
}

func encodeStartKey(start map[string]string) map[string]types.AttributeValue {
	if len(start) == 0 {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(start))
	for name, v := range start {
		out[name] = &types.AttributeValueMemberS{Value: v}
	}
	return out
}

// Query runs one page of a key-condition query against the table or one of
// its secondary indexes.
func (c *DynamoClient) Query(ctx context.Context, in QueryInput) (QueryOutput, error) {
	hashAttr, sortAttr, indexName, err := indexKeyNames(in.Index)
	if err != nil {
		return QueryOutput{}, repoErr("query", KindValidation, err)
	}

	names := map[string]string{"#hk": hashAttr}
	values := map[string]types.AttributeValue{
		":hv": &types.AttributeValueMemberS{Value: in.Partition},
	}
	cond := "#hk = :hv"
	switch {
	case in.Prefix != "":
		names["#rk"] = sortAttr
		values[":rv"] = &types.AttributeValueMemberS{Value: in.Prefix}
		cond += " AND begins_with(#rk, :rv)"
	case in.SortGTE != "":
		names["#rk"] = sortAttr
		values[":rv"] = &types.AttributeValueMemberS{Value: in.SortGTE}
		cond += " AND #rk >= :rv"
	}

	query := &dynamodb.QueryInput{
		TableName:                 aws.String(c.table),
		IndexName:                 indexName,
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(!in.Descending),
		ExclusiveStartKey:         encodeStartKey(in.StartKey),
	}
	if in.Limit > 0 {
		query.Limit = aws.Int32(int32(in.Limit))
	}
	out, err := c.api.Query(ctx, query)
	if err != nil {
		return QueryOutput{}, wireErr("query", err)
	}
	items := make([]Item, 0, len(out.Items))
	for _, attrs := range out.Items {
		item, err := decodeItem(attrs)
		if err != nil {
			return QueryOutput{}, repoErr("query", KindValidation, err)
		}
		items = append(items, item)
	}
	return QueryOutput{Items: items, LastKey: decodeLastKey(out.LastEvaluatedKey)}, nil
}

// Scan runs one page of a filtered table scan.
func (c *DynamoClient) Scan(ctx context.Context, in ScanInput) (QueryOutput, error) {
	scan := &dynamodb.ScanInput{
		TableName:         aws.String(c.table),
		ExclusiveStartKey: encodeStartKey(in.StartKey),
	}
	names := map[string]string{}
	if len(in.Filter) > 0 {
		values := map[string]types.AttributeValue{}
		clauses := make([]string, 0, len(in.Filter))
		i := 0
		for attr, want := range in.Filter {
			n := fmt.Sprintf("#f%d", i)
			v := fmt.Sprintf(":f%d", i)
			names[n] = attr
			values[v] = &types.AttributeValueMemberS{Value: want}
			clauses = append(clauses, n+" = "+v)
			i++
		}
		scan.FilterExpression = aws.String(strings.Join(clauses, " AND "))
		scan.ExpressionAttributeValues = values
	}
	if len(in.Projection) > 0 {
		parts := make([]string, 0, len(in.Projection)+2)
		for i, attr := range append([]string{"pk", "sk"}, in.Projection...) {
			n := fmt.Sprintf("#p%d", i)
			names[n] = attr
			parts = append(parts, n)
		}
		scan.ProjectionExpression = aws.String(strings.Join(parts, ", "))
	}
	if len(names) > 0 {
		scan.ExpressionAttributeNames = names
	}
	if in.Limit > 0 {
		scan.Limit = aws.Int32(int32(in.Limit))
	}
	out, err := c.api.Scan(ctx, scan)
	if err != nil {
		return QueryOutput{}, wireErr("scan", err)
	}
	items := make([]Item, 0, len(out.Items))
	for _, attrs := range out.Items {
		item, err := decodeItem(attrs)
		if err != nil {
			return QueryOutput{}, repoErr("scan", KindValidation, err)
		}
		items = append(items, item)
	}
	return QueryOutput{Items: items, LastKey: decodeLastKey(out.LastEvaluatedKey)}, nil
}

// BatchWriteItem puts one chunk and returns the unprocessed subset.
func (c *DynamoClient) BatchWriteItem(ctx context.Context, items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	requests := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		attrs, err := encodeItem(item)
		if err != nil {
			return nil, repoErr("batch write", KindValidation, err)
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: attrs},
		})
	}
	out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{c.table: requests},
	})
	if err != nil {
		return nil, wireErr("batch write", err)
	}
	var unprocessed []Item
	for _, req := range out.UnprocessedItems[c.table] {
		if req.PutRequest == nil {
			continue
		}
		item, err := decodeItem(req.PutRequest.Item)
		if err != nil {
			return nil, repoErr("batch write", KindValidation, err)
		}
		unprocessed = append(unprocessed, item)
	}
	return unprocessed, nil
}

// BatchGetItem fetches one chunk and reports unprocessed keys.
func (c *DynamoClient) BatchGetItem(ctx context.Context, in BatchGetInput) (BatchGetOutput, error) {
	if len(in.Keys) == 0 {
		return BatchGetOutput{}, nil
	}
	keys := make([]map[string]types.AttributeValue, 0, len(in.Keys))
	for _, key := range in.Keys {
		keys = append(keys, c.keyAttrs(key))
	}
	kaa := types.KeysAndAttributes{
		Keys:           keys,
		ConsistentRead: aws.Bool(in.Consistent),
	}
	if len(in.Projection) > 0 {
		names := map[string]string{}
		parts := make([]string, 0, len(in.Projection))
		for i, attr := range in.Projection {
			n := fmt.Sprintf("#p%d", i)
			names[n] = attr
			parts = append(parts, n)
		}
		kaa.ProjectionExpression = aws.String(strings.Join(parts, ", "))
		kaa.ExpressionAttributeNames = names
	}
	out, err := c.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{c.table: kaa},
	})
	if err != nil {
		return BatchGetOutput{}, wireErr("batch get", err)
	}
	var result BatchGetOutput
	for _, attrs := range out.Responses[c.table] {
		item, err := decodeItem(attrs)
		if err != nil {
			return BatchGetOutput{}, repoErr("batch get", KindValidation, err)
		}
		result.Items = append(result.Items, item)
	}
	if pending, ok := out.UnprocessedKeys[c.table]; ok {
		for _, keyAttrs := range pending.Keys {
			key := Key{}
			if s, ok := keyAttrs["pk"].(*types.AttributeValueMemberS); ok {
				key.PK = s.Value
			}
			if s, ok := keyAttrs["sk"].(*types.AttributeValueMemberS); ok {
				key.SK = s.Value
			}
			result.Unprocessed = append(result.Unprocessed, key)
		}
	}
	return result, nil
}
