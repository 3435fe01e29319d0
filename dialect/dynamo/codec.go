package dynamo

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// toAttributeValue converts a document value to its DynamoDB representation.
func toAttributeValue(v any) (types.AttributeValue, error) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return av, nil
}

func toItem(doc map[string]any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return item, nil
}

func useNumber(o *attributevalue.DecoderOptions) {
	o.UseNumber = true
}

// fromAttributeValue converts a DynamoDB value back to a document value.
// Integral numbers decode to int64, others to float64. Sets decode to
// lists. A value that cannot be decoded yields nil.
func fromAttributeValue(av types.AttributeValue) any {
	var v any
	if err := attributevalue.UnmarshalWithOptions(av, &v, useNumber); err != nil {
		return nil
	}
	return normalize(v)
}

func fromItem(item map[string]types.AttributeValue) map[string]any {
	doc := make(map[string]any, len(item))
	if err := attributevalue.UnmarshalMapWithOptions(item, &doc, useNumber); err != nil {
		for k, v := range item {
			doc[k] = fromAttributeValue(v)
		}
		return doc
	}
	for k, v := range doc {
		doc[k] = normalize(v)
	}
	return doc
}

// normalize replaces decoded numbers by int64 or float64 and sets by lists.
func normalize(v any) any {
	switch x := v.(type) {
	case attributevalue.Number:
		return parseNumber(string(x))
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	case []attributevalue.Number:
		l := make([]any, len(x))
		for i, n := range x {
			l[i] = parseNumber(string(n))
		}
		return l
	case []string:
		l := make([]any, len(x))
		for i, s := range x {
			l[i] = s
		}
		return l
	case [][]byte:
		l := make([]any, len(x))
		for i, b := range x {
			l[i] = b
		}
		return l
	}
	return v
}

func parseNumber(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return f
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numberAttr(item map[string]types.AttributeValue, name string) int64 {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

func stringValue(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func numberValue(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
